package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// marshalResponse encodes a handler's return value as the envelope's Data
// field, passing json.RawMessage through untouched so streaming handlers
// that already built their own JSON don't pay a double-encode.
func marshalResponse(resp any) (json.RawMessage, error) {
	if raw, ok := resp.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("op=rpc.response.encode: %w", err)
	}
	return data, nil
}

// toWireError classifies a Go error into the wire's {class, message} pair.
// Known sentinels map to a stable class name so a remote caller can branch
// on it without string-matching the message; unrecognized errors get
// class "Error".
func toWireError(err error) *WireError {
	var re *remoteError
	if errors.As(err, &re) {
		return re.wire
	}
	class := "Error"
	switch {
	case errors.Is(err, ErrUnknownMethod):
		class = "UnknownMethod"
	case errors.Is(err, ErrNotCallable):
		class = "NotCallable"
	case errors.Is(err, ErrDisconnected):
		class = "Disconnected"
	case errors.Is(err, ErrCallTimeout):
		class = "Timeout"
	case errors.Is(err, ErrShuttingDown):
		class = "ShuttingDown"
	}
	// Callers above the rpc package (domain/usecase errors) set their own
	// class via ClassifiedError so a remote peer doesn't need this
	// package's sentinels to interpret the failure.
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		class = ce.Class
	}
	return &WireError{Class: class, Message: err.Error()}
}
