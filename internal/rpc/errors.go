package rpc

import "errors"

// ErrMalformedFrame signals a framing desync: the connection is no longer
// trustworthy and must be torn down, not retried in place.
var ErrMalformedFrame = errors.New("rpc: malformed frame")

// ErrUnknownMethod is returned to the caller when a peer's registry has no
// entry for the requested method name.
var ErrUnknownMethod = errors.New("rpc: unknown method")

// ErrNotCallable is returned when a registered method exists but was
// registered with Callable=false (internal-only, e.g. timer callbacks).
var ErrNotCallable = errors.New("rpc: method not callable")

// ErrDisconnected is returned to pending callers when their connection
// drops before a response arrives. CallSync callers see this as the error
// from their blocking call; Call callers see it passed to their callback.
var ErrDisconnected = errors.New("rpc: peer disconnected")

// ErrCallTimeout is returned by CallSync when the deadline elapses with no
// response.
var ErrCallTimeout = errors.New("rpc: call timed out")

// ErrShuttingDown is returned for new calls issued after Server.Close or
// Client.Close has begun draining in-flight work.
var ErrShuttingDown = errors.New("rpc: shutting down")

// ErrProtocol is returned when a call breaks the protocol's own rules,
// such as CallCtx.Emit on a call with no reply peer bound.
var ErrProtocol = errors.New("rpc: protocol error")

// remoteError wraps a WireError reported by a peer so errors.As can
// recover the original class/message after it crosses process boundaries.
type remoteError struct {
	wire *WireError
}

func (e *remoteError) Error() string { return e.wire.Error() }

func newRemoteError(class, message string) *remoteError {
	return &remoteError{wire: &WireError{Class: class, Message: message}}
}

// ClassifiedError lets a Handler attach a wire class to an error without
// this package needing to know about domain.Err* sentinels, keeping rpc
// free of a dependency on higher layers.
type ClassifiedError struct {
	Class string
	Err   error
}

func (e *ClassifiedError) Error() string { return e.Err.Error() }
func (e *ClassifiedError) Unwrap() error { return e.Err }

// Classify wraps err so a Server reply reports Class on the wire instead
// of the generic "Error" fallback.
func Classify(class string, err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: class, Err: err}
}
