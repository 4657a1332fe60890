package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Peer is one end of an established TCP connection, exposing all four
// calling conventions from spec.md §4.A. Both Server (for each accepted
// connection) and Client (for its dialed connection) build their peer
// traffic on top of a Peer: the protocol is symmetric, matching the
// source's single async reactor where any socket can originate a request.
type Peer struct {
	c      *conn
	coord  ServiceCoord // the coordinate of the remote end, if known
	server *Server      // the local Server whose registry answers inbound requests, nil for a bare client
}

// Notify sends a fire-and-forget request: no response is awaited, and any
// error return from the remote handler is dropped (spec.md §4.A's first
// calling convention).
func (p *Peer) Notify(method string, arg any) error {
	data, err := json.Marshal(arg)
	if err != nil {
		return fmt.Errorf("op=rpc.notify.encode: %w", err)
	}
	return p.c.send(frame{Envelope: envelope{ID: newID(), Method: method, Data: data}})
}

// Call sends a request and invokes cb from a background goroutine once a
// response arrives (or the peer disconnects). This is the callback-style
// convention; cb must not block the caller.
func (p *Peer) Call(method string, arg any, cb func(resp json.RawMessage, bin []byte, err error)) error {
	data, err := json.Marshal(arg)
	if err != nil {
		return fmt.Errorf("op=rpc.call.encode: %w", err)
	}
	id := newID()
	p.c.registerCallback(id, func(f frame) {
		p.c.forgetCall(id)
		cb(wrapResponse(f))
	})
	if err := p.c.send(frame{Envelope: envelope{ID: id, Method: method, Data: data}}); err != nil {
		p.c.forgetCall(id)
		return err
	}
	return nil
}

// CallSync sends a request and blocks the calling goroutine until a
// response arrives or ctx's deadline elapses. This is a deliberate
// simplification of the source's single-threaded-loop model (spec.md
// §9 Open Question (a) region): each goroutine blocks independently
// rather than all calls sharing one reactor thread.
func (p *Peer) CallSync(ctx context.Context, method string, arg any, out any) error {
	return p.CallSyncBinary(ctx, method, arg, nil, out)
}

// CallSyncBinary is CallSync with a request-side binary blob attached,
// used by component B's put_file (the request itself carries the file's
// bytes, not just JSON metadata).
func (p *Peer) CallSyncBinary(ctx context.Context, method string, arg any, reqBin []byte, out any) error {
	data, err := json.Marshal(arg)
	if err != nil {
		return fmt.Errorf("op=rpc.call_sync.encode: %w", err)
	}
	id := newID()
	ch := p.c.registerPending(id)
	if err := p.c.send(frame{Envelope: envelope{ID: id, Method: method, Data: data}, Binary: reqBin}); err != nil {
		p.c.forgetCall(id)
		return err
	}
	select {
	case f := <-ch:
		resp, _, err := wrapResponse(f)
		if err != nil {
			return err
		}
		if out != nil && len(resp) > 0 {
			if err := json.Unmarshal(resp, out); err != nil {
				return fmt.Errorf("op=rpc.call_sync.decode: %w", err)
			}
		}
		return nil
	case <-ctx.Done():
		p.c.forgetCall(id)
		return fmt.Errorf("op=rpc.call_sync: %w", ErrCallTimeout)
	}
}

// Sequencer is handed to the function passed to CallSeq, letting it pull
// a stream of responses to the same request id — the generator-style
// convention used by component B's chunked get_file transfer.
type Sequencer struct {
	ch <-chan frame
}

// Next blocks for the next chunk frame, or returns ok=false once the
// stream's producer side signals completion by closing the channel.
func (s *Sequencer) Next(ctx context.Context) (data json.RawMessage, bin []byte, ok bool, err error) {
	select {
	case f, open := <-s.ch:
		if !open {
			return nil, nil, false, nil
		}
		if f.Envelope.Error != nil {
			if f.Envelope.Error.Class == "EOF" {
				return nil, nil, false, nil
			}
			return nil, nil, false, newRemoteError(f.Envelope.Error.Class, f.Envelope.Error.Message)
		}
		return f.Envelope.Data, f.Binary, true, nil
	case <-ctx.Done():
		return nil, nil, false, ErrCallTimeout
	}
}

// CallSeq sends one request and streams every response frame sharing its
// id through a Sequencer, for handlers registered with a generator body
// (spec.md §4.A's fourth calling convention: GetFile chunk-by-chunk).
// The peer's handler keeps sending response frames with the same __id
// until it sends one with Error set to a sentinel "EOF" class.
func (p *Peer) CallSeq(ctx context.Context, method string, arg any, body func(*Sequencer) error) error {
	data, err := json.Marshal(arg)
	if err != nil {
		return fmt.Errorf("op=rpc.call_seq.encode: %w", err)
	}
	id := newID()
	ch := make(chan frame, 4)
	done := make(chan struct{})
	p.c.registerCallback(id, func(f frame) {
		select {
		case ch <- f:
		case <-done:
		}
		if f.Envelope.Error != nil && f.Envelope.Error.Class == "EOF" {
			close(ch)
		}
	})
	defer close(done)
	defer p.c.forgetCall(id)

	if err := p.c.send(frame{Envelope: envelope{ID: id, Method: method, Data: data}}); err != nil {
		return err
	}
	return body(&Sequencer{ch: ch})
}

func wrapResponse(f frame) (json.RawMessage, []byte, error) {
	if f.Envelope.Error != nil {
		return nil, nil, newRemoteError(f.Envelope.Error.Class, f.Envelope.Error.Message)
	}
	return f.Envelope.Data, f.Binary, nil
}

// Close tears down the underlying connection, unblocking any pending
// CallSync/Call/CallSeq waiters with ErrDisconnected.
func (p *Peer) Close() error { return p.c.Close() }

// RemoteAddr reports the underlying connection's remote address string.
func (p *Peer) RemoteAddr() string { return p.c.nc.RemoteAddr().String() }

// pingInterval names a 30-second liveness-ping period. Nothing reads it:
// Client sends no liveness Notify, so a half-open TCP connection is
// noticed only on the next read or write error, or once WORKER_TIMEOUT
// trips (spec.md §4.D).
const pingInterval = 30 * time.Second
