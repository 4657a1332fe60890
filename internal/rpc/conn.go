package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"
)

// CallCtx is what a Handler receives: the inbound request's payload plus
// enough context to reply or to identify the caller for logging.
type CallCtx struct {
	Ctx    context.Context
	Method string
	Data   json.RawMessage
	Binary []byte
	Peer   string

	// replyPeer/id back a generator-style handler's Emit calls; unset for
	// requests that arrived outside Server.handleRequest (e.g. in tests
	// that invoke a Handler directly).
	replyPeer *Peer
	id        string
}

// Emit sends one intermediate response frame sharing the request's id,
// for a generator-style handler (component B's chunked get_file) that
// streams more than one reply before returning. The caller's Sequencer
// receives each Emit as one Next() result. The handler's final return
// value, once the Handler function itself returns, is sent as the
// stream's closing EOF marker and carries no payload.
func (c *CallCtx) Emit(data any, bin []byte) error {
	if c.replyPeer == nil {
		return fmt.Errorf("op=rpc.emit: %w: no reply peer bound to this call", ErrProtocol)
	}
	encoded, err := marshalResponse(data)
	if err != nil {
		return err
	}
	return c.replyPeer.c.send(frame{Envelope: envelope{ID: c.id, Data: encoded}})
}

// BindJSON decodes the request's Data field into v.
func (c *CallCtx) BindJSON(v any) error {
	if len(c.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(c.Data, v); err != nil {
		return fmt.Errorf("op=rpc.bind: %w: %v", ErrMalformedFrame, err)
	}
	return nil
}

// pendingCall is a caller-side record of an in-flight request awaiting a
// response frame carrying the matching __id.
type pendingCall struct {
	done chan frame
}

// conn wraps one net.Conn with the bookkeeping both Server (inbound peer
// connections) and Client (outbound connections to other services) share:
// a write mutex (writeFrame is not safe for concurrent use), and a
// pending-call table keyed by request ID for the synchronous/callback
// calling conventions.
type conn struct {
	nc net.Conn

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]*pendingCall
	callbacks map[string]func(frame)

	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(nc net.Conn) *conn {
	return &conn{
		nc:        nc,
		pending:   make(map[string]*pendingCall),
		callbacks: make(map[string]func(frame)),
		closed:    make(chan struct{}),
	}
}

func (c *conn) send(f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.nc.SetWriteDeadline(time.Now().Add(30 * time.Second)); err != nil {
		return fmt.Errorf("op=rpc.conn.deadline: %w", err)
	}
	return writeFrame(c.nc, f)
}

// registerPending records a synchronous waiter for id and returns the
// channel it will receive the response frame on.
func (c *conn) registerPending(id string) chan frame {
	ch := make(chan frame, 1)
	c.pendingMu.Lock()
	c.pending[id] = &pendingCall{done: ch}
	c.pendingMu.Unlock()
	return ch
}

// registerCallback records an async waiter for id.
func (c *conn) registerCallback(id string, cb func(frame)) {
	c.pendingMu.Lock()
	c.callbacks[id] = cb
	c.pendingMu.Unlock()
}

func (c *conn) forgetCall(id string) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	delete(c.callbacks, id)
	c.pendingMu.Unlock()
}

// dispatchResponse routes an inbound frame with no __method (a response)
// to whichever waiter registered the matching __id. Unmatched responses
// are dropped: the caller gave up (timeout) before the peer answered.
//
// Pending (CallSync) waiters are always one-shot and removed here.
// Callbacks may be one-shot (Call) or streaming (CallSeq); cleanup for
// those is the registering side's responsibility via forgetCall, since
// only it knows when its stream has ended.
func (c *conn) dispatchResponse(f frame) {
	c.pendingMu.Lock()
	pc, ok := c.pending[f.Envelope.ID]
	if ok {
		delete(c.pending, f.Envelope.ID)
	}
	cb, hasCb := c.callbacks[f.Envelope.ID]
	c.pendingMu.Unlock()
	if ok {
		pc.done <- f
	}
	if hasCb {
		cb(f)
	}
}

// drainPending unblocks every still-waiting synchronous caller and
// callback with ErrDisconnected, used when the underlying connection
// drops or is closed.
func (c *conn) drainPending() {
	c.pendingMu.Lock()
	pending := c.pending
	callbacks := c.callbacks
	c.pending = make(map[string]*pendingCall)
	c.callbacks = make(map[string]func(frame))
	c.pendingMu.Unlock()

	disconnectEnvelope := envelope{Error: &WireError{Class: "Disconnected", Message: ErrDisconnected.Error()}}
	for _, pc := range pending {
		pc.done <- frame{Envelope: disconnectEnvelope}
	}
	for _, cb := range callbacks {
		cb(frame{Envelope: disconnectEnvelope})
	}
}

func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.nc.Close()
		c.drainPending()
	})
	return err
}

func (c *conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
