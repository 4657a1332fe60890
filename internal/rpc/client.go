package rpc

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Client maintains one outbound connection to a remote ServiceCoord,
// reconnecting with backoff when the connection drops, matching the
// source's RemoteService autoreconnect behavior.
type Client struct {
	Coord ServiceCoord
	Addr  string
	Log   *slog.Logger

	// OnConnect, if set, runs after every successful (re)connection, e.g.
	// to send a handshake Notify identifying the caller's own coordinate.
	OnConnect func(*Peer)
	// OnDisconnect, if set, runs once the connection established by the
	// matching OnConnect call is lost, before the reconnect loop retries.
	OnDisconnect func(*Peer)

	mu       sync.Mutex
	peer     *Peer
	closed   bool
	closeCh  chan struct{}
	connWait chan struct{} // closed and replaced each time a connection becomes ready
}

// NewClient returns a Client for coord at addr. Call Start to begin
// connecting; it is safe to call Peer before Start completes, it just
// blocks until the first connection succeeds or ctx is done.
func NewClient(coord ServiceCoord, addr string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	c := &Client{Coord: coord, Addr: addr, Log: log, closeCh: make(chan struct{})}
	c.connWait = make(chan struct{})
	return c
}

// Start runs the connect-and-reconnect loop until ctx is canceled or
// Close is called. Run it in its own goroutine.
func (c *Client) Start(ctx context.Context) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeCh:
			return
		default:
		}

		nc, err := net.DialTimeout("tcp", c.Addr, 5*time.Second)
		if err != nil {
			c.Log.Warn("rpc client dial failed", "coord", c.Coord, "addr", c.Addr, "error", err, "retry_in", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			case <-c.closeCh:
				return
			}
			backoff = minDuration(backoff*2, maxBackoff)
			continue
		}
		backoff = time.Second

		p := &Peer{c: newConn(nc), coord: c.Coord}
		c.mu.Lock()
		c.peer = p
		close(c.connWait)
		c.connWait = make(chan struct{})
		c.mu.Unlock()

		if c.OnConnect != nil {
			c.OnConnect(p)
		}

		c.readUntilClosed(p)

		c.mu.Lock()
		if c.peer == p {
			c.peer = nil
		}
		c.mu.Unlock()
		p.Close()
		if c.OnDisconnect != nil {
			c.OnDisconnect(p)
		}

		select {
		case <-ctx.Done():
			return
		case <-c.closeCh:
			return
		default:
		}
	}
}

func (c *Client) readUntilClosed(p *Peer) {
	for {
		f, err := readFrame(p.c.nc)
		if err != nil {
			return
		}
		if f.Envelope.Method == "" {
			p.c.dispatchResponse(f)
			continue
		}
		// A bare Client has no registry of its own; callers that need to
		// answer inbound requests on this connection construct the Peer
		// via Server.adopt instead. Unrequested inbound methods here get
		// a NotCallable response so the peer doesn't hang.
		env := envelope{ID: f.Envelope.ID, Error: &WireError{Class: "NotCallable", Message: ErrNotCallable.Error()}}
		_ = p.c.send(frame{Envelope: env})
	}
}

// Peer blocks until a live connection is available or ctx is done.
func (c *Client) Peer(ctx context.Context) (*Peer, error) {
	for {
		c.mu.Lock()
		p := c.peer
		wait := c.connWait
		c.mu.Unlock()
		if p != nil {
			return p, nil
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close stops the reconnect loop and closes the current connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.closeCh)
	p := c.peer
	c.mu.Unlock()
	if p != nil {
		return p.Close()
	}
	return nil
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
