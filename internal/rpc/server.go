package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Server owns one ServiceCoord's listening socket. Accepted connections
// are wrapped as Peers; each gets its own read goroutine, but request
// handlers (except Threaded ones) run inline on that goroutine, matching
// the source's cooperative, one-thing-at-a-time-per-peer model while
// still allowing different peers' traffic to make independent progress.
type Server struct {
	Coord    ServiceCoord
	Registry *Registry
	Timers   *TimerWheel
	Log      *slog.Logger

	listener net.Listener
	readyCh  chan struct{}

	mu    sync.Mutex
	peers map[*Peer]struct{}

	// threadPool bounds concurrent Threaded-handler execution, sized like
	// the teacher's asynq worker concurrency knob.
	threadPool chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

// NewServer constructs a Server for coord, listening on addr once Serve
// is called. threadedConcurrency bounds methods registered with Threaded().
func NewServer(coord ServiceCoord, reg *Registry, threadedConcurrency int, log *slog.Logger) *Server {
	if threadedConcurrency <= 0 {
		threadedConcurrency = 5
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		Coord:      coord,
		Registry:   reg,
		Timers:     NewTimerWheel(),
		Log:        log,
		peers:      make(map[*Peer]struct{}),
		threadPool: make(chan struct{}, threadedConcurrency),
		closed:     make(chan struct{}),
		readyCh:    make(chan struct{}),
	}
}

// Addr blocks until Serve has bound its listener, then returns its
// address. Useful in tests and for wiring that binds to port 0.
func (s *Server) Addr() net.Addr {
	<-s.readyCh
	return s.listener.Addr()
}

// Serve listens on addr, accepts connections until ctx is canceled or
// Close is called, and drives the timer wheel on the same goroutine's
// idle time (a short accept-loop select, not a blocking Accept, so timers
// fire even with no traffic).
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("op=rpc.server.listen: %w", err)
	}
	s.listener = ln
	close(s.readyCh)
	defer ln.Close()

	acceptErr := make(chan error, 1)
	connCh := make(chan net.Conn)
	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				acceptErr <- err
				return
			}
			connCh <- nc
		}
	}()

	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Close()
			return ctx.Err()
		case <-s.closed:
			return nil
		case err := <-acceptErr:
			if s.isClosed() {
				return nil
			}
			return fmt.Errorf("op=rpc.server.accept: %w", err)
		case nc := <-connCh:
			s.adopt(nc)
		case <-tick.C:
			s.Timers.FireDue(time.Now())
		}
	}
}

func (s *Server) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *Server) adopt(nc net.Conn) {
	p := &Peer{c: newConn(nc), server: s}
	s.mu.Lock()
	s.peers[p] = struct{}{}
	s.mu.Unlock()
	go s.readLoop(p)
}

func (s *Server) drop(p *Peer) {
	s.mu.Lock()
	delete(s.peers, p)
	s.mu.Unlock()
	p.c.Close()
}

// readLoop is the per-peer goroutine: decode frames until the connection
// errors out, dispatching requests and routing responses.
func (s *Server) readLoop(p *Peer) {
	defer s.drop(p)
	for {
		f, err := readFrame(p.c.nc)
		if err != nil {
			return
		}
		if f.Envelope.Method == "" {
			p.c.dispatchResponse(f)
			continue
		}
		s.handleRequest(p, f)
	}
}

func (s *Server) handleRequest(p *Peer, f frame) {
	flags, err := s.Registry.lookup(f.Envelope.Method)
	if err != nil {
		s.reply(p, f.Envelope.ID, nil, nil, err)
		return
	}
	run := func() {
		cctx := &CallCtx{
			Ctx: context.Background(), Method: f.Envelope.Method, Data: f.Envelope.Data, Binary: f.Binary,
			Peer: p.RemoteAddr(), replyPeer: p, id: f.Envelope.ID,
		}
		resp, respBin, err := flags.handler(cctx)
		if flags.stream {
			s.replyStreamEnd(p, f.Envelope.ID, err)
			return
		}
		s.reply(p, f.Envelope.ID, resp, respBin, err)
	}
	if flags.threaded {
		s.threadPool <- struct{}{}
		go func() {
			defer func() { <-s.threadPool }()
			run()
		}()
		return
	}
	run()
}

func (s *Server) reply(p *Peer, id string, resp any, respBin []byte, err error) {
	env := envelope{ID: id}
	if err != nil {
		env.Error = toWireError(err)
	} else if resp != nil {
		data, merr := marshalResponse(resp)
		if merr != nil {
			env.Error = toWireError(merr)
		} else {
			env.Data = data
		}
	}
	if sendErr := p.c.send(frame{Envelope: env, Binary: respBin}); sendErr != nil {
		s.Log.Warn("rpc reply failed", "peer", p.RemoteAddr(), "method_id", id, "error", sendErr)
	}
}

// replyStreamEnd closes out a Stream-flagged method's chunk sequence: an
// EOF marker on success, or the handler's error verbatim on failure (the
// caller's Sequencer surfaces it as an error, not a clean end-of-stream).
func (s *Server) replyStreamEnd(p *Peer, id string, err error) {
	env := envelope{ID: id}
	if err != nil {
		env.Error = toWireError(err)
	} else {
		env.Error = &WireError{Class: "EOF"}
	}
	if sendErr := p.c.send(frame{Envelope: env}); sendErr != nil {
		s.Log.Warn("rpc stream end failed", "peer", p.RemoteAddr(), "method_id", id, "error", sendErr)
	}
}

// Close stops accepting new connections and tears down every live peer,
// unblocking their pending callers with ErrDisconnected.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.listener != nil {
			s.listener.Close()
		}
		s.mu.Lock()
		peers := make([]*Peer, 0, len(s.peers))
		for p := range s.peers {
			peers = append(peers, p)
		}
		s.mu.Unlock()
		for _, p := range peers {
			p.Close()
		}
	})
	return nil
}

// Peers returns a snapshot of currently connected peers, for broadcast
// operations like the Evaluation Service's action_finished notification.
func (s *Server) Peers() []*Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Peer, 0, len(s.peers))
	for p := range s.peers {
		out = append(out, p)
	}
	return out
}
