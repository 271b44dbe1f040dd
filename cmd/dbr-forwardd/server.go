package main

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dbroker/dbr/internal/logger"
	"github.com/dbroker/dbr/internal/wire"
	"github.com/dbroker/dbr/pkg/backend/redis/engine"
	"github.com/dbroker/dbr/pkg/tuplestore"
)

// pollInterval bounds how often the completion pump drains the engine
// between idle iterations (engine.Completions is a non-blocking drain,
// not a channel, so the pump polls it the same way engine.Run polls its
// own event sources).
const pollInterval = 1 * time.Millisecond

// Server accepts upstream connections speaking the wire codec (spec §6),
// decodes each request into a tuplestore.Request, submits it to a shared
// engine.Engine, and routes completions back to whichever connection
// submitted the matching request.
type Server struct {
	listenAddr string
	eng        *engine.Engine

	connSeq uint64

	mu      sync.Mutex
	pending map[uint64]*pendingCall

	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// pendingCall is what a Server remembers about one request it has
// submitted but not yet completed: which connection to answer on, the
// wire-level cookie to echo back, and (for output-bearing opcodes) the
// destination buffers the engine fills in place.
type pendingCall struct {
	client     *clientConn
	wireCookie uint64
	opcode     tuplestore.Opcode
	segments   []tuplestore.Segment
}

// clientConn wraps one accepted connection with a write mutex: several
// completions for the same connection's requests can be ready at once,
// and the pump goroutine must not interleave their bytes on the wire.
type clientConn struct {
	conn net.Conn
	mu   sync.Mutex
}

func (c *clientConn) writeCompletion(comp *tuplestore.Completion, wireCookie uint64, segs []tuplestore.Segment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wire.EncodeCompletion(c.conn, comp, wireCookie, segs)
}

// NewServer builds a Server listening on listenAddr and submitting
// through eng.
func NewServer(listenAddr string, eng *engine.Engine) *Server {
	return &Server{
		listenAddr: listenAddr,
		eng:        eng,
		pending:    make(map[uint64]*pendingCall),
	}
}

// Port reports the listener's bound port, satisfying the teacher's
// AuxiliaryServer shape.
func (s *Server) Port() int {
	if s.listener == nil {
		return 0
	}
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Start binds the listener and begins accepting connections and pumping
// completions in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return err
	}
	s.listener = ln
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.pumpCompletions(ctx)

	s.wg.Add(1)
	go s.acceptLoop(ctx)

	return nil
}

// Stop closes the listener, unblocking acceptLoop, and waits for both
// background goroutines to exit.
func (s *Server) Stop(ctx context.Context) error {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			logger.Warn("accept failed, forwarding daemon stopping", "error", err)
			return
		}
		connID := atomic.AddUint64(&s.connSeq, 1)
		s.wg.Add(1)
		go s.handleConn(ctx, conn, connID)
	}
}

// handleConn decodes requests off conn until it closes or ctx ends,
// submitting each one with an internal cookie namespaced by connID so
// concurrent connections reusing the same wire-level "user" token can
// never collide in the shared pending table.
func (s *Server) handleConn(ctx context.Context, conn net.Conn, connID uint64) {
	defer s.wg.Done()
	defer conn.Close()

	client := &clientConn{conn: conn}
	r := bufio.NewReader(conn)
	var localSeq uint32

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		dr, err := wire.DecodeRequest(r)
		if err != nil {
			if err != io.EOF {
				logger.Debug("decode failed, closing connection", "error", err)
			}
			return
		}

		localSeq++
		internalCookie := connID<<32 | uint64(localSeq)
		dr.Req.Cookie = internalCookie

		s.mu.Lock()
		s.pending[internalCookie] = &pendingCall{
			client:     client,
			wireCookie: dr.WireCookie,
			opcode:     dr.Req.Opcode,
			segments:   dr.Req.Segments,
		}
		s.mu.Unlock()

		s.eng.Submit(dr.Req)
	}
}

// pumpCompletions continuously drains the engine's completion queue and
// routes each completion back to the connection that submitted it.
func (s *Server) pumpCompletions(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, comp := range s.eng.Completions() {
			s.deliver(comp)
		}
	}
}

func (s *Server) deliver(comp *tuplestore.Completion) {
	s.mu.Lock()
	call, ok := s.pending[comp.Cookie]
	if ok {
		delete(s.pending, comp.Cookie)
	}
	s.mu.Unlock()

	if !ok {
		logger.Warn("completion for unknown cookie, dropping", logger.KeyCookie, comp.Cookie)
		return
	}

	if err := call.client.writeCompletion(comp, call.wireCookie, call.segments); err != nil {
		logger.Debug("write completion failed", logger.KeyOpcode, call.opcode, "error", err)
	}
}
