package engine

import (
	"context"
	"errors"
	"time"

	"github.com/dbroker/dbr/internal/logger"
	"github.com/dbroker/dbr/pkg/backend/redis/breq"
	"github.com/dbroker/dbr/pkg/backend/redis/conn"
	"github.com/dbroker/dbr/pkg/backend/redis/resp"
	"github.com/dbroker/dbr/pkg/backend/redis/stage"
	"github.com/dbroker/dbr/pkg/backend/redis/topology"
	"github.com/dbroker/dbr/pkg/tuplestore"
)

// idempotentOnDisconnect names the opcodes spec §7 allows the engine to
// silently retry (rather than fail "timed out") when their connection
// dies mid-flight: read-only operations the store executing twice causes
// no harm.
var idempotentOnDisconnect = map[tuplestore.Opcode]bool{
	tuplestore.OpGet:       true,
	tuplestore.OpRead:      true,
	tuplestore.OpDirectory: true,
	tuplestore.OpNSQuery:   true,
	tuplestore.OpIterator:  true,
}

// Run drives the main loop until ctx is cancelled, sleeping briefly
// between idle iterations so an idle cluster costs no CPU (spec §4.14
// describes the iteration; the idle backoff is this port's concession to
// running as a goroutine rather than a dedicated OS thread parked in
// epoll_wait).
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !e.Step() {
			time.Sleep(defaultIdleSleep)
		}
	}
}

// Step runs exactly one main-loop iteration (spec §4.14) and reports
// whether it did any work, so Run can back off when idle.
func (e *Engine) Step() bool {
	did := e.drainSubmissions()
	e.flushSends()
	if c := e.events.Next(); c != nil {
		e.drainRecv(c)
		did = true
	}
	e.bookkeeping()
	return did
}

// flushSends is main-loop step 2: write every connection's unsent bytes.
func (e *Engine) flushSends() {
	e.conns.Each(func(c *conn.Connection) {
		if !c.Status().AcceptsSend() {
			return
		}
		if err := c.Send_(); err != nil {
			logger.Debug("send flush failed", logger.KeyConnIndex, c.MgrIndex(), "error", err)
		}
	})
}

// drainRecv is main-loop steps 3-4: parse and dispatch every complete
// value sitting in c's recv buffer, stopping on "again" or a connection
// error.
func (e *Engine) drainRecv(c *conn.Connection) {
	for {
		v, n, err := resp.Parse(c.Recv.UnprocessedSlice())
		if err != nil {
			if errors.Is(err, resp.ErrAgain) {
				if c.Recv.Remaining() == 0 {
					// The value in flight straddles the buffer boundary and
					// there's no room left to read its rest: slide the
					// unprocessed prefix back to the front so the next
					// Recv_ has somewhere to land (spec §4.5 Compact).
					c.Recv.Compact()
				}
				e.events.Rearm(c)
				return
			}
			logger.Warn("parse failure, failing connection", logger.KeyConnIndex, c.MgrIndex(), "error", err)
			e.failConnection(c.MgrIndex())
			return
		}
		c.Recv.Advance(n)

		req := c.PopRequest()
		if req != nil {
			e.handleReply(c, req, v)
		}

		if c.Recv.Empty() {
			// Every byte read so far has been consumed: rewind both
			// cursors to 0 instead of letting Fill climb toward capacity
			// forever (spec §4.5 Reset).
			c.Recv.Reset()
			c.MarkDrained()
			e.events.Rearm(c)
			return
		}
	}
}

// handleReply matches one parsed value against the request at the head
// of c's posted queue, intercepting cluster redirects before they reach
// the opcode's stage handler (spec §4.9/§4.10).
func (e *Engine) handleReply(c *conn.Connection, req *breq.Request, v resp.Value) {
	if v.Kind == resp.KindError {
		switch v.Err.Class {
		case resp.ErrorRelocate:
			e.handleRedirect(req, v.Err, true)
			return
		case resp.ErrorRedirect:
			e.handleRedirect(req, v.Err, false)
			return
		}
	}
	if req.Cancelled {
		// The reply is consumed; no completion is emitted (spec §5).
		return
	}
	script := stage.Tables[req.User.Opcode]
	res := script[req.Stage].Handle(e.stageCtx, req, c, v)
	e.applyResult(req, res)
}

// handleRedirect follows a MOVED/ASK reply (spec §4.10): it updates the
// locator (MOVED only) or issues ASKING (ASK only), then re-renders req
// against the new connection without surfacing the redirect to the
// caller.
func (e *Engine) handleRedirect(req *breq.Request, ev resp.ErrorValue, permanent bool) {
	req.Hops++
	if req.Hops > topology.MaxHops {
		e.finish(req, tuplestore.StatusBackendError, 0)
		return
	}
	var idx int
	var err error
	if permanent {
		idx, err = e.redirector.HandleMoved(ev)
	} else {
		idx, err = e.redirector.HandleAsk(ev)
	}
	if err != nil {
		e.finish(req, tuplestore.StatusNoConnect, 0)
		return
	}
	e.metrics.RedirectHandled(permanent)
	e.events.Add(e.conns.Get(idx)) // a no-op if already watched
	req.Location = breq.Location{Kind: breq.LocationConn, ConnIndex: idx, Slot: ev.Slot}
	e.renderAndPost(req)
}

// applyResult advances req per the stage's Result: fan out (Absorbed),
// finalize, or render+post the next stage.
func (e *Engine) applyResult(req *breq.Request, res stage.Result) {
	if res.Absorbed {
		for _, child := range res.Spawn {
			e.renderAndPost(child)
		}
		return
	}
	if res.Final {
		rc := res.RC
		// NSCREATE/NSATTACH resolved their handle at submission time
		// (submitOne); report it back via RC so a wire-level caller who
		// only supplied a name learns the handle to use for every
		// subsequent op against this namespace.
		if res.Status == tuplestore.StatusSuccess &&
			(req.User.Opcode == tuplestore.OpNSCreate || req.User.Opcode == tuplestore.OpNSAttach) {
			rc = int64(req.User.Namespace)
		}
		e.finish(req, res.Status, rc)
		return
	}
	req.Stage = res.NextStage
	e.renderAndPost(req)
}

// bookkeeping is main-loop step 5: fail requests that have sat too long
// at the head of a posted queue, and retry connection recovery.
func (e *Engine) bookkeeping() {
	e.scanTimeouts()
	e.recoverConnections()
}

// scanTimeouts inspects the head of every connection's posted queue
// (spec §5/§7): a request outstanding longer than OperationTimeout fails
// "timed out", and its connection is marked FAILED since the store may
// still execute the op it never acknowledged.
func (e *Engine) scanTimeouts() {
	e.conns.Each(func(c *conn.Connection) {
		req := c.PeekRequest()
		if req == nil || req.Elapsed() <= e.cfg.OperationTimeout {
			return
		}
		c.PopRequest()
		e.finish(req, tuplestore.StatusTimedOut, 0)
		e.failConnection(c.MgrIndex())
	})
}

// failConnection marks idx FAILED and resolves every request that was
// still posted to it: idempotent, non-compound ops are silently retried
// from stage 0 against a fresh routing decision; everything else fails
// "timed out" (spec §7 recovery policy).
func (e *Engine) failConnection(idx int) {
	e.metrics.ConnectionFailed()
	drained := e.conns.FailConnection(idx)
	for _, req := range drained {
		if idempotentOnDisconnect[req.User.Opcode] && req.Compound.Ref == nil {
			req.Stage = 0
			req.Hops = 0
			e.route(req)
			continue
		}
		e.finish(req, tuplestore.StatusTimedOut, 0)
	}
}

// recoverConnections retries every FAILED connection at most once per
// ReconnectInterval, re-learning the cluster topology through any
// connection that comes back (spec §7).
func (e *Engine) recoverConnections() {
	if time.Since(e.lastRecovery) < e.cfg.ReconnectInterval {
		return
	}
	e.lastRecovery = time.Now()

	recovered := e.conns.Recover(e.cfg.AuthSecret)
	for _, idx := range recovered {
		c := e.conns.Get(idx)
		e.events.Add(c)
		if err := e.refreshTopology(c); err != nil {
			logger.Warn("topology refresh after reconnect failed", logger.KeyConnIndex, idx, "error", err)
			continue
		}
		e.metrics.ConnectionRecovered()
	}
}
