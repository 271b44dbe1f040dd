package engine

import (
	"github.com/dbroker/dbr/internal/logger"
	"github.com/dbroker/dbr/pkg/backend/redis/breq"
	"github.com/dbroker/dbr/pkg/backend/redis/conn"
	"github.com/dbroker/dbr/pkg/backend/redis/hash"
	"github.com/dbroker/dbr/pkg/backend/redis/locator"
	"github.com/dbroker/dbr/pkg/backend/redis/stage"
	"github.com/dbroker/dbr/pkg/tuplestore"
)

// Submit enqueues user for routing on the next loop iteration. Safe to
// call from any goroutine (spec §5: submission is lock-protected).
func (e *Engine) Submit(user *tuplestore.Request) {
	e.mu.Lock()
	e.submitQ = append(e.submitQ, user)
	e.mu.Unlock()
}

// Completions drains every completion produced since the last call. Safe
// to call from any goroutine.
func (e *Engine) Completions() []*tuplestore.Completion {
	return e.dispatcher.Drain()
}

// drainSubmissions is main-loop step 1 (spec §4.14): for each freshly
// submitted request, validate, route to a connection, and render its
// stage-0 command into that connection's send buffer.
func (e *Engine) drainSubmissions() bool {
	e.mu.Lock()
	batch := e.submitQ
	e.submitQ = nil
	e.mu.Unlock()

	for _, user := range batch {
		e.submitOne(user)
	}
	return len(batch) > 0
}

func (e *Engine) submitOne(user *tuplestore.Request) {
	e.metrics.RequestSubmitted(user.Opcode)

	if user.Opcode == tuplestore.OpCancel {
		// CANCEL never reaches the wire (spec §4.9): mark the matching
		// posted request (if any is still outstanding) and acknowledge
		// immediately.
		e.cancelTarget(user.Cookie)
		e.finish(breq.New(user, breq.Location{}), tuplestore.StatusSuccess, 0)
		return
	}
	if err := user.Validate(); err != nil {
		e.finish(breq.New(user, breq.Location{}), tuplestore.StatusInvalidArg, 0)
		return
	}

	// NSCREATE/NSATTACH carry their target name in Key rather than a
	// handle: the registry has never heard of the namespace yet, so
	// there's nothing for the caller to have resolved a handle from. Mint
	// or find-and-bump it here, before routing, so the stage script's
	// ctx.namespaceName lookup has a record to resolve.
	switch user.Opcode {
	case tuplestore.OpNSCreate:
		rec, err := e.namespaces.Create(string(user.Key))
		if err != nil {
			e.finish(breq.New(user, breq.Location{}), tuplestore.StatusAlreadyExists, 0)
			return
		}
		user.Namespace = rec.Handle
	case tuplestore.OpNSAttach:
		rec := e.namespaces.Attach(string(user.Key))
		user.Namespace = rec.Handle
	}

	req := breq.New(user, breq.Location{})
	req.Compound.DestNamespace = user.DestNamespace
	req.Compound.Limit = user.Limit
	e.route(req)
}

// cancelTarget marks the posted request carrying cookie (on whichever
// connection currently holds it) as cancelled.
func (e *Engine) cancelTarget(cookie uint64) {
	e.conns.Each(func(c *conn.Connection) {
		c.CancelPosted(cookie)
	})
}

// route picks req's initial connection by hashing its routing key through
// the locator (spec §4.14 step 1) and posts it.
func (e *Engine) route(req *breq.Request) {
	key, ok := stage.RoutingKey(e.stageCtx, req)
	if !ok {
		e.finish(req, tuplestore.StatusNamespaceInvalid, 0)
		return
	}
	slot, err := hash.Slot(key)
	if err != nil {
		e.finish(req, tuplestore.StatusInvalidArg, 0)
		return
	}
	idx := e.locator.Lookup(slot)
	if idx == locator.Unmapped {
		e.finish(req, tuplestore.StatusUnavailable, 0)
		return
	}
	req.Location = breq.Location{Kind: breq.LocationConn, ConnIndex: idx, Slot: slot}
	e.renderAndPost(req)
}

// renderAndPost renders req's current stage against the connection named
// by req.Location and posts it to that connection's queue. It is used
// both for a fresh submission's stage 0 and for re-posting a request that
// advanced to a new stage or followed a redirect.
func (e *Engine) renderAndPost(req *breq.Request) {
	c := e.conns.Get(req.Location.ConnIndex)
	if c == nil || !c.Status().AcceptsSend() {
		e.finish(req, tuplestore.StatusNoConnect, 0)
		return
	}
	script, ok := stage.Tables[req.User.Opcode]
	if !ok || req.Stage < 0 || req.Stage >= len(script) {
		e.finish(req, tuplestore.StatusNotImplemented, 0)
		return
	}
	cmd, ok := script[req.Stage].Render(e.stageCtx, req)
	if !ok {
		status := tuplestore.StatusNamespaceInvalid
		if e.stageCtx.TakeRenderError() != nil {
			status = tuplestore.StatusPluginError
		}
		e.finish(req, status, 0)
		return
	}
	if len(cmd) > c.Send.Cap() {
		e.finish(req, tuplestore.StatusBackendError, 0)
		return
	}
	if len(cmd) > c.Send.Remaining() {
		if err := c.Send_(); err != nil {
			e.finish(req, tuplestore.StatusNoConnect, 0)
			return
		}
	}
	if len(cmd) > c.Send.Remaining() {
		// Still doesn't fit after a flush: the peer is reading slower
		// than we're producing. Fail rather than block the loop.
		e.finish(req, tuplestore.StatusBackendError, 0)
		return
	}
	c.Send.Append(cmd)
	c.PostRequest(req)
	logger.Debug("stage rendered", logger.KeyOpcode, req.User.Opcode, logger.KeyStage, req.Stage, logger.KeyConnIndex, c.MgrIndex())
}

// finish routes a terminal outcome through the dispatcher and records it.
func (e *Engine) finish(req *breq.Request, status tuplestore.Status, rc int64) {
	e.dispatcher.Finish(req, status, rc)
	e.metrics.RequestCompleted(req.User.Opcode, status, req.Elapsed())
}
