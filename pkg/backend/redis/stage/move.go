package stage

import (
	"bytes"

	"github.com/dbroker/dbr/pkg/backend/redis/breq"
	"github.com/dbroker/dbr/pkg/backend/redis/conn"
	"github.com/dbroker/dbr/pkg/backend/redis/resp"
	"github.com/dbroker/dbr/pkg/tuplestore"
)

func init() {
	registerTable(tuplestore.OpMove, Script{
		{Render: renderMoveDump, Handle: handleMoveDump},
		{Render: renderMoveRestore, Handle: handleMoveRestore},
		{Render: renderMoveDel, Handle: handleMoveDel},
	})
}

// MOVE is the only opcode needing a second namespace handle; the caller
// supplies the destination as Request.DestNamespace, which submitOne copies
// into Compound.DestNamespace before routing.

func renderMoveDump(ctx *Context, req *breq.Request) ([]byte, bool) {
	key, ok := wireKey(ctx, req.User.Namespace, req.User.Key)
	if !ok {
		return nil, false
	}
	return resp.Command(nil, "DUMP", string(key)), true
}

// handleMoveDump stashes the DUMP payload in Compound for stage 2's
// RESTORE. The reply is assembled in full here rather than streamed via
// scatter: unlike GET/READ, a move's payload has no caller-visible
// destination buffer to scatter into, so a reply the parser reports as a
// partial string has its remaining bytes (and trailing CRLF) read straight
// into a buffer of the announced size.
func handleMoveDump(ctx *Context, req *breq.Request, c *conn.Connection, v resp.Value) Result {
	if v.IsNil {
		return Result{Final: true, Status: tuplestore.StatusNotFound}
	}
	if v.Kind == resp.KindPartialString {
		payload := make([]byte, v.Partial.TotalSize)
		n := copy(payload, v.Partial.Have)
		var crlf [2]byte
		rest := []tuplestore.Segment{{Base: payload[n:], Len: len(payload) - n}, {Base: crlf[:], Len: 2}}
		if _, err := c.RecvDirect(rest); err != nil {
			return Result{Final: true, Status: tuplestore.StatusBackendError}
		}
		req.Compound.DumpPayload = payload
		return Result{NextStage: req.Stage + 1}
	}
	if v.Kind != resp.KindString {
		return Result{Final: true, Status: tuplestore.StatusBackendError}
	}
	req.Compound.DumpPayload = append([]byte(nil), v.Str...)
	return Result{NextStage: req.Stage + 1}
}

func renderMoveRestore(ctx *Context, req *breq.Request) ([]byte, bool) {
	key, ok := wireKey(ctx, req.Compound.DestNamespace, req.User.Key)
	if !ok {
		return nil, false
	}
	return resp.AppendCommand(nil, []byte("RESTORE"), key, []byte("0"), req.Compound.DumpPayload), true
}

// handleMoveRestore advances on "+OK"; a BUSYKEY error means the
// destination key already exists. Any other error is a backend failure,
// not reported as exists.
func handleMoveRestore(ctx *Context, req *breq.Request, c *conn.Connection, v resp.Value) Result {
	if v.Kind == resp.KindError {
		if bytes.HasPrefix(v.Err.Message, []byte("BUSYKEY")) {
			return Result{Final: true, Status: tuplestore.StatusAlreadyExists}
		}
		return Result{Final: true, Status: tuplestore.StatusBackendError}
	}
	if v.Kind != resp.KindString {
		return Result{Final: true, Status: tuplestore.StatusBackendError}
	}
	req.Compound.DumpPayload = nil
	return Result{NextStage: req.Stage + 1}
}

func renderMoveDel(ctx *Context, req *breq.Request) ([]byte, bool) {
	key, ok := wireKey(ctx, req.User.Namespace, req.User.Key)
	if !ok {
		return nil, false
	}
	return resp.Command(nil, "DEL", string(key)), true
}

// handleMoveDel: a 0 reply means a concurrent delete raced the move
// between DUMP and here — the destination key now exists without a
// source, which spec §9's Open Question on MOVE's non-atomicity accepts
// as a possible observable outcome. It is reported generic rather than
// success so the caller can tell the two apart.
func handleMoveDel(ctx *Context, req *breq.Request, c *conn.Connection, v resp.Value) Result {
	if v.Kind != resp.KindInteger {
		return Result{Final: true, Status: tuplestore.StatusBackendError}
	}
	if v.Int == 0 {
		return Result{Final: true, Status: tuplestore.StatusGeneric}
	}
	return Result{Final: true, Status: tuplestore.StatusSuccess, RC: 1}
}
