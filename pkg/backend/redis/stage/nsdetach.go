package stage

import (
	"github.com/dbroker/dbr/pkg/backend/redis/breq"
	"github.com/dbroker/dbr/pkg/backend/redis/conn"
	"github.com/dbroker/dbr/pkg/backend/redis/resp"
	"github.com/dbroker/dbr/pkg/tuplestore"
)

// NSDETACH's script: decrement refcount, check whether it drained the
// namespace, and — only then — fan out a SCAN+DELKEYS sweep followed by a
// single DELNS (spec §4.9). The original wraps the decrement-then-read
// in MULTI/EXEC; this port collapses that into two sequential stages
// instead (the engine's one-reply-per-stage model has no facility for
// swallowing a transaction's intermediate acks), accepting the same kind
// of non-atomicity spec §9 already documents for MOVE.
func init() {
	registerTable(tuplestore.OpNSDetach, Script{
		{Render: renderNSDetachDecr, Handle: handleNSDetachDecr},     // 0
		{Render: renderNSDetachCheck, Handle: handleNSDetachCheck},   // 1
		{Render: renderNSDetachScan, Handle: handleNSDetachScan},     // 2
		{Render: renderNSDetachDelKeys, Handle: handleNSDetachDelKeys}, // 3
		{Render: renderNSDetachDelNS, Handle: handleNSDetachDelNS},   // 4
	})
}

func renderNSDetachDecr(ctx *Context, req *breq.Request) ([]byte, bool) {
	name, ok := ctx.namespaceName(req.User.Namespace)
	if !ok {
		return nil, false
	}
	return resp.Command(nil, "HINCRBY", string(nsMetaKey(name)), "refcnt", "-1"), true
}

func handleNSDetachDecr(ctx *Context, req *breq.Request, c *conn.Connection, v resp.Value) Result {
	if v.Kind != resp.KindInteger {
		return Result{Final: true, Status: tuplestore.StatusBackendError}
	}
	req.Compound.KeyCount = v.Int // refcnt after decrement
	return Result{NextStage: req.Stage + 1}
}

func renderNSDetachCheck(ctx *Context, req *breq.Request) ([]byte, bool) {
	name, ok := ctx.namespaceName(req.User.Namespace)
	if !ok {
		return nil, false
	}
	return resp.Command(nil, "HGET", string(nsMetaKey(name)), "mark"), true
}

// handleNSDetachCheck decides whether the decrement just drained a
// namespace marked for delete: if so, fan out the scan+delete sweep;
// otherwise this is an ordinary detach with nothing left to do.
func handleNSDetachCheck(ctx *Context, req *breq.Request, c *conn.Connection, v resp.Value) Result {
	marked := !v.IsNil && len(v.Str) == 1 && v.Str[0] == '1'
	if req.Compound.KeyCount > 0 || !marked {
		return Result{Final: true, Status: tuplestore.StatusSuccess, RC: req.Compound.KeyCount}
	}
	req.Compound.Cursor = "0"
	req.Stage = req.Stage + 1 // the SCAN stage
	children := ctx.Conns.RequestEach(req)
	if len(children) == 0 {
		return Result{Final: true, Status: tuplestore.StatusUnavailable}
	}
	return Result{Spawn: children, Absorbed: true}
}

func renderNSDetachScan(ctx *Context, req *breq.Request) ([]byte, bool) {
	pattern, ok := wireKey(ctx, req.User.Namespace, []byte("*"))
	if !ok {
		return nil, false
	}
	return resp.Command(nil, "SCAN", req.Compound.Cursor, "MATCH", string(pattern), "COUNT", "1000"), true
}

// handleNSDetachScan stages found keys on this child (not the shared
// RefCounter — NSDETACH deletes as it goes and only needs a final
// count, unlike DIRECTORY which must assemble output for the caller).
func handleNSDetachScan(ctx *Context, req *breq.Request, c *conn.Connection, v resp.Value) Result {
	if v.Kind != resp.KindArray || len(v.Array) != 2 || v.Array[1].Kind != resp.KindArray {
		return Result{Final: true, Status: tuplestore.StatusBackendError}
	}
	req.Compound.Cursor = string(v.Array[0].Str)
	req.Compound.Keys = req.Compound.Keys[:0]
	for _, el := range v.Array[1].Array {
		req.Compound.Keys = append(req.Compound.Keys, append([]byte(nil), el.Str...))
	}
	if len(req.Compound.Keys) == 0 {
		if req.Compound.Cursor == "0" {
			return finishNSDetachChild(req)
		}
		return Result{NextStage: req.Stage}
	}
	return Result{NextStage: req.Stage + 1}
}

func renderNSDetachDelKeys(ctx *Context, req *breq.Request) ([]byte, bool) {
	args := make([][]byte, 0, 1+len(req.Compound.Keys))
	args = append(args, []byte("DEL"))
	for _, tuple := range req.Compound.Keys {
		key, ok := wireKey(ctx, req.User.Namespace, tuple)
		if !ok {
			return nil, false
		}
		args = append(args, key)
	}
	return resp.AppendCommand(nil, args...), true
}

func handleNSDetachDelKeys(ctx *Context, req *breq.Request, c *conn.Connection, v resp.Value) Result {
	if v.Kind != resp.KindInteger {
		return Result{Final: true, Status: tuplestore.StatusBackendError}
	}
	req.Compound.KeyCount += v.Int
	req.Compound.Keys = nil
	if req.Compound.Cursor == "0" {
		return finishNSDetachChild(req)
	}
	return Result{NextStage: req.Stage - 1} // back to SCAN
}

// finishNSDetachChild: the last child to exhaust its scan additionally
// issues DELNS; every other child finalizes immediately.
func finishNSDetachChild(req *breq.Request) Result {
	if req.Compound.Ref.Remaining() == 1 {
		return Result{NextStage: req.Stage + 1}
	}
	return Result{Final: true, Status: tuplestore.StatusSuccess, RC: req.Compound.KeyCount}
}

func renderNSDetachDelNS(ctx *Context, req *breq.Request) ([]byte, bool) {
	name, ok := ctx.namespaceName(req.User.Namespace)
	if !ok {
		return nil, false
	}
	return resp.Command(nil, "DEL", string(nsMetaKey(name))), true
}

func handleNSDetachDelNS(ctx *Context, req *breq.Request, c *conn.Connection, v resp.Value) Result {
	if v.Kind != resp.KindInteger {
		return Result{Final: true, Status: tuplestore.StatusBackendError}
	}
	return Result{Final: true, Status: tuplestore.StatusSuccess, RC: req.Compound.KeyCount}
}
