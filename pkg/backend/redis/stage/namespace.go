package stage

import (
	"bytes"
	"strconv"

	"github.com/dbroker/dbr/pkg/backend/redis/breq"
	"github.com/dbroker/dbr/pkg/backend/redis/conn"
	"github.com/dbroker/dbr/pkg/backend/redis/resp"
	"github.com/dbroker/dbr/pkg/backend/redis/scatter"
	"github.com/dbroker/dbr/pkg/tuplestore"
)

func init() {
	registerTable(tuplestore.OpNSCreate, Script{
		{Render: renderNSCreateSetNX, Handle: handleNSCreateSetNX},
		{Render: renderNSCreatePopulate, Handle: handleNSCreatePopulate},
	})
	registerTable(tuplestore.OpNSAttach, Script{
		{Render: renderNSAttachCheck, Handle: handleNSAttachCheck},
		{Render: renderNSAttachIncr, Handle: handleNSAttachIncr},
	})
	registerTable(tuplestore.OpNSDelete, Script{
		{Render: renderNSDeleteCheck, Handle: handleNSDeleteCheck},
		{Render: renderNSDeleteMark, Handle: handleNSDeleteMark},
	})
	registerTable(tuplestore.OpNSQuery, Script{
		{Render: renderNSQuery, Handle: handleNSQuery},
	})
}

// NSCREATE stage 1: HSETNX fails (reply 0) when the metadata hash
// already has a refcnt field, meaning the namespace already exists.
func renderNSCreateSetNX(ctx *Context, req *breq.Request) ([]byte, bool) {
	name, ok := ctx.namespaceName(req.User.Namespace)
	if !ok {
		return nil, false
	}
	return resp.Command(nil, "HSETNX", string(nsMetaKey(name)), "refcnt", "1"), true
}

func handleNSCreateSetNX(ctx *Context, req *breq.Request, c *conn.Connection, v resp.Value) Result {
	if v.Kind != resp.KindInteger || v.Int == 0 {
		return Result{Final: true, Status: tuplestore.StatusAlreadyExists}
	}
	return Result{NextStage: req.Stage + 1}
}

func renderNSCreatePopulate(ctx *Context, req *breq.Request) ([]byte, bool) {
	name, ok := ctx.namespaceName(req.User.Namespace)
	if !ok {
		return nil, false
	}
	return resp.Command(nil, "HMSET", string(nsMetaKey(name)), "name", name, "mark", "0"), true
}

func handleNSCreatePopulate(ctx *Context, req *breq.Request, c *conn.Connection, v resp.Value) Result {
	if v.Kind != resp.KindString {
		return Result{Final: true, Status: tuplestore.StatusBackendError}
	}
	return Result{Final: true, Status: tuplestore.StatusSuccess}
}

// NSATTACH stage 1: HEXISTS guards against attaching to a namespace the
// store no longer has metadata for.
func renderNSAttachCheck(ctx *Context, req *breq.Request) ([]byte, bool) {
	name, ok := ctx.namespaceName(req.User.Namespace)
	if !ok {
		return nil, false
	}
	return resp.Command(nil, "HEXISTS", string(nsMetaKey(name)), "refcnt"), true
}

func handleNSAttachCheck(ctx *Context, req *breq.Request, c *conn.Connection, v resp.Value) Result {
	if v.Kind != resp.KindInteger || v.Int == 0 {
		return Result{Final: true, Status: tuplestore.StatusNamespaceInvalid}
	}
	return Result{NextStage: req.Stage + 1}
}

func renderNSAttachIncr(ctx *Context, req *breq.Request) ([]byte, bool) {
	name, ok := ctx.namespaceName(req.User.Namespace)
	if !ok {
		return nil, false
	}
	return resp.Command(nil, "HINCRBY", string(nsMetaKey(name)), "refcnt", "1"), true
}

func handleNSAttachIncr(ctx *Context, req *breq.Request, c *conn.Connection, v resp.Value) Result {
	if v.Kind != resp.KindInteger {
		return Result{Final: true, Status: tuplestore.StatusBackendError}
	}
	return Result{Final: true, Status: tuplestore.StatusSuccess, RC: v.Int}
}

// NSDELETE stage 1: HMGET refcnt — more than one attachment still holds
// the namespace open, so the delete-mark cannot be set yet.
func renderNSDeleteCheck(ctx *Context, req *breq.Request) ([]byte, bool) {
	name, ok := ctx.namespaceName(req.User.Namespace)
	if !ok {
		return nil, false
	}
	return resp.Command(nil, "HMGET", string(nsMetaKey(name)), "refcnt"), true
}

func handleNSDeleteCheck(ctx *Context, req *breq.Request, c *conn.Connection, v resp.Value) Result {
	if v.Kind != resp.KindArray || len(v.Array) != 1 {
		return Result{Final: true, Status: tuplestore.StatusBackendError}
	}
	refcnt := parseInt(v.Array[0].Str)
	if refcnt > 1 {
		return Result{Final: true, Status: tuplestore.StatusNamespaceBusy}
	}
	return Result{NextStage: req.Stage + 1}
}

func renderNSDeleteMark(ctx *Context, req *breq.Request) ([]byte, bool) {
	name, ok := ctx.namespaceName(req.User.Namespace)
	if !ok {
		return nil, false
	}
	return resp.Command(nil, "HSET", string(nsMetaKey(name)), "mark", "1"), true
}

func handleNSDeleteMark(ctx *Context, req *breq.Request, c *conn.Connection, v resp.Value) Result {
	if v.Kind != resp.KindInteger {
		return Result{Final: true, Status: tuplestore.StatusBackendError}
	}
	return Result{Final: true, Status: tuplestore.StatusSuccess}
}

// NSQUERY: HGETALL, concatenating "field:value:" pairs into the caller's
// segments (spec §4.9).
func renderNSQuery(ctx *Context, req *breq.Request) ([]byte, bool) {
	name, ok := ctx.namespaceName(req.User.Namespace)
	if !ok {
		return nil, false
	}
	return resp.Command(nil, "HGETALL", string(nsMetaKey(name))), true
}

func handleNSQuery(ctx *Context, req *breq.Request, c *conn.Connection, v resp.Value) Result {
	if v.Kind != resp.KindArray || len(v.Array)%2 != 0 {
		return Result{Final: true, Status: tuplestore.StatusBackendError}
	}
	var buf bytes.Buffer
	for i := 0; i < len(v.Array); i += 2 {
		buf.Write(v.Array[i].Str)
		buf.WriteByte(':')
		buf.Write(v.Array[i+1].Str)
		buf.WriteByte(':')
	}
	res := scatter.FromComplete(buf.Bytes(), req.User.Segments)
	status := tuplestore.StatusSuccess
	if res.Truncated {
		status = tuplestore.StatusUserBufferTooSmall
	}
	return Result{Final: true, Status: status, RC: int64(res.Total)}
}

func parseInt(b []byte) int64 {
	n, _ := strconv.ParseInt(string(b), 10, 64)
	return n
}
