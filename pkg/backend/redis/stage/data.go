package stage

import (
	"github.com/dbroker/dbr/pkg/backend/redis/breq"
	"github.com/dbroker/dbr/pkg/backend/redis/conn"
	"github.com/dbroker/dbr/pkg/backend/redis/resp"
	"github.com/dbroker/dbr/pkg/backend/redis/scatter"
	"github.com/dbroker/dbr/pkg/tuplestore"
)

func init() {
	registerTable(tuplestore.OpPut, Script{{Render: renderPut, Handle: handlePut}})
	registerTable(tuplestore.OpGet, Script{{Render: renderGet, Handle: handleDataReply}})
	registerTable(tuplestore.OpRead, Script{{Render: renderRead, Handle: handleDataReply}})
	registerTable(tuplestore.OpRemove, Script{{Render: renderRemove, Handle: handleRemove}})
}

// renderPut builds RPUSH ns::key value_segments… (spec §4.9 PUT): each
// source segment is passed as its own RPUSH argument so the value never
// needs to be copied into one contiguous buffer first. When a data-adapter
// plugin is configured (spec §6.2), each segment is run through it before
// being appended, since that's the last point before the bytes leave for
// the wire.
func renderPut(ctx *Context, req *breq.Request) ([]byte, bool) {
	key, ok := wireKey(ctx, req.User.Namespace, req.User.Key)
	if !ok {
		return nil, false
	}
	args := make([][]byte, 0, 2+len(req.User.Segments))
	args = append(args, []byte("RPUSH"), key)
	for _, seg := range req.User.Segments {
		payload := seg.Base[:seg.Len]
		if ctx.Adapter != nil {
			adapted, err := ctx.Adapter.PutAdapt(payload)
			if err != nil {
				ctx.renderErr = err
				return nil, false
			}
			payload = adapted
		}
		args = append(args, payload)
	}
	return resp.AppendCommand(nil, args...), true
}

// handlePut requires the RPUSH reply to be an integer ≥ 1 (spec §4.9).
func handlePut(ctx *Context, req *breq.Request, c *conn.Connection, v resp.Value) Result {
	if v.Kind != resp.KindInteger || v.Int < 1 {
		return Result{Final: true, Status: tuplestore.StatusOutOfMemory}
	}
	return Result{Final: true, Status: tuplestore.StatusSuccess, RC: 1}
}

func renderGet(ctx *Context, req *breq.Request) ([]byte, bool) {
	key, ok := wireKey(ctx, req.User.Namespace, req.User.Key)
	if !ok {
		return nil, false
	}
	return resp.Command(nil, "LPOP", string(key)), true
}

func renderRead(ctx *Context, req *breq.Request) ([]byte, bool) {
	key, ok := wireKey(ctx, req.User.Namespace, req.User.Key)
	if !ok {
		return nil, false
	}
	return resp.Command(nil, "LINDEX", string(key), "0"), true
}

// handleDataReply is shared by GET and READ (spec §4.9): a nil reply is
// not-found, unless FlagBlocking is set, in which case the stage retries
// rather than finalizing; any other reply streams into the caller's
// segments via the scatter package.
func handleDataReply(ctx *Context, req *breq.Request, c *conn.Connection, v resp.Value) Result {
	if v.IsNil {
		if req.User.Flags.Has(tuplestore.FlagBlocking) {
			return Result{NextStage: req.Stage}
		}
		return Result{Final: true, Status: tuplestore.StatusNotFound}
	}

	allowPartial := req.User.Flags.Has(tuplestore.FlagPartial)
	var res scatter.Result
	var err error
	switch v.Kind {
	case resp.KindPartialString:
		// Streamed directly from the connection into the caller's
		// segments: there is no complete buffer to hand a plugin, so a
		// configured adapter never sees oversize values taking this path.
		res, err = scatter.Into(c, ctx.Scrap, v.Partial, req.User.Segments, allowPartial)
	case resp.KindString:
		payload := v.Str
		if ctx.Adapter != nil {
			payload, err = ctx.Adapter.GetAdapt(payload)
			if err != nil {
				return Result{Final: true, Status: tuplestore.StatusPluginError}
			}
		}
		res = scatter.FromComplete(payload, req.User.Segments)
	default:
		return Result{Final: true, Status: tuplestore.StatusBackendError}
	}
	if err != nil {
		return Result{Final: true, Status: tuplestore.StatusBackendError}
	}

	status := tuplestore.StatusSuccess
	if res.Truncated {
		status = tuplestore.StatusUserBufferTooSmall
	}
	return Result{Final: true, Status: status, RC: int64(res.Total)}
}

func renderRemove(ctx *Context, req *breq.Request) ([]byte, bool) {
	key, ok := wireKey(ctx, req.User.Namespace, req.User.Key)
	if !ok {
		return nil, false
	}
	return resp.Command(nil, "DEL", string(key)), true
}

// handleRemove: 0 deleted is not-found, 1 is ok, >1 is a duplicate-key
// warning the caller still treats as ok (spec §4.9).
func handleRemove(ctx *Context, req *breq.Request, c *conn.Connection, v resp.Value) Result {
	if v.Kind != resp.KindInteger {
		return Result{Final: true, Status: tuplestore.StatusBackendError}
	}
	switch {
	case v.Int == 0:
		return Result{Final: true, Status: tuplestore.StatusNotFound}
	case v.Int == 1:
		return Result{Final: true, Status: tuplestore.StatusSuccess, RC: 1}
	default:
		return Result{Final: true, Status: tuplestore.StatusSuccess, RC: v.Int}
	}
}
