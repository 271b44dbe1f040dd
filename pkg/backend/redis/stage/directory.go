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

// scanPageSize is the COUNT hint passed to SCAN; it bounds how many keys
// a single round trip may return, not a hard limit.
const scanPageSize = 1000

func init() {
	registerTable(tuplestore.OpDirectory, Script{
		{Render: renderDirectoryMeta, Handle: handleDirectoryMeta},
		{Render: renderDirectoryScan, Handle: handleDirectoryScan},
	})
}

// renderDirectoryMeta issues HEXISTS against the namespace's metadata
// hash, confirming the namespace is still live on the store before the
// (expensive) fan-out scan begins (spec §4.9 DIRECTORY phase 1).
func renderDirectoryMeta(ctx *Context, req *breq.Request) ([]byte, bool) {
	name, ok := ctx.namespaceName(req.User.Namespace)
	if !ok {
		return nil, false
	}
	return resp.Command(nil, "HEXISTS", string(nsMetaKey(name)), "refcnt"), true
}

func handleDirectoryMeta(ctx *Context, req *breq.Request, c *conn.Connection, v resp.Value) Result {
	if v.Kind != resp.KindInteger || v.Int == 0 {
		return Result{Final: true, Status: tuplestore.StatusNamespaceInvalid}
	}
	req.Compound.Cursor = "0"
	req.Stage = 1 // the SCAN stage each fanned-out child starts at
	children := ctx.Conns.RequestEach(req)
	if len(children) == 0 {
		return Result{Final: true, Status: tuplestore.StatusUnavailable}
	}
	return Result{Spawn: children, Absorbed: true}
}

// renderDirectoryScan issues one SCAN page against this child's
// connection, filtered to the request's namespace and match pattern.
func renderDirectoryScan(ctx *Context, req *breq.Request) ([]byte, bool) {
	pattern, ok := wireKey(ctx, req.User.Namespace, req.User.Match)
	if !ok {
		return nil, false
	}
	return resp.Command(nil, "SCAN", req.Compound.Cursor, "MATCH", string(pattern), "COUNT", strconv.Itoa(scanPageSize)), true
}

// handleDirectoryScan parses a SCAN reply (array of [cursor, keys…]),
// strips each key's "ns::" prefix into the shared RefCounter's key
// accumulator, and either re-issues the same stage with the new cursor
// or finalizes this child. The child whose decrement would bring the
// shared refcount to zero additionally assembles the final output into
// the original caller's segments (spec §4.9 DIRECTORY phase 2).
func handleDirectoryScan(ctx *Context, req *breq.Request, c *conn.Connection, v resp.Value) Result {
	if v.Kind != resp.KindArray || len(v.Array) != 2 || v.Array[1].Kind != resp.KindArray {
		return Result{Final: true, Status: tuplestore.StatusBackendError}
	}
	cursor := string(v.Array[0].Str)
	ref := req.Compound.Ref

	var found [][]byte
	for _, el := range v.Array[1].Array {
		tuple, ok := stripNamespace(el.Str)
		if !ok {
			continue // malformed key, skip and keep scanning (spec §9 open question)
		}
		found = append(found, append([]byte(nil), tuple...))
	}
	ref.AppendKeys(found)

	// Limit only bounds how eagerly each child stops its own scan; it is
	// not re-applied when assembling the final output, so a multi-shard
	// fan-out (or a page larger than what was left of the budget) can
	// hand back more than Limit keys in total. Exact truncation would need
	// a second pass over the shared accumulator in assembleDirectoryOutput.
	limit := req.Compound.Limit
	reachedLimit := limit > 0 && int64(len(ref.Keys())) >= limit
	if cursor != "0" && !reachedLimit {
		req.Compound.Cursor = cursor
		return Result{NextStage: req.Stage}
	}

	if ref.Remaining() == 1 {
		status, rc := assembleDirectoryOutput(ref)
		return Result{Final: true, Status: status, RC: rc}
	}
	return Result{Final: true, Status: tuplestore.StatusSuccess}
}

// assembleDirectoryOutput joins every accumulated key with "\n" and
// scatters the result into the original caller's segments. It runs
// exactly once, on the last fanned-out child to finish (spec §4.9).
func assembleDirectoryOutput(ref *breq.RefCounter) (tuplestore.Status, int64) {
	keys := ref.Keys()
	var buf bytes.Buffer
	for _, k := range keys {
		buf.Write(k)
		buf.WriteByte('\n')
	}
	res := scatter.FromComplete(buf.Bytes(), ref.Parent.User.Segments)
	status := tuplestore.StatusSuccess
	if res.Truncated {
		status = tuplestore.StatusUserBufferTooSmall
	}
	return status, int64(res.Total)
}
