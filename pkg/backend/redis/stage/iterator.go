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

// ITERATOR is continuation-style SCAN (spec §4.9): the caller carries the
// opaque cursor from the previous call's output back in, here via the
// Request's Key field (the field has no other meaning for this opcode).
// Since Completion has no dedicated cursor field, the cursor for the next
// call is written as the first line of the segment output, followed by
// one line per matched key — a convention the external API layer (out of
// scope, spec §1) is responsible for splitting back out.
func init() {
	registerTable(tuplestore.OpIterator, Script{
		{Render: renderIterator, Handle: handleIterator},
	})
}

func renderIterator(ctx *Context, req *breq.Request) ([]byte, bool) {
	cursor := "0"
	if len(req.User.Key) > 0 {
		cursor = string(req.User.Key)
	}
	pattern, ok := wireKey(ctx, req.User.Namespace, req.User.Match)
	if !ok {
		return nil, false
	}
	return resp.Command(nil, "SCAN", cursor, "MATCH", string(pattern), "COUNT", strconv.Itoa(scanPageSize)), true
}

func handleIterator(ctx *Context, req *breq.Request, c *conn.Connection, v resp.Value) Result {
	if v.Kind != resp.KindArray || len(v.Array) != 2 || v.Array[1].Kind != resp.KindArray {
		return Result{Final: true, Status: tuplestore.StatusIteratorError}
	}
	var buf bytes.Buffer
	buf.Write(v.Array[0].Str)
	buf.WriteByte('\n')
	for _, el := range v.Array[1].Array {
		tuple, ok := stripNamespace(el.Str)
		if !ok {
			continue
		}
		buf.Write(tuple)
		buf.WriteByte('\n')
	}
	res := scatter.FromComplete(buf.Bytes(), req.User.Segments)
	status := tuplestore.StatusSuccess
	if res.Truncated {
		status = tuplestore.StatusUserBufferTooSmall
	}
	return Result{Final: true, Status: status, RC: int64(res.Total)}
}
