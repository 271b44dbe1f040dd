package stage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dbroker/dbr/pkg/backend/redis/breq"
	"github.com/dbroker/dbr/pkg/backend/redis/resp"
	"github.com/dbroker/dbr/pkg/tuplestore"
)

func TestNSCreateAlreadyExists(t *testing.T) {
	ctx, c := newTestCtx(t)
	h := namespaceHandle(t, ctx, "KS")
	req := breq.New(&tuplestore.Request{Opcode: tuplestore.OpNSCreate, Namespace: h}, breq.Location{})

	res := handleNSCreateSetNX(ctx, req, c, resp.Value{Kind: resp.KindInteger, Int: 0})
	require.True(t, res.Final)
	require.Equal(t, tuplestore.StatusAlreadyExists, res.Status)
}

func TestNSCreateSucceedsThenPopulates(t *testing.T) {
	ctx, c := newTestCtx(t)
	h := namespaceHandle(t, ctx, "KS")
	req := breq.New(&tuplestore.Request{Opcode: tuplestore.OpNSCreate, Namespace: h}, breq.Location{})

	res := handleNSCreateSetNX(ctx, req, c, resp.Value{Kind: resp.KindInteger, Int: 1})
	require.False(t, res.Final)
	req.Stage = res.NextStage

	res = handleNSCreatePopulate(ctx, req, c, resp.Value{Kind: resp.KindString, Str: []byte("OK")})
	require.True(t, res.Final)
	require.Equal(t, tuplestore.StatusSuccess, res.Status)
}

func TestNSAttachRefcountCycle(t *testing.T) {
	ctx, c := newTestCtx(t)
	h := namespaceHandle(t, ctx, "KS")
	req := breq.New(&tuplestore.Request{Opcode: tuplestore.OpNSAttach, Namespace: h}, breq.Location{})

	res := handleNSAttachCheck(ctx, req, c, resp.Value{Kind: resp.KindInteger, Int: 0})
	require.True(t, res.Final)
	require.Equal(t, tuplestore.StatusNamespaceInvalid, res.Status)

	res = handleNSAttachCheck(ctx, req, c, resp.Value{Kind: resp.KindInteger, Int: 1})
	require.False(t, res.Final)

	res = handleNSAttachIncr(ctx, req, c, resp.Value{Kind: resp.KindInteger, Int: 2})
	require.True(t, res.Final)
	require.Equal(t, int64(2), res.RC)
}

func TestNSDeleteBusyWhenRefcountAboveOne(t *testing.T) {
	ctx, c := newTestCtx(t)
	h := namespaceHandle(t, ctx, "KS")
	req := breq.New(&tuplestore.Request{Opcode: tuplestore.OpNSDelete, Namespace: h}, breq.Location{})

	res := handleNSDeleteCheck(ctx, req, c, resp.Value{Kind: resp.KindArray, Array: []resp.Value{{Kind: resp.KindString, Str: []byte("2")}}})
	require.True(t, res.Final)
	require.Equal(t, tuplestore.StatusNamespaceBusy, res.Status)
}

func TestNSDeleteMarksWhenRefcountIsOne(t *testing.T) {
	ctx, c := newTestCtx(t)
	h := namespaceHandle(t, ctx, "KS")
	req := breq.New(&tuplestore.Request{Opcode: tuplestore.OpNSDelete, Namespace: h}, breq.Location{})

	res := handleNSDeleteCheck(ctx, req, c, resp.Value{Kind: resp.KindArray, Array: []resp.Value{{Kind: resp.KindString, Str: []byte("1")}}})
	require.False(t, res.Final)
	req.Stage = res.NextStage

	res = handleNSDeleteMark(ctx, req, c, resp.Value{Kind: resp.KindInteger, Int: 1})
	require.True(t, res.Final)
	require.Equal(t, tuplestore.StatusSuccess, res.Status)
}

func TestNSQueryConcatenatesFieldValuePairs(t *testing.T) {
	ctx, c := newTestCtx(t)
	h := namespaceHandle(t, ctx, "KS")
	dst := make([]byte, 128)
	req := breq.New(&tuplestore.Request{
		Opcode:    tuplestore.OpNSQuery,
		Namespace: h,
		Segments:  []tuplestore.Segment{{Base: dst, Len: len(dst)}},
	}, breq.Location{})

	res := handleNSQuery(ctx, req, c, resp.Value{
		Kind: resp.KindArray,
		Array: []resp.Value{
			{Kind: resp.KindString, Str: []byte("name")},
			{Kind: resp.KindString, Str: []byte("KS")},
			{Kind: resp.KindString, Str: []byte("mark")},
			{Kind: resp.KindString, Str: []byte("0")},
		},
	})
	require.True(t, res.Final)
	require.Equal(t, "name:KS:mark:0:", string(dst[:res.RC]))
}
