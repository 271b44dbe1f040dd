package stage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dbroker/dbr/pkg/backend/redis/breq"
	"github.com/dbroker/dbr/pkg/backend/redis/resp"
	"github.com/dbroker/dbr/pkg/tuplestore"
)

func TestRenderIteratorDefaultsToZeroCursor(t *testing.T) {
	ctx, _ := newTestCtx(t)
	h := namespaceHandle(t, ctx, "KS")
	req := breq.New(&tuplestore.Request{Opcode: tuplestore.OpIterator, Namespace: h, Match: []byte("*")}, breq.Location{})
	cmd, ok := renderIterator(ctx, req)
	require.True(t, ok)
	require.Contains(t, string(cmd), "SCAN")
	require.Contains(t, string(cmd), "KS::*")
}

func TestRenderIteratorReusesSuppliedCursor(t *testing.T) {
	ctx, _ := newTestCtx(t)
	h := namespaceHandle(t, ctx, "KS")
	req := breq.New(&tuplestore.Request{Opcode: tuplestore.OpIterator, Namespace: h, Key: []byte("42")}, breq.Location{})
	cmd, ok := renderIterator(ctx, req)
	require.True(t, ok)
	require.Contains(t, string(cmd), "42")
}

func TestHandleIteratorWritesCursorThenKeys(t *testing.T) {
	ctx, c := newTestCtx(t)
	h := namespaceHandle(t, ctx, "KS")
	dst := make([]byte, 64)
	req := breq.New(&tuplestore.Request{
		Opcode:    tuplestore.OpIterator,
		Namespace: h,
		Segments:  []tuplestore.Segment{{Base: dst, Len: len(dst)}},
	}, breq.Location{})

	res := handleIterator(ctx, req, c, resp.Value{
		Kind: resp.KindArray,
		Array: []resp.Value{
			{Kind: resp.KindString, Str: []byte("123")},
			{Kind: resp.KindArray, Array: []resp.Value{{Kind: resp.KindString, Str: []byte("KS::A")}}},
		},
	})
	require.True(t, res.Final)
	require.Equal(t, tuplestore.StatusSuccess, res.Status)
	require.Equal(t, "123\nA\n", string(dst[:res.RC]))
}
