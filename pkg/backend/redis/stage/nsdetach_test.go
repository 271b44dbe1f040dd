package stage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dbroker/dbr/pkg/backend/redis/breq"
	"github.com/dbroker/dbr/pkg/backend/redis/resp"
	"github.com/dbroker/dbr/pkg/tuplestore"
)

func TestNSDetachDecrementThenCheckNoDelete(t *testing.T) {
	ctx, c := newTestCtx(t)
	h := namespaceHandle(t, ctx, "KS")
	req := breq.New(&tuplestore.Request{Opcode: tuplestore.OpNSDetach, Namespace: h}, breq.Location{})

	res := handleNSDetachDecr(ctx, req, c, resp.Value{Kind: resp.KindInteger, Int: 3})
	require.False(t, res.Final)
	req.Stage = res.NextStage

	res = handleNSDetachCheck(ctx, req, c, resp.Value{Kind: resp.KindString, Str: []byte("1")})
	require.True(t, res.Final)
	require.Equal(t, tuplestore.StatusSuccess, res.Status)
	require.Equal(t, int64(3), res.RC)
}

func TestNSDetachDrainsToZeroWithoutDeleteMarkStaysDetachOnly(t *testing.T) {
	ctx, c := newTestCtx(t)
	h := namespaceHandle(t, ctx, "KS")
	req := breq.New(&tuplestore.Request{Opcode: tuplestore.OpNSDetach, Namespace: h}, breq.Location{})
	req.Compound.KeyCount = 0

	res := handleNSDetachCheck(ctx, req, c, resp.Value{Kind: resp.KindString, IsNil: true})
	require.True(t, res.Final)
	require.Equal(t, tuplestore.StatusSuccess, res.Status)
}

func TestNSDetachDrainsToZeroWithDeleteMarkFansOut(t *testing.T) {
	ctx, conns := newMultiConnCtx(t, 2)
	h := namespaceHandle(t, ctx, "KS")
	req := breq.New(&tuplestore.Request{Opcode: tuplestore.OpNSDetach, Namespace: h}, breq.Location{})
	req.Compound.KeyCount = 0
	req.Stage = 1

	res := handleNSDetachCheck(ctx, req, conns[0], resp.Value{Kind: resp.KindString, Str: []byte("1")})
	require.True(t, res.Absorbed)
	require.Len(t, res.Spawn, 2)
	for _, child := range res.Spawn {
		require.Equal(t, 2, child.Stage) // the SCAN stage
	}
}

func TestNSDetachScanToDelKeysToFinish(t *testing.T) {
	ctx, conns := newMultiConnCtx(t, 1)
	h := namespaceHandle(t, ctx, "KS")
	parent := breq.New(&tuplestore.Request{Opcode: tuplestore.OpNSDetach, Namespace: h}, breq.Location{})
	ref := breq.NewRefCounter(1, parent)
	child := parent.Clone(breq.Location{Kind: breq.LocationConn, ConnIndex: 0})
	child.Compound.Ref = ref
	child.Stage = 2

	res := handleNSDetachScan(ctx, child, conns[0], resp.Value{
		Kind: resp.KindArray,
		Array: []resp.Value{
			{Kind: resp.KindString, Str: []byte("0")},
			{Kind: resp.KindArray, Array: []resp.Value{{Kind: resp.KindString, Str: []byte("KS::A")}}},
		},
	})
	require.False(t, res.Final)
	require.Equal(t, 3, res.NextStage)

	cmd, ok := renderNSDetachDelKeys(ctx, child)
	require.True(t, ok)
	require.Contains(t, string(cmd), "KS::A")

	res = handleNSDetachDelKeys(ctx, child, conns[0], resp.Value{Kind: resp.KindInteger, Int: 1})
	// last (and only) child: proceeds to DELNS rather than finalizing directly.
	require.False(t, res.Final)
	require.Equal(t, 4, res.NextStage)
	require.Equal(t, int64(1), child.Compound.KeyCount)

	res = handleNSDetachDelNS(ctx, child, conns[0], resp.Value{Kind: resp.KindInteger, Int: 1})
	require.True(t, res.Final)
	require.Equal(t, int64(1), res.RC)
}
