package dispatch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dbroker/dbr/pkg/backend/redis/breq"
	"github.com/dbroker/dbr/pkg/tuplestore"
)

func TestFinishPlainRequestProducesImmediateCompletion(t *testing.T) {
	d := New()
	user := &tuplestore.Request{Opcode: tuplestore.OpGet, Cookie: 42}
	req := breq.New(user, breq.Location{})

	d.Finish(req, tuplestore.StatusSuccess, 5)

	out := d.Drain()
	require.Len(t, out, 1)
	require.Equal(t, tuplestore.OpGet, out[0].Opcode)
	require.Equal(t, tuplestore.StatusSuccess, out[0].Status)
	require.Equal(t, int64(5), out[0].RC)
	require.Equal(t, uint64(42), out[0].Cookie)
}

func TestFinishCancelledRequestIsSuppressed(t *testing.T) {
	d := New()
	user := &tuplestore.Request{Opcode: tuplestore.OpGet}
	req := breq.New(user, breq.Location{})
	req.Cancelled = true

	d.Finish(req, tuplestore.StatusSuccess, 1)
	require.Equal(t, 0, d.Len())
}

func TestFinishCompoundOnlyEmitsOnLastDecrement(t *testing.T) {
	d := New()
	parentUser := &tuplestore.Request{Opcode: tuplestore.OpDirectory, Cookie: 7}
	parent := breq.New(parentUser, breq.Location{})
	ref := breq.NewRefCounter(3, parent)

	child := func() *breq.Request {
		c := breq.New(parentUser, breq.Location{})
		c.Compound.Ref = ref
		return c
	}

	d.Finish(child(), tuplestore.StatusSuccess, 10)
	require.Equal(t, 0, d.Len())
	d.Finish(child(), tuplestore.StatusNotFound, 0)
	require.Equal(t, 0, d.Len())
	d.Finish(child(), tuplestore.StatusSuccess, 20)

	out := d.Drain()
	require.Len(t, out, 1)
	require.Equal(t, tuplestore.StatusNotFound, out[0].Status) // worst of the three
	require.Equal(t, int64(30), out[0].RC)
	require.Equal(t, uint64(7), out[0].Cookie)
}
