package wire

import (
	"bufio"
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dbroker/dbr/pkg/tuplestore"
)

func encodeRequestHeader(buf *bytes.Buffer, opcode tuplestore.Opcode, nsHdl, user uint64, next int64, group uint64, key, match []byte, flags uint32) {
	w := bufio.NewWriter(buf)
	writeInt(w, int64(opcode))
	writeUint(w, nsHdl)
	writeUint(w, user)
	writeInt(w, next)
	writeUint(w, group)
	writeInt(w, int64(len(key)))
	writeInt(w, int64(len(match)))
	writeUint(w, uint64(flags))
	w.Write(key)
	w.Write(match)
	w.WriteString("\n")
	w.Flush()
}

func TestDecodeRequestPut(t *testing.T) {
	var buf bytes.Buffer
	encodeRequestHeader(&buf, tuplestore.OpPut, 7, 42, 0, 0, []byte("KEY"), nil, 0)

	w := bufio.NewWriter(&buf)
	payload := []byte("hello world")
	writeInt(w, int64(len(payload)))
	writeInt(w, 1)
	writeInt(w, int64(len(payload)))
	w.Write(payload)
	w.Flush()

	dr, err := DecodeRequest(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, tuplestore.OpPut, dr.Req.Opcode)
	require.Equal(t, tuplestore.NamespaceHandle(7), dr.Req.Namespace)
	require.Equal(t, uint64(42), dr.WireCookie)
	require.Equal(t, []byte("KEY"), dr.Req.Key)
	require.Len(t, dr.Req.Segments, 1)
	require.Equal(t, payload, dr.Req.Segments[0].Base)
}

func TestDecodeRequestGetAllocatesDestinationBuffer(t *testing.T) {
	var buf bytes.Buffer
	encodeRequestHeader(&buf, tuplestore.OpGet, 1, 99, 0, 0, []byte("KEY"), nil, 0)

	w := bufio.NewWriter(&buf)
	writeInt(w, 0) // total_len: no payload bytes, capacity only
	writeInt(w, 1)
	writeInt(w, 128)
	w.Flush()

	dr, err := DecodeRequest(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, tuplestore.OpGet, dr.Req.Opcode)
	require.Len(t, dr.Req.Segments, 1)
	require.Len(t, dr.Req.Segments[0].Base, 128)
}

func TestDecodeRequestNilSegment(t *testing.T) {
	var buf bytes.Buffer
	encodeRequestHeader(&buf, tuplestore.OpGet, 1, 1, 0, 0, []byte("K"), nil, 0)

	w := bufio.NewWriter(&buf)
	writeInt(w, 0)
	writeInt(w, 1)
	writeInt(w, nilSegmentLen)
	w.Flush()

	dr, err := DecodeRequest(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Nil(t, dr.Req.Segments[0].Base)
}

func TestDecodeRequestMoveReadsDestNamespace(t *testing.T) {
	var buf bytes.Buffer
	encodeRequestHeader(&buf, tuplestore.OpMove, 1, 5, 0, 0, []byte("K"), nil, 0)

	w := bufio.NewWriter(&buf)
	writeUint(w, 9) // destination namespace handle
	writeUint(w, 0) // reserved
	w.Flush()

	dr, err := DecodeRequest(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, tuplestore.NamespaceHandle(9), dr.Req.DestNamespace)
}

func TestEncodeCompletionWithSegments(t *testing.T) {
	var buf bytes.Buffer
	comp := &tuplestore.Completion{Opcode: tuplestore.OpGet, Status: tuplestore.StatusSuccess, RC: 5}
	segs := []tuplestore.Segment{{Base: []byte("hello"), Len: 5}}

	require.NoError(t, EncodeCompletion(&buf, comp, 42, segs))

	r := bufio.NewReader(&buf)
	op, err := readInt(r)
	require.NoError(t, err)
	require.Equal(t, int64(tuplestore.OpGet), op)
	status, err := readInt(r)
	require.NoError(t, err)
	require.Equal(t, int64(tuplestore.StatusSuccess), status)
	rc, err := readInt(r)
	require.NoError(t, err)
	require.Equal(t, int64(5), rc)
	user, err := readUint(r)
	require.NoError(t, err)
	require.Equal(t, uint64(42), user)
	next, err := readInt(r)
	require.NoError(t, err)
	require.Equal(t, int64(0), next)

	totalLen, err := readInt(r)
	require.NoError(t, err)
	require.Equal(t, int64(5), totalLen)
	count, err := readInt(r)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
	segLen, err := readInt(r)
	require.NoError(t, err)
	require.Equal(t, int64(5), segLen)

	payload := make([]byte, 5)
	_, err = r.Read(payload)
	require.NoError(t, err)
	require.Equal(t, "hello", string(payload))
}

func TestEncodeCompletionNoSGEForNonOutputOpcode(t *testing.T) {
	var buf bytes.Buffer
	comp := &tuplestore.Completion{Opcode: tuplestore.OpPut, Status: tuplestore.StatusSuccess, RC: 1}

	require.NoError(t, EncodeCompletion(&buf, comp, 1, nil))

	r := bufio.NewReader(&buf)
	for i := 0; i < 5; i++ {
		_, err := readLine(r)
		require.NoError(t, err)
	}
	_, err := r.ReadByte()
	require.ErrorIs(t, err, io.EOF)
}
