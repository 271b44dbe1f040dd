package engine

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dbroker/dbr/pkg/backend/redis/conn"
	"github.com/dbroker/dbr/pkg/backend/redis/hash"
	"github.com/dbroker/dbr/pkg/tuplestore"
)

// expectAndReply reads the next command off r, asserts it equals want,
// and writes reply once the exchange is observed, stepping e until it
// completes. It is used to script a single request/response round trip
// against the fake server half of a net.Pipe.
func expectAndReply(t *testing.T, e *Engine, r *bufio.Reader, want []string, reply string, server net.Conn) {
	t.Helper()
	done := make(chan []string, 1)
	go func() {
		args, _ := readCommand(r)
		done <- args
	}()
	require.Eventually(t, func() bool {
		e.Step()
		select {
		case args := <-done:
			require.Equal(t, want, args)
			return true
		default:
			return false
		}
	}, time.Second, 2*time.Millisecond)
	_, err := server.Write([]byte(reply))
	require.NoError(t, err)
}

func drainOne(t *testing.T, e *Engine) *tuplestore.Completion {
	t.Helper()
	require.Eventually(t, func() bool {
		e.Step()
		return e.dispatcher.Len() == 1
	}, time.Second, 2*time.Millisecond)
	out := e.Completions()
	require.Len(t, out, 1)
	return out[0]
}

// Basic PUT/READ round-trip.
func TestScenarioS1BasicPutReadRoundTrip(t *testing.T) {
	e, server := newTestEngine(t)
	r := bufio.NewReader(server)
	h := nsHandle(t, e, "KS")

	e.Submit(&tuplestore.Request{
		Opcode:    tuplestore.OpPut,
		Namespace: h,
		Key:       []byte("HELLO"),
		Segments:  []tuplestore.Segment{{Base: []byte("WORLD"), Len: 5}},
	})
	expectAndReply(t, e, r, []string{"RPUSH", "KS::HELLO", "WORLD"}, ":1\r\n", server)
	out := drainOne(t, e)
	require.Equal(t, tuplestore.StatusSuccess, out.Status)

	dst := make([]byte, 5)
	e.Submit(&tuplestore.Request{
		Opcode:    tuplestore.OpRead,
		Namespace: h,
		Key:       []byte("HELLO"),
		Segments:  []tuplestore.Segment{{Base: dst, Len: 5}},
	})
	expectAndReply(t, e, r, []string{"LINDEX", "KS::HELLO", "0"}, "$5\r\nWORLD\r\n", server)
	out = drainOne(t, e)
	require.Equal(t, tuplestore.StatusSuccess, out.Status)
	require.Equal(t, int64(5), out.RC)
	require.Equal(t, "WORLD", string(dst))
}

// Namespace refcount lifecycle: create, ten attaches, ten detaches, one
// more detach (must still succeed), delete, then a final attach that
// must fail once the namespace is gone.
func TestScenarioS2NamespaceRefcountLifecycle(t *testing.T) {
	e, server := newTestEngine(t)
	r := bufio.NewReader(server)

	e.Submit(&tuplestore.Request{Opcode: tuplestore.OpNSCreate, Key: []byte("S2NS")})
	expectAndReply(t, e, r, []string{"HSETNX", "S2NS::__ns__", "refcnt", "1"}, ":1\r\n", server)
	expectAndReply(t, e, r, []string{"HMSET", "S2NS::__ns__", "name", "S2NS", "mark", "0"}, "+OK\r\n", server)
	out := drainOne(t, e)
	require.Equal(t, tuplestore.StatusSuccess, out.Status)

	for i := 0; i < 10; i++ {
		e.Submit(&tuplestore.Request{Opcode: tuplestore.OpNSAttach, Key: []byte("S2NS")})
		expectAndReply(t, e, r, []string{"HEXISTS", "S2NS::__ns__", "refcnt"}, ":1\r\n", server)
		expectAndReply(t, e, r, []string{"HINCRBY", "S2NS::__ns__", "refcnt", "1"},
			":"+strconv.Itoa(i+2)+"\r\n", server)
		require.Equal(t, tuplestore.StatusSuccess, drainOne(t, e).Status)
	}

	attached := nsHandle(t, e, "S2NS")

	for i := 0; i < 10; i++ {
		e.Submit(&tuplestore.Request{Opcode: tuplestore.OpNSDetach, Namespace: attached})
		expectAndReply(t, e, r, []string{"HINCRBY", "S2NS::__ns__", "refcnt", "-1"},
			":"+strconv.Itoa(10-i)+"\r\n", server)
		expectAndReply(t, e, r, []string{"HGET", "S2NS::__ns__", "mark"}, "$1\r\n0\r\n", server)
		require.Equal(t, tuplestore.StatusSuccess, drainOne(t, e).Status)
	}

	// The eleventh detach drains refcnt to 0. It is not delete-marked, so
	// it finalizes immediately rather than fanning out a scan+delete sweep.
	e.Submit(&tuplestore.Request{Opcode: tuplestore.OpNSDetach, Namespace: attached})
	expectAndReply(t, e, r, []string{"HINCRBY", "S2NS::__ns__", "refcnt", "-1"}, ":0\r\n", server)
	expectAndReply(t, e, r, []string{"HGET", "S2NS::__ns__", "mark"}, "$1\r\n0\r\n", server)
	require.Equal(t, tuplestore.StatusSuccess, drainOne(t, e).Status)

	e.Submit(&tuplestore.Request{Opcode: tuplestore.OpNSDelete, Namespace: attached})
	expectAndReply(t, e, r, []string{"HMGET", "S2NS::__ns__", "refcnt"}, "*1\r\n$1\r\n0\r\n", server)
	expectAndReply(t, e, r, []string{"HSET", "S2NS::__ns__", "mark", "1"}, ":1\r\n", server)
	require.Equal(t, tuplestore.StatusSuccess, drainOne(t, e).Status)

	// The following attach fails: the store no longer considers this
	// namespace live.
	e.Submit(&tuplestore.Request{Opcode: tuplestore.OpNSAttach, Key: []byte("S2NS")})
	expectAndReply(t, e, r, []string{"HEXISTS", "S2NS::__ns__", "refcnt"}, ":0\r\n", server)
	require.Equal(t, tuplestore.StatusNamespaceInvalid, drainOne(t, e).Status)
}

// MOVE across namespaces.
func TestScenarioS3MoveAcrossNamespaces(t *testing.T) {
	e, server := newTestEngine(t)
	r := bufio.NewReader(server)
	ks := nsHandle(t, e, "KS")
	nsRec, err := e.namespaces.Create("NS")
	require.NoError(t, err)
	ns := nsRec.Handle

	e.Submit(&tuplestore.Request{
		Opcode:    tuplestore.OpPut,
		Namespace: ks,
		Key:       []byte("HELLO"),
		Segments:  []tuplestore.Segment{{Base: []byte("WORLD"), Len: 5}},
	})
	expectAndReply(t, e, r, []string{"RPUSH", "KS::HELLO", "WORLD"}, ":1\r\n", server)
	require.Equal(t, tuplestore.StatusSuccess, drainOne(t, e).Status)

	e.Submit(&tuplestore.Request{
		Opcode:        tuplestore.OpMove,
		Namespace:     ks,
		DestNamespace: ns,
		Key:           []byte("HELLO"),
	})
	expectAndReply(t, e, r, []string{"DUMP", "KS::HELLO"}, "$5\r\nWORLD\r\n", server)
	expectAndReply(t, e, r, []string{"RESTORE", "NS::HELLO", "0", "WORLD"}, "+OK\r\n", server)
	expectAndReply(t, e, r, []string{"DEL", "KS::HELLO"}, ":1\r\n", server)
	require.Equal(t, tuplestore.StatusSuccess, drainOne(t, e).Status)

	dst := make([]byte, 5)
	e.Submit(&tuplestore.Request{
		Opcode:    tuplestore.OpGet,
		Namespace: ns,
		Key:       []byte("HELLO"),
		Segments:  []tuplestore.Segment{{Base: dst, Len: 5}},
	})
	expectAndReply(t, e, r, []string{"LPOP", "NS::HELLO"}, "$5\r\nWORLD\r\n", server)
	out := drainOne(t, e)
	require.Equal(t, tuplestore.StatusSuccess, out.Status)
	require.Equal(t, int64(5), out.RC)
	require.Equal(t, "WORLD", string(dst))

	e.Submit(&tuplestore.Request{
		Opcode:    tuplestore.OpGet,
		Namespace: ks,
		Key:       []byte("HELLO"),
		Segments:  []tuplestore.Segment{{Base: make([]byte, 5), Len: 5}},
	})
	expectAndReply(t, e, r, []string{"LPOP", "KS::HELLO"}, "$-1\r\n", server)
	require.Equal(t, tuplestore.StatusNotFound, drainOne(t, e).Status)
}

// DIRECTORY fan-out: an unbounded scan returning every key, a limited
// scan that stops as soon as the accumulator reaches its cap, and an
// empty result for a pattern with no matches.
func TestScenarioS4DirectoryFanOut(t *testing.T) {
	e, server := newTestEngine(t)
	r := bufio.NewReader(server)
	h := nsHandle(t, e, "KS")

	var keys []string
	for i := 0; i < 3000; i++ {
		keys = append(keys, fmt.Sprintf("key%04d", i))
	}

	dst := make([]byte, 64<<10)
	e.Submit(&tuplestore.Request{
		Opcode:    tuplestore.OpDirectory,
		Namespace: h,
		Match:     []byte("*"),
		Segments:  []tuplestore.Segment{{Base: dst, Len: len(dst)}},
	})
	expectAndReply(t, e, r, []string{"HEXISTS", "KS::__ns__", "refcnt"}, ":1\r\n", server)
	expectAndReply(t, e, r, []string{"SCAN", "0", "MATCH", "KS::*", "COUNT", "1000"},
		buildScanReply("KS", keys, "0"), server)
	out := drainOne(t, e)
	require.Equal(t, tuplestore.StatusSuccess, out.Status)
	tokens := bytes.Split(bytes.TrimRight(dst[:out.RC], "\n"), []byte("\n"))
	require.Len(t, tokens, 3000)

	// A limit of 1500 stops the scan as soon as the accumulator reaches
	// it, even though this page's cursor claims more keys remain.
	dst2 := make([]byte, 64<<10)
	e.Submit(&tuplestore.Request{
		Opcode:    tuplestore.OpDirectory,
		Namespace: h,
		Match:     []byte("*"),
		Limit:     1500,
		Segments:  []tuplestore.Segment{{Base: dst2, Len: len(dst2)}},
	})
	expectAndReply(t, e, r, []string{"HEXISTS", "KS::__ns__", "refcnt"}, ":1\r\n", server)
	expectAndReply(t, e, r, []string{"SCAN", "0", "MATCH", "KS::*", "COUNT", "1000"},
		buildScanReply("KS", keys[:1500], "999"), server)
	out = drainOne(t, e)
	require.Equal(t, tuplestore.StatusSuccess, out.Status)
	tokens = bytes.Split(bytes.TrimRight(dst2[:out.RC], "\n"), []byte("\n"))
	require.Len(t, tokens, 1500)

	// No matches at all.
	dst3 := make([]byte, 64)
	e.Submit(&tuplestore.Request{
		Opcode:    tuplestore.OpDirectory,
		Namespace: h,
		Match:     []byte("abcdef1234567abcdef"),
		Segments:  []tuplestore.Segment{{Base: dst3, Len: len(dst3)}},
	})
	expectAndReply(t, e, r, []string{"HEXISTS", "KS::__ns__", "refcnt"}, ":1\r\n", server)
	expectAndReply(t, e, r, []string{"SCAN", "0", "MATCH", "KS::abcdef1234567abcdef", "COUNT", "1000"},
		"*2\r\n$1\r\n0\r\n*0\r\n", server)
	out = drainOne(t, e)
	require.Equal(t, tuplestore.StatusSuccess, out.Status)
	require.Equal(t, int64(0), out.RC)
}

// buildScanReply renders a RESP SCAN reply
// *2\r\n$<n>\r\n<cursor>\r\n*<k>\r\n($<len>\r\n<ns>::<key>\r\n)...
// for the given namespace-prefixed keys and cursor.
func buildScanReply(ns string, keys []string, cursor string) string {
	var buf bytes.Buffer
	buf.WriteString("*2\r\n")
	fmt.Fprintf(&buf, "$%d\r\n%s\r\n", len(cursor), cursor)
	fmt.Fprintf(&buf, "*%d\r\n", len(keys))
	for _, k := range keys {
		full := ns + "::" + k
		fmt.Fprintf(&buf, "$%d\r\n%s\r\n", len(full), full)
	}
	return buf.String()
}

// MOVED redirect: the engine follows a redirect transparently and routes
// the next request for the same key directly, without a second redirect.
func TestScenarioS5MovedRedirect(t *testing.T) {
	e, server := newTestEngine(t)
	r := bufio.NewReader(server)
	h := nsHandle(t, e, "KS")

	client2, server2 := net.Pipe()
	e.redirector.ConnConfig = conn.Config{Dial: func(network, address string) (net.Conn, error) { return client2, nil }}

	slot, err := hash.Slot([]byte("KS::HELLO"))
	require.NoError(t, err)

	e.Submit(&tuplestore.Request{Opcode: tuplestore.OpGet, Namespace: h, Key: []byte("HELLO"),
		Segments: []tuplestore.Segment{{Base: make([]byte, 5), Len: 5}}})

	cmdDone := make(chan struct{})
	go func() { _, _ = readCommand(r); close(cmdDone) }()
	e.Step()
	<-cmdDone
	_, _ = server.Write([]byte("-MOVED " + strconv.Itoa(slot) + " node1:6379\r\n"))

	require.Eventually(t, func() bool {
		e.Step()
		return e.conns.Len() == 2
	}, time.Second, 2*time.Millisecond)

	r2 := bufio.NewReader(server2)
	expectAndReply(t, e, r2, []string{"LPOP", "KS::HELLO"}, "$5\r\nWORLD\r\n", server2)
	out := drainOne(t, e)
	require.Equal(t, tuplestore.StatusSuccess, out.Status)
	require.Equal(t, 1, e.locator.Lookup(slot))

	// A second GET for the same key routes directly against node1, no
	// second redirect.
	dst := make([]byte, 5)
	e.Submit(&tuplestore.Request{Opcode: tuplestore.OpGet, Namespace: h, Key: []byte("HELLO"),
		Segments: []tuplestore.Segment{{Base: dst, Len: 5}}})
	expectAndReply(t, e, r2, []string{"LPOP", "KS::HELLO"}, "$5\r\nAGAIN\r\n", server2)
	out = drainOne(t, e)
	require.Equal(t, tuplestore.StatusSuccess, out.Status)
	require.Equal(t, "AGAIN", string(dst))
}

// Partial-string GET: a value larger than the recv buffer streams through
// the engine's direct-to-user-memory receive path and truncates against a
// smaller caller buffer.
func TestScenarioS6PartialStringGet(t *testing.T) {
	e, server := newTestEngine(t)
	r := bufio.NewReader(server)
	h := nsHandle(t, e, "KS")

	const total = 2 << 20 // 2 MiB
	payload := bytes.Repeat([]byte{'W'}, total)

	dst := make([]byte, 1<<20) // 1 MiB user buffer
	e.Submit(&tuplestore.Request{
		Opcode:    tuplestore.OpGet,
		Namespace: h,
		Key:       []byte("BIG"),
		Flags:     tuplestore.FlagPartial,
		Segments:  []tuplestore.Segment{{Base: dst, Len: len(dst)}},
	})

	cmdDone := make(chan struct{})
	go func() { _, _ = readCommand(r); close(cmdDone) }()
	e.Step()
	<-cmdDone

	reply := make([]byte, 0, total+16)
	reply = append(reply, []byte(fmt.Sprintf("$%d\r\n", total))...)
	reply = append(reply, payload...)
	reply = append(reply, '\r', '\n')
	go func() { _, _ = server.Write(reply) }()

	require.Eventually(t, func() bool {
		e.Step()
		return e.dispatcher.Len() == 1
	}, 5*time.Second, 2*time.Millisecond)
	out := e.Completions()
	require.Len(t, out, 1)

	require.Equal(t, tuplestore.StatusUserBufferTooSmall, out[0].Status)
	require.Equal(t, int64(total), out[0].RC)
	require.True(t, bytes.Equal(dst, payload[:len(dst)]))
}
