// Package breq defines the backend request (spec §3): a wrapper around a
// user tuplestore.Request carrying the engine-internal state a request
// accumulates as it moves through the state machine — its current stage,
// where it is routed, and (for compound operations) shared intermediate
// state such as MOVE's stashed dump payload or DIRECTORY's accumulated
// key list.
package breq

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dbroker/dbr/pkg/tuplestore"
)

// LocationKind distinguishes how a Request is routed to a connection.
type LocationKind int

const (
	// LocationConn routes directly to a fixed connection index.
	LocationConn LocationKind = iota
	// LocationSlot routes via the locator using a hash slot.
	LocationSlot
	// LocationEachConnection names the once-per-healthy-connection
	// fan-out; conn.Manager.RequestEach does not set it, and instead gives
	// each clone a LocationConn aimed at its own connection.
	LocationEachConnection
)

// Location says where a Request must be sent.
type Location struct {
	Kind      LocationKind
	ConnIndex int
	Slot      int
}

// RefCounter is an arena-style shared reference count for a compound
// operation's fanned-out children (spec §9 re-architecture note): the last
// decrement both frees the record and triggers the operation's completion.
// It also carries the state the children's individually-observed outcomes
// fold into: an aggregated status (worst child wins, spec §7) and an
// accumulated return count (e.g. DIRECTORY's total key bytes written).
type RefCounter struct {
	n      int32
	status int32
	rc     int64
	// Parent is the pre-fanout request the dispatcher completes once n
	// reaches zero: it carries the cookie, opcode, and Next link the
	// fanned-out clones don't individually own.
	Parent *Request

	mu   sync.Mutex
	keys [][]byte
}

// NewRefCounter returns a RefCounter initialized to n, owned by parent.
func NewRefCounter(n int32, parent *Request) *RefCounter {
	return &RefCounter{n: n, Parent: parent}
}

// Add atomically adjusts the count by delta and returns the new value.
func (r *RefCounter) Add(delta int32) int32 { return atomic.AddInt32(&r.n, delta) }

// Remaining reports the current count without mutating it, so a fanned-
// out child about to finalize can tell whether it is the last one (the
// single engine thread never races this check against its own decrement).
func (r *RefCounter) Remaining() int32 { return atomic.LoadInt32(&r.n) }

// MergeStatus folds s into the shared aggregate via worst-severity-wins.
func (r *RefCounter) MergeStatus(s tuplestore.Status) {
	for {
		cur := tuplestore.Status(atomic.LoadInt32(&r.status))
		merged := tuplestore.WorstOf(cur, s)
		if merged == cur {
			return
		}
		if atomic.CompareAndSwapInt32(&r.status, int32(cur), int32(merged)) {
			return
		}
	}
}

// Status returns the current aggregated status.
func (r *RefCounter) Status() tuplestore.Status {
	return tuplestore.Status(atomic.LoadInt32(&r.status))
}

// AddRC atomically accumulates delta into the shared return count and
// returns the new total.
func (r *RefCounter) AddRC(delta int64) int64 { return atomic.AddInt64(&r.rc, delta) }

// RC returns the current accumulated return count.
func (r *RefCounter) RC() int64 { return atomic.LoadInt64(&r.rc) }

// AppendKeys adds keys found by one fanned-out child to the shared
// accumulator (DIRECTORY's per-connection SCAN results, spec §4.13). Each
// child's Compound.Keys is its own clone and would otherwise vanish at
// completion — the RefCounter is the only state genuinely shared across
// a fan-out, so the accumulated list lives here instead.
func (r *RefCounter) AppendKeys(keys [][]byte) {
	r.mu.Lock()
	r.keys = append(r.keys, keys...)
	r.mu.Unlock()
}

// Keys returns every key accumulated so far across all fanned-out children.
func (r *RefCounter) Keys() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.keys
}

// Compound holds the intermediate state a multi-stage operation threads
// between stages: MOVE's dump payload, DIRECTORY/NSDETACH's accumulated
// keys and scan cursor, and the shared refcount fanned-out children
// decrement on completion.
type Compound struct {
	DumpPayload []byte
	Keys        [][]byte
	Cursor      string
	KeyCount    int64
	Limit       int64
	// DestNamespace is MOVE's destination namespace, copied from the
	// user Request's own DestNamespace field at submission time.
	DestNamespace tuplestore.NamespaceHandle
	// Ref is non-nil for a fanned-out child; its Status()/RC() carry the
	// aggregate the dispatcher reads on the final decrement.
	Ref *RefCounter
}

// Request wraps a user Request with the engine state the state machine
// (pkg/backend/redis/stage) advances. While posted to a connection's
// queue it is owned by that connection; on completion handoff it is owned
// by the dispatcher (spec §3).
type Request struct {
	User        *tuplestore.Request
	Stage       int
	Location    Location
	Compound    Compound
	Cancelled   bool
	Hops        int // redirect hops (MOVED/ASK) followed so far, capped by topology.MaxHops
	SubmittedAt time.Time
	Next        *Request
}

// New wraps user for submission at stage 0.
func New(user *tuplestore.Request, loc Location) *Request {
	return &Request{User: user, Location: loc, SubmittedAt: time.Now()}
}

// Clone produces a fresh Request at loc, copying the template's Stage
// and Compound by value — the shape DIRECTORY and NSDETACH fan-out need
// for their per-connection SCAN children, which start at the fan-out
// stage itself rather than stage 0 (the caller sets template.Stage
// before calling RequestEach).
func (r *Request) Clone(loc Location) *Request {
	c := *r
	c.Location = loc
	c.Next = nil
	return &c
}

// Elapsed reports how long the request has been outstanding, for the
// per-loop-iteration timeout scan (spec §5).
func (r *Request) Elapsed() time.Duration { return time.Since(r.SubmittedAt) }
