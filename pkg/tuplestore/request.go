package tuplestore

import "errors"

// Limits from the Request invariants in spec §3.
const (
	MaxKeyLen     = 1023
	MaxMatchLen   = 1023
	MaxSegments   = 256
	NumSlots      = 16384
)

var (
	ErrOpcodeInvalid  = errors.New("tuplestore: opcode out of range")
	ErrKeyTooLong     = errors.New("tuplestore: key too long")
	ErrMatchTooLong   = errors.New("tuplestore: match pattern too long")
	ErrTooManySegs    = errors.New("tuplestore: segment count exceeds limit")
	ErrNilPutSegment  = errors.New("tuplestore: PUT segment has nil base with nonzero length")
)

// Segment is one (base, length) pair of a scatter/gather list. For PUT it
// names bytes to send; for GET/READ it names a destination the engine may
// write into directly (see pkg/backend/redis/scatter).
type Segment struct {
	Base []byte
	Len  int
}

// NamespaceHandle is an opaque pointer into the namespace registry. The
// registry itself is implemented by pkg/backend/redis/namespace; this type
// only carries the identity the engine threads through a Request.
type NamespaceHandle uint64

// Request is a user operation, owned exclusively by the engine from
// submission to completion emission (spec §3).
type Request struct {
	Opcode    Opcode
	Namespace NamespaceHandle
	// Key is the tuple key for data and directory opcodes. For NSCREATE
	// and NSATTACH, which have no handle to address yet, it instead
	// carries the namespace name; the engine resolves it to a handle at
	// submission time and reports that handle back via Completion.RC.
	Key       []byte
	Match     []byte
	Flags     Flags
	Segments  []Segment
	Cookie    uint64

	// DestNamespace is MOVE's second namespace handle; every other
	// opcode leaves it zero.
	DestNamespace NamespaceHandle

	// Limit bounds how many keys DIRECTORY accumulates before stopping
	// its scan early, even if the cursor has not yet returned to "0".
	// Zero means unbounded. Every other opcode leaves it zero.
	Limit int64

	// Next chains requests a caller submitted together; the engine
	// preserves it unexamined and copies it onto the Completion.
	Next *Request
}

// Validate enforces the Request invariants of spec §3.
func (r *Request) Validate() error {
	if !r.Opcode.Valid() {
		return ErrOpcodeInvalid
	}
	if len(r.Key) > MaxKeyLen {
		return ErrKeyTooLong
	}
	if len(r.Match) > MaxMatchLen {
		return ErrMatchTooLong
	}
	if len(r.Segments) > MaxSegments {
		return ErrTooManySegs
	}
	if r.Opcode == OpPut {
		for _, seg := range r.Segments {
			if seg.Len > 0 && seg.Base == nil {
				return ErrNilPutSegment
			}
		}
	}
	return nil
}

// TotalSegmentLen sums the lengths of every segment, the capacity available
// to scatter a GET/READ payload into.
func (r *Request) TotalSegmentLen() int {
	total := 0
	for _, seg := range r.Segments {
		total += seg.Len
	}
	return total
}

// Completion is the terminal, API-visible result of a Request.
type Completion struct {
	Opcode Opcode
	Status Status
	// RC is opcode-specific: bytes transferred for GET/READ/DIRECTORY/NSQUERY,
	// 0/1 style outcomes for PUT/REMOVE/MOVE, StatusUserBufferTooSmall's
	// announced total size, or the resolved NamespaceHandle for NSCREATE/
	// NSATTACH (the caller only supplied a name in Key, so RC is the only
	// way back).
	RC     int64
	Cookie uint64
	Next   *Completion
}
