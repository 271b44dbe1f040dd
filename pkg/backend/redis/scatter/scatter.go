// Package scatter implements the scatter/gather transport (spec §4.11):
// once the wire codec reports a bulk string too large to fit the bytes
// already buffered, this package finishes receiving it straight into the
// caller's own memory, splitting the one segment that straddles the
// already-arrived/not-yet-arrived boundary and routing anything past the
// caller's segment capacity to a shared overflow buffer.
package scatter

import (
	"github.com/dbroker/dbr/pkg/backend/redis/conn"
	"github.com/dbroker/dbr/pkg/backend/redis/resp"
	"github.com/dbroker/dbr/pkg/tuplestore"
)

// DefaultScrapSize is the scrap region's minimum allocation once it is
// first needed (spec §9: "a single engine-wide 512 MiB region; allocate
// lazily on first oversize GET").
const DefaultScrapSize = 512 << 20

// Scrap is the engine-wide overflow buffer absorbing GET/READ payload
// bytes beyond the caller's segment capacity when FlagPartial is not set.
type Scrap struct {
	buf []byte
}

// NewScrap returns a Scrap with no backing storage allocated yet.
func NewScrap() *Scrap { return &Scrap{} }

// reserve returns a slice of exactly n bytes backed by the scrap region,
// growing the region (to at least DefaultScrapSize) on first use.
func (s *Scrap) reserve(n int) []byte {
	if len(s.buf) < n {
		size := n
		if size < DefaultScrapSize {
			size = DefaultScrapSize
		}
		s.buf = make([]byte, size)
	}
	return s.buf[:n]
}

// Cap reports the scrap region's current backing capacity, 0 before first use.
func (s *Scrap) Cap() int { return len(s.buf) }

// Result reports how a scatter outcome should be reflected on the
// Completion: Total is the announced payload size (rc for a too-small
// buffer), BytesToUser is how much actually landed in the caller's
// segments, and Truncated marks that Total > capacity of the segments.
type Result struct {
	Total       int
	BytesToUser int
	Truncated   bool
}

// Into finishes receiving a bulk string RESP reports as partial: partial
// already carries the announced total size and whatever prefix had
// already arrived in the recv buffer. It copies that prefix into segs,
// splitting the segment straddling the boundary, then issues exactly one
// RecvDirect call to pull the remainder (plus the trailing CRLF) straight
// into segs — and, if the payload exceeds segs' combined capacity, into
// scrap (or a throwaway buffer when allowPartial is set).
//
// Bytes land in segs in the exact order they appear in the source
// payload, satisfying the ordering guarantee of spec §4.11.
func Into(c *conn.Connection, scrap *Scrap, partial resp.PartialString, segs []tuplestore.Segment, allowPartial bool) (Result, error) {
	total := partial.TotalSize
	have := partial.Have

	capacity := 0
	for _, s := range segs {
		capacity += s.Len
	}

	toUser := total
	truncated := false
	if total > capacity {
		toUser = capacity
		truncated = true
	}

	var recvSGEs []tuplestore.Segment
	written := 0
	haveIdx := 0

	for _, s := range segs {
		if written >= toUser {
			break
		}
		take := s.Len
		if written+take > toUser {
			take = toUser - written
		}
		copyNow := clamp(take, len(have)-haveIdx)
		if copyNow > 0 {
			copy(s.Base[:copyNow], have[haveIdx:haveIdx+copyNow])
			haveIdx += copyNow
		}
		if copyNow < take {
			recvSGEs = append(recvSGEs, tuplestore.Segment{
				Base: s.Base[copyNow:take],
				Len:  take - copyNow,
			})
		}
		written += take
	}

	overflow := total - toUser
	if overflow > 0 {
		var dst []byte
		if allowPartial {
			dst = make([]byte, overflow)
		} else {
			dst = scrap.reserve(overflow)
		}
		copyNow := clamp(overflow, len(have)-haveIdx)
		if copyNow > 0 {
			copy(dst[:copyNow], have[haveIdx:haveIdx+copyNow])
			haveIdx += copyNow
		}
		if copyNow < overflow {
			recvSGEs = append(recvSGEs, tuplestore.Segment{
				Base: dst[copyNow:overflow],
				Len:  overflow - copyNow,
			})
		}
	}

	// The trailing CRLF never arrives early: parseBulkString caps `have`
	// at the announced payload length, so these two bytes are always
	// still in flight.
	var crlf [2]byte
	recvSGEs = append(recvSGEs, tuplestore.Segment{Base: crlf[:], Len: 2})

	if _, err := c.RecvDirect(recvSGEs); err != nil {
		return Result{}, err
	}

	return Result{Total: total, BytesToUser: toUser, Truncated: truncated}, nil
}

// FromComplete scatters a payload that has already fully arrived (the
// parser returned a complete, non-partial string — nothing left to recv)
// into segs, truncating if segs' combined capacity is smaller than
// payload.
func FromComplete(payload []byte, segs []tuplestore.Segment) Result {
	total := len(payload)
	capacity := 0
	for _, s := range segs {
		capacity += s.Len
	}
	toUser := total
	truncated := false
	if total > capacity {
		toUser = capacity
		truncated = true
	}
	written := 0
	for _, s := range segs {
		if written >= toUser {
			break
		}
		take := s.Len
		if written+take > toUser {
			take = toUser - written
		}
		copy(s.Base[:take], payload[written:written+take])
		written += take
	}
	return Result{Total: total, BytesToUser: toUser, Truncated: truncated}
}

func clamp(want, available int) int {
	if available < 0 {
		return 0
	}
	if want > available {
		return available
	}
	return want
}
