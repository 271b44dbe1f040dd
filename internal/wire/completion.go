package wire

import (
	"io"

	"github.com/dbroker/dbr/pkg/tuplestore"
)

// EncodeCompletion writes comp's wire envelope to w, echoing wireCookie
// in the "user" field. segments carries the buffers the original request
// declared (request.go's DecodedRequest), already filled by the engine
// when the opcode is one of the output-bearing kinds; other opcodes pass
// a nil segments slice and get no SGE block.
func EncodeCompletion(w io.Writer, comp *tuplestore.Completion, wireCookie uint64, segments []tuplestore.Segment) error {
	if err := writeInt(w, int64(comp.Opcode)); err != nil {
		return err
	}
	if err := writeInt(w, int64(comp.Status)); err != nil {
		return err
	}
	if err := writeInt(w, comp.RC); err != nil {
		return err
	}
	if err := writeUint(w, wireCookie); err != nil {
		return err
	}
	// "next": this daemon never chains completions (see DESIGN.md).
	if err := writeInt(w, 0); err != nil {
		return err
	}

	if !outputBearing[comp.Opcode] {
		return nil
	}
	return encodeSGE(w, segments, comp.RC)
}

// encodeSGE writes segments as an SGE block, capping the total bytes
// actually written at budget (comp.RC: the engine's "bytes transferred"
// count, which may be smaller than the segments' declared capacity).
func encodeSGE(w io.Writer, segments []tuplestore.Segment, budget int64) error {
	lens := make([]int64, len(segments))
	var total int64
	remaining := budget
	for i, seg := range segments {
		if seg.Base == nil {
			lens[i] = nilSegmentLen
			continue
		}
		n := int64(seg.Len)
		if n > int64(len(seg.Base)) {
			n = int64(len(seg.Base))
		}
		if n > remaining {
			n = remaining
		}
		if n < 0 {
			n = 0
		}
		lens[i] = n
		total += n
		remaining -= n
	}

	if err := writeInt(w, total); err != nil {
		return err
	}
	if err := writeInt(w, int64(len(segments))); err != nil {
		return err
	}
	for _, n := range lens {
		if err := writeInt(w, n); err != nil {
			return err
		}
	}
	for i, seg := range segments {
		n := lens[i]
		if n <= 0 {
			continue
		}
		if _, err := w.Write(seg.Base[:n]); err != nil {
			return err
		}
	}
	return nil
}
