package wire

import (
	"bufio"
	"io"

	"github.com/dbroker/dbr/pkg/tuplestore"
)

// EncodeRequest writes req's wire envelope to w, tagging it with
// wireCookie (the caller's own correlation token, echoed back unchanged
// on the matching completion). It is the client-side counterpart of
// DecodeRequest, used by cmd/dbr-bench and by tests standing in for a
// remote caller.
func EncodeRequest(w io.Writer, req *tuplestore.Request, wireCookie uint64) error {
	if err := writeInt(w, int64(req.Opcode)); err != nil {
		return err
	}
	if err := writeUint(w, uint64(req.Namespace)); err != nil {
		return err
	}
	if err := writeUint(w, wireCookie); err != nil {
		return err
	}
	if err := writeInt(w, 0); err != nil { // next: unsupported, always 0
		return err
	}
	if err := writeUint(w, 0); err != nil { // group: unsupported, always 0
		return err
	}
	if err := writeInt(w, int64(len(req.Key))); err != nil {
		return err
	}
	if err := writeInt(w, int64(len(req.Match))); err != nil {
		return err
	}
	if err := writeUint(w, uint64(req.Flags)); err != nil {
		return err
	}
	if _, err := w.Write(req.Key); err != nil {
		return err
	}
	if _, err := w.Write(req.Match); err != nil {
		return err
	}
	if err := writeLine(w, ""); err != nil {
		return err
	}

	if req.Opcode == tuplestore.OpMove {
		if err := writeUint(w, uint64(req.DestNamespace)); err != nil {
			return err
		}
		return writeUint(w, 0)
	}
	if outputBearing[req.Opcode] {
		lens := []int64{0, int64(len(req.Segments))}
		for _, seg := range req.Segments {
			n := int64(seg.Len)
			if seg.Base == nil {
				n = nilSegmentLen
			}
			lens = append(lens, n)
		}
		for _, n := range lens {
			if err := writeInt(w, n); err != nil {
				return err
			}
		}
		return nil
	}
	return encodeSGE(w, req.Segments, req.TotalSegmentLen())
}

// DecodedCompletion is one completion read off the wire: the engine
// Completion plus the payload bytes an output-bearing opcode's SGE block
// carried, concatenated in segment order.
type DecodedCompletion struct {
	Comp    *tuplestore.Completion
	Payload []byte
}

// DecodeCompletion reads one completion envelope from r, the client-side
// counterpart of EncodeCompletion.
func DecodeCompletion(r *bufio.Reader) (*DecodedCompletion, error) {
	opcodeN, err := readInt(r)
	if err != nil {
		return nil, err
	}
	statusN, err := readInt(r)
	if err != nil {
		return nil, err
	}
	rc, err := readInt(r)
	if err != nil {
		return nil, err
	}
	user, err := readUint(r)
	if err != nil {
		return nil, err
	}
	if _, err := readInt(r); err != nil { // next: discarded, see DESIGN.md
		return nil, err
	}

	comp := &tuplestore.Completion{
		Opcode: tuplestore.Opcode(opcodeN),
		Status: tuplestore.Status(statusN),
		RC:     rc,
		Cookie: user,
	}

	if !outputBearing[comp.Opcode] {
		return &DecodedCompletion{Comp: comp}, nil
	}

	totalLen, err := readInt(r)
	if err != nil {
		return nil, err
	}
	count, err := readInt(r)
	if err != nil {
		return nil, err
	}
	if count < 0 || count > int64(tuplestore.MaxSegments) || totalLen < 0 || totalLen > maxFieldLen {
		return nil, ErrTooLarge
	}
	for i := int64(0); i < count; i++ {
		if _, err := readInt(r); err != nil {
			return nil, err
		}
	}
	payload := make([]byte, totalLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return &DecodedCompletion{Comp: comp, Payload: payload}, nil
}
