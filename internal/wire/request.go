package wire

import (
	"bufio"
	"fmt"
	"io"

	"github.com/dbroker/dbr/pkg/tuplestore"
)

// DecodedRequest is one request read off the wire: the engine-ready
// tuplestore.Request plus the caller's own correlation token (the "user"
// field), which the engine's own Request.Cookie doesn't carry verbatim
// once the forwarding daemon remaps it for multi-connection uniqueness
// (see cmd/dbr-forwardd's cookie table).
type DecodedRequest struct {
	Req        *tuplestore.Request
	WireCookie uint64
}

// outputBearing names the opcodes whose request-side SGE list declares
// destination buffer capacities rather than carrying real payload bytes
// (spec §6: these are exactly the opcodes whose completion carries an
// SGE block back).
var outputBearing = map[tuplestore.Opcode]bool{
	tuplestore.OpGet:       true,
	tuplestore.OpRead:      true,
	tuplestore.OpDirectory: true,
	tuplestore.OpNSQuery:   true,
	tuplestore.OpIterator:  true,
}

// DecodeRequest reads one full request envelope (header line block plus
// its opcode-specific payload) from r.
func DecodeRequest(r *bufio.Reader) (*DecodedRequest, error) {
	opcodeN, err := readInt(r)
	if err != nil {
		return nil, err
	}
	opcode := tuplestore.Opcode(opcodeN)

	nsHdl, err := readUint(r)
	if err != nil {
		return nil, err
	}
	user, err := readUint(r)
	if err != nil {
		return nil, err
	}
	// "next" (wire-level batch chaining) is read and discarded: this
	// forwarding daemon treats every request as independent (see
	// DESIGN.md).
	if _, err := readInt(r); err != nil {
		return nil, err
	}
	// "group" (wire-level batch group token) is likewise read and
	// discarded for the same reason.
	if _, err := readUint(r); err != nil {
		return nil, err
	}

	keyLen, err := readInt(r)
	if err != nil {
		return nil, err
	}
	matchLen, err := readInt(r)
	if err != nil {
		return nil, err
	}
	flags, err := readUint(r)
	if err != nil {
		return nil, err
	}
	if keyLen < 0 || keyLen > maxFieldLen || matchLen < 0 || matchLen > maxFieldLen {
		return nil, ErrTooLarge
	}

	keyAndMatch := make([]byte, keyLen+matchLen)
	if _, err := io.ReadFull(r, keyAndMatch); err != nil {
		return nil, err
	}
	// The header block ends with its own trailing newline after
	// <key><match>.
	if _, err := readLine(r); err != nil {
		return nil, err
	}

	req := &tuplestore.Request{
		Opcode:    opcode,
		Namespace: tuplestore.NamespaceHandle(nsHdl),
		Key:       keyAndMatch[:keyLen],
		Match:     keyAndMatch[keyLen:],
		Flags:     tuplestore.Flags(flags),
	}

	if opcode == tuplestore.OpMove {
		destNS, err := readUint(r)
		if err != nil {
			return nil, err
		}
		// The second pointer token is reserved; MOVE only needs one
		// extra namespace handle (move.go reuses the same key in both
		// namespaces), so it is read and discarded.
		if _, err := readUint(r); err != nil {
			return nil, err
		}
		req.DestNamespace = tuplestore.NamespaceHandle(destNS)
	} else {
		segs, err := decodeSGE(r, !outputBearing[opcode])
		if err != nil {
			return nil, err
		}
		req.Segments = segs
	}

	return &DecodedRequest{Req: req, WireCookie: user}, nil
}

// decodeSGE reads one SGE list. When dataBearing is true the block's
// total_len bytes are real payload, sliced across the declared segment
// lengths in order (PUT). When false (GET/READ/DIRECTORY/ITERATOR/
// NSQUERY request side), the segment lengths instead declare destination
// buffer capacities the caller wants filled; decodeSGE allocates a fresh
// zero-valued buffer per non-nil length and expects zero payload bytes
// on the wire.
func decodeSGE(r *bufio.Reader, dataBearing bool) ([]tuplestore.Segment, error) {
	totalLen, err := readInt(r)
	if err != nil {
		return nil, err
	}
	count, err := readInt(r)
	if err != nil {
		return nil, err
	}
	if count < 0 || count > int64(tuplestore.MaxSegments) {
		return nil, ErrTooLarge
	}
	if totalLen < 0 || totalLen > maxFieldLen {
		return nil, ErrTooLarge
	}

	lens := make([]int64, count)
	for i := range lens {
		n, err := readInt(r)
		if err != nil {
			return nil, err
		}
		if n != nilSegmentLen && (n < 0 || n > maxFieldLen) {
			return nil, ErrTooLarge
		}
		lens[i] = n
	}

	segs := make([]tuplestore.Segment, count)
	if dataBearing {
		payload := make([]byte, totalLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
		var off int64
		for i, n := range lens {
			if n == nilSegmentLen {
				continue
			}
			if off+n > totalLen {
				return nil, fmt.Errorf("%w: segment lengths exceed total_len", ErrMalformed)
			}
			segs[i] = tuplestore.Segment{Base: payload[off : off+n], Len: int(n)}
			off += n
		}
		return segs, nil
	}

	for i, n := range lens {
		if n == nilSegmentLen {
			continue
		}
		segs[i] = tuplestore.Segment{Base: make([]byte, n), Len: int(n)}
	}
	return segs, nil
}
