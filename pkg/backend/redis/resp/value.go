// Package resp implements the resumable RESP wire codec from spec §4.4: a
// serializer for the five RESP types and a parser that consumes from a
// byte slice which may hold a partial response, returning a typed result
// tree, "again" on incomplete input, or "bad message" on malformed input.
//
// Per the systems-language re-architecture notes (spec §9), the parser
// never mutates the input buffer. Where the original backend overwrote
// a trailing '\r' with NUL as a debug convenience, this port instead
// returns non-owning byte-slice views into the caller's buffer; those
// views are valid only until the caller reuses or compacts the buffer.
package resp

// Kind identifies the shape of a parsed Value.
type Kind int

const (
	KindInvalid Kind = iota
	KindInteger
	KindString // simple string or a fully-arrived bulk string
	KindPartialString
	KindError
	KindArray
)

// ErrorClass distinguishes a plain RESP error from the two cluster signal
// strings spec §4.4 calls out for dedicated parsing.
type ErrorClass int

const (
	ErrorPlain ErrorClass = iota
	ErrorRelocate          // "-MOVED <slot> <host>:<port>"
	ErrorRedirect          // "-ASK <slot> <host>:<port>"
)

// ErrorValue is the payload of a KindError Value.
type ErrorValue struct {
	Class   ErrorClass
	Message []byte // full error text, view into the input buffer
	Slot    int    // valid when Class != ErrorPlain
	Address string // "host:port", valid when Class != ErrorPlain
}

// PartialString describes a bulk string whose header has fully arrived but
// whose payload has not. Have is the already-received prefix; the caller
// is expected to scatter the remaining TotalSize-len(Have) bytes (plus a
// trailing CRLF) directly into user memory (spec §4.11).
type PartialString struct {
	TotalSize int
	Have      []byte // view into the input buffer
}

// Value is one parsed top-level RESP value, or one element of an Array.
type Value struct {
	Kind    Kind
	Int     int64
	Str     []byte // view into the input buffer; nil bulk/array sets IsNil
	IsNil   bool
	Partial PartialString
	Err     ErrorValue
	Array   []Value
}
