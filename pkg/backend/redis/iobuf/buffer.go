// Package iobuf implements the fixed-capacity send/recv byte buffer from
// spec §4.5: a producer cursor (fill) and a consumer cursor (processed)
// over a single allocation, with no wrap-around — compaction happens only
// on an explicit Reset, which callers may pair with a memmove before a
// large receive.
package iobuf

// Buffer is a fixed-capacity byte region with producer/consumer cursors.
// The invariant 0 <= processed <= fill <= capacity holds across every
// operation.
type Buffer struct {
	data      []byte
	fill      int
	processed int
}

// New allocates a Buffer with the given capacity.
func New(capacity int) *Buffer {
	return &Buffer{data: make([]byte, capacity)}
}

// Reset returns the buffer to empty. Callers that want to preserve
// unprocessed bytes should memmove them to the front of the backing array
// before calling Reset, then re-seed Fill accordingly via AddData.
func (b *Buffer) Reset() {
	b.fill = 0
	b.processed = 0
}

// Cap returns the buffer's total capacity.
func (b *Buffer) Cap() int { return len(b.data) }

// Fill returns the producer cursor.
func (b *Buffer) Fill() int { return b.fill }

// Processed returns the consumer cursor.
func (b *Buffer) Processed() int { return b.processed }

// Remaining is how many bytes may still be written before Fill reaches
// capacity.
func (b *Buffer) Remaining() int { return len(b.data) - b.fill }

// Unprocessed is how many bytes are available to a consumer: fill - processed.
func (b *Buffer) Unprocessed() int { return b.fill - b.processed }

// Empty reports whether there is nothing left to consume.
func (b *Buffer) Empty() bool { return b.Unprocessed() == 0 }

// Full reports whether fewer than threshold bytes remain before capacity.
func (b *Buffer) Full(threshold int) bool { return b.Remaining() < threshold }

// WriteSlice returns the backing slice from Fill to capacity, for callers
// (e.g. a socket Read) to write directly into. Call AddData afterwards
// with however many bytes were actually written.
func (b *Buffer) WriteSlice() []byte { return b.data[b.fill:] }

// UnprocessedSlice returns the backing slice holding unprocessed bytes,
// a non-owning view valid until the next mutating call.
func (b *Buffer) UnprocessedSlice() []byte { return b.data[b.processed:b.fill] }

// AddData advances Fill by n bytes (bytes a producer, e.g. a socket read,
// has written into WriteSlice). If advanceProcessed is true, Processed
// advances by n too — used when a caller knows it is re-seeding already
// logically-consumed bytes (e.g. after a Reset+memmove).
func (b *Buffer) AddData(n int, advanceProcessed bool) {
	b.fill += n
	if advanceProcessed {
		b.processed += n
	}
}

// Advance moves Processed forward by n bytes, marking them consumed. It
// never moves Processed past Fill.
func (b *Buffer) Advance(n int) {
	b.processed += n
	if b.processed > b.fill {
		b.processed = b.fill
	}
}

// RewindAvailableBy decreases both Fill and Processed by n, for undoing a
// speculative AddData/Advance pair (e.g. a redirect that must retry
// against a different connection). Preserves the buffer invariant.
func (b *Buffer) RewindAvailableBy(n int) {
	b.fill -= n
	b.processed -= n
	if b.fill < 0 {
		b.fill = 0
	}
	if b.processed < 0 {
		b.processed = 0
	}
}

// Compact memmoves unprocessed bytes to the front of the backing array and
// rebases both cursors, the operation callers pair with Reset before a
// large receive so a straddling value is not lost.
func (b *Buffer) Compact() {
	n := copy(b.data, b.UnprocessedSlice())
	b.fill = n
	b.processed = 0
}

// Append writes p into the buffer starting at Fill, growing Fill by
// len(p). It panics if p does not fit — callers check Remaining first.
func (b *Buffer) Append(p []byte) {
	if len(p) > b.Remaining() {
		panic("iobuf: Append exceeds remaining capacity")
	}
	n := copy(b.data[b.fill:], p)
	b.fill += n
}
