// Package locator implements the slot -> connection-index table of spec
// §4.3: a 16,384-entry array plus an aggregate coverage bitmap, giving O(1)
// lookup and O(1) "is the whole keyspace covered?".
package locator

import "github.com/dbroker/dbr/pkg/backend/redis/bitmap"

// NumSlots is the size of the cluster's hash-slot keyspace.
const NumSlots = 16384

// Unmapped is the sentinel connection index meaning "no connection owns
// this slot yet".
const Unmapped = -1

// Locator maps hash slots to connection-manager indices.
type Locator struct {
	table   [NumSlots]int
	covered *bitmap.Bitmap
}

// New returns a Locator with every slot unmapped.
func New() *Locator {
	l := &Locator{covered: bitmap.New()}
	for i := range l.table {
		l.table[i] = Unmapped
	}
	return l
}

// Assign binds slot to connIdx, keeping the coverage bitmap in sync.
func (l *Locator) Assign(slot, connIdx int) {
	l.table[slot] = connIdx
	l.covered.Set(slot)
}

// Remove unbinds slot, keeping the coverage bitmap in sync.
func (l *Locator) Remove(slot int) {
	l.table[slot] = Unmapped
	l.covered.Unset(slot)
}

// Lookup returns the connection index owning slot, or Unmapped.
func (l *Locator) Lookup(slot int) int {
	return l.table[slot]
}

// Reassociate rewrites every slot currently bound to from so it instead
// points at to, and returns how many slots changed. It is an O(16384)
// sweep. Reassociate(Unmapped, to) fills every hole — the standard action
// after learning a fresh cluster map (spec §4.3). Reassociate(old, Unmapped)
// runs it in reverse, invalidating every slot a failed or relocated
// connection used to own.
func (l *Locator) Reassociate(from, to int) int {
	changed := 0
	for slot, conn := range l.table {
		if conn == from {
			l.table[slot] = to
			if to == Unmapped {
				l.covered.Unset(slot)
			} else {
				l.covered.Set(slot)
			}
			changed++
		}
	}
	return changed
}

// FullyCovered reports whether every slot has an owning connection.
func (l *Locator) FullyCovered() bool {
	return l.covered.Full()
}
