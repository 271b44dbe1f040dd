// Package dispatch implements the completion dispatcher of spec §4.12:
// it turns finished backend requests into API-visible completions.
package dispatch

import (
	"sync"

	"github.com/dbroker/dbr/pkg/backend/redis/breq"
	"github.com/dbroker/dbr/pkg/tuplestore"
)

// Dispatcher accumulates finished requests and exposes the completions
// they produce to the caller-facing queue.
type Dispatcher struct {
	mu    sync.Mutex
	queue []*tuplestore.Completion
}

// New returns an empty Dispatcher.
func New() *Dispatcher { return &Dispatcher{} }

// Finish completes req with status/rc (spec §4.12). A plain request (no
// shared refcount) always produces a completion. A fanned-out compound
// child instead merges its outcome into the shared RefCounter and only
// the decrement that brings the count to zero produces the single
// completion the original caller observes — intermediate children free
// their own transient state without reaching the completion queue.
func (d *Dispatcher) Finish(req *breq.Request, status tuplestore.Status, rc int64) {
	if req.Cancelled {
		return
	}
	ref := req.Compound.Ref
	if ref == nil {
		d.push(req, status, rc)
		return
	}

	ref.MergeStatus(status)
	ref.AddRC(rc)
	if ref.Add(-1) > 0 {
		return
	}
	parent := ref.Parent
	if parent == nil {
		parent = req
	}
	d.push(parent, ref.Status(), ref.RC())
}

func (d *Dispatcher) push(req *breq.Request, status tuplestore.Status, rc int64) {
	c := &tuplestore.Completion{
		Opcode: req.User.Opcode,
		Status: status,
		RC:     rc,
		Cookie: req.User.Cookie,
	}
	d.mu.Lock()
	d.queue = append(d.queue, c)
	d.mu.Unlock()
}

// Drain removes and returns every completion currently queued, in the
// order Finish produced them (spec §8 property 8: completions for one
// connection emit in posted order).
func (d *Dispatcher) Drain() []*tuplestore.Completion {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.queue
	d.queue = nil
	return out
}

// Len reports how many completions are currently queued.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}
