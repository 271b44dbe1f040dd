// Package topology implements the redirector/refresher of spec §4.10: it
// reacts to MOVED/ASK replies and applies CLUSTER SLOTS topology snapshots
// to the connection manager and locator.
package topology

import (
	"errors"
	"strconv"
	"strings"

	"github.com/dbroker/dbr/internal/logger"
	"github.com/dbroker/dbr/pkg/backend/redis/conn"
	"github.com/dbroker/dbr/pkg/backend/redis/locator"
	"github.com/dbroker/dbr/pkg/backend/redis/resp"
)

// MaxHops bounds how many redirects a single request follows before the
// engine gives up and completes it with a backend error (spec §7).
const MaxHops = 16

var (
	// ErrTooManyHops means a request exhausted MaxHops redirects.
	ErrTooManyHops = errors.New("topology: too many redirect hops")
	// ErrMalformedSlots means a CLUSTER SLOTS reply didn't match the
	// expected shape (array of [first, last, [host, port, ...], ...]).
	ErrMalformedSlots = errors.New("topology: malformed CLUSTER SLOTS reply")
)

// SlotRange is one range entry from a CLUSTER SLOTS reply.
type SlotRange struct {
	First int
	Last  int
	Addr  string // "host:port" of the range's master
}

// Redirector owns the connection manager and locator a cluster client
// keeps consistent as MOVED/ASK replies and topology refreshes arrive.
type Redirector struct {
	Conns      *conn.Manager
	Locator    *locator.Locator
	AuthSecret string
	ConnConfig conn.Config
}

// New returns a Redirector wired to mgr/loc.
func New(mgr *conn.Manager, loc *locator.Locator, authSecret string, cfg conn.Config) *Redirector {
	return &Redirector{Conns: mgr, Locator: loc, AuthSecret: authSecret, ConnConfig: cfg}
}

// ensureConnection returns the index of the connection owning addr,
// creating and linking one if none exists yet.
func (r *Redirector) ensureConnection(addr string) (int, error) {
	if c, err := r.Conns.GetByAddress(addr); err == nil {
		return c.MgrIndex(), nil
	}
	idx := r.Conns.Add(addr, "redis://"+addr, r.ConnConfig)
	c := r.Conns.Get(idx)
	if c.Status() != conn.StatusAuthorized {
		if err := c.Link(r.AuthSecret); err != nil {
			return 0, err
		}
	}
	return idx, nil
}

// HandleMoved processes a permanent relocation (spec §4.10): it ensures a
// connection exists for ev.Address, invalidates every slot previously
// owned by whichever connection used to own ev.Slot, assigns ev.Slot to
// the new connection, and returns its index. The caller is responsible
// for rewinding the request to stage 0 against the returned connection.
func (r *Redirector) HandleMoved(ev resp.ErrorValue) (int, error) {
	oldIdx := r.Locator.Lookup(ev.Slot)
	newIdx, err := r.ensureConnection(ev.Address)
	if err != nil {
		logger.Warn("moved redirect failed to connect", logger.KeySlot, ev.Slot, logger.KeyAddr, ev.Address, "error", err)
		return 0, err
	}
	if oldIdx != locator.Unmapped && oldIdx != newIdx {
		r.Locator.Reassociate(oldIdx, locator.Unmapped)
	}
	r.Locator.Assign(ev.Slot, newIdx)
	logger.Debug("slot relocated", logger.KeySlot, ev.Slot, logger.KeyConnIndex, newIdx)
	return newIdx, nil
}

// HandleAsk processes a transient redirect (spec §4.10): it ensures a
// connection exists for ev.Address and issues ASKING on it, without
// touching the locator. The caller retries the original command on the
// returned connection for this request only.
func (r *Redirector) HandleAsk(ev resp.ErrorValue) (int, error) {
	idx, err := r.ensureConnection(ev.Address)
	if err != nil {
		logger.Warn("ask redirect failed to connect", logger.KeySlot, ev.Slot, logger.KeyAddr, ev.Address, "error", err)
		return 0, err
	}
	c := r.Conns.Get(idx)
	var buf []byte
	buf = resp.Command(buf, "ASKING")
	c.Send.Append(buf)
	if err := c.Send_(); err != nil {
		return 0, err
	}
	return idx, nil
}

// ParseClusterSlots decodes a CLUSTER SLOTS array reply into a list of
// SlotRanges (spec §4.10): each element is [first, last, [host, port,
// ...], ...] — only the master endpoint (the first address entry) is
// kept, replica entries are ignored.
func ParseClusterSlots(v resp.Value) ([]SlotRange, error) {
	if v.Kind != resp.KindArray {
		return nil, ErrMalformedSlots
	}
	ranges := make([]SlotRange, 0, len(v.Array))
	for _, entry := range v.Array {
		if entry.Kind != resp.KindArray || len(entry.Array) < 3 {
			return nil, ErrMalformedSlots
		}
		first := entry.Array[0]
		last := entry.Array[1]
		master := entry.Array[2]
		if first.Kind != resp.KindInteger || last.Kind != resp.KindInteger {
			return nil, ErrMalformedSlots
		}
		if master.Kind != resp.KindArray || len(master.Array) < 2 {
			return nil, ErrMalformedSlots
		}
		host := master.Array[0]
		port := master.Array[1]
		if host.Kind != resp.KindString || port.Kind != resp.KindInteger {
			return nil, ErrMalformedSlots
		}
		addr := string(host.Str) + ":" + strconv.FormatInt(port.Int, 10)
		ranges = append(ranges, SlotRange{
			First: int(first.Int),
			Last:  int(last.Int),
			Addr:  addr,
		})
	}
	return ranges, nil
}

// Apply ensures a connection exists for every range's master and assigns
// its slots via the locator (spec §4.10's apply(cluster_info, ...)).
func (r *Redirector) Apply(ranges []SlotRange) error {
	for _, rng := range ranges {
		idx, err := r.ensureConnection(rng.Addr)
		if err != nil {
			logger.Warn("topology apply failed to connect", logger.KeyAddr, rng.Addr, "error", err)
			continue
		}
		for slot := rng.First; slot <= rng.Last; slot++ {
			r.Locator.Assign(slot, idx)
		}
	}
	return nil
}

// StripScheme removes a "sock://" or "redis://" prefix from a configured
// host-list entry, returning the bare "host:port" spec §6 expects AUTH
// and CLUSTER SLOTS to dial.
func StripScheme(url string) string {
	if i := strings.Index(url, "://"); i >= 0 {
		return url[i+3:]
	}
	return url
}
