package conn

import (
	"errors"
	"sync"

	"github.com/dbroker/dbr/internal/logger"
	"github.com/dbroker/dbr/pkg/backend/redis/breq"
)

// ErrUnknownAddress is returned by GetByAddress when no connection owns
// the given address.
var ErrUnknownAddress = errors.New("conn: unknown address")

// Manager owns the fixed-size array of Connections a client maintains to
// a cluster's shards (spec §4.7). Index stability matters: once assigned,
// a Connection's index never changes for the lifetime of the Manager, so
// the locator and the topology refresher can cache indices safely.
type Manager struct {
	mu    sync.RWMutex
	conns []*Connection
	byURL map[string]int
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{byURL: make(map[string]int)}
}

// Add registers a new Connection for addr/url and returns its stable
// index. A second Add for the same url is a no-op and returns the
// existing index.
func (m *Manager) Add(addr, url string, cfg Config) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx, ok := m.byURL[url]; ok {
		return idx
	}
	idx := len(m.conns)
	c := New(idx, addr, url, cfg)
	m.conns = append(m.conns, c)
	m.byURL[url] = idx
	return idx
}

// Get returns the Connection at idx, or nil if out of range.
func (m *Manager) Get(idx int) *Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if idx < 0 || idx >= len(m.conns) {
		return nil
	}
	return m.conns[idx]
}

// GetByAddress finds a Connection by its owned "host:port" address.
func (m *Manager) GetByAddress(addr string) (*Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.conns {
		if c.Addr == addr {
			return c, nil
		}
	}
	return nil, ErrUnknownAddress
}

// Len reports how many connections are registered.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// Each calls fn for every registered connection in index order. fn must
// not call back into the Manager's mutating methods.
func (m *Manager) Each(fn func(*Connection)) {
	m.mu.RLock()
	snapshot := make([]*Connection, len(m.conns))
	copy(snapshot, m.conns)
	m.mu.RUnlock()
	for _, c := range snapshot {
		fn(c)
	}
}

// Healthy returns the indices of connections currently able to accept
// sends, in index order (spec §4.7 fan-out support for DIRECTORY/NSDETACH).
func (m *Manager) Healthy() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]int, 0, len(m.conns))
	for i, c := range m.conns {
		if c.Status().AcceptsSend() {
			out = append(out, i)
		}
	}
	return out
}

// RequestEach clones template once per healthy connection, routing each
// clone at that connection, and returns the clones plus a shared refcount
// initialized to their count (spec §4.13 DIRECTORY/NSDETACH fan-out). The
// caller posts each returned request to its Location.ConnIndex connection.
func (m *Manager) RequestEach(template *breq.Request) []*breq.Request {
	idxs := m.Healthy()
	if len(idxs) == 0 {
		return nil
	}
	ref := breq.NewRefCounter(int32(len(idxs)), template)
	template.Compound.Ref = ref
	out := make([]*breq.Request, 0, len(idxs))
	for _, idx := range idxs {
		clone := template.Clone(breq.Location{Kind: breq.LocationConn, ConnIndex: idx})
		clone.Compound.Ref = ref
		out = append(out, clone)
	}
	return out
}

// FailConnection marks idx FAILED and drains its posted requests, the
// caller is responsible for failing those requests back to the user
// (spec §4.7: a failed connection never silently drops outstanding work).
func (m *Manager) FailConnection(idx int) []*breq.Request {
	c := m.Get(idx)
	if c == nil {
		return nil
	}
	c.Fail()
	drained := c.DrainRequests()
	logger.Warn("connection marked failed", logger.KeyConnIndex, idx, logger.KeyAddr, c.Addr, "posted", len(drained))
	return drained
}

// Recover attempts to reconnect every FAILED connection whose address is
// still RECOVERABLE, using authSecret for re-authentication. It returns
// the indices that came back AUTHORIZED.
func (m *Manager) Recover(authSecret string) []int {
	var recovered []int
	m.Each(func(c *Connection) {
		if c.Status() != StatusFailed {
			return
		}
		if c.Recoverable() == Unrecoverable {
			return
		}
		if err := c.Reconnect(authSecret); err != nil {
			logger.Debug("reconnect attempt failed", logger.KeyAddr, c.Addr, "error", err)
			return
		}
		recovered = append(recovered, c.MgrIndex())
	})
	return recovered
}

// AllFailed reports whether every registered connection is FAILED — the
// condition under which the engine gives up rather than spinning forever
// (spec §4.14).
func (m *Manager) AllFailed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.conns) == 0 {
		return false
	}
	for _, c := range m.conns {
		if c.Status() != StatusFailed {
			return false
		}
	}
	return true
}
