// Package event implements the Event Manager (spec §4.8): a read-
// readiness multiplexer the main loop asks, once per iteration, which
// connection (if any) has bytes ready to parse.
//
// Rather than a platform-specific epoll/kqueue source, readiness is
// derived from net.Conn's deadline-based non-blocking read: a connection
// is polled with a deadline a few milliseconds out, and whatever bytes
// land during that window both answer "is it readable" and fill the
// connection's recv buffer in the same call, matching the data flow
// spec §2 describes (event mgr wakes on readable socket -> parser
// consumes recv buffer). This keeps the manager portable across every
// platform net.Conn runs on, with no unix-only build tag.
package event

import (
	"time"

	"github.com/dbroker/dbr/internal/logger"
	"github.com/dbroker/dbr/pkg/backend/redis/conn"
)

// pollTimeout bounds a single connection's non-blocking poll window. It
// sits far below any operation timeout so one stalled peer never stalls
// the loop.
const pollTimeout = 2 * time.Millisecond

// Manager multiplexes read-readiness across a set of connections.
type Manager struct {
	watched []*conn.Connection
	active  []*conn.Connection
}

// NewManager returns an empty Manager.
func NewManager() *Manager { return &Manager{} }

// Add registers c for readiness polling. Re-adding an already-registered
// connection is a no-op.
func (m *Manager) Add(c *conn.Connection) {
	for _, w := range m.watched {
		if w == c {
			return
		}
	}
	m.watched = append(m.watched, c)
}

// Remove unregisters c. It does not close c's socket.
func (m *Manager) Remove(c *conn.Connection) {
	m.watched = removeConn(m.watched, c)
	m.active = removeConn(m.active, c)
}

// Rearm drops c from the active queue so the next Next() call re-polls
// it fresh, used once the engine has fully drained a PENDING_DATA
// connection's recv buffer.
func (m *Manager) Rearm(c *conn.Connection) {
	m.active = removeConn(m.active, c)
}

func removeConn(list []*conn.Connection, c *conn.Connection) []*conn.Connection {
	for i, w := range list {
		if w == c {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// Next returns the next connection with bytes already buffered to parse,
// or nil if none are ready right now. It first drains the internal
// active queue; only when that is empty does it perform a fresh,
// non-blocking poll of every watched connection (spec §4.8).
func (m *Manager) Next() *conn.Connection {
	if len(m.active) > 0 {
		c := m.active[0]
		m.active = m.active[1:]
		return c
	}
	return m.poll()
}

func (m *Manager) poll() *conn.Connection {
	var found *conn.Connection
	for _, c := range m.watched {
		switch c.Status() {
		case conn.StatusAuthorized, conn.StatusPendingData:
		default:
			continue
		}
		sock := c.Socket()
		if sock == nil {
			continue
		}
		_ = sock.SetReadDeadline(time.Now().Add(pollTimeout))
		n, err := c.Recv_()
		_ = sock.SetReadDeadline(time.Time{})
		if err != nil {
			// Recv_ already marked the connection FAILED and logged;
			// timeouts (no data available) are swallowed by Recv_ itself
			// and never reach here (spec §4.8: timeouts don't flag).
			logger.Debug("event poll observed connection error", logger.KeyAddr, c.Addr, "error", err)
			continue
		}
		if n == 0 {
			continue
		}
		c.MarkPendingData()
		if found == nil {
			found = c
		} else {
			m.active = append(m.active, c)
		}
	}
	return found
}
