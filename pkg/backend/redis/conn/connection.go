// Package conn implements the Connection (spec §4.6) and Manager (spec
// §4.7): one TCP endpoint to a cluster shard — socket, r/w buffers,
// status, posted-request queue, owned slot bitmap — plus the bookkeeping
// that tracks a set of them.
package conn

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/dbroker/dbr/internal/logger"
	"github.com/dbroker/dbr/pkg/backend/redis/bitmap"
	"github.com/dbroker/dbr/pkg/backend/redis/breq"
	"github.com/dbroker/dbr/pkg/backend/redis/iobuf"
	"github.com/dbroker/dbr/pkg/tuplestore"
)

var (
	ErrNotAuthorized = errors.New("conn: not authorized to send")
	ErrNoAuthReply   = errors.New("conn: AUTH did not reply +OK")
	ErrAlreadyLinked = errors.New("conn: already linked")
)

// Dialer opens the TCP stream for a Connection. Tests substitute a fake
// implementation; production uses net.Dial.
type Dialer func(network, address string) (net.Conn, error)

// Connection is one TCP endpoint to a cluster shard.
type Connection struct {
	Addr string // "host:port", the owned peer address Reconnect preserves
	URL  string // original "sock://host:port" the client was configured with

	mu         sync.Mutex
	status     Status
	lastAlive  time.Time
	mgrIndex   int
	ownedSlots *bitmap.Bitmap

	Send *iobuf.Buffer
	Recv *iobuf.Buffer

	posted []*breq.Request

	dial Dialer
	sock net.Conn
}

// Config bounds the connection's buffer sizes.
type Config struct {
	SendBufSize int
	RecvBufSize int
	Dial        Dialer
}

// DefaultSendBufSize and DefaultRecvBufSize follow the teacher's bufpool
// medium tier (64KiB): large enough for most RESP control traffic without
// holding an oversized buffer per idle connection.
const (
	DefaultSendBufSize = 64 << 10
	DefaultRecvBufSize = 64 << 10
)

// New constructs a Connection in status INITIALIZED.
func New(mgrIndex int, addr, url string, cfg Config) *Connection {
	if cfg.SendBufSize <= 0 {
		cfg.SendBufSize = DefaultSendBufSize
	}
	if cfg.RecvBufSize <= 0 {
		cfg.RecvBufSize = DefaultRecvBufSize
	}
	if cfg.Dial == nil {
		cfg.Dial = net.Dial
	}
	return &Connection{
		Addr:       addr,
		URL:        url,
		status:     StatusInitialized,
		mgrIndex:   mgrIndex,
		ownedSlots: bitmap.New(),
		Send:       iobuf.New(cfg.SendBufSize),
		Recv:       iobuf.New(cfg.RecvBufSize),
		dial:       cfg.Dial,
	}
}

func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Connection) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

func (c *Connection) MgrIndex() int { return c.mgrIndex }

func (c *Connection) OwnedSlots() *bitmap.Bitmap { return c.ownedSlots }

func (c *Connection) LastAlive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastAlive
}

func (c *Connection) touch() {
	c.mu.Lock()
	c.lastAlive = time.Now()
	c.mu.Unlock()
}

// Socket returns the underlying net.Conn, or nil before Link succeeds.
func (c *Connection) Socket() net.Conn { return c.sock }

// Link resolves host:port, opens a stream socket, sets status CONNECTED,
// then issues AUTH with authSecret, transitioning to AUTHORIZED on the
// "+OK" reply (spec §4.6).
func (c *Connection) Link(authSecret string) error {
	if s := c.Status(); s == StatusAuthorized || s == StatusPendingData {
		return ErrAlreadyLinked
	}
	sock, err := c.dial("tcp", c.Addr)
	if err != nil {
		logger.Warn("connection link failed to dial", "addr", c.Addr, "error", err)
		c.setStatus(StatusFailed)
		return fmt.Errorf("no connect: %w", err)
	}
	c.sock = sock
	if err := tuneSocket(sock, c.Send.Cap(), c.Recv.Cap()); err != nil {
		logger.Debug("socket tuning failed", "addr", c.Addr, "error", err)
	}
	c.setStatus(StatusConnected)
	c.touch()

	if authSecret == "" {
		c.setStatus(StatusAuthorized)
		return nil
	}
	if err := c.auth(authSecret); err != nil {
		c.setStatus(StatusFailed)
		return fmt.Errorf("no auth: %w", err)
	}
	c.setStatus(StatusAuthorized)
	return nil
}

func (c *Connection) auth(secret string) error {
	var cmd []byte
	cmd = appendCommand(cmd, "AUTH", secret)
	if _, err := c.sock.Write(cmd); err != nil {
		return err
	}
	r := bufio.NewReader(c.sock)
	line, err := r.ReadString('\n')
	if err != nil {
		return err
	}
	if len(line) < 3 || line[0] != '+' {
		return ErrNoAuthReply
	}
	return nil
}

// appendCommand renders a RESP array command without importing the resp
// package, which itself needs no dependency on conn; kept tiny and local
// to the AUTH handshake.
func appendCommand(dst []byte, args ...string) []byte {
	dst = append(dst, '*')
	dst = append(dst, []byte(itoa(len(args)))...)
	dst = append(dst, '\r', '\n')
	for _, a := range args {
		dst = append(dst, '$')
		dst = append(dst, []byte(itoa(len(a)))...)
		dst = append(dst, '\r', '\n')
		dst = append(dst, a...)
		dst = append(dst, '\r', '\n')
	}
	return dst
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Send_ flushes the unwritten contents of the send buffer to the socket.
func (c *Connection) Send_() error {
	if !c.Status().AcceptsSend() {
		return ErrNotAuthorized
	}
	data := c.Send.UnprocessedSlice()
	if len(data) == 0 {
		return nil
	}
	n, err := c.sock.Write(data)
	if err != nil {
		c.fail(err)
		return err
	}
	c.Send.Advance(n)
	if c.Send.Empty() {
		c.Send.Reset()
	}
	c.touch()
	return nil
}

// SendCmd does a vectored write of RESP fragments (spec §4.6), bypassing
// the send buffer entirely for already-serialized SGE lists.
func (c *Connection) SendCmd(sges []tuplestore.Segment) error {
	if !c.Status().AcceptsSend() {
		return ErrNotAuthorized
	}
	bufs := make(net.Buffers, 0, len(sges))
	for _, s := range sges {
		if s.Len > 0 {
			bufs = append(bufs, s.Base[:s.Len])
		}
	}
	if _, err := bufs.WriteTo(c.sock); err != nil {
		c.fail(err)
		return err
	}
	c.touch()
	return nil
}

// Recv_ reads up to the recv buffer's remaining capacity.
func (c *Connection) Recv_() (int, error) {
	n, err := c.sock.Read(c.Recv.WriteSlice())
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return 0, nil
		}
		c.fail(err)
		return 0, err
	}
	c.Recv.AddData(n, false)
	c.touch()
	return n, nil
}

// RecvDirect issues a vectored read whose segments point into user memory
// (spec §4.6), for streaming large values straight past the recv buffer.
// Each segment is filled via io.ReadFull, so the bytes land directly in
// caller-owned memory with no intermediate copy through Recv.
func (c *Connection) RecvDirect(sges []tuplestore.Segment) (int, error) {
	total := 0
	for _, s := range sges {
		if s.Len == 0 {
			continue
		}
		n, err := io.ReadFull(c.sock, s.Base[:s.Len])
		total += n
		if err != nil {
			c.fail(err)
			return total, err
		}
	}
	c.touch()
	return total, nil
}

func (c *Connection) fail(err error) {
	logger.Warn("connection failed", "addr", c.Addr, "error", err)
	c.setStatus(StatusFailed)
}

// Fail marks the connection FAILED directly, used by callers (event
// manager timeouts, parse errors) that observed a problem without an
// underlying I/O error object.
func (c *Connection) Fail() { c.setStatus(StatusFailed) }

// MarkPendingData transitions an AUTHORIZED connection to PENDING_DATA
// once the event manager observes it readable (spec §4.8).
func (c *Connection) MarkPendingData() {
	if c.Status() == StatusAuthorized {
		c.setStatus(StatusPendingData)
	}
}

// MarkDrained transitions a PENDING_DATA connection back to AUTHORIZED
// once its recv buffer has been fully consumed (spec §3).
func (c *Connection) MarkDrained() {
	if c.Status() == StatusPendingData {
		c.setStatus(StatusAuthorized)
	}
}

// Recoverable reports whether the peer is worth retrying: UNRECOVERABLE
// if its address no longer resolves, RECOVERABLE otherwise (spec §4.6).
func (c *Connection) Recoverable() Recoverability {
	if _, err := net.ResolveTCPAddr("tcp", c.Addr); err != nil {
		return Unrecoverable
	}
	return Recoverable
}

// Reconnect preserves the owned address and retries the link sequence.
func (c *Connection) Reconnect(authSecret string) error {
	if c.sock != nil {
		_ = c.sock.Close()
		c.sock = nil
	}
	c.Send.Reset()
	c.Recv.Reset()
	return c.Link(authSecret)
}

// Close releases the socket.
func (c *Connection) Close() error {
	c.setStatus(StatusDisconnected)
	if c.sock == nil {
		return nil
	}
	return c.sock.Close()
}

// --- posted queue -----------------------------------------------------

// PostRequest appends r to the FIFO posted queue; while queued, r is owned
// by this connection (spec §3).
func (c *Connection) PostRequest(r *breq.Request) {
	c.mu.Lock()
	c.posted = append(c.posted, r)
	c.mu.Unlock()
}

// PeekRequest returns the head of the posted queue without removing it.
func (c *Connection) PeekRequest() *breq.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.posted) == 0 {
		return nil
	}
	return c.posted[0]
}

// PopRequest removes and returns the head of the posted queue.
func (c *Connection) PopRequest() *breq.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.posted) == 0 {
		return nil
	}
	r := c.posted[0]
	c.posted = c.posted[1:]
	return r
}

// DrainRequests removes and returns every posted request, e.g. when the
// connection fails and all of its outstanding requests must be failed.
func (c *Connection) DrainRequests() []*breq.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.posted
	c.posted = nil
	return out
}

// CancelPosted marks the posted request carrying cookie as Cancelled, if
// one is still outstanding on this connection, and reports whether it
// found one. A cancel that arrives before the matching reply leaves the
// reply to be silently consumed and no completion emitted; a cancel for
// a request that already completed (or was never posted here) is simply
// a no-op (spec §5).
func (c *Connection) CancelPosted(cookie uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.posted {
		if r.User.Cookie == cookie {
			r.Cancelled = true
			return true
		}
	}
	return false
}

// PostedLen reports how many requests are outstanding on this connection.
func (c *Connection) PostedLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.posted)
}
