// Package engine implements the main event loop of spec §4.14: a single
// cooperative thread that wires together every other component of the
// Redis-cluster backend — submission queue, locator, connection manager,
// event manager, request state machine, topology redirector, and
// completion dispatcher — into one request lifecycle.
package engine

import (
	"errors"
	"sync"
	"time"

	"github.com/dbroker/dbr/internal/logger"
	"github.com/dbroker/dbr/pkg/backend/redis/conn"
	"github.com/dbroker/dbr/pkg/backend/redis/dispatch"
	"github.com/dbroker/dbr/pkg/backend/redis/event"
	"github.com/dbroker/dbr/pkg/backend/redis/locator"
	"github.com/dbroker/dbr/pkg/backend/redis/namespace"
	"github.com/dbroker/dbr/pkg/backend/redis/resp"
	"github.com/dbroker/dbr/pkg/backend/redis/scatter"
	"github.com/dbroker/dbr/pkg/backend/redis/stage"
	"github.com/dbroker/dbr/pkg/backend/redis/topology"
	"github.com/dbroker/dbr/pkg/dataadapter"
	"github.com/dbroker/dbr/pkg/tuplestore"
)

var (
	// ErrNoHosts means Config.Hosts was empty at Bootstrap time.
	ErrNoHosts = errors.New("engine: no hosts configured")
	// ErrBootstrapTimeout means the initial CLUSTER SLOTS exchange did not
	// complete within Config.OperationTimeout.
	ErrBootstrapTimeout = errors.New("engine: bootstrap timed out")
)

// defaultIdleSleep bounds how long Run sleeps between iterations that did
// no work, so the cooperative loop never busy-spins a CPU core waiting on
// an idle cluster.
const defaultIdleSleep = 2 * time.Millisecond

// Config configures an Engine's connections and operating policy (spec
// §6's configuration environment).
type Config struct {
	// Hosts is the "sock://host:port" bootstrap list; the first entry is
	// dialed to discover the rest of the cluster via CLUSTER SLOTS.
	Hosts []string
	// AuthSecret is the shared secret sent via AUTH on every connection.
	AuthSecret string
	// OperationTimeout bounds how long a posted request may sit at the
	// head of a connection's queue before it is failed "timed out".
	OperationTimeout time.Duration
	// ReconnectInterval bounds how often a batch of FAILED connections is
	// retried.
	ReconnectInterval time.Duration
	// PluginPath optionally names a Go plugin implementing the data
	// adapter interface (spec §6.2); empty disables it.
	PluginPath string
	// SendBufSize and RecvBufSize size each connection's I/O buffers;
	// zero uses conn.DefaultSendBufSize/DefaultRecvBufSize.
	SendBufSize int
	RecvBufSize int
}

func (c Config) withDefaults() Config {
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = 5 * time.Second
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = 5 * time.Second
	}
	return c
}

func (c Config) connConfig() conn.Config {
	return conn.Config{SendBufSize: c.SendBufSize, RecvBufSize: c.RecvBufSize}
}

// Engine owns every component of the backend and drives the main loop.
// All of its unexported state is touched only from the goroutine calling
// Run/Step; Submit and Completions are the only methods other goroutines
// may call directly (spec §5: API-facing threads submit/read through
// lock-protected queues, everything else runs on the engine thread).
type Engine struct {
	cfg Config

	conns      *conn.Manager
	locator    *locator.Locator
	events     *event.Manager
	namespaces *namespace.Registry
	redirector *topology.Redirector
	dispatcher *dispatch.Dispatcher
	stageCtx   *stage.Context
	metrics    Metrics

	mu      sync.Mutex
	submitQ []*tuplestore.Request

	lastRecovery time.Time
}

// New constructs an Engine from cfg. Dial metrics defaults to a no-op
// implementation. Bootstrap must be called once before Run/Step to dial
// the first host and learn the cluster's slot map.
func New(cfg Config, metrics Metrics) *Engine {
	cfg = cfg.withDefaults()
	if metrics == nil {
		metrics = noopMetrics{}
	}
	conns := conn.NewManager()
	ns := namespace.New()
	e := &Engine{
		cfg:        cfg,
		conns:      conns,
		locator:    locator.New(),
		events:     event.NewManager(),
		namespaces: ns,
		dispatcher: dispatch.New(),
		stageCtx:   &stage.Context{Namespaces: ns, Conns: conns, Scrap: scatter.NewScrap()},
		metrics:    metrics,
	}
	e.redirector = topology.New(conns, e.locator, cfg.AuthSecret, cfg.connConfig())
	return e
}

// Namespaces exposes the namespace registry that Submit's NSCREATE/NSATTACH
// handling resolves human-readable names (carried in Request.Key) against.
func (e *Engine) Namespaces() *namespace.Registry { return e.namespaces }

// Bootstrap dials Config.Hosts[0], authorizes it, and applies the
// cluster's CLUSTER SLOTS reply to the locator. If Config.PluginPath is
// set, it also loads that data-adapter plugin (spec §6.2) before dialing,
// so a bad plugin path fails fast instead of surfacing later as a
// per-request "plugin error" during the first PUT/GET.
func (e *Engine) Bootstrap() error {
	if e.cfg.PluginPath != "" {
		adapter, err := dataadapter.Load(e.cfg.PluginPath)
		if err != nil {
			return err
		}
		e.stageCtx.Adapter = adapter
	}
	if len(e.cfg.Hosts) == 0 {
		return ErrNoHosts
	}
	addr := topology.StripScheme(e.cfg.Hosts[0])
	idx := e.conns.Add(addr, e.cfg.Hosts[0], e.cfg.connConfig())
	c := e.conns.Get(idx)
	if err := c.Link(e.cfg.AuthSecret); err != nil {
		return err
	}
	e.events.Add(c)
	return e.refreshTopology(c)
}

// refreshTopology issues CLUSTER SLOTS on c synchronously and applies the
// result (spec §4.10; also spec §7's reconnect recovery step).
func (e *Engine) refreshTopology(c *conn.Connection) error {
	cmd := resp.Command(nil, "CLUSTER", "SLOTS")
	c.Send.Append(cmd)
	if err := c.Send_(); err != nil {
		return err
	}
	v, err := e.readOne(c)
	if err != nil {
		return err
	}
	ranges, err := topology.ParseClusterSlots(v)
	if err != nil {
		return err
	}
	return e.redirector.Apply(ranges)
}

// readOne blocks, bounded by OperationTimeout, until one full RESP value
// has arrived on c. It is only used for the synchronous bootstrap/
// recovery CLUSTER SLOTS exchange; the steady-state main loop instead
// parses opportunistically off the event manager (spec §4.8/§4.14).
func (e *Engine) readOne(c *conn.Connection) (resp.Value, error) {
	deadline := time.Now().Add(e.cfg.OperationTimeout)
	for {
		v, n, err := resp.Parse(c.Recv.UnprocessedSlice())
		if err == nil {
			c.Recv.Advance(n)
			return v, nil
		}
		if !errors.Is(err, resp.ErrAgain) {
			return resp.Value{}, err
		}
		if time.Now().After(deadline) {
			return resp.Value{}, ErrBootstrapTimeout
		}
		if sock := c.Socket(); sock != nil {
			_ = sock.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		}
		if _, err := c.Recv_(); err != nil {
			return resp.Value{}, err
		}
	}
}

// Close releases every connection's socket.
func (e *Engine) Close() {
	e.conns.Each(func(c *conn.Connection) {
		if err := c.Close(); err != nil {
			logger.Debug("connection close failed", logger.KeyAddr, c.Addr, "error", err)
		}
	})
}
