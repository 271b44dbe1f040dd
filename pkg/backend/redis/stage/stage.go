// Package stage implements the request state machine of spec §4.9: each
// opcode is an ordered script of stages, each stage a (render, handle)
// pair. Render turns a backend request's current state into RESP bytes to
// send; Handle consumes the matching reply and decides whether the
// request is done, advances to another stage, or fans out into child
// requests (DIRECTORY, NSDETACH).
package stage

import (
	"github.com/dbroker/dbr/pkg/backend/redis/breq"
	"github.com/dbroker/dbr/pkg/backend/redis/conn"
	"github.com/dbroker/dbr/pkg/backend/redis/namespace"
	"github.com/dbroker/dbr/pkg/backend/redis/resp"
	"github.com/dbroker/dbr/pkg/backend/redis/scatter"
	"github.com/dbroker/dbr/pkg/dataadapter"
	"github.com/dbroker/dbr/pkg/tuplestore"
)

// Context is the engine state a stage needs beyond the request itself:
// the namespace registry (to turn a handle into the wire key's "ns"
// component), the shared scrap buffer for oversize GET/READ overflow, and
// the optional data-adapter plugin (nil unless configured).
type Context struct {
	Namespaces *namespace.Registry
	Conns      *conn.Manager
	Scrap      *scatter.Scrap
	Adapter    dataadapter.Adapter

	// renderErr carries a Render failure's cause from renderPut back to
	// renderAndPost, which otherwise has no way to distinguish a plugin
	// error from an unresolved namespace handle (both return ok=false).
	// The engine is single-threaded, so a plain field is safe: it is set
	// and consumed within the same Step.
	renderErr error
}

// TakeRenderError returns and clears the last Render failure's cause, if
// any Render function set one this step.
func (ctx *Context) TakeRenderError() error {
	err := ctx.renderErr
	ctx.renderErr = nil
	return err
}

// namespaceName resolves handle to its wire name, or false if unknown.
func (ctx *Context) namespaceName(h tuplestore.NamespaceHandle) (string, bool) {
	rec, err := ctx.Namespaces.Get(h)
	if err != nil {
		return "", false
	}
	return rec.Name, true
}

// wireKey renders the "<namespace>::<tuple>" form every data command uses
// (spec §6). ok is false when the namespace handle no longer resolves.
func wireKey(ctx *Context, ns tuplestore.NamespaceHandle, tuple []byte) (key []byte, ok bool) {
	name, ok := ctx.namespaceName(ns)
	if !ok {
		return nil, false
	}
	key = make([]byte, 0, len(name)+2+len(tuple))
	key = append(key, name...)
	key = append(key, ':', ':')
	key = append(key, tuple...)
	return key, true
}

// nsMetaKey is the hash key a namespace's metadata (refcnt, delete-mark)
// lives under.
func nsMetaKey(name string) []byte {
	return append([]byte(name), ':', ':', '_', '_', 'n', 's', '_', '_')
}

// stripNamespace removes the "<namespace>::" prefix SCAN results carry,
// returning the bare tuple name. ok is false when the separator is
// missing — the malformed-key case spec §9 leaves as an open question;
// callers skip the key and continue rather than abort the scan.
func stripNamespace(fullKey []byte) (tuple []byte, ok bool) {
	for i := 0; i+1 < len(fullKey); i++ {
		if fullKey[i] == ':' && fullKey[i+1] == ':' {
			return fullKey[i+2:], true
		}
	}
	return nil, false
}

// Result is what a stage's Handle returns: either a terminal outcome
// (Final), an instruction to advance to NextStage, or — for compound
// operations — a set of child requests that replace this one (Spawn,
// with Absorbed true so the engine does not also re-render and re-post
// the parent).
type Result struct {
	Final     bool
	Status    tuplestore.Status
	RC        int64
	NextStage int
	Spawn     []*breq.Request
	Absorbed  bool
}

// Render produces the RESP bytes a stage sends for req. A false ok return
// means the request cannot be sent (e.g. an unresolved namespace handle);
// the engine finalizes it with StatusNamespaceInvalid without a round trip.
type Render func(ctx *Context, req *breq.Request) (cmd []byte, ok bool)

// Handle processes the reply a stage's Render produced, against the
// connection it arrived on (needed for GET/READ's direct-to-user-memory
// receive, spec §4.11).
type Handle func(ctx *Context, req *breq.Request, c *conn.Connection, v resp.Value) Result

// Stage pairs one round trip's render and reply handler.
type Stage struct {
	Render Render
	Handle Handle
}

// Script is an opcode's ordered stage table (spec §4.9).
type Script []Stage

// Tables maps each opcode to its script, populated by this package's
// per-opcode files via registerTable. OpCancel has no entry: it never
// reaches the wire, so the engine handles it directly in the submission
// path by scanning connections' posted queues for the target cookie and
// setting Cancelled, rather than through a render/handle round trip.
var Tables = map[tuplestore.Opcode]Script{}

func registerTable(op tuplestore.Opcode, s Script) {
	Tables[op] = s
}

// RoutingKey returns the key the engine hashes to pick a fresh request's
// initial connection (spec §4.14 step 1). Data ops route by the full
// "<ns>::<tuple>" key; every namespace-scoped op — including DIRECTORY's
// and NSDETACH's own initial stage — routes by the namespace's metadata
// key instead, so a namespace's bookkeeping always lands on one shard.
// DIRECTORY and NSDETACH override this single-shard placement themselves
// once their later stage fans out across every connection.
func RoutingKey(ctx *Context, req *breq.Request) ([]byte, bool) {
	switch req.User.Opcode {
	case tuplestore.OpPut, tuplestore.OpGet, tuplestore.OpRead, tuplestore.OpRemove, tuplestore.OpMove:
		return wireKey(ctx, req.User.Namespace, req.User.Key)
	default:
		name, ok := ctx.namespaceName(req.User.Namespace)
		if !ok {
			return nil, false
		}
		return nsMetaKey(name), true
	}
}
