// Package dataadapter loads the optional pre/post data-transform plugin
// named by the engine's "plugin path" configuration (spec §6.2): a Go
// plugin the engine calls immediately before PUT serialization and
// immediately after GET/READ scatter, for callers who need compression,
// encryption, or some other byte-level transform applied transparently to
// every tuple's payload.
package dataadapter

// Adapter transforms one tuple payload. PutAdapt runs on outbound bytes
// before they're sent as a PUT; GetAdapt runs on inbound bytes after a
// GET/READ reply is read back, before they're scattered into the
// caller's segments.
type Adapter interface {
	PutAdapt(in []byte) ([]byte, error)
	GetAdapt(in []byte) ([]byte, error)
}
