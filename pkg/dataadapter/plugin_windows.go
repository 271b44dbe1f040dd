//go:build windows

package dataadapter

import "errors"

// ErrUnsupported means the platform's Go runtime has no plugin support
// (the standard library's plugin package is Linux/Darwin only).
var ErrUnsupported = errors.New("dataadapter: plugins are not supported on this platform")

// Load always fails on windows; see plugin.go for the real implementation.
func Load(path string) (Adapter, error) {
	return nil, ErrUnsupported
}
