//go:build !windows

package dataadapter

import (
	"fmt"
	"plugin"
)

// Symbol is the exported identifier a plugin must provide: a package-level
// variable of type Adapter (interface-valued) holding the concrete
// transform. plugin.Lookup hands back a pointer to that variable, not the
// variable's value, since the host has no static type for it.
const Symbol = "Adapter"

// Load opens the Go plugin at path and resolves its Adapter symbol. A
// plugin must be built with `go build -buildmode=plugin` against the same
// Go toolchain and module versions as this binary; mismatches fail here
// with an opaque error from the runtime loader.
func Load(path string) (Adapter, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataadapter: opening plugin %s: %w", path, err)
	}
	sym, err := p.Lookup(Symbol)
	if err != nil {
		return nil, fmt.Errorf("dataadapter: plugin %s has no %s symbol: %w", path, Symbol, err)
	}
	adapterPtr, ok := sym.(*Adapter)
	if !ok {
		return nil, fmt.Errorf("dataadapter: plugin %s's %s symbol is not a dataadapter.Adapter", path, Symbol)
	}
	if *adapterPtr == nil {
		return nil, fmt.Errorf("dataadapter: plugin %s's %s variable is nil", path, Symbol)
	}
	return *adapterPtr, nil
}
