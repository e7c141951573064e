// Package loader defines the contract between the kernel runtime and the
// service that links and loads program images, and implements it for
// WebAssembly payloads on wazero.
package loader

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/coredevice"
)

// Symbols every loaded program is expected to provide.
const (
	SymbolBSSStart = "__bss_start"
	SymbolEnd      = "_end"
	SymbolEntry    = "__modinit__"
	SymbolTypeinfo = "typeinfo"

	// GlobalNow is the optional mutable i64 global holding the program's
	// clock.
	GlobalNow = "now"

	// ImportModule is the module name primitives are imported from.
	ImportModule = "env"
)

// Loader links an image against the runtime's primitives.
type Loader interface {
	Load(ctx context.Context, image []byte, base uint32, resolver Resolver) (Module, error)
}

// Module is a loaded program. It stays valid until Close.
type Module interface {
	// Lookup returns the address of an exported symbol. Function symbols
	// resolve to base-relative code addresses, data symbols to memory
	// addresses.
	Lookup(name string) (uint32, bool)

	// Memory returns the program's memory.
	Memory() coredevice.Memory

	// Run calls the function at entry with the clock set to now, and
	// returns the clock the program left behind.
	Run(ctx context.Context, entry uint32, now uint64) (uint64, error)

	Close(ctx context.Context) error
}

// Import is a runtime primitive offered to loaded programs.
type Import struct {
	Func    api.GoModuleFunc
	Params  []api.ValueType
	Results []api.ValueType
}

// Resolver supplies primitives by symbol name.
type Resolver interface {
	Resolve(name string) (Import, bool)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(name string) (Import, bool)

func (f ResolverFunc) Resolve(name string) (Import, bool) {
	return f(name)
}

// MapResolver resolves from a fixed table.
type MapResolver map[string]Import

func (m MapResolver) Resolve(name string) (Import, bool) {
	imp, ok := m[name]
	return imp, ok
}
