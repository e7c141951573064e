// Package payload assembles WebAssembly programs that run on the kernel
// runtime: functions, static data, the symbols the runtime looks up and the
// calls into its primitives.
package payload

import (
	"fmt"
	"slices"

	"github.com/wippyai/coredevice"
	"github.com/wippyai/coredevice/internal/wasmbin"
	"github.com/wippyai/coredevice/typeinfo"
)

// Value types.
const (
	I32 = wasmbin.ValI32
	I64 = wasmbin.ValI64
	F64 = wasmbin.ValF64
)

// Memory map of an assembled program.
const (
	PageSize = 65536
	DataBase = 16     // first static data address
	BSSBase  = 0x8000 // zero-initialized region
	Pages    = 2      // default memory size
	heapTop  = Pages * PageSize
)

type funcType struct {
	params  []byte
	results []byte
}

func (t funcType) key() string {
	return string(t.params) + ":" + string(t.results)
}

type importFunc struct {
	module string
	name   string
	typ    uint32
}

type global struct {
	name    string
	typ     byte
	mutable bool
	init    int64
}

// Static is the program's initialized data region, usable as memory and
// allocator for laying out values.
type Static struct {
	*coredevice.FlatMemory
	end uint32
}

// Alloc reserves size bytes of initialized data.
func (s *Static) Alloc(size, align uint32) (uint32, error) {
	addr, err := s.FlatMemory.Alloc(size, align)
	if err != nil {
		return 0, fmt.Errorf("static data overflows into BSS: %w", err)
	}
	s.end = max(s.end, addr+size)
	return addr, nil
}

// Builder assembles one module. Imports must be declared before the first
// function is defined.
type Builder struct {
	typeIndex map[string]uint32
	types     []funcType
	imports   []importFunc
	funcs     []*Func
	globals   []global
	static    *Static
	bssNext   uint32
	pages     uint32
	heap      int // index of the heap global, -1 until requested
	allocFn   *Func
}

// New creates an empty builder.
func New() *Builder {
	return &Builder{
		typeIndex: make(map[string]uint32),
		static:    &Static{FlatMemory: coredevice.NewFlatMemory(BSSBase, DataBase), end: DataBase},
		bssNext:   BSSBase,
		pages:     Pages,
		heap:      -1,
	}
}

func (b *Builder) typeOf(params, results []byte) uint32 {
	t := funcType{params: params, results: results}
	if idx, ok := b.typeIndex[t.key()]; ok {
		return idx
	}
	idx := uint32(len(b.types))
	b.types = append(b.types, t)
	b.typeIndex[t.key()] = idx
	return idx
}

// Import declares an imported function and returns its function index.
func (b *Builder) Import(module, name string, params, results []byte) uint32 {
	if len(b.funcs) > 0 {
		panic("payload: import declared after a function definition")
	}
	b.imports = append(b.imports, importFunc{module: module, name: name, typ: b.typeOf(params, results)})
	return uint32(len(b.imports) - 1)
}

// Func defines a function. Named functions are exported.
func (b *Builder) Func(name string, params, results []byte) *Func {
	f := &Func{
		b:      b,
		name:   name,
		typ:    b.typeOf(params, results),
		index:  uint32(len(b.imports) + len(b.funcs)),
		params: uint32(len(params)),
		code:   wasmbin.NewWriter(),
	}
	b.funcs = append(b.funcs, f)
	return f
}

// Global declares a global and returns its index. Named globals are
// exported.
func (b *Builder) Global(name string, typ byte, mutable bool, init int64) uint32 {
	b.globals = append(b.globals, global{name: name, typ: typ, mutable: mutable, init: init})
	return uint32(len(b.globals) - 1)
}

// Static exposes the initialized data region.
func (b *Builder) Static() *Static {
	return b.static
}

// Place copies data into the static region and returns its address.
func (b *Builder) Place(data []byte, align uint32) uint32 {
	addr, err := b.static.Alloc(uint32(len(data)), max(align, 1))
	if err != nil {
		panic("payload: " + err.Error())
	}
	_ = b.static.Write(addr, data)
	return addr
}

// Reserve sets aside size static bytes to be filled later with Fill.
func (b *Builder) Reserve(size, align uint32) uint32 {
	return b.Place(make([]byte, size), align)
}

// Fill overwrites static bytes at addr.
func (b *Builder) Fill(addr uint32, data []byte) {
	if err := b.static.Write(addr, data); err != nil {
		panic("payload: " + err.Error())
	}
}

// String places s and returns its address and length.
func (b *Builder) String(s string) (uint32, uint32) {
	return b.Place([]byte(s), 1), uint32(len(s))
}

// BSS reserves size zero-initialized bytes the runtime clears before every
// run.
func (b *Builder) BSS(size, align uint32) uint32 {
	addr := alignUp(b.bssNext, max(align, 1))
	b.bssNext = addr + size
	return addr
}

// Typeinfo places a writeback table and exports it.
func (b *Builder) Typeinfo(types []typeinfo.TypeSpec) uint32 {
	size := uint32(len(typeinfo.Marshal(0, types)))
	addr := b.Reserve(size, 4)
	b.Fill(addr, typeinfo.Marshal(addr, types))
	b.Global("typeinfo", I32, false, int64(addr))
	return addr
}

// heapGlobal returns the bump allocator's global, creating it on first use.
func (b *Builder) heapGlobal() uint32 {
	if b.heap < 0 {
		b.heap = len(b.globals)
		b.globals = append(b.globals, global{typ: I32, mutable: true})
	}
	return uint32(b.heap)
}

// AllocFunc returns a function (size i32) -> ptr i32 allocating 8-byte
// aligned memory above BSS.
func (b *Builder) AllocFunc() *Func {
	if b.allocFn != nil {
		return b.allocFn
	}
	heap := b.heapGlobal()
	f := b.Func("", []byte{I32}, []byte{I32})
	// ptr = (heap + 7) & ~7; heap = ptr + size; return ptr
	f.GlobalGet(heap).I32Const(7).Op(OpI32Add).I32Const(-8).Op(OpI32And)
	ptr := f.Local(I32)
	f.LocalTee(ptr).LocalGet(0).Op(OpI32Add).GlobalSet(heap)
	f.LocalGet(ptr)
	b.allocFn = f
	return f
}

// Build encodes the module. The builder stays usable afterwards.
func (b *Builder) Build() []byte {
	bssEnd := alignUp(b.bssNext, 8)
	globals := slices.Clone(b.globals)
	if b.heap >= 0 {
		globals[b.heap].init = int64(bssEnd)
	}
	pages := b.pages
	if bssEnd > heapTop {
		pages = (bssEnd + PageSize - 1) / PageSize
	}

	// __bss_start and _end bracket the zeroed region.
	globals = append(globals,
		global{name: "__bss_start", typ: I32, init: BSSBase},
		global{name: "_end", typ: I32, init: int64(b.bssNext)})

	w := wasmbin.NewWriter()
	w.WriteU32LE(wasmbin.Magic)
	w.WriteU32LE(wasmbin.Version)

	sec := wasmbin.NewWriter()
	sec.WriteU32(uint32(len(b.types)))
	for _, t := range b.types {
		sec.Byte(0x60)
		writeTypes(sec, t.params)
		writeTypes(sec, t.results)
	}
	w.Section(wasmbin.SectionType, sec.Bytes())

	if len(b.imports) > 0 {
		sec = wasmbin.NewWriter()
		sec.WriteU32(uint32(len(b.imports)))
		for _, imp := range b.imports {
			sec.WriteName(imp.module)
			sec.WriteName(imp.name)
			sec.Byte(wasmbin.KindFunc)
			sec.WriteU32(imp.typ)
		}
		w.Section(wasmbin.SectionImport, sec.Bytes())
	}

	sec = wasmbin.NewWriter()
	sec.WriteU32(uint32(len(b.funcs)))
	for _, f := range b.funcs {
		sec.WriteU32(f.typ)
	}
	w.Section(wasmbin.SectionFunction, sec.Bytes())

	sec = wasmbin.NewWriter()
	sec.WriteU32(1)
	sec.Byte(0x00)
	sec.WriteU32(pages)
	w.Section(wasmbin.SectionMemory, sec.Bytes())

	sec = wasmbin.NewWriter()
	sec.WriteU32(uint32(len(globals)))
	for _, g := range globals {
		sec.Byte(g.typ)
		if g.mutable {
			sec.Byte(1)
		} else {
			sec.Byte(0)
		}
		if g.typ == I64 {
			sec.Byte(OpI64Const)
			sec.WriteS64(g.init)
		} else {
			sec.Byte(OpI32Const)
			sec.WriteS32(int32(g.init))
		}
		sec.Byte(OpEnd)
	}
	w.Section(wasmbin.SectionGlobal, sec.Bytes())

	exports := wasmbin.NewWriter()
	count := uint32(1)
	exports.WriteName("memory")
	exports.Byte(wasmbin.KindMemory, 0)
	for _, f := range b.funcs {
		if f.name != "" {
			exports.WriteName(f.name)
			exports.Byte(wasmbin.KindFunc)
			exports.WriteU32(f.index)
			count++
		}
	}
	for i, g := range globals {
		if g.name != "" {
			exports.WriteName(g.name)
			exports.Byte(wasmbin.KindGlobal)
			exports.WriteU32(uint32(i))
			count++
		}
	}
	sec = wasmbin.NewWriter()
	sec.WriteU32(count)
	sec.WriteBytes(exports.Bytes())
	w.Section(wasmbin.SectionExport, sec.Bytes())

	sec = wasmbin.NewWriter()
	sec.WriteU32(uint32(len(b.funcs)))
	for _, f := range b.funcs {
		body := f.body()
		sec.WriteU32(uint32(len(body)))
		sec.WriteBytes(body)
	}
	w.Section(wasmbin.SectionCode, sec.Bytes())

	if b.static.end > DataBase {
		sec = wasmbin.NewWriter()
		sec.WriteU32(1)
		sec.WriteU32(0) // active, memory 0
		sec.Byte(OpI32Const)
		sec.WriteS32(DataBase)
		sec.Byte(OpEnd)
		data := b.static.Bytes()[DataBase:b.static.end]
		sec.WriteU32(uint32(len(data)))
		sec.WriteBytes(data)
		w.Section(wasmbin.SectionData, sec.Bytes())
	}

	return w.Bytes()
}

// Exports lists the exported function names in definition order.
func (b *Builder) Exports() []string {
	var names []string
	for _, f := range b.funcs {
		if f.name != "" {
			names = append(names, f.name)
		}
	}
	return names
}

func writeTypes(w *wasmbin.Writer, ts []byte) {
	w.WriteU32(uint32(len(ts)))
	w.WriteBytes(ts)
}

func alignUp(v, a uint32) uint32 {
	return (v + a - 1) &^ (a - 1)
}
