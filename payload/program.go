package payload

import (
	"encoding/binary"
	"fmt"

	"github.com/wippyai/coredevice/loader"
	"github.com/wippyai/coredevice/rpc"
)

// Program is a Builder with every runtime primitive imported.
type Program struct {
	*Builder
	prims map[string]uint32
}

// NewProgram creates a builder importing the runtime primitives.
func NewProgram() *Program {
	p := &Program{Builder: New(), prims: make(map[string]uint32)}
	for _, prim := range loader.Primitives {
		p.prims[prim.Name] = p.Import(loader.ImportModule, prim.Name, prim.Params, prim.Results)
	}
	return p
}

// Prim returns the function index of a primitive.
func (p *Program) Prim(name string) uint32 {
	idx, ok := p.prims[name]
	if !ok {
		panic(fmt.Sprintf("payload: unknown primitive %q", name))
	}
	return idx
}

// Entry defines the function the runtime calls to run the program.
func (p *Program) Entry() *Func {
	return p.Func(loader.SymbolEntry, nil, nil)
}

// Clock exports the mutable i64 clock global and returns its index.
func (p *Program) Clock() uint32 {
	return p.Global(loader.GlobalNow, I64, true, 0)
}

// Value lays out v as type t in static data and returns its address.
func (p *Program) Value(t rpc.Type, v any) uint32 {
	addr, err := rpc.Place(p.static, p.static, t, v)
	if err != nil {
		panic("payload: " + err.Error())
	}
	return addr
}

// Log emits a call sending text to the host log.
func (p *Program) Log(f *Func, text string) {
	ptr, n := p.String(text)
	f.Addr(ptr).Addr(n).Call(p.Prim(loader.PrimLog))
}

// SendRPC emits a call to service with arguments laid out in static data.
func (p *Program) SendRPC(f *Func, service uint32, tag string, args ...uint32) {
	tagPtr, tagLen := p.String(tag)
	arr := make([]byte, 4*len(args))
	for i, a := range args {
		binary.LittleEndian.PutUint32(arr[4*i:], a)
	}
	argsPtr := p.Place(arr, 4)
	f.I32Const(int32(service)).
		Addr(tagPtr).Addr(tagLen).
		Addr(argsPtr).Addr(uint32(len(args))).
		Call(p.Prim(loader.PrimSendRPC))
}

// RecvRPC emits the result transfer loop: receive into slot, then keep
// allocating whatever the host asks for until it replies 0.
func (p *Program) RecvRPC(f *Func, slot uint32) {
	alloc := p.AllocFunc()
	recv := p.Prim(loader.PrimRecvRPC)
	size := f.Local(I32)
	f.Addr(slot).Call(recv).LocalSet(size)
	f.Block().Loop()
	f.LocalGet(size).Op(OpI32Eqz).BrIf(1)
	f.LocalGet(size).CallFunc(alloc).Call(recv).LocalSet(size)
	f.Br(0)
	f.End().End()
}

// Call emits a complete RPC round trip: send, then receive the result into
// a fresh slot whose address is returned.
func (p *Program) Call(f *Func, service uint32, sig rpc.Signature, args ...any) uint32 {
	addrs := make([]uint32, len(args))
	for i, a := range args {
		addrs[i] = p.Value(sig.Args[i], a)
	}
	p.SendRPC(f, service, string(sig.Tag()), addrs...)
	slot := p.BSS(max(sig.Return.Size(), 1), max(sig.Return.Align(), 4))
	p.RecvRPC(f, slot)
	return slot
}

// Exception describes an exception record for Raise.
type Exception struct {
	Name     string
	File     string
	Function string
	Message  string
	Params   [3]int64
	Line     uint32
	Column   uint32
}

// Raise emits a call raising exn.
func (p *Program) Raise(f *Func, exn Exception) {
	rec := make([]byte, loader.ExnSize)
	str := func(off int, s string) {
		ptr, n := p.String(s)
		binary.LittleEndian.PutUint32(rec[off:], ptr)
		binary.LittleEndian.PutUint32(rec[off+4:], n)
	}
	str(loader.ExnName, exn.Name)
	str(loader.ExnFile, exn.File)
	binary.LittleEndian.PutUint32(rec[loader.ExnLine:], exn.Line)
	binary.LittleEndian.PutUint32(rec[loader.ExnColumn:], exn.Column)
	str(loader.ExnFunction, exn.Function)
	str(loader.ExnMessage, exn.Message)
	for i, v := range exn.Params {
		binary.LittleEndian.PutUint64(rec[loader.ExnParams+8*i:], uint64(v))
	}
	addr := p.Place(rec, 8)
	f.Addr(addr).Call(p.Prim(loader.PrimRaise))
}

// Abort emits a call to abort.
func (p *Program) Abort(f *Func) {
	f.Call(p.Prim(loader.PrimAbort))
}

// WatchdogSet emits a watchdog request; the id is left on the stack.
func (p *Program) WatchdogSet(f *Func, ms int64) {
	f.I64Const(ms).Call(p.Prim(loader.PrimWatchdogSet))
}

// WatchdogClear emits a clear of the id on top of the stack.
func (p *Program) WatchdogClear(f *Func) {
	f.Call(p.Prim(loader.PrimWatchdogClear))
}

// CachePut emits a store of value under key.
func (p *Program) CachePut(f *Func, key string, value []int32) {
	kp, kn := p.String(key)
	buf := make([]byte, 4*len(value))
	for i, v := range value {
		binary.LittleEndian.PutUint32(buf[4*i:], uint32(v))
	}
	vp := p.Place(buf, 4)
	f.Addr(kp).Addr(kn).Addr(vp).Addr(uint32(len(value))).Call(p.Prim(loader.PrimCachePut))
}

// CacheGet emits a lookup of key copying at most capacity words to out;
// the row length is left on the stack.
func (p *Program) CacheGet(f *Func, key string, out, capacity uint32) {
	kp, kn := p.String(key)
	f.Addr(kp).Addr(kn).Addr(out).Addr(capacity).Call(p.Prim(loader.PrimCacheGet))
}
