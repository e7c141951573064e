package kernel

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/coredevice"
	"github.com/wippyai/coredevice/loader"
	"github.com/wippyai/coredevice/proto"
)

// resolver exposes the primitives to WebAssembly programs. A primitive that
// fails panics with its error; wazero unwinds the program and hands the
// error back from Module.Run.
func (r *Runtime) resolver() loader.Resolver {
	funcs := map[string]api.GoModuleFunc{
		loader.PrimAbort:         r.wasmAbort,
		loader.PrimLog:           r.wasmLog,
		loader.PrimSendRPC:       r.wasmSendRPC,
		loader.PrimRecvRPC:       r.wasmRecvRPC,
		loader.PrimWatchdogSet:   r.wasmWatchdogSet,
		loader.PrimWatchdogClear: r.wasmWatchdogClear,
		loader.PrimCacheGet:      r.wasmCacheGet,
		loader.PrimCachePut:      r.wasmCachePut,
		loader.PrimRaise:         r.wasmRaise,
	}
	res := make(loader.MapResolver, len(funcs))
	for _, p := range loader.Primitives {
		res[p.Name] = loader.Import{Func: funcs[p.Name], Params: p.Params, Results: p.Results}
	}
	return res
}

func check(err error) {
	if err != nil {
		panic(err)
	}
}

func wasmMemory(mod api.Module) coredevice.Memory {
	return loader.WrapMemory(mod.Memory())
}

func readBytes(mem coredevice.Memory, ptr, n uint32) []byte {
	b, err := mem.Read(ptr, n)
	check(err)
	return b
}

func readString(mem coredevice.Memory, ptr, n uint32) string {
	b := readBytes(mem, ptr, n)
	if !utf8.Valid(b) {
		panic(fmt.Errorf("invalid UTF-8 string at 0x%x", ptr))
	}
	return string(b)
}

func readWords(mem coredevice.Memory, ptr, n uint32) []int32 {
	out := make([]int32, n)
	for i := range out {
		v, err := mem.ReadU32(ptr + uint32(i)*4)
		check(err)
		out[i] = int32(v)
	}
	return out
}

func (r *Runtime) wasmAbort(context.Context, api.Module, []uint64) {
	panic(r.Abort())
}

func (r *Runtime) wasmLog(ctx context.Context, mod api.Module, stack []uint64) {
	text := readString(wasmMemory(mod), api.DecodeU32(stack[0]), api.DecodeU32(stack[1]))
	check(r.Log(ctx, text))
}

func (r *Runtime) wasmSendRPC(ctx context.Context, mod api.Module, stack []uint64) {
	mem := wasmMemory(mod)
	service := api.DecodeU32(stack[0])
	tag := readBytes(mem, api.DecodeU32(stack[1]), api.DecodeU32(stack[2]))
	args := readWords(mem, api.DecodeU32(stack[3]), api.DecodeU32(stack[4]))
	addrs := make([]uint32, len(args))
	for i, a := range args {
		addrs[i] = uint32(a)
	}
	check(r.SendRPC(ctx, service, tag, addrs))
}

func (r *Runtime) wasmRecvRPC(ctx context.Context, _ api.Module, stack []uint64) {
	size, err := r.RecvRPC(ctx, api.DecodeU32(stack[0]))
	check(err)
	stack[0] = api.EncodeU32(size)
}

func (r *Runtime) wasmWatchdogSet(ctx context.Context, _ api.Module, stack []uint64) {
	id, err := r.WatchdogSet(ctx, int64(stack[0]))
	check(err)
	stack[0] = api.EncodeU32(id)
}

func (r *Runtime) wasmWatchdogClear(ctx context.Context, _ api.Module, stack []uint64) {
	check(r.WatchdogClear(ctx, api.DecodeU32(stack[0])))
}

// wasmCacheGet copies at most cap words of the row into out and returns
// the row length.
func (r *Runtime) wasmCacheGet(ctx context.Context, mod api.Module, stack []uint64) {
	mem := wasmMemory(mod)
	key := readString(mem, api.DecodeU32(stack[0]), api.DecodeU32(stack[1]))
	out, capacity := api.DecodeU32(stack[2]), api.DecodeU32(stack[3])

	value, err := r.CacheGet(ctx, key)
	check(err)
	for i, v := range value[:min(uint32(len(value)), capacity)] {
		check(mem.WriteU32(out+uint32(i)*4, uint32(v)))
	}
	stack[0] = api.EncodeU32(uint32(len(value)))
}

func (r *Runtime) wasmCachePut(ctx context.Context, mod api.Module, stack []uint64) {
	mem := wasmMemory(mod)
	key := readString(mem, api.DecodeU32(stack[0]), api.DecodeU32(stack[1]))
	value := readWords(mem, api.DecodeU32(stack[2]), api.DecodeU32(stack[3]))
	check(r.CachePut(ctx, key, value))
}

// wasmRaise reads an exception record laid out as loader.Exn*.
func (r *Runtime) wasmRaise(ctx context.Context, mod api.Module, stack []uint64) {
	mem := wasmMemory(mod)
	rec := api.DecodeU32(stack[0])
	word := func(off uint32) uint32 {
		v, err := mem.ReadU32(rec + off)
		check(err)
		return v
	}
	str := func(off uint32) string {
		return readString(mem, word(off), word(off+4))
	}

	exn := proto.Exception{
		Name:     str(loader.ExnName),
		File:     str(loader.ExnFile),
		Line:     word(loader.ExnLine),
		Column:   word(loader.ExnColumn),
		Function: str(loader.ExnFunction),
		Message:  str(loader.ExnMessage),
	}
	for i := range exn.Params {
		v, err := mem.ReadU64(rec + loader.ExnParams + uint32(i)*8)
		check(err)
		exn.Params[i] = int64(v)
	}
	panic(r.Raise(ctx, exn))
}
