package payload

import (
	"slices"

	"github.com/wippyai/coredevice/loader"
	"github.com/wippyai/coredevice/proto"
	"github.com/wippyai/coredevice/rpc"
	"github.com/wippyai/coredevice/typeinfo"
)

// Services the demo programs call.
const (
	ServiceEcho   uint32 = 1 // (s) -> s
	ServiceRepeat uint32 = 2 // (s, i) -> ls
)

var demos = map[string]func() []byte{
	"hello":    Hello,
	"rpc":      Echo,
	"raise":    RaiseNested,
	"abort":    AbortRun,
	"trap":     Trap,
	"watchdog": Watchdog,
	"cache":    Cache,
	"hang":     Hang,
}

// Demo returns the named sample program.
func Demo(name string) ([]byte, bool) {
	build, ok := demos[name]
	if !ok {
		return nil, false
	}
	return build(), true
}

// DemoNames lists the sample programs.
func DemoNames() []string {
	names := make([]string, 0, len(demos))
	for name := range demos {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Hello logs, advances the clock, updates two objects and lets the runtime
// write their attributes back.
func Hello() []byte {
	p := NewProgram()
	now := p.Clock()

	// object layout: count i32 @0, amplitude f64 @8
	a := p.Reserve(16, 8)
	b := p.Reserve(16, 8)
	p.Typeinfo([]typeinfo.TypeSpec{{
		Attrs: []typeinfo.AttrSpec{
			{Name: "count", Tag: "Osi:n", Offset: 0},
			{Name: "amplitude", Tag: "Osf:n", Offset: 8},
			{Name: "scratch", Offset: 4},
		},
		Objects: []uint32{a, b},
	}})

	f := p.Entry()
	p.Log(f, "hello from the kernel")
	f.Addr(a).I32Const(3).I32Store(0)
	f.Addr(b).I32Const(7).I32Store(0)
	f.Addr(b).F64Const(0.5).F64Store(8)
	f.GlobalGet(now).I64Const(1000).Op(OpI64Add).GlobalSet(now)
	return p.Build()
}

// Echo calls the echo and repeat services and logs the echoed string.
func Echo() []byte {
	p := NewProgram()
	f := p.Entry()

	echo := rpc.Signature{Args: []rpc.Type{rpc.String}, Return: rpc.String}
	slot := p.Call(f, ServiceEcho, echo, "ping")
	f.Addr(slot).I32Load(0).Addr(slot).I32Load(4).Call(p.Prim(loader.PrimLog))

	repeat := rpc.Signature{Args: []rpc.Type{rpc.String, rpc.Int32}, Return: rpc.ListOf(rpc.String)}
	p.Call(f, ServiceRepeat, repeat, "tick", int32(3))
	return p.Build()
}

// RaiseNested raises a ValueError two calls deep.
func RaiseNested() []byte {
	p := NewProgram()
	inner := p.Func("inner", nil, nil)
	p.Raise(inner, Exception{
		Name:     proto.ExceptionNamespace + "ValueError",
		File:     "demo.py",
		Line:     12,
		Column:   4,
		Function: "inner",
		Message:  "bad value {0}",
		Params:   [3]int64{42},
	})
	outer := p.Func("outer", nil, nil)
	outer.CallFunc(inner)

	p.Entry().CallFunc(outer)
	return p.Build()
}

// AbortRun calls abort.
func AbortRun() []byte {
	p := NewProgram()
	p.Abort(p.Entry())
	return p.Build()
}

// Trap executes unreachable.
func Trap() []byte {
	p := NewProgram()
	p.Entry().Unreachable()
	return p.Build()
}

// Watchdog arms a watchdog, logs, and disarms it.
func Watchdog() []byte {
	p := NewProgram()
	f := p.Entry()
	id := f.Local(I32)
	p.WatchdogSet(f, 1000)
	f.LocalSet(id)
	p.Log(f, "guarded section")
	f.LocalGet(id)
	p.WatchdogClear(f)
	return p.Build()
}

// Cache stores a row and reads it back, logging the row length.
func Cache() []byte {
	p := NewProgram()
	f := p.Entry()
	out := p.BSS(16, 4)
	p.CachePut(f, "calibration", []int32{1, 2, 3})
	p.CacheGet(f, "calibration", out, 4)
	f.Drop()
	return p.Build()
}

// Hang arms a 50 ms watchdog and never returns.
func Hang() []byte {
	p := NewProgram()
	f := p.Entry()
	p.WatchdogSet(f, 50)
	f.Drop()
	f.Loop().Br(0).End()
	return p.Build()
}
