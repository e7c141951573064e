package loader_test

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/coredevice/errors"
	"github.com/wippyai/coredevice/loader"
	"github.com/wippyai/coredevice/payload"
	"github.com/wippyai/coredevice/proto"
)

func noop(context.Context, api.Module, []uint64) {}

// primitives resolves every primitive to a no-op unless overridden.
func primitives(overrides map[string]api.GoModuleFunc) loader.MapResolver {
	r := make(loader.MapResolver)
	for _, p := range loader.Primitives {
		fn := api.GoModuleFunc(noop)
		if o, ok := overrides[p.Name]; ok {
			fn = o
		}
		r[p.Name] = loader.Import{Func: fn, Params: p.Params, Results: p.Results}
	}
	return r
}

func newLoader(t *testing.T) *loader.WazeroLoader {
	t.Helper()
	ctx := context.Background()
	l, err := loader.NewWazeroLoader(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = l.Close(ctx) })
	return l
}

func TestNewWazeroLoader(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *loader.Config
		cancel  bool
		wantErr bool
	}{
		{name: "defaults"},
		{name: "limited", cfg: &loader.Config{MemoryLimitPages: 16}},
		{name: "limit too large", cfg: &loader.Config{MemoryLimitPages: loader.MaxMemoryPages + 1}, wantErr: true},
		{name: "canceled", cancel: true, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if tt.cancel {
				cancel()
			}
			l, err := loader.NewWazeroLoader(ctx, tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %t", err, tt.wantErr)
			}
			if l != nil {
				_ = l.Close(context.Background())
			}
		})
	}
}

func TestWazeroLoader_LoadAndRun(t *testing.T) {
	ctx := context.Background()
	l := newLoader(t)

	mod, err := l.Load(ctx, payload.Hello(), proto.PayloadAddress, primitives(nil))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer mod.Close(ctx)

	entry, ok := mod.Lookup(loader.SymbolEntry)
	if !ok {
		t.Fatal("entry point missing")
	}
	if entry <= proto.PayloadAddress {
		t.Errorf("entry 0x%x not above the load base", entry)
	}
	if addr, ok := mod.Lookup(loader.SymbolBSSStart); !ok || addr != payload.BSSBase {
		t.Errorf("__bss_start = 0x%x, %v", addr, ok)
	}
	if _, ok := mod.Lookup(loader.SymbolTypeinfo); !ok {
		t.Error("typeinfo missing")
	}
	if _, ok := mod.Lookup("missing"); ok {
		t.Error("unknown symbol resolved")
	}

	now, err := mod.Run(ctx, entry, 10)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if now != 1010 {
		t.Errorf("clock after run = %d, want 1010", now)
	}

	if _, err := mod.Run(ctx, entry+1, 0); err == nil {
		t.Error("running a non-function address should fail")
	}
}

func TestWazeroLoader_LoadErrors(t *testing.T) {
	ctx := context.Background()
	l := newLoader(t)

	unresolved := &errors.Error{Phase: errors.PhaseLoad, Kind: errors.KindUnresolvedSymbol}

	t.Run("malformed", func(t *testing.T) {
		_, err := l.Load(ctx, []byte("not a program"), proto.PayloadAddress, primitives(nil))
		if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseLoad, Kind: errors.KindMalformedImage}) {
			t.Errorf("expected malformed image, got %v", err)
		}
	})

	t.Run("one unresolved", func(t *testing.T) {
		r := primitives(nil)
		delete(r, loader.PrimRaise)
		_, err := l.Load(ctx, payload.AbortRun(), proto.PayloadAddress, r)
		if !stderrors.Is(err, unresolved) {
			t.Errorf("expected unresolved symbol, got %v", err)
		}
	})

	t.Run("several unresolved", func(t *testing.T) {
		_, err := l.Load(ctx, payload.AbortRun(), proto.PayloadAddress, loader.MapResolver{})
		var many *errors.UnresolvedSymbolsError
		if !stderrors.As(err, &many) || len(many.Symbols) != len(loader.Primitives) {
			t.Fatalf("expected all primitives unresolved, got %v", err)
		}
		if !stderrors.Is(err, unresolved) {
			t.Error("aggregate should match the unresolved kind")
		}
	})

	t.Run("signature mismatch", func(t *testing.T) {
		r := primitives(nil)
		r[loader.PrimAbort] = loader.Import{Func: noop, Params: []api.ValueType{api.ValueTypeI32}}
		_, err := l.Load(ctx, payload.AbortRun(), proto.PayloadAddress, r)
		if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseLoad, Kind: errors.KindSignature}) {
			t.Errorf("expected signature mismatch, got %v", err)
		}
	})
}

func TestWazeroLoader_CallStack(t *testing.T) {
	ctx := context.Background()
	l := newLoader(t)

	var snapshot []uint32
	raise := func(ctx context.Context, _ api.Module, _ []uint64) {
		snapshot = loader.CallStackFrom(ctx).Snapshot()
		panic(stderrors.New("raised"))
	}
	mod, err := l.Load(ctx, payload.RaiseNested(), proto.PayloadAddress,
		primitives(map[string]api.GoModuleFunc{loader.PrimRaise: raise}))
	if err != nil {
		t.Fatal(err)
	}
	defer mod.Close(ctx)

	stack := loader.NewCallStack()
	entry, _ := mod.Lookup(loader.SymbolEntry)
	if _, err := mod.Run(loader.WithCallStack(ctx, stack), entry, 0); err == nil {
		t.Fatal("expected the raise to unwind the run")
	}

	inner, _ := mod.Lookup("inner")
	outer, _ := mod.Lookup("outer")
	want := []uint32{inner, outer, entry}
	if len(snapshot) != len(want) {
		t.Fatalf("snapshot = %x, want %x", snapshot, want)
	}
	for i := range want {
		if snapshot[i] != want[i] {
			t.Errorf("frame %d = 0x%x, want 0x%x", i, snapshot[i], want[i])
		}
	}
	if d := stack.Depth(); d != 0 {
		t.Errorf("stack depth after unwind = %d", d)
	}
}

func TestCallStack(t *testing.T) {
	s := loader.NewCallStack()
	s.Push(1)
	s.Push(2)
	s.Push(3)
	s.Pop()
	got := s.Snapshot()
	if len(got) != 2 || got[0] != 2 || got[1] != 1 {
		t.Errorf("Snapshot = %v, want [2 1]", got)
	}
	s.Reset()
	s.Pop()
	if s.Depth() != 0 {
		t.Error("Reset should empty the stack")
	}
	if loader.CallStackFrom(context.Background()) != nil {
		t.Error("bare context carries no stack")
	}
}
