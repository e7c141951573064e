package payload

import (
	"context"
	"testing"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/coredevice/internal/wasmbin"
	"github.com/wippyai/coredevice/loader"
	"github.com/wippyai/coredevice/rpc"
)

func compile(t *testing.T, bin []byte) wazero.CompiledModule {
	t.Helper()
	ctx := context.Background()
	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter())
	t.Cleanup(func() { _ = rt.Close(ctx) })
	compiled, err := rt.CompileModule(ctx, bin)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return compiled
}

func TestDemos_Compile(t *testing.T) {
	for _, name := range DemoNames() {
		t.Run(name, func(t *testing.T) {
			bin, ok := Demo(name)
			if !ok {
				t.Fatal("demo missing")
			}
			compiled := compile(t, bin)

			if _, ok := compiled.ExportedFunctions()[loader.SymbolEntry]; !ok {
				t.Errorf("entry point not exported")
			}
			imports := compiled.ImportedFunctions()
			if len(imports) != len(loader.Primitives) {
				t.Errorf("imports %d primitives, want %d", len(imports), len(loader.Primitives))
			}
			for i, def := range imports {
				mod, name, _ := def.Import()
				if mod != loader.ImportModule || name != loader.Primitives[i].Name {
					t.Errorf("import %d = %s.%s", i, mod, name)
				}
			}
			if _, err := wasmbin.ReadLayout(bin); err != nil {
				t.Errorf("layout: %v", err)
			}
		})
	}
}

func TestDemo_Unknown(t *testing.T) {
	if _, ok := Demo("nope"); ok {
		t.Error("unknown demo reported present")
	}
}

func TestBuilder_Symbols(t *testing.T) {
	b := New()
	b.BSS(24, 8)
	b.Global("now", I64, true, 5)
	f := b.Func("run", nil, []byte{I32})
	f.I32Const(1)
	bin := b.Build()

	ctx := context.Background()
	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter())
	defer rt.Close(ctx)
	mod, err := rt.Instantiate(ctx, bin)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}

	if g := mod.ExportedGlobal("__bss_start"); g == nil || uint32(g.Get()) != BSSBase {
		t.Errorf("__bss_start = %v", g)
	}
	if g := mod.ExportedGlobal("_end"); g == nil || uint32(g.Get()) != BSSBase+24 {
		t.Errorf("_end = %v", g)
	}
	g := mod.ExportedGlobal("now")
	if g == nil || g.Type() != api.ValueTypeI64 || g.Get() != 5 {
		t.Fatalf("now = %v", g)
	}
	if _, ok := g.(api.MutableGlobal); !ok {
		t.Error("now should be mutable")
	}

	res, err := mod.ExportedFunction("run").Call(ctx)
	if err != nil || res[0] != 1 {
		t.Errorf("run = %v, %v", res, err)
	}

	// Building twice yields the same module.
	if again := b.Build(); string(again) != string(bin) {
		t.Error("Build is not repeatable")
	}
}

func TestBuilder_StaticData(t *testing.T) {
	p := NewProgram()
	addr := p.Value(rpc.String, "static text")
	p.Entry()
	bin := p.Build()

	ctx := context.Background()
	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter())
	defer rt.Close(ctx)

	env := rt.NewHostModuleBuilder(loader.ImportModule)
	for _, prim := range loader.Primitives {
		env.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(context.Context, api.Module, []uint64) {}), prim.Params, prim.Results).
			Export(prim.Name)
	}
	if _, err := env.Instantiate(ctx); err != nil {
		t.Fatal(err)
	}
	mod, err := rt.InstantiateWithConfig(ctx, bin, wazero.NewModuleConfig().WithStartFunctions())
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}

	v, err := rpc.Decode(loader.WrapMemory(mod.Memory()), rpc.String, addr)
	if err != nil || v != "static text" {
		t.Errorf("static string = %v, %v", v, err)
	}
}

func TestBuilder_ImportAfterFunc(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	b := New()
	b.Func("f", nil, nil)
	b.Import("env", "late", nil, nil)
}
