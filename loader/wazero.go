package loader

import (
	"context"
	"fmt"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"go.uber.org/zap"

	"github.com/wippyai/coredevice"
	"github.com/wippyai/coredevice/errors"
	"github.com/wippyai/coredevice/internal/wasmbin"
)

// ModuleName is the instance name loaded programs get.
const ModuleName = "payload"

// Config holds configuration for the wazero loader.
type Config struct {
	// MemoryLimitPages caps program memory in 64KiB pages. 0 keeps wazero's
	// default.
	MemoryLimitPages uint32

	// Compiler selects the optimizing compiler instead of the interpreter.
	Compiler bool
}

// WazeroLoader loads WebAssembly programs. Each load gets its own runtime;
// compiled code is shared through a compilation cache.
type WazeroLoader struct {
	cache wazero.CompilationCache
	cfg   Config
}

// MaxMemoryPages is the largest memory a 32-bit wasm program can address.
const MaxMemoryPages = 65536

// NewWazeroLoader creates a loader. A nil cfg selects defaults. The
// configuration is checked by building one runtime with it under ctx.
func NewWazeroLoader(ctx context.Context, cfg *Config) (*WazeroLoader, error) {
	l := &WazeroLoader{cache: wazero.NewCompilationCache()}
	if cfg != nil {
		l.cfg = *cfg
	}
	if l.cfg.MemoryLimitPages > MaxMemoryPages {
		_ = l.cache.Close(ctx)
		return nil, errors.InvalidInput(errors.PhaseLoad,
			fmt.Sprintf("memory limit %d pages exceeds %d", l.cfg.MemoryLimitPages, MaxMemoryPages))
	}
	if err := ctx.Err(); err != nil {
		_ = l.cache.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	rt := wazero.NewRuntimeWithConfig(ctx, l.runtimeConfig())
	if err := rt.Close(ctx); err != nil {
		_ = l.cache.Close(ctx)
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInstantiation, err, "wazero runtime")
	}
	return l, nil
}

// Close releases the compilation cache.
func (l *WazeroLoader) Close(ctx context.Context) error {
	return l.cache.Close(ctx)
}

func (l *WazeroLoader) runtimeConfig() wazero.RuntimeConfig {
	cfg := wazero.NewRuntimeConfigInterpreter()
	if l.cfg.Compiler {
		cfg = wazero.NewRuntimeConfigCompiler()
	}
	cfg = cfg.
		WithCoreFeatures(api.CoreFeaturesV2).
		WithCompilationCache(l.cache).
		WithCloseOnContextDone(true)
	if l.cfg.MemoryLimitPages > 0 {
		cfg = cfg.WithMemoryLimitPages(l.cfg.MemoryLimitPages)
	}
	return cfg
}

// Load compiles image, links its "env" imports against resolver and
// instantiates it without running any start function. Function symbols are
// reported at base plus their body's offset in image.
func (l *WazeroLoader) Load(ctx context.Context, image []byte, base uint32, resolver Resolver) (Module, error) {
	layout, err := wasmbin.ReadLayout(image)
	if err != nil {
		return nil, errors.MalformedImage("read sections", err)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, l.runtimeConfig())
	fail := func(err error) (Module, error) {
		_ = rt.Close(ctx)
		return nil, err
	}

	cctx := experimental.WithFunctionListenerFactory(ctx, &stackListenerFactory{layout: layout, base: base})
	compiled, err := rt.CompileModule(cctx, image)
	if err != nil {
		return fail(errors.MalformedImage("compile", err))
	}
	if mems := compiled.ImportedMemories(); len(mems) > 0 {
		mod, name, _ := mems[0].Import()
		return fail(errors.New(errors.PhaseLoad, errors.KindUnsupported).
			Symbol(mod + "." + name).
			Detail("imported memory").
			Build())
	}

	host := rt.NewHostModuleBuilder(ImportModule)
	var unresolved []string
	for _, def := range compiled.ImportedFunctions() {
		mod, name, _ := def.Import()
		if mod != ImportModule {
			unresolved = append(unresolved, mod+"."+name)
			continue
		}
		imp, ok := resolver.Resolve(name)
		if !ok {
			unresolved = append(unresolved, mod+"."+name)
			continue
		}
		if !sameTypes(imp.Params, def.ParamTypes()) || !sameTypes(imp.Results, def.ResultTypes()) {
			return fail(errors.SignatureMismatch(name,
				signature(imp.Params, imp.Results),
				signature(def.ParamTypes(), def.ResultTypes())))
		}
		host.NewFunctionBuilder().
			WithGoModuleFunction(imp.Func, imp.Params, imp.Results).
			WithName(name).
			Export(name)
	}
	switch len(unresolved) {
	case 0:
	case 1:
		mod, name, _ := strings.Cut(unresolved[0], ".")
		return fail(errors.UnresolvedSymbol(mod, name))
	default:
		return fail(&errors.UnresolvedSymbolsError{Symbols: unresolved})
	}

	if _, err := host.Instantiate(ctx); err != nil {
		return fail(errors.Instantiation(err))
	}
	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().
		WithName(ModuleName).
		WithStartFunctions())
	if err != nil {
		return fail(errors.Instantiation(err))
	}

	m := &wazeroModule{
		rt:     rt,
		mod:    mod,
		mem:    WrapMemory(mod.Memory()),
		funcs:  make(map[string]uint32),
		byAddr: make(map[uint32]string),
	}
	for name, def := range compiled.ExportedFunctions() {
		off, ok := layout.BodyOffset(def.Index())
		if !ok {
			continue
		}
		m.funcs[name] = base + off
		m.byAddr[base+off] = name
	}
	if g := mod.ExportedGlobal(GlobalNow); g != nil && g.Type() == api.ValueTypeI64 {
		if mg, ok := g.(api.MutableGlobal); ok {
			m.now = mg
		}
	}

	Logger().Debug("program loaded",
		zap.Int("image_bytes", len(image)),
		zap.Int("functions", len(m.funcs)),
		zap.Bool("clock_global", m.now != nil))
	return m, nil
}

type wazeroModule struct {
	rt     wazero.Runtime
	mod    api.Module
	mem    coredevice.Memory
	now    api.MutableGlobal
	funcs  map[string]uint32
	byAddr map[uint32]string
}

// Lookup resolves exported functions to code addresses and exported i32
// globals to the memory address they hold.
func (m *wazeroModule) Lookup(name string) (uint32, bool) {
	if addr, ok := m.funcs[name]; ok {
		return addr, true
	}
	g := m.mod.ExportedGlobal(name)
	if g == nil || g.Type() != api.ValueTypeI32 {
		return 0, false
	}
	return uint32(g.Get()), true
}

func (m *wazeroModule) Memory() coredevice.Memory {
	return m.mem
}

func (m *wazeroModule) Run(ctx context.Context, entry uint32, now uint64) (uint64, error) {
	name, ok := m.byAddr[entry]
	if !ok {
		return now, errors.NotFound(errors.PhaseRuntime, "function at address", fmt.Sprintf("0x%x", entry))
	}
	fn := m.mod.ExportedFunction(name)
	def := fn.Definition()
	if len(def.ParamTypes()) != 0 {
		return now, errors.SignatureMismatch(name, "() -> ()", signature(def.ParamTypes(), def.ResultTypes()))
	}

	if CallStackFrom(ctx) == nil {
		ctx = WithCallStack(ctx, NewCallStack())
	}
	if m.now != nil {
		m.now.Set(now)
	}
	_, err := fn.Call(ctx)
	if m.now != nil {
		now = m.now.Get()
	}
	return now, err
}

func (m *wazeroModule) Close(ctx context.Context) error {
	return m.rt.Close(ctx)
}

func sameTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func signature(params, results []api.ValueType) string {
	name := func(ts []api.ValueType) string {
		parts := make([]string, len(ts))
		for i, t := range ts {
			parts[i] = api.ValueTypeName(t)
		}
		return strings.Join(parts, ", ")
	}
	return "(" + name(params) + ") -> (" + name(results) + ")"
}
