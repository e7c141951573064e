package loader

import (
	"context"
	"slices"
	"sync"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"

	"github.com/wippyai/coredevice/internal/wasmbin"
)

// CallStack tracks the loaded program's active frames by code address.
type CallStack struct {
	frames []uint32
	mu     sync.Mutex
}

// NewCallStack creates an empty stack.
func NewCallStack() *CallStack {
	return &CallStack{}
}

func (s *CallStack) Push(addr uint32) {
	s.mu.Lock()
	s.frames = append(s.frames, addr)
	s.mu.Unlock()
}

func (s *CallStack) Pop() {
	s.mu.Lock()
	if n := len(s.frames); n > 0 {
		s.frames = s.frames[:n-1]
	}
	s.mu.Unlock()
}

func (s *CallStack) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// Snapshot returns the active frames, innermost first.
func (s *CallStack) Snapshot() []uint32 {
	s.mu.Lock()
	out := slices.Clone(s.frames)
	s.mu.Unlock()
	slices.Reverse(out)
	return out
}

func (s *CallStack) Reset() {
	s.mu.Lock()
	s.frames = s.frames[:0]
	s.mu.Unlock()
}

type callStackKey struct{}

// WithCallStack attaches s to ctx. Programs run under ctx record their
// frames there.
func WithCallStack(ctx context.Context, s *CallStack) context.Context {
	return context.WithValue(ctx, callStackKey{}, s)
}

// CallStackFrom returns the stack attached to ctx, or nil.
func CallStackFrom(ctx context.Context) *CallStack {
	s, _ := ctx.Value(callStackKey{}).(*CallStack)
	return s
}

// stackListenerFactory attaches a frame-tracking listener to every function
// defined by the program.
type stackListenerFactory struct {
	layout *wasmbin.Layout
	base   uint32
}

func (f *stackListenerFactory) NewFunctionListener(def api.FunctionDefinition) experimental.FunctionListener {
	if def.GoFunction() != nil {
		return nil
	}
	off, ok := f.layout.BodyOffset(def.Index())
	if !ok {
		return nil
	}
	return &stackListener{addr: f.base + off}
}

type stackListener struct {
	addr uint32
}

func (l *stackListener) Before(ctx context.Context, _ api.Module, _ api.FunctionDefinition, _ []uint64, _ experimental.StackIterator) {
	if s := CallStackFrom(ctx); s != nil {
		s.Push(l.addr)
	}
}

func (l *stackListener) After(ctx context.Context, _ api.Module, _ api.FunctionDefinition, _ []uint64) {
	if s := CallStackFrom(ctx); s != nil {
		s.Pop()
	}
}

func (l *stackListener) Abort(ctx context.Context, _ api.Module, _ api.FunctionDefinition, _ error) {
	if s := CallStackFrom(ctx); s != nil {
		s.Pop()
	}
}
