package kernel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/wippyai/coredevice"
	"github.com/wippyai/coredevice/errors"
	"github.com/wippyai/coredevice/loader"
	"github.com/wippyai/coredevice/mailbox"
	"github.com/wippyai/coredevice/proto"
)

// nativeProgram is a Go function standing in for a loaded program.
type nativeProgram func(ctx context.Context, rt *Runtime, mem *coredevice.FlatMemory) error

type fakeModule struct {
	mem     *coredevice.FlatMemory
	symbols map[string]uint32
	program nativeProgram
	advance uint64
	rt      *Runtime

	mu     sync.Mutex
	closed bool
}

func (m *fakeModule) Lookup(name string) (uint32, bool) {
	addr, ok := m.symbols[name]
	return addr, ok
}

func (m *fakeModule) Memory() coredevice.Memory { return m.mem }

func (m *fakeModule) Run(ctx context.Context, entry uint32, now uint64) (uint64, error) {
	if entry != m.symbols[loader.SymbolEntry] {
		return now, errors.NotFound(errors.PhaseRuntime, "entry", "")
	}
	err := m.program(ctx, m.rt, m.mem)
	return now + m.advance, err
}

func (m *fakeModule) Close(context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *fakeModule) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// fakeLoader serves programs registered by image name.
type fakeLoader struct {
	mu      sync.Mutex
	modules map[string]*fakeModule
	rt      *Runtime
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{modules: make(map[string]*fakeModule)}
}

func (l *fakeLoader) add(name string, advance uint64, program nativeProgram) *fakeModule {
	m := &fakeModule{
		mem: coredevice.NewFlatMemory(4096, 0),
		symbols: map[string]uint32{
			loader.SymbolEntry:    proto.PayloadAddress + 0x40,
			loader.SymbolBSSStart: 2048,
			loader.SymbolEnd:      2048 + 64,
		},
		program: program,
		advance: advance,
	}
	l.mu.Lock()
	l.modules[name] = m
	l.mu.Unlock()
	return m
}

func (l *fakeLoader) Load(_ context.Context, image []byte, base uint32, resolver loader.Resolver) (loader.Module, error) {
	if base != proto.PayloadAddress {
		return nil, errors.InvalidInput(errors.PhaseLoad, "unexpected base")
	}
	for _, p := range loader.Primitives {
		if _, ok := resolver.Resolve(p.Name); !ok {
			return nil, errors.UnresolvedSymbol(loader.ImportModule, p.Name)
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.modules[string(image)]
	if !ok {
		return nil, errors.MalformedImage("unknown image "+string(image), nil)
	}
	m.rt = l.rt
	return m, nil
}

// testHost plays the host side of the mailbox step by step.
type testHost struct {
	t    *testing.T
	ctx  context.Context
	ep   *mailbox.Endpoint
	mb   *mailbox.Mailbox
	rt   *Runtime
	done chan struct{}
	err  error

	mu     sync.Mutex
	events []mailbox.Event
}

func startKernel(t *testing.T, ld loader.Loader) *testHost {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	mb := mailbox.New()
	h := &testHost{
		t:    t,
		ctx:  ctx,
		ep:   mailbox.NewEndpoint(mb, mailbox.Host, mailbox.Park),
		mb:   mb,
		done: make(chan struct{}),
	}
	mb.Subscribe(func(ev mailbox.Event) {
		h.mu.Lock()
		h.events = append(h.events, ev)
		h.mu.Unlock()
	})
	h.rt = New(mb, ld, &Config{Wait: mailbox.Park})
	if fl, ok := ld.(*fakeLoader); ok {
		fl.rt = h.rt
	}
	go func() {
		h.err = h.rt.Serve(ctx)
		close(h.done)
	}()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

// served waits for Serve to return.
func (h *testHost) served() error {
	h.t.Helper()
	select {
	case <-h.done:
		return h.err
	case <-time.After(5 * time.Second):
		h.t.Fatal("kernel still serving")
		return nil
	}
}

func (h *testHost) send(msg proto.Message) {
	h.t.Helper()
	if err := h.ep.Send(h.ctx, msg); err != nil {
		h.t.Fatalf("host send %s: %v", proto.Name(msg), err)
	}
}

// next receives and acknowledges the next kernel message.
func (h *testHost) next() proto.Message {
	h.t.Helper()
	msg, err := h.ep.Recv(h.ctx)
	if err != nil {
		h.t.Fatalf("host recv: %v", err)
	}
	h.ep.Ack()
	return msg
}

func expect[T proto.Message](h *testHost) T {
	h.t.Helper()
	msg := h.next()
	v, ok := msg.(T)
	if !ok {
		var zero T
		h.t.Fatalf("host got %s, want %s", proto.Describe(msg), proto.Name(zero))
	}
	return v
}

// load sends image and completes the clock handshake.
func (h *testHost) load(image string, now uint64) {
	h.t.Helper()
	h.send(&proto.LoadRequest{Image: []byte(image)})
	if reply := expect[*proto.LoadReply](h); reply.Err != nil {
		h.t.Fatalf("load %q: %v", image, reply.Err)
	}
	expect[*proto.NowInitRequest](h)
	h.send(&proto.NowInitReply{Now: now})
}

// names returns the message names observed so far.
func (h *testHost) names() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.events))
	for i, ev := range h.events {
		out[i] = proto.Name(ev.Message)
	}
	return out
}

func (h *testHost) waitState(s State) {
	h.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for h.rt.State() != s {
		if time.Now().After(deadline) {
			h.t.Fatalf("runtime state %s, want %s", h.rt.State(), s)
		}
		time.Sleep(time.Millisecond)
	}
}
