package kernel

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/coredevice"
	"github.com/wippyai/coredevice/errors"
	"github.com/wippyai/coredevice/loader"
	"github.com/wippyai/coredevice/mailbox"
	"github.com/wippyai/coredevice/proto"
)

// State is the runtime's lifecycle state.
type State uint32

const (
	StateIdle State = iota
	StateLoading
	StateInitializing
	StateRunning
	StateWriteback
	StateReporting
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateWriteback:
		return "writeback"
	case StateReporting:
		return "reporting"
	case StateHalted:
		return "halted"
	}
	return fmt.Sprintf("state(%d)", uint32(s))
}

// Config holds configuration for a kernel runtime.
type Config struct {
	// Wait selects how the kernel waits on the host. Spin by default.
	Wait mailbox.WaitStrategy
}

// Runtime runs loaded programs on the kernel side of a mailbox.
type Runtime struct {
	ep     *mailbox.Endpoint
	loader loader.Loader
	stack  *loader.CallStack
	logger *zap.Logger

	mu  sync.Mutex
	mod loader.Module

	state atomic.Uint32
}

// New creates a runtime speaking on mb and loading programs with ld. A nil
// cfg selects defaults.
func New(mb *mailbox.Mailbox, ld loader.Loader, cfg *Config) *Runtime {
	wait := mailbox.Spin
	if cfg != nil {
		wait = cfg.Wait
	}
	return &Runtime{
		ep:     mailbox.NewEndpoint(mb, mailbox.Kernel, wait),
		loader: ld,
		stack:  loader.NewCallStack(),
		logger: Logger(),
	}
}

// State reports the current lifecycle state.
func (r *Runtime) State() State {
	return State(r.state.Load())
}

func (r *Runtime) setState(s State) {
	r.state.Store(uint32(s))
}

// Module returns the loaded program, or nil.
func (r *Runtime) Module() loader.Module {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mod
}

// Memory returns the loaded program's memory.
func (r *Runtime) Memory() coredevice.Memory {
	if m := r.Module(); m != nil {
		return m.Memory()
	}
	return coredevice.NewFlatMemory(0, 0)
}

// Serve runs load/run cycles until ctx is done or the host breaks the
// protocol. The loaded program is closed on return.
func (r *Runtime) Serve(ctx context.Context) error {
	defer func() {
		r.mu.Lock()
		if r.mod != nil {
			_ = r.mod.Close(context.WithoutCancel(ctx))
			r.mod = nil
		}
		r.mu.Unlock()
	}()

	for {
		r.setState(StateIdle)
		if err := r.cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.setState(StateHalted)
			r.logger.Error("kernel halted", zap.Error(err))
			return err
		}
	}
}

// cycle serves one LoadRequest to its terminal report.
func (r *Runtime) cycle(ctx context.Context) error {
	msg, err := r.ep.Recv(ctx)
	if err != nil {
		return err
	}
	req, ok := msg.(*proto.LoadRequest)
	if !ok {
		return r.unexpected(ctx, "LoadRequest", msg)
	}
	image := bytes.Clone(req.Image)
	r.ep.Ack()

	r.setState(StateLoading)
	if err := r.load(ctx, image); err != nil {
		r.logger.Warn("load failed", zap.Error(err))
		r.setState(StateReporting)
		return r.ep.Send(ctx, &proto.LoadReply{Err: err})
	}
	if err := r.ep.Send(ctx, &proto.LoadReply{}); err != nil {
		return err
	}
	return r.run(ctx)
}

func (r *Runtime) load(ctx context.Context, image []byte) error {
	mod, err := r.loader.Load(ctx, image, proto.PayloadAddress, r.resolver())
	if err != nil {
		return err
	}
	if _, ok := mod.Lookup(loader.SymbolEntry); !ok {
		_ = mod.Close(ctx)
		return errors.New(errors.PhaseLoad, errors.KindNotFound).
			Symbol(loader.SymbolEntry).
			Detail("image has no entry point").
			Build()
	}

	r.mu.Lock()
	prev := r.mod
	r.mod = mod
	r.mu.Unlock()
	if prev != nil {
		if err := prev.Close(ctx); err != nil {
			r.logger.Warn("close previous program", zap.Error(err))
		}
	}
	return nil
}

func (r *Runtime) run(ctx context.Context) error {
	mod := r.Module()

	r.setState(StateInitializing)
	if err := r.zeroBSS(mod); err != nil {
		return r.aborted(ctx, err)
	}
	now, err := r.nowInit(ctx)
	if err != nil {
		return err
	}

	r.setState(StateRunning)
	entry, _ := mod.Lookup(loader.SymbolEntry)
	r.stack.Reset()
	now, err = r.call(loader.WithCallStack(ctx, r.stack), mod, entry, now)

	var raised *RaisedError
	switch {
	case err == nil:
		return r.finished(ctx, mod, now)
	case stderrors.As(err, &raised):
		return r.terminate(ctx, raised, now)
	case stderrors.Is(err, ErrAborted):
		r.logger.Error("kernel called abort()")
		if err := r.Logf(ctx, "kernel called abort()\n"); err != nil {
			return err
		}
		return r.report(ctx, &proto.RunAborted{})
	case ctx.Err() != nil:
		return ctx.Err()
	case isProtocol(err):
		return err
	default:
		return r.aborted(ctx, err)
	}
}

// call runs the program, turning Go panics into errors.
func (r *Runtime) call(ctx context.Context, mod loader.Module, entry uint32, now uint64) (_ uint64, err error) {
	defer func() {
		if v := recover(); v != nil {
			if e, ok := v.(error); ok && (isRaised(e) || stderrors.Is(e, ErrAborted) || isProtocol(e)) {
				err = e
				return
			}
			err = &panicError{value: v, stack: string(debug.Stack())}
		}
	}()
	return mod.Run(ctx, entry, now)
}

func (r *Runtime) zeroBSS(mod loader.Module) error {
	start, ok1 := mod.Lookup(loader.SymbolBSSStart)
	end, ok2 := mod.Lookup(loader.SymbolEnd)
	if !ok1 || !ok2 || end <= start {
		return nil
	}
	if err := mod.Memory().Write(start, make([]byte, end-start)); err != nil {
		return fmt.Errorf("zero bss [0x%x, 0x%x): %w", start, end, err)
	}
	return nil
}

func (r *Runtime) nowInit(ctx context.Context) (uint64, error) {
	reply, err := r.request(ctx, &proto.NowInitRequest{})
	if err != nil {
		return 0, err
	}
	init, ok := reply.(*proto.NowInitReply)
	if !ok {
		return 0, r.unexpected(ctx, "NowInitReply", reply)
	}
	now := init.Now
	r.ep.Ack()
	return now, nil
}

func (r *Runtime) finished(ctx context.Context, mod loader.Module, now uint64) error {
	if err := r.ep.Send(ctx, &proto.NowSave{Now: now}); err != nil {
		return err
	}
	r.setState(StateWriteback)
	if err := r.writeback(ctx, mod); err != nil {
		if isProtocol(err) || ctx.Err() != nil {
			return err
		}
		return r.aborted(ctx, fmt.Errorf("attribute writeback: %w", err))
	}
	return r.report(ctx, &proto.RunFinished{})
}

// terminate reports an uncaught exception.
func (r *Runtime) terminate(ctx context.Context, raised *RaisedError, now uint64) error {
	bt := FilterBacktrace(raised.Backtrace, proto.PayloadAddress)
	r.logger.Info("uncaught exception",
		zap.String("exception", raised.Exception.Name),
		zap.String("message", raised.Exception.FormatMessage()),
		zap.Int("frames", len(bt)))
	if err := r.ep.Send(ctx, &proto.NowSave{Now: now}); err != nil {
		return err
	}
	return r.report(ctx, &proto.RunException{Exception: raised.Exception, Backtrace: bt})
}

// aborted reports a native panic.
func (r *Runtime) aborted(ctx context.Context, cause error) error {
	var (
		pe    *panicError
		where     = "run"
		what  any = cause
	)
	if stderrors.As(cause, &pe) {
		where, what = firstFrame(pe.stack), pe.value
	}
	r.logger.Error("panic at "+where, zap.Any("value", what))
	if err := r.Logf(ctx, "panic at %s: %v\n", where, what); err != nil {
		return err
	}
	return r.report(ctx, &proto.RunAborted{})
}

func (r *Runtime) report(ctx context.Context, msg proto.Message) error {
	r.setState(StateReporting)
	return r.ep.Send(ctx, msg)
}

// request sends req and waits for the next message to the kernel. The
// caller checks the reply type and acknowledges it.
func (r *Runtime) request(ctx context.Context, req proto.Message) (proto.Message, error) {
	if err := r.ep.Send(ctx, req); err != nil {
		return nil, err
	}
	return r.ep.Recv(ctx)
}

// unexpected consumes a message the kernel was not waiting for, tells the
// host about it and returns the protocol error that halts the runtime.
func (r *Runtime) unexpected(ctx context.Context, want string, got proto.Message) error {
	desc := proto.Describe(got)
	r.ep.Ack()
	r.logger.Error("unexpected reply: "+desc, zap.String("expected", want))
	if err := r.Logf(ctx, "unexpected reply: %s\n", desc); err != nil {
		r.logger.Warn("could not report unexpected reply", zap.Error(err))
	}
	return errors.UnexpectedMessage(want, proto.Name(got))
}

func isProtocol(err error) bool {
	var e *errors.Error
	return stderrors.As(err, &e) && e.Phase == errors.PhaseProtocol
}

func isRaised(err error) bool {
	var raised *RaisedError
	return stderrors.As(err, &raised)
}

// firstFrame picks the panicking function out of a debug.Stack dump.
func firstFrame(stack string) string {
	lines := bytes.Split([]byte(stack), []byte("\n"))
	for i, l := range lines {
		if bytes.HasPrefix(l, []byte("panic(")) && i+3 < len(lines) {
			return string(bytes.TrimSpace(lines[i+2])) + " " + string(bytes.TrimSpace(lines[i+3]))
		}
	}
	return "unknown location"
}
