package kernel

import (
	"context"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/wippyai/coredevice/loader"
	"github.com/wippyai/coredevice/proto"
)

// ErrAborted is returned by Abort and ends the run with RunAborted.
var ErrAborted = stderrors.New("kernel called abort()")

// Exception names raised by the runtime itself.
const (
	ValueError = proto.ExceptionNamespace + "ValueError"
	CacheError = proto.ExceptionNamespace + "CacheError"
)

// RaisedError carries a raised exception up to the run loop.
type RaisedError struct {
	Exception proto.Exception
	// Backtrace holds raw code addresses, innermost first.
	Backtrace []uint32
}

func (e *RaisedError) Error() string {
	return "uncaught exception " + e.Exception.Error()
}

// FilterBacktrace drops runtime frames (addresses at or below base) and
// rebases the rest onto base, keeping their order.
func FilterBacktrace(raw []uint32, base uint32) []uint32 {
	out := make([]uint32, 0, len(raw))
	for _, addr := range raw {
		if addr > base {
			out = append(out, addr-base)
		}
	}
	return out
}

// frameAddress maps a Go program counter into the runtime's address range.
func frameAddress(pc uintptr) uint32 {
	return proto.KsupportAddress + uint32(pc)%(proto.PayloadAddress-proto.KsupportAddress)
}

// raiseAt builds the error for raising exn from the caller skip frames up,
// recording that frame and the program's active frames as the backtrace.
func (r *Runtime) raiseAt(ctx context.Context, skip int, exn proto.Exception) *RaisedError {
	pc, _, _, _ := runtime.Caller(skip + 1)
	bt := []uint32{frameAddress(pc)}
	if s := loader.CallStackFrom(ctx); s != nil {
		bt = append(bt, s.Snapshot()...)
	}
	return &RaisedError{Exception: exn, Backtrace: bt}
}

// builtin creates an exception located at the Go caller skip frames up.
func builtin(skip int, name, message string, params ...int64) proto.Exception {
	exn := proto.Exception{Name: name, Message: message}
	copy(exn.Params[:], params)
	if pc, file, line, ok := runtime.Caller(skip + 1); ok {
		exn.File = filepath.Base(file)
		exn.Line = uint32(line)
		if fn := runtime.FuncForPC(pc); fn != nil {
			name := fn.Name()
			if i := strings.LastIndexByte(name, '/'); i >= 0 {
				name = name[i+1:]
			}
			exn.Function = name
		}
	}
	return exn
}

// panicError is a Go panic recovered from a running program.
type panicError struct {
	value any
	stack string
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}
