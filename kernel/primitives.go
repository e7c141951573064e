package kernel

import (
	"context"

	"github.com/wippyai/coredevice/proto"
)

// Log sends text to the host log.
func (r *Runtime) Log(ctx context.Context, text string) error {
	return r.ep.Send(ctx, &proto.LogSlice{Text: text})
}

// Logf sends a formatted entry to the host log. The host formats it.
func (r *Runtime) Logf(ctx context.Context, format string, args ...any) error {
	return r.ep.Send(ctx, &proto.Log{Format: format, Args: args})
}

// Abort ends the run with RunAborted.
func (r *Runtime) Abort() error {
	return ErrAborted
}

// Raise raises exn. The returned error must be propagated unchanged to the
// program's entry point.
func (r *Runtime) Raise(ctx context.Context, exn proto.Exception) error {
	return r.raiseAt(ctx, 0, exn)
}
