package rpc

import (
	"fmt"

	"github.com/wippyai/coredevice"
	"github.com/wippyai/coredevice/errors"
)

// ResultWriter transfers one RPC result into kernel memory across a series
// of receive requests.
type ResultWriter struct {
	value   any
	pending []payload
	ret     Type
	started bool
}

// NewResultWriter prepares value, of type ret, for transfer.
func NewResultWriter(ret Type, value any) *ResultWriter {
	return &ResultWriter{ret: ret, value: value}
}

// Next handles one receive request. The first call stores the value in slot;
// later calls treat slot as the buffer the kernel allocated for the pending
// payload. It returns the byte size of the next buffer, or 0 when the result
// is complete.
func (w *ResultWriter) Next(mem coredevice.Memory, slot uint32) (uint32, error) {
	e := &encoder{mem: mem}
	e.place = func(p payload) error {
		w.pending = append(w.pending, p)
		return nil
	}

	if !w.started {
		w.started = true
		if err := e.store(w.ret, slot, w.value); err != nil {
			return 0, fmt.Errorf("store %s result: %w", w.ret, err)
		}
	} else {
		if len(w.pending) == 0 {
			return 0, errors.InvalidInput(errors.PhaseRPC, "no result storage pending")
		}
		p := w.pending[0]
		w.pending = w.pending[1:]
		if err := e.fill(p, slot); err != nil {
			return 0, err
		}
	}

	if len(w.pending) == 0 {
		return 0, nil
	}
	return w.pending[0].size, nil
}

// Done reports whether the whole result has been transferred.
func (w *ResultWriter) Done() bool {
	return w.started && len(w.pending) == 0
}

// NextAlign returns the alignment the next buffer should have.
func (w *ResultWriter) NextAlign() uint32 {
	if len(w.pending) == 0 {
		return 1
	}
	return w.pending[0].align
}
