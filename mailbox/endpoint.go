package mailbox

import (
	"context"
	"runtime"

	"github.com/wippyai/coredevice/proto"
)

// WaitStrategy selects how a side waits for the peer.
type WaitStrategy uint8

const (
	// Spin yields the processor between polls. The kernel domain has no
	// scheduler to park on.
	Spin WaitStrategy = iota
	// Park blocks until the slot changes.
	Park
)

func (w WaitStrategy) String() string {
	if w == Park {
		return "park"
	}
	return "spin"
}

func (w WaitStrategy) wait(ctx context.Context, changed <-chan struct{}) error {
	if w == Park {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
			return nil
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	runtime.Gosched()
	return nil
}

// Endpoint is one side's handle on a mailbox.
type Endpoint struct {
	mb   *Mailbox
	side Side
	wait WaitStrategy
}

// NewEndpoint binds side to mb.
func NewEndpoint(mb *Mailbox, side Side, wait WaitStrategy) *Endpoint {
	return &Endpoint{mb: mb, side: side, wait: wait}
}

// Side returns the side this endpoint speaks for.
func (e *Endpoint) Side() Side { return e.side }

// Mailbox returns the underlying mailbox.
func (e *Endpoint) Mailbox() *Mailbox { return e.mb }

// Send publishes msg and blocks until the peer acknowledges it.
func (e *Endpoint) Send(ctx context.Context, msg proto.Message) error {
	return e.mb.send(ctx, e.side, msg, e.wait)
}

// TryRecv returns the pending message for this side, or nil.
func (e *Endpoint) TryRecv() proto.Message {
	return e.mb.Receive(e.side)
}

// Recv waits for a message addressed to this side. The message stays in the
// slot until Ack.
func (e *Endpoint) Recv(ctx context.Context) (proto.Message, error) {
	for {
		changed := e.mb.Changed()
		if msg := e.mb.Receive(e.side); msg != nil {
			return msg, nil
		}
		if err := e.wait.wait(ctx, changed); err != nil {
			return nil, err
		}
	}
}

// Ack acknowledges the pending message.
func (e *Endpoint) Ack() bool {
	return e.mb.Acknowledge(e.side)
}
