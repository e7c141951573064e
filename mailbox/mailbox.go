package mailbox

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/coredevice/proto"
)

// Side identifies one end of the channel.
type Side uint8

const (
	Kernel Side = iota
	Host
)

func (s Side) String() string {
	switch s {
	case Kernel:
		return "kernel"
	case Host:
		return "host"
	default:
		return "unknown"
	}
}

// Peer returns the opposite side.
func (s Side) Peer() Side {
	if s == Kernel {
		return Host
	}
	return Kernel
}

type slotState uint8

const (
	slotEmpty slotState = iota
	slotReady
	slotAcked
)

// Event describes a message placed in the slot.
type Event struct {
	Message proto.Message
	From    Side
}

// Observer is called for every published message, in publication order.
// It runs with the mailbox locked and must not call back into it.
type Observer func(Event)

// Mailbox is a single-slot rendezvous shared by both domains.
type Mailbox struct {
	msg       proto.Message
	changed   chan struct{}
	observers []Observer
	mu        sync.Mutex
	state     slotState
	from      Side
}

// New creates an empty mailbox.
func New() *Mailbox {
	return &Mailbox{changed: make(chan struct{})}
}

// Subscribe registers an observer for published messages.
func (m *Mailbox) Subscribe(o Observer) {
	m.mu.Lock()
	m.observers = append(m.observers, o)
	m.mu.Unlock()
}

// Changed returns a channel closed at the next state transition.
func (m *Mailbox) Changed() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.changed
}

// must hold mu
func (m *Mailbox) notify() {
	close(m.changed)
	m.changed = make(chan struct{})
}

// Send publishes msg from the given side and blocks until the peer
// acknowledges it. Waits park on Changed.
func (m *Mailbox) Send(ctx context.Context, from Side, msg proto.Message) error {
	return m.send(ctx, from, msg, Park)
}

func (m *Mailbox) send(ctx context.Context, from Side, msg proto.Message, wait WaitStrategy) error {
	if err := m.await(ctx, wait, func() bool { return m.state == slotEmpty }); err != nil {
		return err
	}
	m.msg = msg
	m.from = from
	m.state = slotReady
	for _, o := range m.observers {
		o(Event{From: from, Message: msg})
	}
	m.notify()
	m.mu.Unlock()

	if ce := Logger().Check(zap.DebugLevel, "mailbox send"); ce != nil {
		ce.Write(zap.Stringer("from", from), zap.String("msg", proto.Describe(msg)))
	}

	err := m.await(ctx, wait, func() bool { return m.state == slotAcked && m.msg == msg })
	if err != nil {
		// Retract the message if the peer never took it.
		m.mu.Lock()
		if m.msg == msg && m.state != slotEmpty {
			m.clear()
		}
		m.mu.Unlock()
		return err
	}
	m.clear()
	m.mu.Unlock()
	return nil
}

// must hold mu
func (m *Mailbox) clear() {
	m.msg = nil
	m.state = slotEmpty
	m.notify()
}

// Receive returns the pending message addressed to side to, or nil. It
// never blocks.
func (m *Mailbox) Receive(to Side) proto.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == slotReady && m.from != to {
		return m.msg
	}
	return nil
}

// Acknowledge marks the message addressed to side to as consumed. It reports
// false when there is nothing to acknowledge.
func (m *Mailbox) Acknowledge(to Side) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != slotReady || m.from == to {
		return false
	}
	m.state = slotAcked
	m.notify()
	return true
}

// Reset drops any message in the slot. Used when the kernel is rebooted.
func (m *Mailbox) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != slotEmpty {
		Logger().Debug("mailbox reset with message in flight",
			zap.String("msg", proto.Describe(m.msg)),
			zap.Stringer("from", m.from))
	}
	m.clear()
}

// await returns with mu held once cond holds, or with mu released and the
// context error.
func (m *Mailbox) await(ctx context.Context, wait WaitStrategy, cond func() bool) error {
	for {
		m.mu.Lock()
		if cond() {
			return nil
		}
		changed := m.changed
		m.mu.Unlock()

		if err := wait.wait(ctx, changed); err != nil {
			return err
		}
	}
}
