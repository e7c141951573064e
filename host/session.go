package host

import (
	"context"
	stderrors "errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/wippyai/coredevice/errors"
	"github.com/wippyai/coredevice/mailbox"
	"github.com/wippyai/coredevice/proto"
	"github.com/wippyai/coredevice/rpc"
)

// errExpired ends a run whose watchdog fired.
var errExpired = stderrors.New("watchdog expired")

// Config holds configuration for a session.
type Config struct {
	// ClockSlack is added to the counter when the clock is first seeded.
	ClockSlack uint64
	// MaxWatchdogs bounds the watchdogs armed at once.
	MaxWatchdogs int
}

// Session owns the host side of a mailbox and serves the kernel through
// one run at a time.
type Session struct {
	ep        *mailbox.Endpoint
	sem       *semaphore.Weighted
	clock     *Clock
	cache     *Cache
	watchdogs *Watchdogs
	services  *Services
	logger    *zap.Logger

	obsMu     sync.RWMutex
	observers []Observer
}

// NewSession creates a session on mb. A nil services selects an empty
// registry; a nil cfg selects defaults.
func NewSession(mb *mailbox.Mailbox, services *Services, cfg *Config) *Session {
	if services == nil {
		services = NewServices()
	}
	slack := uint64(DefaultClockSlack)
	maxWatchdogs := DefaultMaxWatchdogs
	if cfg != nil {
		slack = cfg.ClockSlack
		maxWatchdogs = cfg.MaxWatchdogs
	}
	return &Session{
		ep:        mailbox.NewEndpoint(mb, mailbox.Host, mailbox.Park),
		sem:       semaphore.NewWeighted(1),
		clock:     NewClock(slack),
		cache:     NewCache(),
		watchdogs: NewWatchdogs(maxWatchdogs),
		services:  services,
		logger:    Logger(),
	}
}

func (s *Session) Clock() *Clock             { return s.clock }
func (s *Session) Cache() *Cache             { return s.cache }
func (s *Session) Watchdogs() *Watchdogs     { return s.watchdogs }
func (s *Session) Services() *Services       { return s.services }
func (s *Session) Mailbox() *mailbox.Mailbox { return s.ep.Mailbox() }

// Subscribe registers an observer for session events.
func (s *Session) Subscribe(o Observer) {
	s.obsMu.Lock()
	s.observers = append(s.observers, o)
	s.obsMu.Unlock()
}

func (s *Session) emit(ev Event) {
	s.obsMu.RLock()
	defer s.obsMu.RUnlock()
	for _, o := range s.observers {
		o.OnSessionEvent(ev)
	}
}

// run is the state of one Session.Run.
type run struct {
	logger  *zap.Logger
	start   time.Time
	pending *pendingCall
	batch   []batchedCall
	log     []string
	id      uuid.UUID
}

// pendingCall holds the result of the last synchronous RPC until the
// kernel has received it.
type pendingCall struct {
	writer    *rpc.ResultWriter
	exception *proto.Exception
	service   uint32
}

type batchedCall struct {
	args    []any
	service uint32
}

// Run loads image into the kernel and serves it until the run ends. Runs
// are serialized; Run waits for the channel while another run holds it.
//
// An error means the session could not complete the exchange (ctx done,
// kernel protocol violation, host fault); the kernel should be rebooted.
// A WatchdogExpired outcome also leaves the kernel running and needs a
// reboot.
func (s *Session) Run(ctx context.Context, image []byte) (*Outcome, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	r := &run{id: uuid.New(), start: time.Now()}
	r.logger = s.logger.With(zap.Stringer("run", r.id))
	r.logger.Info("run started", zap.Int("image_bytes", len(image)))
	s.emit(Event{Type: EventRunStarted, Run: r.id})

	kind, out, err := s.serve(ctx, r, image)
	s.finish(ctx, r)
	if err != nil {
		r.logger.Error("run failed", zap.Error(err))
		return nil, err
	}
	if out == nil {
		out = &Outcome{}
	}
	out.Kind = kind
	out.ID = r.id
	out.Log = r.log
	out.Now = s.clock.Now()
	out.Duration = time.Since(r.start)

	r.logger.Info("run completed",
		zap.Stringer("outcome", kind),
		zap.Duration("duration", out.Duration))
	s.emit(Event{Type: EventRunCompleted, Run: r.id, Outcome: out})
	return out, nil
}

func (s *Session) serve(ctx context.Context, r *run, image []byte) (OutcomeKind, *Outcome, error) {
	if err := s.ep.Send(ctx, &proto.LoadRequest{Image: image}); err != nil {
		return 0, nil, err
	}
	for {
		msg, err := s.recv(ctx)
		if stderrors.Is(err, errExpired) {
			r.logger.Warn("watchdog expired")
			return WatchdogExpired, nil, nil
		}
		if err != nil {
			return 0, nil, err
		}
		kind, out, err := s.handle(ctx, r, msg)
		if err != nil || kind != 0 {
			return kind, out, err
		}
	}
}

// recv waits for the next kernel message or for a watchdog to expire.
func (s *Session) recv(ctx context.Context) (proto.Message, error) {
	mb := s.ep.Mailbox()
	for {
		changed := mb.Changed()
		if msg := s.ep.TryRecv(); msg != nil {
			return msg, nil
		}
		if s.watchdogs.Expired(time.Now()) {
			return nil, errExpired
		}

		var (
			timer  *time.Timer
			expire <-chan time.Time
		)
		if deadline, ok := s.watchdogs.Next(); ok {
			timer = time.NewTimer(time.Until(deadline))
			expire = timer.C
		}
		select {
		case <-changed:
		case <-expire:
		case <-ctx.Done():
		}
		if timer != nil {
			timer.Stop()
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

// handle serves one kernel message. A non-zero kind ends the run.
func (s *Session) handle(ctx context.Context, r *run, msg proto.Message) (OutcomeKind, *Outcome, error) {
	switch m := msg.(type) {
	case *proto.LoadReply:
		err := m.Err
		s.ep.Ack()
		if err != nil {
			r.logger.Warn("load failed", zap.Error(err))
			return LoadFailed, &Outcome{LoadErr: err}, nil
		}
		return 0, nil, nil

	case *proto.NowInitRequest:
		s.ep.Ack()
		return 0, nil, s.ep.Send(ctx, &proto.NowInitReply{Now: s.clock.Now()})

	case *proto.NowSave:
		s.clock.Save(m.Now)
		s.ep.Ack()
		return 0, nil, nil

	case *proto.Log:
		text := fmt.Sprintf(m.Format, m.Args...)
		s.ep.Ack()
		s.kernelLog(r, text)
		return 0, nil, nil

	case *proto.LogSlice:
		text := strings.Clone(m.Text)
		s.ep.Ack()
		s.kernelLog(r, text)
		return 0, nil, nil

	case *proto.RpcSend:
		return 0, nil, s.rpcSend(ctx, r, m)

	case *proto.RpcRecvRequest:
		return 0, nil, s.rpcRecv(ctx, r, m)

	case *proto.WatchdogSetRequest:
		ms := m.Ms
		s.ep.Ack()
		id, err := s.watchdogs.Set(ms)
		if err != nil {
			return 0, nil, err
		}
		r.logger.Debug("watchdog set", zap.Uint32("id", id), zap.Uint64("ms", ms))
		s.emit(Event{Type: EventWatchdogSet, Run: r.id})
		return 0, nil, s.ep.Send(ctx, &proto.WatchdogSetReply{ID: id})

	case *proto.WatchdogClear:
		id := m.ID
		s.ep.Ack()
		s.watchdogs.Clear(id)
		s.emit(Event{Type: EventWatchdogClear, Run: r.id})
		return 0, nil, nil

	case *proto.CacheGetRequest:
		key := strings.Clone(m.Key)
		s.ep.Ack()
		value := s.cache.Get(key)
		s.emit(Event{Type: EventCacheGet, Run: r.id, Text: key})
		return 0, nil, s.ep.Send(ctx, &proto.CacheGetReply{Value: value})

	case *proto.CachePutRequest:
		key := strings.Clone(m.Key)
		ok := s.cache.Put(key, m.Value)
		s.ep.Ack()
		if !ok {
			r.logger.Debug("cache put refused", zap.String("key", key))
		}
		s.emit(Event{Type: EventCachePut, Run: r.id, Text: key, Failed: !ok})
		return 0, nil, s.ep.Send(ctx, &proto.CachePutReply{Succeeded: ok})

	case *proto.RunFinished:
		s.ep.Ack()
		return Finished, nil, nil

	case *proto.RunAborted:
		s.ep.Ack()
		return Aborted, nil, nil

	case *proto.RunException:
		exn := m.Exception.Clone()
		bt := slices.Clone(m.Backtrace)
		s.ep.Ack()
		r.logger.Info("uncaught exception",
			zap.String("exception", exn.Name),
			zap.String("message", exn.FormatMessage()),
			zap.Uint32s("backtrace", bt))
		return Exception, &Outcome{Exception: &exn, Backtrace: bt}, nil
	}

	r.logger.Error("unexpected kernel message", zap.String("msg", proto.Describe(msg)))
	return 0, nil, errors.UnexpectedMessage("kernel request", proto.Name(msg))
}

func (s *Session) kernelLog(r *run, text string) {
	text = strings.TrimRight(text, "\n")
	r.log = append(r.log, text)
	r.logger.Info("kernel: " + text)
	s.emit(Event{Type: EventLog, Run: r.id, Text: text})
}

// rpcSend decodes a call while the kernel still holds its arguments. A
// batched call is queued until the run ends; any other call runs now and
// its result waits for the kernel's receive requests.
func (s *Session) rpcSend(ctx context.Context, r *run, m *proto.RpcSend) error {
	service, batch := m.Service, m.Batch
	sig, err := rpc.ParseTag(m.Tag)
	var args []any
	if err == nil {
		args, err = rpc.DecodeArgs(m.Mem, sig, m.Args)
	}
	s.ep.Ack()
	if err != nil {
		return s.rejectCall(r, service, batch, err)
	}

	if batch {
		r.batch = append(r.batch, batchedCall{service: service, args: args})
		s.emit(Event{Type: EventRPC, Run: r.id, Service: service, Batch: true})
		return nil
	}

	call := &pendingCall{service: service}
	result, err := s.call(ctx, service, args)
	if err != nil {
		call.exception = asException(err)
		r.logger.Debug("rpc raised",
			zap.Uint32("service", service),
			zap.String("exception", call.exception.Name))
	} else {
		call.writer = rpc.NewResultWriter(sig.Return, result)
	}
	r.pending = call
	s.emit(Event{Type: EventRPC, Run: r.id, Service: service, Failed: err != nil})
	return nil
}

// rejectCall answers a call the host could not decode. A synchronous call
// raises RPCError at the kernel's next receive; a batched one is dropped.
func (s *Session) rejectCall(r *run, service uint32, batch bool, err error) error {
	r.logger.Warn("rpc decode failed",
		zap.Uint32("service", service),
		zap.Bool("batch", batch),
		zap.Error(err))
	s.emit(Event{Type: EventRPC, Run: r.id, Service: service, Batch: batch, Failed: true})
	if batch {
		return nil
	}
	r.pending = &pendingCall{
		service:   service,
		exception: &proto.Exception{Name: RPCError, Message: fmt.Sprintf("service %d: %v", service, err)},
	}
	return nil
}

func (s *Session) call(ctx context.Context, service uint32, args []any) (_ any, err error) {
	h, ok := s.services.Lookup(service)
	if !ok {
		return nil, Raise(RPCError, "no service {0}", int64(service))
	}
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("service %d panicked: %v", service, v)
		}
	}()
	return h.Call(ctx, args)
}

// rpcRecv answers one receive request from the pending call.
func (s *Session) rpcRecv(ctx context.Context, r *run, m *proto.RpcRecvRequest) error {
	call := r.pending
	if call == nil {
		return errors.UnexpectedMessage("RpcSend", proto.Name(m))
	}

	var reply proto.RpcRecvReply
	if call.exception != nil {
		reply.Exception = call.exception
		r.pending = nil
	} else {
		size, err := call.writer.Next(m.Mem, m.Slot)
		switch {
		case err != nil:
			r.logger.Warn("rpc result transfer failed", zap.Uint32("service", call.service), zap.Error(err))
			reply.Exception = asException(err)
			r.pending = nil
		case size == 0:
			r.pending = nil
		}
		reply.Size = size
	}
	s.ep.Ack()
	return s.ep.Send(ctx, &reply)
}

// finish releases per-run state: borrowed cache rows, batched calls and
// watchdogs.
func (s *Session) finish(ctx context.Context, r *run) {
	s.cache.Unborrow()
	s.watchdogs.Reset()
	for _, c := range r.batch {
		if _, err := s.call(ctx, c.service, c.args); err != nil {
			r.logger.Warn("batched call failed", zap.Uint32("service", c.service), zap.Error(err))
		}
	}
	r.batch = nil
	r.pending = nil
}
