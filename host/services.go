package host

import (
	"context"
	stderrors "errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/wippyai/coredevice/errors"
	"github.com/wippyai/coredevice/proto"
	"github.com/wippyai/coredevice/rpc"
)

// WritebackService is the service id reserved for attribute writeback.
const WritebackService uint32 = 0

// Exception names raised on the kernel's behalf.
const (
	RuntimeError = proto.ExceptionNamespace + "RuntimeError"
	RPCError     = proto.ExceptionNamespace + "RPCError"
)

// Handler serves one RPC service. Arguments arrive decoded per the call's
// tag (see rpc.Decode); the result is encoded with the tag's return type.
// Returning a proto.Exception raises it in the kernel at the call site.
type Handler interface {
	Call(ctx context.Context, args []any) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, args []any) (any, error)

func (f HandlerFunc) Call(ctx context.Context, args []any) (any, error) {
	return f(ctx, args)
}

// Raise builds an exception for a Handler to return.
func Raise(name, message string, params ...int64) error {
	exn := proto.Exception{Name: name, Message: message}
	copy(exn.Params[:], params)
	return exn
}

// asException turns a handler error into the exception the kernel sees.
func asException(err error) *proto.Exception {
	var exn proto.Exception
	if stderrors.As(err, &exn) {
		exn = exn.Clone()
		return &exn
	}
	return &proto.Exception{Name: RuntimeError, Message: err.Error()}
}

// Services is the RPC service registry. Service 0 is always the
// attribute store.
type Services struct {
	handlers map[uint32]Handler
	attrs    *Attributes
	mu       sync.RWMutex
}

func NewServices() *Services {
	attrs := NewAttributes()
	return &Services{
		handlers: map[uint32]Handler{WritebackService: attrs},
		attrs:    attrs,
	}
}

// Register installs h as service id.
func (s *Services) Register(id uint32, h Handler) error {
	if id == WritebackService {
		return errors.InvalidInput(errors.PhaseHost, "service 0 is reserved for writeback")
	}
	if h == nil {
		return errors.InvalidInput(errors.PhaseHost, fmt.Sprintf("nil handler for service %d", id))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handlers[id]; ok {
		return errors.InvalidInput(errors.PhaseHost, fmt.Sprintf("service %d already registered", id))
	}
	s.handlers[id] = h
	return nil
}

// Lookup returns the handler for id.
func (s *Services) Lookup(id uint32) (Handler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handlers[id]
	return h, ok
}

// IDs lists registered services in order.
func (s *Services) IDs() []uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.handlers))
}

// Attributes returns the writeback store.
func (s *Services) Attributes() *Attributes {
	return s.attrs
}

// Attributes stores attribute values written back by the kernel, keyed by
// object reference and attribute name.
type Attributes struct {
	objects map[rpc.ObjectRef]map[string]any
	writes  int
	mu      sync.RWMutex
}

func NewAttributes() *Attributes {
	return &Attributes{objects: make(map[rpc.ObjectRef]map[string]any)}
}

// Call stores one writeback: (object, name, value).
func (a *Attributes) Call(_ context.Context, args []any) (any, error) {
	if len(args) != 3 {
		return nil, errors.InvalidInput(errors.PhaseHost, fmt.Sprintf("writeback takes 3 arguments, got %d", len(args)))
	}
	obj, ok := args[0].(rpc.ObjectRef)
	if !ok {
		return nil, errors.InvalidInput(errors.PhaseHost, fmt.Sprintf("writeback object is %T", args[0]))
	}
	name, ok := args[1].(string)
	if !ok {
		return nil, errors.InvalidInput(errors.PhaseHost, fmt.Sprintf("writeback name is %T", args[1]))
	}
	a.Set(obj, name, args[2])
	return nil, nil
}

func (a *Attributes) Set(obj rpc.ObjectRef, name string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	attrs, ok := a.objects[obj]
	if !ok {
		attrs = make(map[string]any)
		a.objects[obj] = attrs
	}
	attrs[name] = value
	a.writes++
}

func (a *Attributes) Get(obj rpc.ObjectRef, name string) (any, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.objects[obj][name]
	return v, ok
}

// Objects lists the objects with stored attributes, in order.
func (a *Attributes) Objects() []rpc.ObjectRef {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Sorted(maps.Keys(a.objects))
}

// Snapshot copies the store.
func (a *Attributes) Snapshot() map[rpc.ObjectRef]map[string]any {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[rpc.ObjectRef]map[string]any, len(a.objects))
	for obj, attrs := range a.objects {
		out[obj] = maps.Clone(attrs)
	}
	return out
}

// Writes counts stored writebacks.
func (a *Attributes) Writes() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.writes
}
