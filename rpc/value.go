package rpc

import (
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/wippyai/coredevice"
	"github.com/wippyai/coredevice/errors"
)

// Decoded values use these Go types:
//
//	n nil       b bool      i int32     I int64     f float64
//	s string    O ObjectRef l []any     t Tuple
type (
	ObjectRef uint32
	Tuple     []any
)

// MaxListLen bounds the element count of a decoded list.
const MaxListLen = 1 << 24

// listPrealloc caps the capacity reserved before a list's elements are read.
const listPrealloc = 1024

func memFault(addr, length uint32, cause error) error {
	return errors.New(errors.PhaseMemory, errors.KindOutOfBounds).
		Address(addr).
		Cause(cause).
		Detail("%d bytes", length).
		Build()
}

// DecodeArgs reads one value per argument address.
func DecodeArgs(mem coredevice.Memory, sig Signature, args []uint32) ([]any, error) {
	if len(args) != len(sig.Args) {
		return nil, errors.InvalidInput(errors.PhaseRPC,
			fmt.Sprintf("tag names %d arguments, got %d", len(sig.Args), len(args)))
	}
	vals := make([]any, len(args))
	for i, t := range sig.Args {
		v, err := Decode(mem, t, args[i])
		if err != nil {
			return nil, fmt.Errorf("argument %d (%s): %w", i, t, err)
		}
		vals[i] = v
	}
	return vals, nil
}

// Decode reads a value of type t stored at addr. Strings are copied out of
// mem.
func Decode(mem coredevice.Memory, t Type, addr uint32) (any, error) {
	switch t.Kind {
	case KindNone:
		return nil, nil
	case KindBool:
		v, err := mem.ReadU8(addr)
		if err != nil {
			return nil, memFault(addr, 1, err)
		}
		return v != 0, nil
	case KindInt32:
		v, err := mem.ReadU32(addr)
		if err != nil {
			return nil, memFault(addr, 4, err)
		}
		return int32(v), nil
	case KindInt64:
		v, err := mem.ReadU64(addr)
		if err != nil {
			return nil, memFault(addr, 8, err)
		}
		return int64(v), nil
	case KindFloat:
		v, err := mem.ReadU64(addr)
		if err != nil {
			return nil, memFault(addr, 8, err)
		}
		return math.Float64frombits(v), nil
	case KindObject:
		v, err := mem.ReadU32(addr)
		if err != nil {
			return nil, memFault(addr, 4, err)
		}
		return ObjectRef(v), nil
	case KindString:
		ptr, n, err := readHeader(mem, addr)
		if err != nil {
			return nil, err
		}
		b, err := mem.Read(ptr, n)
		if err != nil {
			return nil, memFault(ptr, n, err)
		}
		if !utf8.Valid(b) {
			return nil, errors.InvalidUTF8(errors.PhaseRPC, b)
		}
		return string(b), nil
	case KindList:
		ptr, n, err := readHeader(mem, addr)
		if err != nil {
			return nil, err
		}
		if n > MaxListLen {
			return nil, errors.InvalidData(errors.PhaseRPC, fmt.Sprintf("list of %d elements exceeds limit", n))
		}
		stride := t.Elem.Size()
		span := uint64(n) * uint64(stride)
		if sizer, ok := mem.(coredevice.MemorySizer); ok && uint64(ptr)+span > uint64(sizer.Size()) {
			return nil, memFault(ptr, uint32(min(span, math.MaxUint32)), nil)
		}
		items := make([]any, 0, min(n, listPrealloc))
		for i := range n {
			v, err := Decode(mem, *t.Elem, ptr+i*stride)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			items = append(items, v)
		}
		return items, nil
	case KindTuple:
		offs := t.Offsets()
		fields := make(Tuple, len(t.Fields))
		for i, f := range t.Fields {
			v, err := Decode(mem, f, addr+offs[i])
			if err != nil {
				return nil, fmt.Errorf("field %d: %w", i, err)
			}
			fields[i] = v
		}
		return fields, nil
	}
	return nil, errors.Unsupported(errors.PhaseRPC, fmt.Sprintf("type code %q", byte(t.Kind)))
}

func readHeader(mem coredevice.Memory, addr uint32) (ptr, n uint32, err error) {
	if ptr, err = mem.ReadU32(addr); err != nil {
		return 0, 0, memFault(addr, 8, err)
	}
	if n, err = mem.ReadU32(addr + 4); err != nil {
		return 0, 0, memFault(addr, 8, err)
	}
	return ptr, n, nil
}

// payload is storage a dynamic value needs outside its header.
type payload struct {
	elem   *Type
	bytes  []byte
	items  []any
	header uint32
	size   uint32
	align  uint32
}

// encoder writes values in place and hands dynamic payloads to place.
type encoder struct {
	mem   coredevice.Memory
	place func(p payload) error
}

func (e *encoder) store(t Type, addr uint32, v any) error {
	switch t.Kind {
	case KindNone:
		return nil
	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return mismatch(t, v)
		}
		var u uint8
		if b {
			u = 1
		}
		return e.write(addr, 1, e.mem.WriteU8(addr, u))
	case KindInt32:
		n, ok := asInt64(v)
		if !ok || n < math.MinInt32 || n > math.MaxInt32 {
			return mismatch(t, v)
		}
		return e.write(addr, 4, e.mem.WriteU32(addr, uint32(int32(n))))
	case KindInt64:
		n, ok := asInt64(v)
		if !ok {
			return mismatch(t, v)
		}
		return e.write(addr, 8, e.mem.WriteU64(addr, uint64(n)))
	case KindFloat:
		f, ok := v.(float64)
		if !ok {
			if f32, ok32 := v.(float32); ok32 {
				f, ok = float64(f32), true
			}
		}
		if !ok {
			return mismatch(t, v)
		}
		return e.write(addr, 8, e.mem.WriteU64(addr, math.Float64bits(f)))
	case KindObject:
		var ref uint32
		switch o := v.(type) {
		case ObjectRef:
			ref = uint32(o)
		case uint32:
			ref = o
		default:
			return mismatch(t, v)
		}
		return e.write(addr, 4, e.mem.WriteU32(addr, ref))
	case KindString:
		var b []byte
		switch s := v.(type) {
		case string:
			b = []byte(s)
		case []byte:
			b = s
		default:
			return mismatch(t, v)
		}
		return e.header(addr, uint32(len(b)), payload{bytes: b, header: addr, size: uint32(len(b)), align: 1})
	case KindList:
		items, ok := asItems(v)
		if !ok {
			return mismatch(t, v)
		}
		n := uint32(len(items))
		return e.header(addr, n, payload{
			elem:   t.Elem,
			items:  items,
			header: addr,
			size:   n * t.Elem.Size(),
			align:  t.Elem.Align(),
		})
	case KindTuple:
		fields, ok := asItems(v)
		if !ok || len(fields) != len(t.Fields) {
			return mismatch(t, v)
		}
		offs := t.Offsets()
		for i, f := range t.Fields {
			if err := e.store(f, addr+offs[i], fields[i]); err != nil {
				return fmt.Errorf("field %d: %w", i, err)
			}
		}
		return nil
	}
	return errors.Unsupported(errors.PhaseRPC, fmt.Sprintf("type code %q", byte(t.Kind)))
}

// header writes {0, n}; the pointer is patched once storage exists.
func (e *encoder) header(addr, n uint32, p payload) error {
	if err := e.mem.WriteU32(addr, 0); err != nil {
		return memFault(addr, 8, err)
	}
	if err := e.mem.WriteU32(addr+4, n); err != nil {
		return memFault(addr, 8, err)
	}
	if p.size == 0 {
		return nil
	}
	return e.place(p)
}

// fill copies p into storage at and patches its header.
func (e *encoder) fill(p payload, at uint32) error {
	if p.elem == nil {
		if err := e.mem.Write(at, p.bytes); err != nil {
			return memFault(at, p.size, err)
		}
	} else {
		stride := p.elem.Size()
		for i, item := range p.items {
			if err := e.store(*p.elem, at+uint32(i)*stride, item); err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
		}
	}
	if err := e.mem.WriteU32(p.header, at); err != nil {
		return memFault(p.header, 4, err)
	}
	return nil
}

func (e *encoder) write(addr, n uint32, err error) error {
	if err != nil {
		return memFault(addr, n, err)
	}
	return nil
}

// Store writes v as type t at addr, taking storage for strings and lists
// from alloc.
func Store(mem coredevice.Memory, alloc coredevice.Allocator, t Type, addr uint32, v any) error {
	e := &encoder{mem: mem}
	e.place = func(p payload) error {
		at, err := alloc.Alloc(p.size, p.align)
		if err != nil {
			return errors.Wrap(errors.PhaseRPC, errors.KindAllocation, err,
				fmt.Sprintf("%d bytes for %s payload", p.size, t))
		}
		return e.fill(p, at)
	}
	return e.store(t, addr, v)
}

// Place allocates storage for v, stores it, and returns its address.
func Place(mem coredevice.Memory, alloc coredevice.Allocator, t Type, v any) (uint32, error) {
	size := max(t.Size(), 1)
	addr, err := alloc.Alloc(size, t.Align())
	if err != nil {
		return 0, errors.Wrap(errors.PhaseRPC, errors.KindAllocation, err, fmt.Sprintf("%s value", t))
	}
	if err := Store(mem, alloc, t, addr, v); err != nil {
		return 0, err
	}
	return addr, nil
}

// PlaceArgs places one value per argument type and returns the argument
// address array the host expects.
func PlaceArgs(mem coredevice.Memory, alloc coredevice.Allocator, sig Signature, vals ...any) ([]uint32, error) {
	if len(vals) != len(sig.Args) {
		return nil, errors.InvalidInput(errors.PhaseRPC,
			fmt.Sprintf("tag names %d arguments, got %d", len(sig.Args), len(vals)))
	}
	addrs := make([]uint32, len(vals))
	for i, t := range sig.Args {
		addr, err := Place(mem, alloc, t, vals[i])
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		addrs[i] = addr
	}
	return addrs, nil
}

func mismatch(t Type, v any) error {
	return errors.New(errors.PhaseRPC, errors.KindInvalidData).
		Value(v).
		Detail("cannot store %T as %s", v, t).
		Build()
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case int16:
		return int64(n), true
	case int8:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	}
	return 0, false
}

func asItems(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case Tuple:
		return s, true
	case []int32:
		return convert(s), true
	case []int64:
		return convert(s), true
	case []int:
		return convert(s), true
	case []float64:
		return convert(s), true
	case []bool:
		return convert(s), true
	case []string:
		return convert(s), true
	case nil:
		return nil, true
	}
	return nil, false
}

func convert[T any](s []T) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
