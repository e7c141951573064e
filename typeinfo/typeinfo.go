// Package typeinfo reads and lays out the attribute-writeback table a
// generated program exports as "typeinfo".
//
// All fields are little-endian u32:
//
//	Table  {count, types}                         types -> [count]Type
//	Type   {attrCount, attrs, objCount, objects}  attrs -> [attrCount]Attr, objects -> [objCount]u32
//	Attr   {offset, tagPtr, tagLen, namePtr, nameLen}
//
// A tagPtr of 0 marks an attribute with no tag; it is never written back.
package typeinfo

import (
	"encoding/binary"
	"fmt"

	"github.com/wippyai/coredevice"
	"github.com/wippyai/coredevice/errors"
)

const (
	TableSize = 8
	TypeSize  = 16
	AttrSize  = 20

	// NameOffset is the offset of the {ptr, len} name field inside an Attr.
	NameOffset = 12

	// MaxEntries bounds every count in a decoded table.
	MaxEntries = 1 << 20
)

// Table is a decoded writeback table.
type Table struct {
	Types []Type
}

// Type is one type descriptor.
type Type struct {
	Attrs   []Attr
	Objects []Object
}

// Object is a live instance of a type.
type Object struct {
	Slot uint32 // address of the objects array entry
	Addr uint32 // object base address
}

// Attr is one attribute descriptor.
type Attr struct {
	Name   string
	Tag    []byte // nil when absent
	Record uint32 // address of the Attr record
	Offset uint32
}

// NameAddr is the address of the attribute's {ptr, len} name.
func (a Attr) NameAddr() uint32 {
	return a.Record + NameOffset
}

// Tagged reports whether the attribute carries an RPC tag.
func (a Attr) Tagged() bool {
	return a.Tag != nil
}

type reader struct {
	mem coredevice.Memory
	err error
}

func (r *reader) u32(addr uint32) uint32 {
	if r.err != nil {
		return 0
	}
	v, err := r.mem.ReadU32(addr)
	if err != nil {
		r.err = errors.New(errors.PhaseMemory, errors.KindOutOfBounds).
			Address(addr).
			Cause(err).
			Detail("typeinfo word").
			Build()
	}
	return v
}

func (r *reader) bytes(ptr, n uint32) []byte {
	if r.err != nil {
		return nil
	}
	b, err := r.mem.Read(ptr, n)
	if err != nil {
		r.err = errors.New(errors.PhaseMemory, errors.KindOutOfBounds).
			Address(ptr).
			Cause(err).
			Detail("typeinfo string of %d bytes", n).
			Build()
		return nil
	}
	return append([]byte{}, b...)
}

func (r *reader) count(n uint32, what string) int {
	if r.err == nil && n > MaxEntries {
		r.err = errors.InvalidData(errors.PhaseDecode, fmt.Sprintf("typeinfo %s count %d exceeds limit", what, n))
	}
	if r.err != nil {
		return 0
	}
	return int(n)
}

// Decode reads the table at addr. Every access is bounds checked.
func Decode(mem coredevice.Memory, addr uint32) (*Table, error) {
	r := &reader{mem: mem}
	n := r.count(r.u32(addr), "type")
	types := r.u32(addr + 4)

	t := &Table{Types: make([]Type, n)}
	for i := 0; i < n && r.err == nil; i++ {
		ta := types + uint32(i)*TypeSize
		na := r.count(r.u32(ta), "attribute")
		attrs := r.u32(ta + 4)
		no := r.count(r.u32(ta+8), "object")
		objs := r.u32(ta + 12)

		typ := Type{Attrs: make([]Attr, na), Objects: make([]Object, no)}
		for j := 0; j < na && r.err == nil; j++ {
			rec := attrs + uint32(j)*AttrSize
			a := Attr{Record: rec, Offset: r.u32(rec)}
			if tagPtr := r.u32(rec + 4); tagPtr != 0 {
				a.Tag = r.bytes(tagPtr, r.u32(rec+8))
			}
			a.Name = string(r.bytes(r.u32(rec+12), r.u32(rec+16)))
			typ.Attrs[j] = a
		}
		for j := 0; j < no && r.err == nil; j++ {
			slot := objs + uint32(j)*4
			typ.Objects[j] = Object{Slot: slot, Addr: r.u32(slot)}
		}
		t.Types[i] = typ
	}
	if r.err != nil {
		return nil, r.err
	}
	return t, nil
}

// Walk calls fn for every (type, object, attribute) combination whose
// attribute is tagged, in table order.
func (t *Table) Walk(fn func(obj Object, attr Attr) error) error {
	for _, typ := range t.Types {
		for _, obj := range typ.Objects {
			for _, attr := range typ.Attrs {
				if !attr.Tagged() {
					continue
				}
				if err := fn(obj, attr); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Calls returns how many writeback calls Walk would make.
func (t *Table) Calls() int {
	n := 0
	for _, typ := range t.Types {
		tagged := 0
		for _, a := range typ.Attrs {
			if a.Tagged() {
				tagged++
			}
		}
		n += tagged * len(typ.Objects)
	}
	return n
}

// TypeSpec describes a type for Marshal.
type TypeSpec struct {
	Attrs   []AttrSpec
	Objects []uint32
}

// AttrSpec describes an attribute for Marshal. An empty Tag is absent.
type AttrSpec struct {
	Name   string
	Tag    string
	Offset uint32
}

// Marshal lays out a table for loading at base and returns its bytes. The
// table itself sits at base.
func Marshal(base uint32, types []TypeSpec) []byte {
	var (
		nattrs, nobjs, nstr int
	)
	for _, t := range types {
		nattrs += len(t.Attrs)
		nobjs += len(t.Objects)
		for _, a := range t.Attrs {
			nstr += len(a.Name) + len(a.Tag)
		}
	}

	typesAt := uint32(TableSize)
	attrsAt := typesAt + uint32(len(types))*TypeSize
	objsAt := attrsAt + uint32(nattrs)*AttrSize
	strAt := objsAt + uint32(nobjs)*4
	buf := make([]byte, int(strAt)+nstr)

	put := func(off, v uint32) { binary.LittleEndian.PutUint32(buf[off:], v) }
	str := func(s string) (uint32, uint32) {
		off := strAt
		copy(buf[off:], s)
		strAt += uint32(len(s))
		return base + off, uint32(len(s))
	}

	put(0, uint32(len(types)))
	put(4, base+typesAt)
	for i, t := range types {
		ta := typesAt + uint32(i)*TypeSize
		put(ta, uint32(len(t.Attrs)))
		put(ta+4, base+attrsAt)
		put(ta+8, uint32(len(t.Objects)))
		put(ta+12, base+objsAt)
		for _, a := range t.Attrs {
			put(attrsAt, a.Offset)
			if a.Tag != "" {
				p, n := str(a.Tag)
				put(attrsAt+4, p)
				put(attrsAt+8, n)
			}
			p, n := str(a.Name)
			put(attrsAt+12, p)
			put(attrsAt+16, n)
			attrsAt += AttrSize
		}
		for _, o := range t.Objects {
			put(objsAt, o)
			objsAt += 4
		}
	}
	return buf
}

// Encode allocates storage in mem, writes the table there and returns its
// address.
func Encode(mem coredevice.Memory, alloc coredevice.Allocator, types []TypeSpec) (uint32, error) {
	size := uint32(len(Marshal(0, types)))
	addr, err := alloc.Alloc(size, 4)
	if err != nil {
		return 0, errors.Wrap(errors.PhaseEncode, errors.KindAllocation, err, "typeinfo table")
	}
	if err := mem.Write(addr, Marshal(addr, types)); err != nil {
		return 0, errors.Wrap(errors.PhaseEncode, errors.KindOutOfBounds, err, "typeinfo table")
	}
	return addr, nil
}
