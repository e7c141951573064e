package rpc

import (
	"fmt"
	"strings"

	"github.com/wippyai/coredevice/errors"
)

// Kind is the type code of a tag element.
type Kind byte

const (
	KindNone   Kind = 'n'
	KindBool   Kind = 'b'
	KindInt32  Kind = 'i'
	KindInt64  Kind = 'I'
	KindFloat  Kind = 'f'
	KindString Kind = 's'
	KindObject Kind = 'O'
	KindList   Kind = 'l'
	KindTuple  Kind = 't'
)

const maxTagDepth = 32

// Type is a parsed tag element.
type Type struct {
	Elem   *Type  // KindList
	Fields []Type // KindTuple
	Kind   Kind
}

// Scalar constructors used by generators and tests.
var (
	None   = Type{Kind: KindNone}
	Bool   = Type{Kind: KindBool}
	Int32  = Type{Kind: KindInt32}
	Int64  = Type{Kind: KindInt64}
	Float  = Type{Kind: KindFloat}
	String = Type{Kind: KindString}
	Object = Type{Kind: KindObject}
)

// ListOf returns the list type with element elem.
func ListOf(elem Type) Type {
	return Type{Kind: KindList, Elem: &elem}
}

// TupleOf returns the tuple type of fields.
func TupleOf(fields ...Type) Type {
	return Type{Kind: KindTuple, Fields: fields}
}

// Size returns the in-memory size in bytes, a multiple of Align.
func (t Type) Size() uint32 {
	switch t.Kind {
	case KindBool:
		return 1
	case KindInt32, KindObject:
		return 4
	case KindInt64, KindFloat, KindString, KindList:
		return 8
	case KindTuple:
		var off uint32
		for _, f := range t.Fields {
			off = alignUp(off, f.Align()) + f.Size()
		}
		return alignUp(off, t.Align())
	}
	return 0
}

// Align returns the natural alignment in bytes.
func (t Type) Align() uint32 {
	switch t.Kind {
	case KindInt32, KindObject, KindString, KindList:
		return 4
	case KindInt64, KindFloat:
		return 8
	case KindTuple:
		a := uint32(1)
		for _, f := range t.Fields {
			a = max(a, f.Align())
		}
		return a
	}
	return 1
}

// Offsets returns the byte offset of every tuple field.
func (t Type) Offsets() []uint32 {
	offs := make([]uint32, len(t.Fields))
	var off uint32
	for i, f := range t.Fields {
		off = alignUp(off, f.Align())
		offs[i] = off
		off += f.Size()
	}
	return offs
}

// Dynamic reports whether values of t carry kernel-owned storage.
func (t Type) Dynamic() bool {
	return t.Kind == KindString || t.Kind == KindList
}

// Encode appends the tag form of t to dst.
func (t Type) Encode(dst []byte) []byte {
	dst = append(dst, byte(t.Kind))
	switch t.Kind {
	case KindList:
		dst = t.Elem.Encode(dst)
	case KindTuple:
		dst = append(dst, byte(len(t.Fields)))
		for _, f := range t.Fields {
			dst = f.Encode(dst)
		}
	}
	return dst
}

// String renders t for diagnostics; tuple counts are shown in decimal.
func (t Type) String() string {
	switch t.Kind {
	case KindList:
		return "l" + t.Elem.String()
	case KindTuple:
		var b strings.Builder
		fmt.Fprintf(&b, "t%d(", len(t.Fields))
		for i, f := range t.Fields {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(f.String())
		}
		b.WriteByte(')')
		return b.String()
	}
	return string(rune(t.Kind))
}

// Signature is a parsed call tag.
type Signature struct {
	Args   []Type
	Return Type
}

// Tag encodes s back into tag bytes.
func (s Signature) Tag() []byte {
	var dst []byte
	for _, a := range s.Args {
		dst = a.Encode(dst)
	}
	dst = append(dst, ':')
	return s.Return.Encode(dst)
}

func (s Signature) String() string {
	parts := make([]string, len(s.Args))
	for i, a := range s.Args {
		parts[i] = a.String()
	}
	return "(" + strings.Join(parts, ", ") + ") -> " + s.Return.String()
}

// ParseTag parses "<args>:<ret>".
func ParseTag(tag []byte) (Signature, error) {
	p := parser{tag: tag}
	var sig Signature
	for p.pos < len(tag) && tag[p.pos] != ':' {
		t, err := p.parse(0)
		if err != nil {
			return Signature{}, err
		}
		sig.Args = append(sig.Args, t)
	}
	if p.pos >= len(tag) {
		return Signature{}, errors.InvalidTag(tag, p.pos, "missing ':' before return type")
	}
	p.pos++
	ret, err := p.parse(0)
	if err != nil {
		return Signature{}, err
	}
	if p.pos != len(tag) {
		return Signature{}, errors.InvalidTag(tag, p.pos, "trailing bytes after return type")
	}
	sig.Return = ret
	return sig, nil
}

// ParseType parses a tag holding exactly one type.
func ParseType(tag []byte) (Type, error) {
	p := parser{tag: tag}
	t, err := p.parse(0)
	if err != nil {
		return Type{}, err
	}
	if p.pos != len(tag) {
		return Type{}, errors.InvalidTag(tag, p.pos, "trailing bytes after type")
	}
	return t, nil
}

type parser struct {
	tag []byte
	pos int
}

func (p *parser) parse(depth int) (Type, error) {
	if depth > maxTagDepth {
		return Type{}, errors.InvalidTag(p.tag, p.pos, "nesting too deep")
	}
	if p.pos >= len(p.tag) {
		return Type{}, errors.InvalidTag(p.tag, p.pos, "unexpected end of tag")
	}
	c := Kind(p.tag[p.pos])
	p.pos++

	switch c {
	case KindNone, KindBool, KindInt32, KindInt64, KindFloat, KindString, KindObject:
		return Type{Kind: c}, nil
	case KindList:
		elem, err := p.parse(depth + 1)
		if err != nil {
			return Type{}, err
		}
		return ListOf(elem), nil
	case KindTuple:
		if p.pos >= len(p.tag) {
			return Type{}, errors.InvalidTag(p.tag, p.pos, "missing tuple arity")
		}
		n := int(p.tag[p.pos])
		p.pos++
		if n == 0 {
			return Type{}, errors.InvalidTag(p.tag, p.pos-1, "empty tuple")
		}
		fields := make([]Type, n)
		for i := range fields {
			f, err := p.parse(depth + 1)
			if err != nil {
				return Type{}, err
			}
			fields[i] = f
		}
		return TupleOf(fields...), nil
	}
	return Type{}, errors.InvalidTag(p.tag, p.pos-1, fmt.Sprintf("unknown type code %q", byte(c)))
}

func alignUp(v, a uint32) uint32 {
	return (v + a - 1) &^ (a - 1)
}
