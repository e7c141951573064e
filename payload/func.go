package payload

import (
	"github.com/wippyai/coredevice/internal/wasmbin"
)

// Opcodes the assembler emits.
const (
	OpUnreachable byte = 0x00
	OpNop         byte = 0x01
	OpBlock       byte = 0x02
	OpLoop        byte = 0x03
	OpIf          byte = 0x04
	OpElse        byte = 0x05
	OpEnd         byte = 0x0b
	OpBr          byte = 0x0c
	OpBrIf        byte = 0x0d
	OpReturn      byte = 0x0f
	OpCall        byte = 0x10
	OpDrop        byte = 0x1a
	OpLocalGet    byte = 0x20
	OpLocalSet    byte = 0x21
	OpLocalTee    byte = 0x22
	OpGlobalGet   byte = 0x23
	OpGlobalSet   byte = 0x24
	OpI32Load     byte = 0x28
	OpI64Load     byte = 0x29
	OpI32Store    byte = 0x36
	OpI64Store    byte = 0x37
	OpF64Store    byte = 0x39
	OpI32Const    byte = 0x41
	OpI64Const    byte = 0x42
	OpF64Const    byte = 0x44
	OpI32Eqz      byte = 0x45
	OpI32Eq       byte = 0x46
	OpI32Ne       byte = 0x47
	OpI32LtU      byte = 0x49
	OpI32Add      byte = 0x6a
	OpI32Sub      byte = 0x6b
	OpI32Mul      byte = 0x6c
	OpI32DivU     byte = 0x6e
	OpI32And      byte = 0x71
	OpI64Add      byte = 0x7c
	OpI32WrapI64  byte = 0xa7
	OpI64ExtendU  byte = 0xad

	blockVoid byte = 0x40
)

// Func is a function under construction. Emitters return the receiver so
// instruction sequences chain.
type Func struct {
	b      *Builder
	code   *wasmbin.Writer
	name   string
	locals []byte
	index  uint32
	typ    uint32
	params uint32
}

// Index returns the function index.
func (f *Func) Index() uint32 { return f.index }

// Name returns the export name, empty for internal functions.
func (f *Func) Name() string { return f.name }

// Local declares a local and returns its index.
func (f *Func) Local(typ byte) uint32 {
	f.locals = append(f.locals, typ)
	return f.params + uint32(len(f.locals)-1)
}

func (f *Func) body() []byte {
	w := wasmbin.NewWriter()
	w.WriteU32(uint32(len(f.locals)))
	for _, t := range f.locals {
		w.WriteU32(1)
		w.Byte(t)
	}
	w.WriteBytes(f.code.Bytes())
	w.Byte(OpEnd)
	return w.Bytes()
}

// Op emits bare opcodes.
func (f *Func) Op(ops ...byte) *Func {
	f.code.Byte(ops...)
	return f
}

func (f *Func) I32Const(v int32) *Func {
	f.code.Byte(OpI32Const)
	f.code.WriteS32(v)
	return f
}

// Addr pushes an address as an i32 constant.
func (f *Func) Addr(v uint32) *Func {
	return f.I32Const(int32(v))
}

func (f *Func) I64Const(v int64) *Func {
	f.code.Byte(OpI64Const)
	f.code.WriteS64(v)
	return f
}

func (f *Func) F64Const(v float64) *Func {
	f.code.Byte(OpF64Const)
	f.code.WriteF64(v)
	return f
}

func (f *Func) LocalGet(idx uint32) *Func  { return f.indexed(OpLocalGet, idx) }
func (f *Func) LocalSet(idx uint32) *Func  { return f.indexed(OpLocalSet, idx) }
func (f *Func) LocalTee(idx uint32) *Func  { return f.indexed(OpLocalTee, idx) }
func (f *Func) GlobalGet(idx uint32) *Func { return f.indexed(OpGlobalGet, idx) }
func (f *Func) GlobalSet(idx uint32) *Func { return f.indexed(OpGlobalSet, idx) }
func (f *Func) Call(idx uint32) *Func      { return f.indexed(OpCall, idx) }
func (f *Func) Br(depth uint32) *Func      { return f.indexed(OpBr, depth) }
func (f *Func) BrIf(depth uint32) *Func    { return f.indexed(OpBrIf, depth) }

// CallFunc calls a function defined in the same builder.
func (f *Func) CallFunc(g *Func) *Func {
	return f.Call(g.index)
}

func (f *Func) indexed(op byte, idx uint32) *Func {
	f.code.Byte(op)
	f.code.WriteU32(idx)
	return f
}

func (f *Func) memop(op byte, alignLog2, offset uint32) *Func {
	f.code.Byte(op)
	f.code.WriteU32(alignLog2)
	f.code.WriteU32(offset)
	return f
}

func (f *Func) I32Load(offset uint32) *Func  { return f.memop(OpI32Load, 2, offset) }
func (f *Func) I64Load(offset uint32) *Func  { return f.memop(OpI64Load, 3, offset) }
func (f *Func) I32Store(offset uint32) *Func { return f.memop(OpI32Store, 2, offset) }
func (f *Func) I64Store(offset uint32) *Func { return f.memop(OpI64Store, 3, offset) }
func (f *Func) F64Store(offset uint32) *Func { return f.memop(OpF64Store, 3, offset) }

// Block opens a block with no result.
func (f *Func) Block() *Func { return f.Op(OpBlock, blockVoid) }

// Loop opens a loop with no result.
func (f *Func) Loop() *Func { return f.Op(OpLoop, blockVoid) }

// If opens an if with no result.
func (f *Func) If() *Func { return f.Op(OpIf, blockVoid) }

func (f *Func) Else() *Func { return f.Op(OpElse) }

func (f *Func) End() *Func { return f.Op(OpEnd) }

func (f *Func) Drop() *Func { return f.Op(OpDrop) }

func (f *Func) Return() *Func { return f.Op(OpReturn) }

func (f *Func) Unreachable() *Func { return f.Op(OpUnreachable) }
