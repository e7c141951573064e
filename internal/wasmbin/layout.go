package wasmbin

import (
	"fmt"
)

// Section ids.
const (
	SectionCustom   byte = 0
	SectionType     byte = 1
	SectionImport   byte = 2
	SectionFunction byte = 3
	SectionTable    byte = 4
	SectionMemory   byte = 5
	SectionGlobal   byte = 6
	SectionExport   byte = 7
	SectionStart    byte = 8
	SectionElement  byte = 9
	SectionCode     byte = 10
	SectionData     byte = 11
)

// Import and export kinds.
const (
	KindFunc   byte = 0
	KindTable  byte = 1
	KindMemory byte = 2
	KindGlobal byte = 3
)

// Value types.
const (
	ValI32 byte = 0x7f
	ValI64 byte = 0x7e
	ValF32 byte = 0x7d
	ValF64 byte = 0x7c
)

const (
	Magic   uint32 = 0x6d736100
	Version uint32 = 1
)

// Layout records where function bodies sit in an image.
type Layout struct {
	// Bodies holds the image offset of each defined function's body,
	// indexed by function index minus ImportedFuncs.
	Bodies        []uint32
	ImportedFuncs uint32
}

// BodyOffset returns the image offset of the function at index idx in the
// module's function index space.
func (l *Layout) BodyOffset(idx uint32) (uint32, bool) {
	if idx < l.ImportedFuncs {
		return 0, false
	}
	i := idx - l.ImportedFuncs
	if int(i) >= len(l.Bodies) {
		return 0, false
	}
	return l.Bodies[i], true
}

// ReadLayout walks the section headers of image. Sections other than import
// and code are skipped unparsed.
func ReadLayout(image []byte) (*Layout, error) {
	r := NewReader(image)
	magic, err := r.ReadU32LE()
	if err != nil || magic != Magic {
		return nil, fmt.Errorf("not a wasm binary")
	}
	if v, err := r.ReadU32LE(); err != nil || v != Version {
		return nil, fmt.Errorf("unsupported wasm version %d", v)
	}

	l := &Layout{}
	for r.Len() > 0 {
		id, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		size, err := r.ReadU32()
		if err != nil {
			return nil, fmt.Errorf("section %d size: %w", id, err)
		}
		start := r.Position()
		body, err := r.ReadBytes(int(size))
		if err != nil {
			return nil, fmt.Errorf("section %d of %d bytes: %w", id, size, err)
		}

		switch id {
		case SectionImport:
			if l.ImportedFuncs, err = countFuncImports(body); err != nil {
				return nil, fmt.Errorf("import section: %w", err)
			}
		case SectionCode:
			if l.Bodies, err = bodyOffsets(body, uint32(start)); err != nil {
				return nil, fmt.Errorf("code section: %w", err)
			}
		}
	}
	return l, nil
}

func countFuncImports(sec []byte) (uint32, error) {
	r := NewReader(sec)
	n, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	var funcs uint32
	for i := uint32(0); i < n; i++ {
		if _, err := r.ReadName(); err != nil {
			return 0, err
		}
		if _, err := r.ReadName(); err != nil {
			return 0, err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		switch kind {
		case KindFunc:
			funcs++
			_, err = r.ReadU32()
		case KindTable:
			if _, err = r.ReadByte(); err == nil {
				err = skipLimits(r)
			}
		case KindMemory:
			err = skipLimits(r)
		case KindGlobal:
			err = r.Skip(2)
		default:
			return 0, fmt.Errorf("import %d: unknown kind %#x", i, kind)
		}
		if err != nil {
			return 0, fmt.Errorf("import %d: %w", i, err)
		}
	}
	return funcs, nil
}

func skipLimits(r *Reader) error {
	flags, err := r.ReadByte()
	if err != nil {
		return err
	}
	if _, err := r.ReadU32(); err != nil {
		return err
	}
	if flags&1 != 0 {
		_, err = r.ReadU32()
	}
	return err
}

func bodyOffsets(sec []byte, base uint32) ([]uint32, error) {
	r := NewReader(sec)
	n, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if int(n) > len(sec) {
		return nil, fmt.Errorf("%d bodies in %d bytes", n, len(sec))
	}
	offs := make([]uint32, n)
	for i := range offs {
		size, err := r.ReadU32()
		if err != nil {
			return nil, fmt.Errorf("body %d: %w", i, err)
		}
		offs[i] = base + uint32(r.Position())
		if err := r.Skip(int(size)); err != nil {
			return nil, fmt.Errorf("body %d: %w", i, err)
		}
	}
	return offs, nil
}
