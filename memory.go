package coredevice

import (
	"encoding/binary"
	"fmt"
)

// Memory is the loaded program's memory as seen from either domain.
// Slices returned by Read may alias the underlying storage.
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	ReadU8(offset uint32) (uint8, error)
	ReadU16(offset uint32) (uint16, error)
	ReadU32(offset uint32) (uint32, error)
	ReadU64(offset uint32) (uint64, error)
	WriteU8(offset uint32, value uint8) error
	WriteU16(offset uint32, value uint16) error
	WriteU32(offset uint32, value uint32) error
	WriteU64(offset uint32, value uint64) error
}

// MemorySizer provides the current size of a Memory in bytes.
type MemorySizer interface {
	Size() uint32
}

// Allocator hands out regions of a Memory.
type Allocator interface {
	Alloc(size, align uint32) (uint32, error)
}

// FlatMemory is a little-endian Memory over a byte slice with a bump
// allocator. Address 0 is never handed out so it can stand for "absent".
type FlatMemory struct {
	data []byte
	next uint32
}

// NewFlatMemory creates a zeroed memory of size bytes. Allocation starts at
// reserve, leaving [0, reserve) for statically placed data.
func NewFlatMemory(size, reserve uint32) *FlatMemory {
	if reserve == 0 {
		reserve = 8
	}
	return &FlatMemory{data: make([]byte, size), next: reserve}
}

func (m *FlatMemory) check(offset, length uint32) error {
	end := uint64(offset) + uint64(length)
	if end > uint64(len(m.data)) {
		return fmt.Errorf("memory access out of bounds: offset=%d, length=%d, size=%d", offset, length, len(m.data))
	}
	return nil
}

func (m *FlatMemory) Read(offset uint32, length uint32) ([]byte, error) {
	if err := m.check(offset, length); err != nil {
		return nil, err
	}
	return m.data[offset : offset+length], nil
}

func (m *FlatMemory) Write(offset uint32, data []byte) error {
	if err := m.check(offset, uint32(len(data))); err != nil {
		return err
	}
	copy(m.data[offset:], data)
	return nil
}

func (m *FlatMemory) ReadU8(offset uint32) (uint8, error) {
	if err := m.check(offset, 1); err != nil {
		return 0, err
	}
	return m.data[offset], nil
}

func (m *FlatMemory) ReadU16(offset uint32) (uint16, error) {
	if err := m.check(offset, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(m.data[offset:]), nil
}

func (m *FlatMemory) ReadU32(offset uint32) (uint32, error) {
	if err := m.check(offset, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(m.data[offset:]), nil
}

func (m *FlatMemory) ReadU64(offset uint32) (uint64, error) {
	if err := m.check(offset, 8); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(m.data[offset:]), nil
}

func (m *FlatMemory) WriteU8(offset uint32, value uint8) error {
	if err := m.check(offset, 1); err != nil {
		return err
	}
	m.data[offset] = value
	return nil
}

func (m *FlatMemory) WriteU16(offset uint32, value uint16) error {
	if err := m.check(offset, 2); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(m.data[offset:], value)
	return nil
}

func (m *FlatMemory) WriteU32(offset uint32, value uint32) error {
	if err := m.check(offset, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(m.data[offset:], value)
	return nil
}

func (m *FlatMemory) WriteU64(offset uint32, value uint64) error {
	if err := m.check(offset, 8); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(m.data[offset:], value)
	return nil
}

// Size returns the memory size in bytes.
func (m *FlatMemory) Size() uint32 {
	return uint32(len(m.data))
}

// Alloc reserves size bytes aligned to align. Memory is never reclaimed.
func (m *FlatMemory) Alloc(size, align uint32) (uint32, error) {
	if align == 0 {
		align = 1
	}
	ptr := (m.next + align - 1) &^ (align - 1)
	if err := m.check(ptr, size); err != nil {
		return 0, fmt.Errorf("allocate %d bytes: %w", size, err)
	}
	m.next = ptr + size
	return ptr, nil
}

// Bytes exposes the backing slice.
func (m *FlatMemory) Bytes() []byte {
	return m.data
}

var (
	_ Memory      = (*FlatMemory)(nil)
	_ MemorySizer = (*FlatMemory)(nil)
	_ Allocator   = (*FlatMemory)(nil)
)
