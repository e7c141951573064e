package coredevice

import "testing"

func TestFlatMemory_ReadWrite(t *testing.T) {
	m := NewFlatMemory(64, 0)

	if err := m.WriteU32(4, 0xdeadbeef); err != nil {
		t.Fatal(err)
	}
	b, err := m.Read(4, 4)
	if err != nil {
		t.Fatal(err)
	}
	if b[0] != 0xef || b[3] != 0xde {
		t.Errorf("expected little endian layout, got % x", b)
	}

	if err := m.WriteU64(8, 1<<40|7); err != nil {
		t.Fatal(err)
	}
	if v, _ := m.ReadU64(8); v != 1<<40|7 {
		t.Errorf("ReadU64 = %#x", v)
	}
	if err := m.WriteU16(16, 0x1234); err != nil {
		t.Fatal(err)
	}
	if v, _ := m.ReadU16(16); v != 0x1234 {
		t.Errorf("ReadU16 = %#x", v)
	}
	if err := m.WriteU8(18, 9); err != nil {
		t.Fatal(err)
	}
	if v, _ := m.ReadU8(18); v != 9 {
		t.Errorf("ReadU8 = %d", v)
	}
}

func TestFlatMemory_Bounds(t *testing.T) {
	m := NewFlatMemory(16, 0)

	tests := []struct {
		name string
		fn   func() error
	}{
		{"read past end", func() error { _, err := m.Read(12, 8); return err }},
		{"u32 at edge", func() error { _, err := m.ReadU32(13); return err }},
		{"u64 write past end", func() error { return m.WriteU64(9, 1) }},
		{"overflowing offset", func() error { _, err := m.Read(0xffffffff, 2); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err == nil {
				t.Error("expected out-of-bounds error")
			}
		})
	}

	if _, err := m.ReadU32(12); err != nil {
		t.Errorf("last word should be readable: %v", err)
	}
}

func TestFlatMemory_Alloc(t *testing.T) {
	m := NewFlatMemory(64, 0)

	a, err := m.Alloc(3, 1)
	if err != nil {
		t.Fatal(err)
	}
	if a != 8 {
		t.Errorf("first allocation at %d, want 8", a)
	}
	b, err := m.Alloc(8, 8)
	if err != nil {
		t.Fatal(err)
	}
	if b%8 != 0 || b < a+3 {
		t.Errorf("second allocation at %d not aligned past the first", b)
	}
	if _, err := m.Alloc(64, 4); err == nil {
		t.Error("expected exhaustion error")
	}
	if m.Size() != 64 || len(m.Bytes()) != 64 {
		t.Errorf("size = %d", m.Size())
	}
}
