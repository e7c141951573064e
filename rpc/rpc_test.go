package rpc

import (
	"bytes"
	stderrors "errors"
	"reflect"
	"strings"
	"testing"

	"github.com/wippyai/coredevice"
	"github.com/wippyai/coredevice/errors"
)

func TestParseTag(t *testing.T) {
	tests := []struct {
		name string
		tag  string
		want string
	}{
		{"no args", ":n", "() -> n"},
		{"scalars", "bifIO:n", "(b, i, f, I, O) -> n"},
		{"string list", "sli:s", "(s, li) -> s"},
		{"tuple", "t\x02if:b", "(t2(i,f)) -> b"},
		{"nested", "llt\x01s:t\x02sO", "(llt1(s)) -> t2(s,O)"},
		{"writeback", "Osi:n", "(O, s, i) -> n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := ParseTag([]byte(tt.tag))
			if err != nil {
				t.Fatalf("ParseTag(%q): %v", tt.tag, err)
			}
			if got := sig.String(); got != tt.want {
				t.Errorf("signature = %s, want %s", got, tt.want)
			}
			if got := sig.Tag(); !bytes.Equal(got, []byte(tt.tag)) {
				t.Errorf("Tag() = %q, want %q", got, tt.tag)
			}
		})
	}
}

func TestParseTag_Invalid(t *testing.T) {
	tests := []struct {
		name string
		tag  string
	}{
		{"empty", ""},
		{"no separator", "i"},
		{"no return", "i:"},
		{"unknown code", "x:n"},
		{"two returns", "i:nn"},
		{"list without element", "l:n"},
		{"empty tuple", "t\x00:n"},
		{"short tuple", "t\x03ii:n"},
		{"too deep", strings.Repeat("l", 40) + "i:n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTag([]byte(tt.tag))
			if err == nil {
				t.Fatalf("ParseTag(%q) should fail", tt.tag)
			}
			var e *errors.Error
			if !stderrors.As(err, &e) || e.Kind != errors.KindInvalidTag {
				t.Errorf("expected invalid tag error, got %v", err)
			}
		})
	}
}

func TestLayout(t *testing.T) {
	tests := []struct {
		typ   Type
		size  uint32
		align uint32
	}{
		{None, 0, 1},
		{Bool, 1, 1},
		{Int32, 4, 4},
		{Int64, 8, 8},
		{Float, 8, 8},
		{String, 8, 4},
		{Object, 4, 4},
		{ListOf(Int64), 8, 4},
		{TupleOf(Bool, Int64), 16, 8},
		{TupleOf(Int32, Bool), 8, 4},
		{TupleOf(Bool, Bool, Int32), 8, 4},
	}
	for _, tt := range tests {
		if got := tt.typ.Size(); got != tt.size {
			t.Errorf("%s size = %d, want %d", tt.typ, got, tt.size)
		}
		if got := tt.typ.Align(); got != tt.align {
			t.Errorf("%s align = %d, want %d", tt.typ, got, tt.align)
		}
	}

	offs := TupleOf(Bool, Int64, Int32).Offsets()
	if !reflect.DeepEqual(offs, []uint32{0, 8, 16}) {
		t.Errorf("offsets = %v", offs)
	}
}

func TestDecodeArgs(t *testing.T) {
	mem := coredevice.NewFlatMemory(1024, 0)
	sig, err := ParseTag([]byte("bifIsOlit\x02sb:n"))
	if err != nil {
		t.Fatal(err)
	}

	in := []any{true, int32(-5), 2.5, int64(1) << 40, "héllo", ObjectRef(0x100), []int32{1, 2, 3}, Tuple{"x", false}}
	args, err := PlaceArgs(mem, mem, sig, in...)
	if err != nil {
		t.Fatalf("PlaceArgs: %v", err)
	}

	got, err := DecodeArgs(mem, sig, args)
	if err != nil {
		t.Fatalf("DecodeArgs: %v", err)
	}
	want := []any{true, int32(-5), 2.5, int64(1) << 40, "héllo", ObjectRef(0x100), []any{int32(1), int32(2), int32(3)}, Tuple{"x", false}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("decoded %#v\nwant %#v", got, want)
	}
}

func TestDecodeArgs_Faults(t *testing.T) {
	mem := coredevice.NewFlatMemory(64, 0)
	sig, _ := ParseTag([]byte("s:n"))

	t.Run("count mismatch", func(t *testing.T) {
		if _, err := DecodeArgs(mem, sig, nil); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("string out of bounds", func(t *testing.T) {
		_ = mem.WriteU32(16, 40)
		_ = mem.WriteU32(20, 100)
		_, err := DecodeArgs(mem, sig, []uint32{16})
		if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseMemory, Kind: errors.KindOutOfBounds}) {
			t.Errorf("expected out-of-bounds error, got %v", err)
		}
	})

	t.Run("list longer than memory", func(t *testing.T) {
		list, _ := ParseTag([]byte("lI:n"))
		_ = mem.WriteU32(16, 8)
		_ = mem.WriteU32(20, MaxListLen)
		_, err := DecodeArgs(mem, list, []uint32{16})
		if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseMemory, Kind: errors.KindOutOfBounds}) {
			t.Errorf("expected out-of-bounds error, got %v", err)
		}
	})

	t.Run("list over the limit", func(t *testing.T) {
		list, _ := ParseTag([]byte("lI:n"))
		_ = mem.WriteU32(16, 8)
		_ = mem.WriteU32(20, MaxListLen+1)
		if _, err := DecodeArgs(mem, list, []uint32{16}); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("invalid utf8", func(t *testing.T) {
		_ = mem.Write(40, []byte{0xff, 0xfe})
		_ = mem.WriteU32(16, 40)
		_ = mem.WriteU32(20, 2)
		_, err := DecodeArgs(mem, sig, []uint32{16})
		var e *errors.Error
		if !stderrors.As(err, &e) || e.Kind != errors.KindInvalidUTF8 {
			t.Errorf("expected UTF-8 error, got %v", err)
		}
	})
}

// exchange drives a ResultWriter the way the kernel does: allocate whatever
// the host asks for and hand it back as the next slot.
func exchange(t *testing.T, mem *coredevice.FlatMemory, ret Type, value any) (uint32, int) {
	t.Helper()
	slot, err := mem.Alloc(max(ret.Size(), 1), ret.Align())
	if err != nil {
		t.Fatal(err)
	}
	w := NewResultWriter(ret, value)
	rounds := 0
	next := slot
	for {
		rounds++
		size, err := w.Next(mem, next)
		if err != nil {
			t.Fatalf("round %d: %v", rounds, err)
		}
		if size == 0 {
			break
		}
		if next, err = mem.Alloc(size, w.NextAlign()); err != nil {
			t.Fatal(err)
		}
	}
	if !w.Done() {
		t.Error("writer should be done")
	}
	return slot, rounds
}

func TestResultWriter(t *testing.T) {
	tests := []struct {
		name   string
		ret    Type
		value  any
		want   any
		rounds int
	}{
		{"none", None, nil, nil, 1},
		{"int64", Int64, 42, int64(42), 1},
		{"empty string", String, "", "", 1},
		{"string", String, "hello", "hello", 2},
		{"int list", ListOf(Int32), []int32{4, 5}, []any{int32(4), int32(5)}, 2},
		{"string list", ListOf(String), []string{"ab", "", "xyz"}, []any{"ab", "", "xyz"}, 4},
		{"tuple", TupleOf(Int32, String), Tuple{7, "hi"}, Tuple{int32(7), "hi"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := coredevice.NewFlatMemory(1024, 0)
			slot, rounds := exchange(t, mem, tt.ret, tt.value)
			if rounds != tt.rounds {
				t.Errorf("took %d receive rounds, want %d", rounds, tt.rounds)
			}
			got, err := Decode(mem, tt.ret, slot)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("result = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestResultWriter_Errors(t *testing.T) {
	mem := coredevice.NewFlatMemory(64, 0)

	w := NewResultWriter(Int32, "not a number")
	if _, err := w.Next(mem, 8); err == nil {
		t.Error("expected type mismatch")
	}

	w = NewResultWriter(Int32, int64(1)<<40)
	if _, err := w.Next(mem, 8); err == nil {
		t.Error("expected range error")
	}

	w = NewResultWriter(Bool, true)
	if size, err := w.Next(mem, 8); err != nil || size != 0 {
		t.Fatalf("Next = %d, %v", size, err)
	}
	if _, err := w.Next(mem, 16); err == nil {
		t.Error("expected error for a request with nothing pending")
	}
}
