package host

import (
	"context"
	stderrors "errors"
	"slices"
	"testing"

	"github.com/wippyai/coredevice/proto"
	"github.com/wippyai/coredevice/rpc"
)

func TestServices_Register(t *testing.T) {
	s := NewServices()
	echo := HandlerFunc(func(_ context.Context, args []any) (any, error) { return args[0], nil })

	tests := []struct {
		name    string
		id      uint32
		h       Handler
		wantErr bool
	}{
		{"ok", 1, echo, false},
		{"duplicate", 1, echo, true},
		{"reserved", WritebackService, echo, true},
		{"nil", 2, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Register(tt.id, tt.h)
			if (err != nil) != tt.wantErr {
				t.Errorf("Register = %v, wantErr %t", err, tt.wantErr)
			}
		})
	}

	if ids := s.IDs(); !slices.Equal(ids, []uint32{0, 1}) {
		t.Errorf("IDs = %v", ids)
	}
	h, ok := s.Lookup(WritebackService)
	if !ok || h != Handler(s.Attributes()) {
		t.Error("service 0 is not the attribute store")
	}
}

func TestAttributes_Call(t *testing.T) {
	a := NewAttributes()
	ctx := context.Background()

	if _, err := a.Call(ctx, []any{rpc.ObjectRef(16), "count", int32(3)}); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Call(ctx, []any{rpc.ObjectRef(16), "count", int32(4)}); err != nil {
		t.Fatal(err)
	}
	if v, ok := a.Get(16, "count"); !ok || v != int32(4) {
		t.Errorf("count = %v, %t", v, ok)
	}
	if a.Writes() != 2 {
		t.Errorf("Writes = %d", a.Writes())
	}

	bad := [][]any{
		{rpc.ObjectRef(1), "x"},
		{uint32(1), "x", 1},
		{rpc.ObjectRef(1), 5, 1},
	}
	for _, args := range bad {
		if _, err := a.Call(ctx, args); err == nil {
			t.Errorf("Call(%v) accepted", args)
		}
	}

	snap := a.Snapshot()
	snap[16]["count"] = "changed"
	if v, _ := a.Get(16, "count"); v != int32(4) {
		t.Error("snapshot aliases the store")
	}
}

func TestAsException(t *testing.T) {
	exn := asException(Raise(proto.ExceptionNamespace+"KeyError", "missing {0}", 7))
	if exn.Name != proto.ExceptionNamespace+"KeyError" || exn.FormatMessage() != "missing 7" {
		t.Errorf("raised = %+v", exn)
	}

	exn = asException(stderrors.New("disk on fire"))
	if exn.Name != RuntimeError || exn.Message != "disk on fire" {
		t.Errorf("wrapped = %+v", exn)
	}
}
