package kernel

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/wippyai/coredevice/loader"
	"github.com/wippyai/coredevice/payload"
	"github.com/wippyai/coredevice/proto"
	"github.com/wippyai/coredevice/rpc"
)

func startWasm(t *testing.T) *testHost {
	t.Helper()
	ld, err := loader.NewWazeroLoader(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ld.Close(context.Background()) })
	return startKernel(t, ld)
}

// loadImage loads a program image and completes the clock handshake.
func (h *testHost) loadImage(image []byte, now uint64) {
	h.t.Helper()
	h.send(&proto.LoadRequest{Image: image})
	if reply := expect[*proto.LoadReply](h); reply.Err != nil {
		h.t.Fatalf("load: %v", reply.Err)
	}
	expect[*proto.NowInitRequest](h)
	h.send(&proto.NowInitReply{Now: now})
}

// answer serves receive requests until the result is transferred.
func (h *testHost) answer(ret rpc.Type, value any) {
	h.t.Helper()
	w := rpc.NewResultWriter(ret, value)
	for {
		req := expect[*proto.RpcRecvRequest](h)
		size, err := w.Next(req.Mem, req.Slot)
		if err != nil {
			h.t.Fatalf("result transfer: %v", err)
		}
		h.send(&proto.RpcRecvReply{Size: size})
		if size == 0 {
			return
		}
	}
}

func TestWasm_Hello(t *testing.T) {
	h := startWasm(t)
	h.loadImage(payload.Hello(), 500)

	if s := expect[*proto.LogSlice](h); s.Text != "hello from the kernel" {
		t.Errorf("log = %q", s.Text)
	}
	if save := expect[*proto.NowSave](h); save.Now != 1500 {
		t.Errorf("NowSave = %d, want 1500", save.Now)
	}

	want := []struct {
		name  string
		value any
	}{{"count", int32(3)}, {"amplitude", 0.0}, {"count", int32(7)}, {"amplitude", 0.5}}
	for _, w := range want {
		send := expect[*proto.RpcSend](h)
		sig, err := rpc.ParseTag(send.Tag)
		if err != nil {
			t.Fatal(err)
		}
		args, err := rpc.DecodeArgs(send.Mem, sig, send.Args)
		if err != nil {
			t.Fatal(err)
		}
		if !send.Batch || args[1] != w.name || args[2] != w.value {
			t.Errorf("writeback %v, want %s=%v", args, w.name, w.value)
		}
	}
	expect[*proto.RunFinished](h)
}

func TestWasm_Echo(t *testing.T) {
	h := startWasm(t)
	h.loadImage(payload.Echo(), 0)

	send := expect[*proto.RpcSend](h)
	if send.Service != payload.ServiceEcho {
		t.Fatalf("service = %d", send.Service)
	}
	sig, _ := rpc.ParseTag(send.Tag)
	args, err := rpc.DecodeArgs(send.Mem, sig, send.Args)
	if err != nil || args[0] != "ping" {
		t.Fatalf("echo args = %v, %v", args, err)
	}
	h.answer(sig.Return, args[0])
	if s := expect[*proto.LogSlice](h); s.Text != "ping" {
		t.Errorf("echoed %q", s.Text)
	}

	send = expect[*proto.RpcSend](h)
	sig, _ = rpc.ParseTag(send.Tag)
	if sig.String() != "(s, i) -> ls" {
		t.Errorf("repeat signature = %s", sig)
	}
	h.answer(sig.Return, []string{"tick", "tick", "tick"})
	expect[*proto.NowSave](h)
	expect[*proto.RunFinished](h)
}

func TestWasm_RaiseBacktrace(t *testing.T) {
	h := startWasm(t)
	h.loadImage(payload.RaiseNested(), 0)

	expect[*proto.NowSave](h)
	exc := expect[*proto.RunException](h)
	if exc.Exception.Name != ValueError || exc.Exception.FormatMessage() != "bad value 42" {
		t.Errorf("exception = %v", exc.Exception)
	}
	if exc.Exception.Line != 12 || exc.Exception.Function != "inner" {
		t.Errorf("location = %s:%d", exc.Exception.Function, exc.Exception.Line)
	}
	// inner, outer, entry
	bt := exc.Backtrace
	if len(bt) != 3 {
		t.Fatalf("backtrace = %x, want 3 frames", bt)
	}
	if !(bt[0] < bt[1] && bt[1] < bt[2]) {
		t.Errorf("backtrace = %x, want frames in definition order", bt)
	}
}

func TestWasm_Aborts(t *testing.T) {
	tests := []struct {
		name string
		log  string
	}{
		{"abort", "kernel called abort()"},
		{"trap", "panic at run: "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			image, ok := payload.Demo(tt.name)
			if !ok {
				t.Fatal("missing demo")
			}
			h := startWasm(t)
			h.loadImage(image, 0)
			log := expect[*proto.Log](h)
			if text := fmt.Sprintf(log.Format, log.Args...); !strings.HasPrefix(text, tt.log) {
				t.Errorf("log = %q, want prefix %q", text, tt.log)
			}
			expect[*proto.RunAborted](h)
		})
	}
}

func TestWasm_Watchdog(t *testing.T) {
	h := startWasm(t)
	h.loadImage(payload.Watchdog(), 0)

	if req := expect[*proto.WatchdogSetRequest](h); req.Ms != 1000 {
		t.Errorf("Ms = %d", req.Ms)
	}
	h.send(&proto.WatchdogSetReply{ID: 5})
	expect[*proto.LogSlice](h)
	if clr := expect[*proto.WatchdogClear](h); clr.ID != 5 {
		t.Errorf("cleared %d", clr.ID)
	}
	expect[*proto.NowSave](h)
	expect[*proto.RunFinished](h)
}

func TestWasm_Cache(t *testing.T) {
	h := startWasm(t)
	h.loadImage(payload.Cache(), 0)

	put := expect[*proto.CachePutRequest](h)
	if put.Key != "calibration" || len(put.Value) != 3 {
		t.Errorf("put = %s", proto.Describe(put))
	}
	h.send(&proto.CachePutReply{Succeeded: true})
	expect[*proto.CacheGetRequest](h)
	h.send(&proto.CacheGetReply{Value: put.Value})
	expect[*proto.NowSave](h)
	expect[*proto.RunFinished](h)
}

func TestWasm_BadImage(t *testing.T) {
	h := startWasm(t)
	h.send(&proto.LoadRequest{Image: []byte("not wasm")})
	if reply := expect[*proto.LoadReply](h); reply.Err == nil {
		t.Fatal("malformed image loaded")
	}
}
