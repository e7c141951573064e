package device

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/wippyai/coredevice/config"
	"github.com/wippyai/coredevice/host"
	"github.com/wippyai/coredevice/kernel"
	"github.com/wippyai/coredevice/loader"
	"github.com/wippyai/coredevice/metrics"
	"github.com/wippyai/coredevice/payload"
)

func newDevice(t *testing.T, cfg *config.Config) (*Device, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	ld, err := loader.NewWazeroLoader(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	d := New(cfg, ld, nil, nil)
	t.Cleanup(func() {
		_ = d.Shutdown(context.Background())
		_ = ld.Close(context.Background())
		cancel()
	})
	return d, ctx
}

func TestDevice_Run(t *testing.T) {
	d, ctx := newDevice(t, nil)
	if d.Kernel() != nil {
		t.Fatal("kernel booted before first run")
	}

	out, err := d.Run(ctx, payload.Hello())
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != host.Finished {
		t.Errorf("outcome = %s", out)
	}
	if d.Kernel() == nil || d.Halted() != nil {
		t.Error("kernel not serving after run")
	}
}

func TestDevice_WatchdogReboots(t *testing.T) {
	d, ctx := newDevice(t, nil)
	m := metrics.New(prometheus.NewRegistry())
	d.Instrument(m)

	if err := d.Boot(ctx); err != nil {
		t.Fatal(err)
	}
	first := d.Kernel()

	out, err := d.Run(ctx, payload.Hang())
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != host.WatchdogExpired {
		t.Fatalf("outcome = %s, want watchdog expired", out)
	}
	if d.Kernel() == first {
		t.Error("kernel not replaced after watchdog expiry")
	}
	if got := testutil.ToFloat64(m.Reboots); got != 1 {
		t.Errorf("reboots = %v", got)
	}

	out, err = d.Run(ctx, payload.Hello())
	if err != nil || out.Kind != host.Finished {
		t.Fatalf("run after reboot = %v, %v", out, err)
	}
	if got := testutil.ToFloat64(m.Runs.WithLabelValues("finished")); got != 1 {
		t.Errorf("finished runs = %v", got)
	}
}

func TestDevice_RebootIdle(t *testing.T) {
	d, ctx := newDevice(t, nil)
	if err := d.Boot(ctx); err != nil {
		t.Fatal(err)
	}
	if err := d.Boot(ctx); err != nil {
		t.Fatal(err)
	}
	first := d.Kernel()
	if err := d.Reboot(ctx); err != nil {
		t.Fatal(err)
	}
	if d.Kernel() == first {
		t.Error("Reboot kept the old kernel")
	}

	deadline := time.Now().Add(5 * time.Second)
	for d.Kernel().State() != kernel.StateIdle {
		if time.Now().After(deadline) {
			t.Fatalf("kernel state %s", d.Kernel().State())
		}
		time.Sleep(time.Millisecond)
	}
	out, err := d.Run(ctx, payload.AbortRun())
	if err != nil || out.Kind != host.Aborted {
		t.Errorf("run = %v, %v", out, err)
	}
}

func TestDevice_CacheSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte("calibration: [9, 9]\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Host.CacheSeed = path
	d, ctx := newDevice(t, cfg)

	if err := d.Boot(ctx); err != nil {
		t.Fatal(err)
	}
	if got := d.Session().Cache().Rows()["calibration"]; !slices.Equal(got, []int32{9, 9}) {
		t.Errorf("seeded row = %v", got)
	}

	cfg.Host.CacheSeed = filepath.Join(t.TempDir(), "missing.yaml")
	bad, _ := newDevice(t, cfg)
	if err := bad.Boot(ctx); err == nil {
		t.Error("missing seed booted")
	}
}
