// Package device assembles a core device: one mailbox shared by a kernel
// runtime goroutine and a host session.
package device

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/coredevice/config"
	"github.com/wippyai/coredevice/errors"
	"github.com/wippyai/coredevice/host"
	"github.com/wippyai/coredevice/kernel"
	"github.com/wippyai/coredevice/loader"
	"github.com/wippyai/coredevice/mailbox"
	"github.com/wippyai/coredevice/metrics"
)

// RebootTimeout bounds the wait for a kernel to stop after a failed run.
const RebootTimeout = 5 * time.Second

// Device runs programs on a kernel runtime it boots and reboots as needed.
type Device struct {
	cfg     *config.Config
	loader  loader.Loader
	mb      *mailbox.Mailbox
	session *host.Session
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	kernel  *kernel.Runtime
	cancel  context.CancelFunc
	done    chan struct{}
	halted  error
	seeded  bool
	booted  bool
	runLock sync.Mutex
}

// New creates a device. Nil cfg, services or logger select defaults. The
// kernel is booted by the first Run or an explicit Boot.
func New(cfg *config.Config, ld loader.Loader, services *host.Services, logger *zap.Logger) *Device {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	mb := mailbox.New()
	return &Device{
		cfg:     cfg,
		loader:  ld,
		mb:      mb,
		session: host.NewSession(mb, services, cfg.Session()),
		logger:  logger,
	}
}

// Instrument reports mailbox traffic, session events and reboots to m.
// Call it before Boot.
func (d *Device) Instrument(m *metrics.Metrics) {
	d.metrics = m
	d.mb.Subscribe(m.ObserveMailbox)
	d.session.Subscribe(m)
}

func (d *Device) Session() *host.Session    { return d.session }
func (d *Device) Mailbox() *mailbox.Mailbox { return d.mb }

// Kernel returns the running kernel runtime, or nil before Boot.
func (d *Device) Kernel() *kernel.Runtime {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.kernel
}

// Boot starts the kernel runtime. The first boot also loads the configured
// cache seed. Booting a running device is a no-op.
func (d *Device) Boot(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.booted {
		return nil
	}
	if !d.seeded && d.cfg.Host.CacheSeed != "" {
		rows, err := host.LoadCacheSeed(d.cfg.Host.CacheSeed)
		if err != nil {
			return err
		}
		d.session.Cache().Seed(rows)
		d.logger.Info("cache seeded", zap.String("path", d.cfg.Host.CacheSeed), zap.Int("rows", len(rows)))
	}
	d.seeded = true
	d.boot(ctx)
	return nil
}

// must hold mu
func (d *Device) boot(ctx context.Context) {
	kctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rt := kernel.New(d.mb, d.loader, d.cfg.KernelRuntime())
	done := make(chan struct{})

	d.kernel = rt
	d.cancel = cancel
	d.done = done
	d.halted = nil
	d.booted = true

	go func() {
		defer close(done)
		err := rt.Serve(kctx)
		if kctx.Err() != nil {
			return
		}
		d.mu.Lock()
		d.halted = err
		d.mu.Unlock()
		d.logger.Error("kernel halted", zap.Error(err))
	}()
	d.logger.Info("kernel booted")
}

// stop cancels the kernel and waits for it to exit.
func (d *Device) stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.booted {
		d.mu.Unlock()
		return nil
	}
	cancel, done := d.cancel, d.done
	d.booted = false
	d.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Wrap(errors.PhaseRuntime, errors.KindNotInitialized, ctx.Err(), "kernel did not stop")
	}
	d.mb.Reset()
	return nil
}

// Reboot stops the kernel, clears the mailbox and boots a fresh runtime.
// It must not overlap Run.
func (d *Device) Reboot(ctx context.Context) error {
	if err := d.stop(ctx); err != nil {
		return err
	}
	if d.metrics != nil {
		d.metrics.Rebooted()
	}
	d.logger.Info("kernel rebooting")
	return d.Boot(ctx)
}

// Shutdown stops the kernel.
func (d *Device) Shutdown(ctx context.Context) error {
	return d.stop(ctx)
}

// Halted returns the error that stopped the kernel, or nil while it serves.
func (d *Device) Halted() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.halted
}

// Run loads and runs image. The kernel is rebooted first if it halted, and
// afterwards when the run left it in an unknown state: a watchdog expired,
// the exchange failed or ctx ended mid-run.
func (d *Device) Run(ctx context.Context, image []byte) (*host.Outcome, error) {
	d.runLock.Lock()
	defer d.runLock.Unlock()

	if err := d.Boot(ctx); err != nil {
		return nil, err
	}
	if err := d.Halted(); err != nil {
		d.logger.Warn("kernel halted before run", zap.Error(err))
		if err := d.Reboot(ctx); err != nil {
			return nil, err
		}
	}

	out, err := d.session.Run(ctx, image)
	if err != nil || out.Kind == host.WatchdogExpired {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), RebootTimeout)
		if rerr := d.Reboot(rctx); rerr != nil {
			d.logger.Error("reboot failed", zap.Error(rerr))
		}
		cancel()
	}
	return out, err
}
