package main

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/coredevice/config"
	"github.com/wippyai/coredevice/device"
	"github.com/wippyai/coredevice/host"
	"github.com/wippyai/coredevice/kernel"
	"github.com/wippyai/coredevice/loader"
	"github.com/wippyai/coredevice/mailbox"
	"github.com/wippyai/coredevice/payload"
)

// app carries state shared by subcommands once the root has run.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	logLevel string
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "coredevice",
		Short: "Run kernel programs on an in-process core device",
		Long: `coredevice boots a kernel runtime and a host session over a shared
mailbox and runs wasm kernel programs on it.

Configuration comes from COREDEVICE_* environment variables, for example
COREDEVICE_KERNEL_WAIT=park or COREDEVICE_HOST_CACHE_SEED=cache.yaml.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override COREDEVICE_LOGGING_LEVEL")

	root.AddCommand(newRunCmd(a), newDemoCmd(), newConsoleCmd(a))
	return root
}

func (a *app) setup() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger

	mailbox.SetLogger(logger.Named("mailbox"))
	kernel.SetLogger(logger.Named("kernel"))
	loader.SetLogger(logger.Named("loader"))
	host.SetLogger(logger.Named("host"))
	return nil
}

// newDevice builds a device on a wazero loader with the demo services
// registered. The returned close func shuts both down.
func (a *app) newDevice(ctx context.Context) (*device.Device, func(), error) {
	ld, err := loader.NewWazeroLoader(ctx, a.cfg.WazeroLoader())
	if err != nil {
		return nil, nil, err
	}
	services, err := demoServices()
	if err != nil {
		_ = ld.Close(ctx)
		return nil, nil, err
	}
	d := device.New(a.cfg, ld, services, a.logger)
	closeFn := func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), device.RebootTimeout)
		defer cancel()
		if err := d.Shutdown(sctx); err != nil {
			a.logger.Warn("shutdown", zap.Error(err))
		}
		_ = ld.Close(sctx)
	}
	return d, closeFn, nil
}

// demoServices serves the RPCs the bundled demo programs make.
func demoServices() (*host.Services, error) {
	services := host.NewServices()
	echo := host.HandlerFunc(func(_ context.Context, args []any) (any, error) {
		if len(args) != 1 {
			return nil, host.Raise(host.RPCError, "echo takes one argument")
		}
		return args[0], nil
	})
	repeat := host.HandlerFunc(func(_ context.Context, args []any) (any, error) {
		if len(args) != 2 {
			return nil, host.Raise(host.RPCError, "repeat takes two arguments")
		}
		s, ok := args[0].(string)
		n, nok := args[1].(int32)
		if !ok || !nok {
			return nil, host.Raise(host.RPCError, fmt.Sprintf("repeat: bad arguments %v", args))
		}
		if n < 0 {
			return nil, host.Raise(kernel.ValueError, "negative count {0}", int64(n))
		}
		return slices.Repeat([]string{s}, int(n)), nil
	})
	if err := services.Register(payload.ServiceEcho, echo); err != nil {
		return nil, err
	}
	if err := services.Register(payload.ServiceRepeat, repeat); err != nil {
		return nil, err
	}
	return services, nil
}
