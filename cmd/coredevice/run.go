package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/coredevice/device"
	"github.com/wippyai/coredevice/host"
	"github.com/wippyai/coredevice/metrics"
	"github.com/wippyai/coredevice/payload"
)

type runOptions struct {
	demo    string
	report  string
	metrics string
	repeat  int
}

func newRunCmd(a *app) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run [image.wasm]",
		Short: "Load and run one kernel program",
		Long: `Run loads a kernel program onto the device, serves its RPCs and prints
the outcome with the kernel log. A program that raises prints the exception
and its backtrace relative to the program base.

Use --demo instead of a file to run one of the bundled programs.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, name, err := readImage(args, opts.demo)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return a.run(ctx, cmd.OutOrStdout(), name, image, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.demo, "demo", "", "run a bundled demo program")
	f.StringVar(&opts.report, "report", "", "write the binary outcome report to this file")
	f.StringVar(&opts.metrics, "metrics", "", "serve Prometheus metrics on this address (overrides COREDEVICE_METRICS_ADDR)")
	f.IntVar(&opts.repeat, "repeat", 1, "run the program this many times")
	return cmd
}

func readImage(args []string, demo string) ([]byte, string, error) {
	switch {
	case demo != "" && len(args) > 0:
		return nil, "", stderrors.New("give an image file or --demo, not both")
	case demo != "":
		image, ok := payload.Demo(demo)
		if !ok {
			return nil, "", fmt.Errorf("unknown demo %q (have %v)", demo, payload.DemoNames())
		}
		return image, demo, nil
	case len(args) == 1:
		image, err := os.ReadFile(args[0])
		if err != nil {
			return nil, "", fmt.Errorf("read image: %w", err)
		}
		return image, args[0], nil
	}
	return nil, "", stderrors.New("no image: give a file or --demo")
}

func (a *app) run(ctx context.Context, w io.Writer, name string, image []byte, opts runOptions) error {
	d, closeDevice, err := a.newDevice(ctx)
	if err != nil {
		return err
	}
	defer closeDevice()

	addr := opts.metrics
	if addr == "" {
		addr = a.cfg.Metrics.Address
	}
	if addr != "" {
		shutdown, err := a.serveMetrics(d, addr)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	var last *host.Outcome
	for i := 0; i < max(opts.repeat, 1); i++ {
		out, err := d.Run(ctx, image)
		if err != nil {
			return fmt.Errorf("run %s: %w", name, err)
		}
		printOutcome(w, name, out)
		last = out
	}

	if opts.report != "" {
		if err := writeReport(opts.report, last); err != nil {
			return err
		}
	}
	if last.Kind != host.Finished {
		return fmt.Errorf("%s: %s", name, last.Kind)
	}
	return nil
}

// serveMetrics instruments d and serves its registry on addr.
func (a *app) serveMetrics(d *device.Device, addr string) (func(), error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	d.Instrument(metrics.New(reg))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server", zap.Error(err))
		}
	}()
	a.logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func printOutcome(w io.Writer, name string, out *host.Outcome) {
	fmt.Fprintf(w, "%s [%s] %s in %s, now=%d\n", name, out.ID, out, out.Duration.Round(time.Microsecond), out.Now)
	for _, line := range out.Log {
		fmt.Fprintf(w, "  log: %s\n", line)
	}
	for i, addr := range out.Backtrace {
		fmt.Fprintf(w, "  #%d 0x%08x\n", i, addr)
	}
}

func writeReport(path string, out *host.Outcome) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := host.EncodeReport(f, out); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
