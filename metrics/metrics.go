// Package metrics exposes Prometheus collectors for a core device: mailbox
// traffic, runs and their outcomes, RPC calls, cache and watchdog use.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wippyai/coredevice/host"
	"github.com/wippyai/coredevice/mailbox"
	"github.com/wippyai/coredevice/proto"
)

const namespace = "coredevice"

// Metrics holds all collectors.
type Metrics struct {
	// Mailbox metrics
	Messages *prometheus.CounterVec

	// Run metrics
	RunsActive  prometheus.Gauge
	Runs        *prometheus.CounterVec
	RunDuration prometheus.Histogram
	KernelLog   prometheus.Counter

	// Service metrics
	RPCCalls *prometheus.CounterVec

	// Cache and watchdog metrics
	CacheOps  *prometheus.CounterVec
	Watchdogs *prometheus.CounterVec

	// Device metrics
	Reboots prometheus.Counter
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Messages: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mailbox_messages_total",
				Help:      "Messages published in the mailbox",
			},
			[]string{"from", "message"},
		),
		RunsActive: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "runs_active",
				Help:      "Runs in progress",
			},
		),
		Runs: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Completed runs by outcome",
			},
			[]string{"outcome"},
		),
		RunDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Run duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		KernelLog: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "kernel_log_lines_total",
				Help:      "Log lines sent by the kernel",
			},
		),
		RPCCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rpc_calls_total",
				Help:      "RPC calls served for the kernel",
			},
			[]string{"service", "mode", "status"},
		),
		CacheOps: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_operations_total",
				Help:      "Cache operations requested by the kernel",
			},
			[]string{"op", "status"},
		),
		Watchdogs: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "watchdog_operations_total",
				Help:      "Watchdogs set and cleared",
			},
			[]string{"op"},
		),
		Reboots: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "kernel_reboots_total",
				Help:      "Kernel reboots",
			},
		),
	}
}

// ObserveMailbox counts a published message. Pass it to
// mailbox.Mailbox.Subscribe.
func (m *Metrics) ObserveMailbox(ev mailbox.Event) {
	m.Messages.WithLabelValues(ev.From.String(), proto.Name(ev.Message)).Inc()
}

// OnSessionEvent implements host.Observer.
func (m *Metrics) OnSessionEvent(ev host.Event) {
	switch ev.Type {
	case host.EventRunStarted:
		m.RunsActive.Inc()
	case host.EventRunCompleted:
		m.RunsActive.Dec()
		m.Runs.WithLabelValues(ev.Outcome.Kind.String()).Inc()
		m.RunDuration.Observe(ev.Outcome.Duration.Seconds())
	case host.EventRPC:
		mode := "sync"
		if ev.Batch {
			mode = "batch"
		}
		m.RPCCalls.WithLabelValues(strconv.FormatUint(uint64(ev.Service), 10), mode, status(ev.Failed)).Inc()
	case host.EventCacheGet:
		m.CacheOps.WithLabelValues("get", "ok").Inc()
	case host.EventCachePut:
		m.CacheOps.WithLabelValues("put", status(ev.Failed)).Inc()
	case host.EventWatchdogSet:
		m.Watchdogs.WithLabelValues("set").Inc()
	case host.EventWatchdogClear:
		m.Watchdogs.WithLabelValues("clear").Inc()
	case host.EventLog:
		m.KernelLog.Inc()
	}
}

// Rebooted counts a kernel reboot.
func (m *Metrics) Rebooted() {
	m.Reboots.Inc()
}

func status(failed bool) string {
	if failed {
		return "error"
	}
	return "ok"
}
