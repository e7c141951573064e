package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/wippyai/coredevice/host"
	"github.com/wippyai/coredevice/mailbox"
	"github.com/wippyai/coredevice/proto"
)

func TestMetrics_SessionEvents(t *testing.T) {
	m := New(prometheus.NewRegistry())

	events := []host.Event{
		{Type: host.EventRunStarted},
		{Type: host.EventRPC, Service: 3},
		{Type: host.EventRPC, Service: 0, Batch: true},
		{Type: host.EventRPC, Service: 3, Failed: true},
		{Type: host.EventCacheGet, Text: "row"},
		{Type: host.EventCachePut, Text: "row", Failed: true},
		{Type: host.EventWatchdogSet},
		{Type: host.EventLog, Text: "hi"},
		{Type: host.EventRunCompleted, Outcome: &host.Outcome{Kind: host.Finished, Duration: time.Millisecond}},
	}
	for _, ev := range events {
		m.OnSessionEvent(ev)
	}

	tests := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"active", m.RunsActive, 0},
		{"finished", m.Runs.WithLabelValues("finished"), 1},
		{"sync ok", m.RPCCalls.WithLabelValues("3", "sync", "ok"), 1},
		{"sync error", m.RPCCalls.WithLabelValues("3", "sync", "error"), 1},
		{"batch", m.RPCCalls.WithLabelValues("0", "batch", "ok"), 1},
		{"cache put refused", m.CacheOps.WithLabelValues("put", "error"), 1},
		{"watchdog set", m.Watchdogs.WithLabelValues("set"), 1},
		{"log", m.KernelLog, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testutil.ToFloat64(tt.c); got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestMetrics_Mailbox(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveMailbox(mailbox.Event{From: mailbox.Kernel, Message: &proto.RunFinished{}})
	m.ObserveMailbox(mailbox.Event{From: mailbox.Kernel, Message: &proto.RunFinished{}})
	m.Rebooted()

	if got := testutil.ToFloat64(m.Messages.WithLabelValues("kernel", "RunFinished")); got != 2 {
		t.Errorf("messages = %v", got)
	}
	if got := testutil.ToFloat64(m.Reboots); got != 1 {
		t.Errorf("reboots = %v", got)
	}
}
