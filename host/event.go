package host

import (
	"github.com/google/uuid"
)

// EventType identifies a session event.
type EventType uint8

const (
	EventRunStarted EventType = iota
	EventRunCompleted
	EventRPC
	EventCacheGet
	EventCachePut
	EventWatchdogSet
	EventWatchdogClear
	EventLog
)

func (t EventType) String() string {
	switch t {
	case EventRunStarted:
		return "run_started"
	case EventRunCompleted:
		return "run_completed"
	case EventRPC:
		return "rpc"
	case EventCacheGet:
		return "cache_get"
	case EventCachePut:
		return "cache_put"
	case EventWatchdogSet:
		return "watchdog_set"
	case EventWatchdogClear:
		return "watchdog_clear"
	case EventLog:
		return "log"
	}
	return "unknown"
}

// Event describes something the session did on the kernel's behalf.
type Event struct {
	Outcome *Outcome // EventRunCompleted
	Text    string   // cache key, log line
	Service uint32   // EventRPC
	Type    EventType
	Run     uuid.UUID
	Batch   bool // EventRPC: queued until the run ends
	Failed  bool // RPC raised, cache put refused
}

// Observer receives session events. Calls are made from the goroutine
// running the session and must not block.
type Observer interface {
	OnSessionEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnSessionEvent(ev Event) { f(ev) }
