package host

import (
	"math"
	"sync"
	"time"

	"github.com/wippyai/coredevice/errors"
)

// DefaultMaxWatchdogs bounds the watchdogs armed at once.
const DefaultMaxWatchdogs = 16

// Watchdogs is the table of armed watchdogs. Ids are handles into the table,
// starting at 1; a cleared id is reused by the next Set.
type Watchdogs struct {
	now     func() time.Time
	entries []watchdog
	free    []uint32
	max     int
	active  int
	mu      sync.Mutex
}

type watchdog struct {
	deadline time.Time
	armed    bool
}

// NewWatchdogs creates a table holding at most max watchdogs; max <= 0
// selects DefaultMaxWatchdogs.
func NewWatchdogs(max int) *Watchdogs {
	if max <= 0 {
		max = DefaultMaxWatchdogs
	}
	return &Watchdogs{now: time.Now, max: max}
}

// Set arms a watchdog expiring ms milliseconds from now.
func (w *Watchdogs) Set(ms uint64) (uint32, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.active >= w.max {
		return 0, errors.New(errors.PhaseHost, errors.KindAllocation).
			Value(ms).
			Detail("too many watchdogs (%d armed)", w.active).
			Build()
	}
	e := watchdog{deadline: w.now().Add(millis(ms)), armed: true}
	w.active++

	if n := len(w.free); n > 0 {
		id := w.free[n-1]
		w.free = w.free[:n-1]
		w.entries[id-1] = e
		return id, nil
	}
	w.entries = append(w.entries, e)
	return uint32(len(w.entries)), nil
}

// Clear disarms id. Unknown or already cleared ids are ignored.
func (w *Watchdogs) Clear(id uint32) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if id == 0 || int(id) > len(w.entries) || !w.entries[id-1].armed {
		return false
	}
	w.entries[id-1] = watchdog{}
	w.free = append(w.free, id)
	w.active--
	return true
}

// Expired reports whether any armed watchdog's deadline is not after now.
func (w *Watchdogs) Expired(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, e := range w.entries {
		if e.armed && !e.deadline.After(now) {
			return true
		}
	}
	return false
}

// Next returns the earliest armed deadline.
func (w *Watchdogs) Next() (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var (
		next  time.Time
		found bool
	)
	for _, e := range w.entries {
		if e.armed && (!found || e.deadline.Before(next)) {
			next, found = e.deadline, true
		}
	}
	return next, found
}

// Reset clears every watchdog.
func (w *Watchdogs) Reset() {
	w.mu.Lock()
	w.entries = w.entries[:0]
	w.free = w.free[:0]
	w.active = 0
	w.mu.Unlock()
}

// Len returns the number of armed watchdogs.
func (w *Watchdogs) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

func millis(ms uint64) time.Duration {
	if ms > math.MaxInt64/uint64(time.Millisecond) {
		return math.MaxInt64
	}
	return time.Duration(ms) * time.Millisecond
}
