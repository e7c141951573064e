package host

import (
	"sync"
	"time"
)

// DefaultClockSlack is added to the counter when the clock is first read so
// the kernel starts with some time in hand.
const DefaultClockSlack = 125_000

// Clock keeps the kernel's timeline across runs. Values are in machine
// units (nanoseconds of the host's monotonic counter).
type Clock struct {
	start  time.Time
	slack  uint64
	now    uint64
	mu     sync.Mutex
	seeded bool
}

// NewClock creates a clock whose counter starts now.
func NewClock(slack uint64) *Clock {
	return &Clock{start: time.Now(), slack: slack}
}

// Counter returns the monotonic counter.
func (c *Clock) Counter() uint64 {
	return uint64(time.Since(c.start).Nanoseconds())
}

// Now returns the saved timeline position, seeding it from the counter on
// first use.
func (c *Clock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.seeded {
		c.now = c.Counter() + c.slack
		c.seeded = true
	}
	return c.now
}

// Save records the position handed back by the kernel.
func (c *Clock) Save(now uint64) {
	c.mu.Lock()
	c.now = now
	c.seeded = true
	c.mu.Unlock()
}

// Reset forgets the saved position; the next Now reseeds.
func (c *Clock) Reset() {
	c.mu.Lock()
	c.now = 0
	c.seeded = false
	c.mu.Unlock()
}
