package host

import (
	"testing"
	"time"
)

func TestWatchdogs(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	w := NewWatchdogs(2)
	w.now = func() time.Time { return base }

	a, err := w.Set(100)
	if err != nil {
		t.Fatal(err)
	}
	b, err := w.Set(50)
	if err != nil {
		t.Fatal(err)
	}
	if a == 0 || b == 0 || a == b {
		t.Fatalf("ids %d, %d", a, b)
	}
	if _, err := w.Set(10); err == nil {
		t.Fatal("third watchdog armed past the limit")
	}

	if next, ok := w.Next(); !ok || !next.Equal(base.Add(50*time.Millisecond)) {
		t.Errorf("Next = %v, %t", next, ok)
	}
	if w.Expired(base.Add(49 * time.Millisecond)) {
		t.Error("expired early")
	}
	if !w.Expired(base.Add(50 * time.Millisecond)) {
		t.Error("not expired at deadline")
	}

	if !w.Clear(b) {
		t.Fatal("Clear failed")
	}
	if w.Clear(b) {
		t.Error("double Clear succeeded")
	}
	if w.Expired(base.Add(60 * time.Millisecond)) {
		t.Error("cleared watchdog still expires")
	}

	c, err := w.Set(0)
	if err != nil {
		t.Fatal(err)
	}
	if c != b {
		t.Errorf("cleared id not reused: %d, want %d", c, b)
	}
	if !w.Expired(base) {
		t.Error("zero timeout not expired immediately")
	}

	w.Reset()
	if w.Len() != 0 || w.Expired(base.Add(time.Hour)) {
		t.Error("Reset left watchdogs armed")
	}
	if _, ok := w.Next(); ok {
		t.Error("Next after Reset")
	}
}

func TestWatchdogs_HugeTimeout(t *testing.T) {
	w := NewWatchdogs(0)
	if _, err := w.Set(^uint64(0)); err != nil {
		t.Fatal(err)
	}
	if w.Expired(time.Now().Add(24 * time.Hour)) {
		t.Error("huge timeout wrapped around")
	}
}
