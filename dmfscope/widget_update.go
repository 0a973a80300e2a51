package main

import (
	"sync"
	"time"

	"fyne.io/fyne/v2"
)

// UpdateWidgetOnMainThread schedules a widget update function to run on the main Fyne thread.
// Fyne widgets cannot be updated directly from goroutines.
// The callback should copy data quickly and return as fast as possible.
func UpdateWidgetOnMainThread(callback func()) {
	if callback == nil {
		return
	}
	fyne.Do(callback)
}

// throttle limits how often the scope is redrawn.
type throttle struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

func newThrottle(interval time.Duration) *throttle {
	return &throttle{interval: interval}
}

// Allow reports whether an update at now is due and records it if so.
func (t *throttle) Allow(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.last.IsZero() && now.Sub(t.last) < t.interval {
		return false
	}
	t.last = now
	return true
}
