package assets

import (
	"sync"
	"time"
)

// throttle runs fn once per window, on the trailing edge. The window opens
// with the first Trigger; later triggers inside it are coalesced.
type throttle struct {
	window time.Duration
	fn     func()

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
	running sync.WaitGroup
}

func newThrottle(window time.Duration, fn func()) *throttle {
	return &throttle{window: window, fn: fn}
}

// Trigger records an event.
func (t *throttle) Trigger() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped || t.timer != nil {
		return
	}
	t.timer = time.AfterFunc(t.window, t.fire)
}

func (t *throttle) fire() {
	t.mu.Lock()
	t.timer = nil
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.running.Add(1)
	t.mu.Unlock()

	defer t.running.Done()
	t.fn()
}

// Pending reports whether a window is open.
func (t *throttle) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}

// Stop cancels a pending run and waits for a running one. Later triggers
// are ignored.
func (t *throttle) Stop() {
	t.mu.Lock()
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()

	t.running.Wait()
}
