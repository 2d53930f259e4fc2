package tree

import (
	"sync"
	"time"
)

// InputKind classifies the user inputs that count as tree activity.
type InputKind string

const (
	InputPointer  InputKind = "pointer"
	InputKeyboard InputKind = "keyboard"
	InputScroll   InputKind = "scroll"
	InputFocus    InputKind = "focus"
	InputExpand   InputKind = "expand"
)

// activityTracker flips the tree between active and idle. Any input resets
// the inactivity timer; when it fires the tree is idle and one offload
// pass runs.
type activityTracker struct {
	timeout time.Duration
	onIdle  func()

	mu     sync.Mutex
	timer  *time.Timer
	active bool
	closed bool
}

func newActivityTracker(timeout time.Duration, onIdle func()) *activityTracker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &activityTracker{timeout: timeout, onIdle: onIdle}
}

func (a *activityTracker) mark() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.active = true
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.timeout, a.fire)
}

func (a *activityTracker) fire() {
	a.mu.Lock()
	if a.closed || !a.active {
		a.mu.Unlock()
		return
	}
	a.active = false
	a.mu.Unlock()
	a.onIdle()
}

func (a *activityTracker) isActive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

func (a *activityTracker) stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}
