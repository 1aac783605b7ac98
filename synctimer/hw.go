package synctimer

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Counter is a free-running 32-bit microsecond counter. Capture must be
// cheap; the correlator calls it back to back.
type Counter interface {
	Capture() uint32
}

// CompareTimer is a Counter with a single compare-match channel. The
// compare handler is registered once at setup; ScheduleCompare re-arms the
// channel at an absolute counter value. The handler receives the compare
// value that matched.
type CompareTimer interface {
	Counter
	SetCompareHandler(fn func(matchTime uint32))
	ScheduleCompare(at uint32)
}

// Pin is an output GPIO line.
type Pin interface {
	Set(level bool)
	Toggle()
}

// ClockTimer implements CompareTimer on the host monotonic clock. The
// counter runs at 1 MHz from the moment the timer is created and wraps at
// 32 bits like its hardware counterpart.
type ClockTimer struct {
	start time.Time

	mu      sync.Mutex
	handler func(uint32)
	pending *time.Timer
}

// NewClockTimer starts a host-clock timer.
func NewClockTimer() *ClockTimer {
	return &ClockTimer{start: time.Now()}
}

// Capture implements Counter.
func (t *ClockTimer) Capture() uint32 {
	return uint32(time.Since(t.start).Microseconds())
}

// SetCompareHandler implements CompareTimer.
func (t *ClockTimer) SetCompareHandler(fn func(uint32)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = fn
}

// ScheduleCompare implements CompareTimer. Scheduling replaces any pending
// compare, matching a single-channel hardware timer.
func (t *ClockTimer) ScheduleCompare(at uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending != nil {
		t.pending.Stop()
	}
	delta := int32(at - t.Capture())
	if delta < 0 {
		delta = 0
	}
	t.pending = time.AfterFunc(time.Duration(delta)*time.Microsecond, func() {
		t.mu.Lock()
		fn := t.handler
		t.mu.Unlock()
		if fn != nil {
			fn(at)
		}
	})
}

// Stop cancels any pending compare.
func (t *ClockTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
}

// LogPin is a Pin that records level changes to the log, for running the
// bridge on hosts without GPIO hardware.
type LogPin struct {
	name string

	mu    sync.Mutex
	level bool
}

// NewLogPin creates a named logging pin, initially low.
func NewLogPin(name string) *LogPin {
	return &LogPin{name: name}
}

// Set implements Pin.
func (p *LogPin) Set(level bool) {
	p.mu.Lock()
	p.level = level
	p.mu.Unlock()
	logrus.WithFields(logrus.Fields{
		"pin":   p.name,
		"level": level,
	}).Debug("pin set")
}

// Toggle implements Pin.
func (p *LogPin) Toggle() {
	p.mu.Lock()
	p.level = !p.level
	level := p.level
	p.mu.Unlock()
	logrus.WithFields(logrus.Fields{
		"pin":   p.name,
		"level": level,
	}).Debug("pin toggled")
}

// Level returns the current pin level.
func (p *LogPin) Level() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}
