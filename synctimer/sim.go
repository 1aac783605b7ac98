package synctimer

import "sync"

// SimTimer is a deterministic CompareTimer for tests. The counter only
// moves when Advance is called; compare matches only fire when Fire is
// called. An optional capture script overrides the counter for a fixed
// sequence of reads, which is how jitter and counter jumps are injected.
type SimTimer struct {
	mu      sync.Mutex
	now     uint32
	script  []uint32
	handler func(uint32)
	compare uint32
	armed   bool
}

// NewSimTimer creates a simulated timer with the counter at start.
func NewSimTimer(start uint32) *SimTimer {
	return &SimTimer{now: start}
}

// Script queues counter readings to be returned by the next Capture calls,
// in order, before the free-running value is used again.
func (t *SimTimer) Script(readings ...uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.script = append(t.script, readings...)
}

// Advance moves the free-running counter forward.
func (t *SimTimer) Advance(d uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now += d
}

// Capture implements Counter.
func (t *SimTimer) Capture() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.script) > 0 {
		v := t.script[0]
		t.script = t.script[1:]
		return v
	}
	return t.now
}

// SetCompareHandler implements CompareTimer.
func (t *SimTimer) SetCompareHandler(fn func(uint32)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = fn
}

// ScheduleCompare implements CompareTimer.
func (t *SimTimer) ScheduleCompare(at uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.compare = at
	t.armed = true
}

// Armed reports whether a compare is pending and at what counter value.
func (t *SimTimer) Armed() (uint32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.compare, t.armed
}

// Fire delivers the pending compare match: the counter jumps to the
// compare value and the handler runs on the calling goroutine. Returns
// false if nothing was armed.
func (t *SimTimer) Fire() bool {
	t.mu.Lock()
	if !t.armed || t.handler == nil {
		t.mu.Unlock()
		return false
	}
	t.armed = false
	at := t.compare
	if int32(at-t.now) > 0 {
		t.now = at
	}
	fn := t.handler
	t.mu.Unlock()
	fn(at)
	return true
}

// FireSpurious invokes the compare handler without anything armed, to
// exercise fault paths.
func (t *SimTimer) FireSpurious(at uint32) {
	t.mu.Lock()
	fn := t.handler
	t.mu.Unlock()
	if fn != nil {
		fn(at)
	}
}

// SimPin is a Pin that records every transition.
type SimPin struct {
	mu      sync.Mutex
	level   bool
	history []bool
}

// Set implements Pin.
func (p *SimPin) Set(level bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.level = level
	p.history = append(p.history, level)
}

// Toggle implements Pin.
func (p *SimPin) Toggle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.level = !p.level
	p.history = append(p.history, p.level)
}

// Level returns the current level.
func (p *SimPin) Level() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// History returns every level the pin has been driven to, in order.
func (p *SimPin) History() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]bool, len(p.history))
	copy(out, p.history)
	return out
}

// Transitions returns how many times the pin was driven.
func (p *SimPin) Transitions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.history)
}
