package synctimer

import "sync"

// DefaultJitterBound is the acceptance window for the double-read
// protocol, in microseconds. Two back-to-back captures of a healthy
// counter land well inside it; a larger delta means the first reading
// raced a counter update and must be retried.
const DefaultJitterBound = 10

// Correlator produces counter readings that are guaranteed not to have
// raced a concurrent toggle. All captures run under one internal lock, the
// software stand-in for an interrupt-disabled section: the paired GPIO
// action happens before the lock is released, so the returned timestamp
// and the physical edge belong to the same instant.
type Correlator struct {
	counter Counter
	bound   uint32
	mu      sync.Mutex
}

// NewCorrelator creates a correlator over the given counter. A bound of
// zero selects DefaultJitterBound.
func NewCorrelator(counter Counter, bound uint32) *Correlator {
	if bound == 0 {
		bound = DefaultJitterBound
	}
	return &Correlator{counter: counter, bound: bound}
}

// capture runs the jitter-rejection read protocol. Caller holds c.mu.
//
// The counter is read twice; the first reading is accepted only when the
// second lands within the bound ahead of it. On rejection the second
// reading becomes the new first. The accepted value is always the earlier
// of the verified pair.
func (c *Correlator) capture() uint32 {
	first := c.counter.Capture()
	for {
		second := c.counter.Capture()
		delta := int32(second - first)
		if delta >= 0 && delta < int32(c.bound) {
			return first
		}
		first = second
	}
}

// ToggleAndCapture returns a verified counter reading and toggles the pin
// before any other capture or toggle can interleave.
func (c *Correlator) ToggleAndCapture(pin Pin) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := c.capture()
	pin.Toggle()
	return ts
}

// Capture returns a verified counter reading without a paired edge, for
// responses that only need a race-free value.
func (c *Correlator) Capture() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capture()
}
