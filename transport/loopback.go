package transport

import (
	"bytes"
	"sync"
)

// Loopback is an in-memory ByteTransport. Bytes fed with Feed become
// readable by the handler; bytes the handler writes accumulate and can be
// collected with TakeSent. Notifications run synchronously on the calling
// goroutine, serialized by an internal lock so the handler still sees a
// single logical interrupt context.
//
// Read and write chunk limits simulate arbitrary FIFO fill levels, which
// is how tests exercise every possible byte-boundary split of a frame.
type Loopback struct {
	mu       sync.Mutex
	notifyMu sync.Mutex

	rx         bytes.Buffer
	tx         bytes.Buffer
	handler    ReadyHandler
	writeReady bool
	readChunk  int
	writeChunk int
	closed     bool
}

// NewLoopback creates an open loopback transport with no chunk limits.
func NewLoopback() *Loopback {
	return &Loopback{}
}

// SetReadChunk caps how many bytes a single Read call may return.
// Zero removes the cap.
func (l *Loopback) SetReadChunk(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readChunk = n
}

// SetWriteChunk caps how many bytes a single Write call may accept.
// Zero removes the cap.
func (l *Loopback) SetWriteChunk(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writeChunk = n
}

// Feed appends bytes to the receive side and delivers read-ready
// notifications until the handler stops consuming.
func (l *Loopback) Feed(b []byte) {
	l.mu.Lock()
	l.rx.Write(b)
	l.mu.Unlock()
	l.notifyRead()
}

// Sent returns a copy of everything written so far.
func (l *Loopback) Sent() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]byte, l.tx.Len())
	copy(out, l.tx.Bytes())
	return out
}

// TakeSent returns and clears everything written so far.
func (l *Loopback) TakeSent() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]byte, l.tx.Len())
	copy(out, l.tx.Bytes())
	l.tx.Reset()
	return out
}

// Pending returns how many fed bytes have not been read yet.
func (l *Loopback) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rx.Len()
}

// Read implements ByteTransport.
func (l *Loopback) Read(p []byte) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0
	}
	max := len(p)
	if l.readChunk > 0 && max > l.readChunk {
		max = l.readChunk
	}
	n, _ := l.rx.Read(p[:max])
	return n
}

// Write implements ByteTransport.
func (l *Loopback) Write(p []byte) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0
	}
	max := len(p)
	if l.writeChunk > 0 && max > l.writeChunk {
		max = l.writeChunk
	}
	l.tx.Write(p[:max])
	return max
}

// WriteByte implements ByteTransport.
func (l *Loopback) WriteByte(b byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tx.WriteByte(b)
	return nil
}

// SetReadyHandler implements ByteTransport.
func (l *Loopback) SetReadyHandler(h ReadyHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler = h
}

// EnableWriteReady implements ByteTransport. The notification pass always
// runs, even when already enabled: a concurrent drain that is about to
// disable must not swallow the wakeup for a packet enqueued in between.
func (l *Loopback) EnableWriteReady() {
	l.mu.Lock()
	l.writeReady = true
	l.mu.Unlock()
	l.notifyWrite()
}

// DisableWriteReady implements ByteTransport.
func (l *Loopback) DisableWriteReady() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writeReady = false
}

// Close implements ByteTransport.
func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// notifyRead invokes OnReadReady while fed bytes remain and the handler
// keeps consuming them. A pass that consumes nothing ends the loop; the
// leftovers are redelivered on the next Feed, matching a level-style FIFO
// interrupt that re-fires while data is pending.
func (l *Loopback) notifyRead() {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()
	for {
		l.mu.Lock()
		h, pending, closed := l.handler, l.rx.Len(), l.closed
		l.mu.Unlock()
		if h == nil || pending == 0 || closed {
			return
		}
		h.OnReadReady()
		l.mu.Lock()
		after := l.rx.Len()
		l.mu.Unlock()
		if after >= pending {
			return
		}
	}
}

// notifyWrite invokes OnWriteReady until the handler disables write-ready
// notifications or stops making progress.
func (l *Loopback) notifyWrite() {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()
	for {
		l.mu.Lock()
		h, enabled, closed := l.handler, l.writeReady, l.closed
		sent := l.tx.Len()
		l.mu.Unlock()
		if h == nil || !enabled || closed {
			return
		}
		h.OnWriteReady()
		l.mu.Lock()
		progressed := l.tx.Len() > sent
		l.mu.Unlock()
		if !progressed {
			return
		}
	}
}
