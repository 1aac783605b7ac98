// Package transport abstracts the byte-oriented serial link the bridge
// runs over.
//
// A ByteTransport moves raw bytes with non-blocking best-effort reads and
// writes and signals readiness through edge-style notifications, mirroring
// the FIFO interface of a UART with interrupt-driven I/O. Two
// implementations are provided: Serial over a real serial port and
// Loopback, an in-memory link for tests and bench rigs.
package transport

// ReadyHandler receives transport readiness notifications. The transport
// guarantees the two callbacks are never invoked concurrently with each
// other or with themselves: together they form the single logical
// interrupt context of the link.
type ReadyHandler interface {
	// OnReadReady is invoked when received bytes are available. The
	// handler should read until Read returns zero.
	OnReadReady()

	// OnWriteReady is invoked when the transport can accept more output
	// bytes and write-ready notifications are enabled.
	OnWriteReady()
}

// ByteTransport is the byte-level link the bridge drives.
type ByteTransport interface {
	// Read moves up to len(p) received bytes into p without blocking
	// and returns how many were moved. Zero means no data is pending.
	Read(p []byte) int

	// Write accepts as many bytes of p as the transport can take
	// without blocking and returns how many were accepted.
	Write(p []byte) int

	// WriteByte emits one byte, blocking until the transport takes it.
	// Reserved for out-of-band paths (startup announcements, fault
	// reports) that must not depend on the interrupt machinery.
	WriteByte(b byte) error

	// SetReadyHandler installs the notification target. Must be called
	// before any data can flow.
	SetReadyHandler(h ReadyHandler)

	// EnableWriteReady turns on write-ready notifications. Idempotent;
	// if space is already available a notification follows promptly.
	EnableWriteReady()

	// DisableWriteReady turns off write-ready notifications. Called by
	// the sender when its queue runs dry.
	DisableWriteReady()

	// Close shuts the transport down. No notifications are delivered
	// after Close returns.
	Close() error
}
