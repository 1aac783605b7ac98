package transport

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// txFIFOLen is the capacity of the software transmit FIFO sitting between
// the non-blocking Write and the blocking port writer.
const txFIFOLen = 1024

// rxChunkLen is the read size of the receive pump.
const rxChunkLen = 256

// ErrTransportClosed indicates an operation on a closed transport.
var ErrTransportClosed = errors.New("transport closed")

// Serial is a ByteTransport over a physical serial port. Two internal
// goroutines adapt the port's blocking I/O to the non-blocking FIFO
// contract: a receive pump that fills a buffer and fires read-ready
// notifications, and a transmit drainer that empties the software FIFO
// and fires write-ready notifications as space frees up.
type Serial struct {
	port serial.Port
	log  *logrus.Entry

	mu         sync.Mutex
	notifyMu   sync.Mutex
	rx         *byteRing
	tx         *byteRing
	handler    ReadyHandler
	writeReady bool
	closed     bool

	txWake chan struct{}
	done   chan struct{}
}

// OpenSerial opens the named port at the given baud rate, 8N1.
func OpenSerial(device string, baud int) (*Serial, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", device, err)
	}

	s := &Serial{
		port:   port,
		log:    logrus.WithField("device", device),
		rx:     newByteRing(4 * rxChunkLen),
		tx:     newByteRing(txFIFOLen),
		txWake: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go s.rxPump()
	go s.txDrain()
	s.log.WithField("baud", baud).Info("serial transport open")
	return s, nil
}

// Read implements ByteTransport.
func (s *Serial) Read(p []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rx.take(p)
}

// Write implements ByteTransport.
func (s *Serial) Write(p []byte) int {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0
	}
	n := s.tx.put(p)
	s.mu.Unlock()
	if n > 0 {
		s.kickTx()
	}
	return n
}

// WriteByte implements ByteTransport. It spins on the software FIFO until
// the byte is accepted, the poll-out of last resort.
func (s *Serial) WriteByte(b byte) error {
	one := [1]byte{b}
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return ErrTransportClosed
		}
		n := s.tx.put(one[:])
		s.mu.Unlock()
		if n == 1 {
			s.kickTx()
			return nil
		}
		time.Sleep(time.Millisecond)
	}
}

// SetReadyHandler implements ByteTransport.
func (s *Serial) SetReadyHandler(h ReadyHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// EnableWriteReady implements ByteTransport.
func (s *Serial) EnableWriteReady() {
	s.mu.Lock()
	s.writeReady = true
	s.mu.Unlock()
	s.notifyWrite()
}

// DisableWriteReady implements ByteTransport.
func (s *Serial) DisableWriteReady() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeReady = false
}

// Close implements ByteTransport.
func (s *Serial) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	close(s.done)
	return s.port.Close()
}

func (s *Serial) kickTx() {
	select {
	case s.txWake <- struct{}{}:
	default:
	}
}

// rxPump moves bytes from the port into the receive ring and notifies the
// handler. Runs until the port is closed.
func (s *Serial) rxPump() {
	buf := make([]byte, rxChunkLen)
	for {
		n, err := s.port.Read(buf)
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				s.log.WithError(err).Error("serial read failed")
			}
			return
		}
		if n == 0 {
			continue
		}
		rem := buf[:n]
		for len(rem) > 0 {
			s.mu.Lock()
			taken := s.rx.put(rem)
			s.mu.Unlock()
			rem = rem[taken:]
			s.notifyRead()
			if taken == 0 {
				// Receive ring full and the handler is not
				// consuming; shed the rest of this chunk.
				s.log.WithField("dropped", len(rem)).Warn("receive overrun")
				break
			}
		}
	}
}

// txDrain writes buffered output to the port and reports freed space.
func (s *Serial) txDrain() {
	chunk := make([]byte, rxChunkLen)
	for {
		select {
		case <-s.done:
			return
		case <-s.txWake:
		}
		for {
			s.mu.Lock()
			n := s.tx.take(chunk)
			s.mu.Unlock()
			if n == 0 {
				break
			}
			off := 0
			for off < n {
				w, err := s.port.Write(chunk[off:n])
				if err != nil {
					s.mu.Lock()
					closed := s.closed
					s.mu.Unlock()
					if !closed {
						s.log.WithError(err).Error("serial write failed")
					}
					return
				}
				off += w
			}
			s.notifyWrite()
		}
	}
}

// notifyRead delivers read-ready notifications while received bytes are
// pending and the handler consumes them.
func (s *Serial) notifyRead() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	for {
		s.mu.Lock()
		h, pending, closed := s.handler, s.rx.len(), s.closed
		s.mu.Unlock()
		if h == nil || pending == 0 || closed {
			return
		}
		h.OnReadReady()
		s.mu.Lock()
		after := s.rx.len()
		s.mu.Unlock()
		if after >= pending {
			return
		}
	}
}

// notifyWrite delivers write-ready notifications while enabled, FIFO space
// is available and the handler keeps producing.
func (s *Serial) notifyWrite() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	for {
		s.mu.Lock()
		h, enabled, closed := s.handler, s.writeReady, s.closed
		space := s.tx.free()
		buffered := s.tx.len()
		s.mu.Unlock()
		if h == nil || !enabled || closed || space == 0 {
			return
		}
		h.OnWriteReady()
		s.mu.Lock()
		progressed := s.tx.len() > buffered
		s.mu.Unlock()
		if progressed {
			s.kickTx()
		} else {
			return
		}
	}
}
