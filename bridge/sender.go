package bridge

import (
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/hcibridge/hci"
	"github.com/opd-ai/hcibridge/transport"
)

// Sender drains outbound packets onto the byte stream. Producers hand
// packets over with Send from any goroutine; the draining itself happens
// in ServiceWrite on the transport's notification context, which is the
// only toucher of the current-packet slot.
//
// Drained packets are released through their own recycler, so packets
// that crossed over from the other bridge go back to the pool that
// allocated them.
type Sender struct {
	tr       transport.ByteTransport
	outbound *Queue
	log      *logrus.Entry

	cur *hci.Packet
}

// NewSender creates a sender over the transport.
func NewSender(tr transport.ByteTransport) *Sender {
	return &Sender{
		tr:       tr,
		outbound: NewQueue(),
		log:      logrus.WithField("component", "sender"),
	}
}

// Send enqueues a packet for transmission and turns write-ready
// notifications back on. Ownership of the packet passes to the sender;
// it is released to the pool once fully drained.
func (s *Sender) Send(p *hci.Packet) {
	s.log.WithFields(logrus.Fields{
		"type": p.Type.String(),
		"len":  p.Len(),
	}).Debug("packet queued for transmit")
	s.outbound.Put(p)
	s.tr.EnableWriteReady()
}

// Submit implements PacketSink, so a sender can stand in as a downstream
// collaborator when bridging two transports back to back.
func (s *Sender) Submit(p *hci.Packet) error {
	s.Send(p)
	return nil
}

// ServiceWrite moves bytes from the current packet into the transport.
// With no packet in progress it dequeues the next one; with nothing
// queued it disables write-ready notifications until the next Send.
func (s *Sender) ServiceWrite() {
	if s.cur == nil {
		p, ok := s.outbound.TryGet()
		if !ok {
			s.tr.DisableWriteReady()
			return
		}
		s.cur = p
	}

	n := s.tr.Write(s.cur.Bytes())
	if err := s.cur.Pull(n); err != nil {
		// Write reported more bytes than the packet holds; the
		// transport is misbehaving and the packet is unrecoverable.
		s.log.WithError(err).Error("transport overran packet during drain")
		s.cur.Release()
		s.cur = nil
		return
	}
	if s.cur.Len() == 0 {
		s.cur.Release()
		s.cur = nil
	}
}
