package bridge

import (
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/hcibridge/bufpool"
	"github.com/opd-ai/hcibridge/hci"
	"github.com/opd-ai/hcibridge/transport"
)

// recvState is the deframer's position within a frame.
type recvState uint8

const (
	stateIdle    recvState = iota // waiting for a packet type byte
	stateHeader                   // receiving the fixed header
	statePayload                  // receiving the declared payload
	stateDiscard                  // dropping an unusable frame
)

// discardLen is the size of the stack-local flush buffer: one indicator
// byte plus 32 bytes of data, the footprint of a small ACL frame. Bigger
// frames just take more discard passes.
const discardLen = 33

// AcceptFunc decides which packet types the deframer assembles. Anything
// else is treated as an unrecognized type byte and dropped.
type AcceptFunc func(hci.PacketType) bool

// AcceptInbound accepts the host-to-controller set: commands, ACL data
// and ISO data.
func AcceptInbound(t hci.PacketType) bool {
	return t.ValidInbound()
}

// AcceptOutbound accepts the controller-to-host set: events, ACL data,
// SCO data and ISO data.
func AcceptOutbound(t hci.PacketType) bool {
	return t == hci.Event || t == hci.ACLData || t == hci.SCOData || t == hci.ISOData
}

// Receiver is the stream-to-packet deframer. All state lives in the
// struct. Service is only ever invoked from the transport's notification
// context, which serializes it against itself, so the receiver carries
// no lock of its own.
type Receiver struct {
	tr      transport.ByteTransport
	pool    *bufpool.Pool
	inbound *Queue
	accept  AcceptFunc
	log     *logrus.Entry

	state     recvState
	remaining int
	ptype     hci.PacketType
	hdrLen    int
	hdr       [hci.MaxHeaderLen]byte
	pkt       *hci.Packet
}

// NewReceiver creates a deframer feeding completed packets into inbound.
// A nil accept installs AcceptInbound.
func NewReceiver(tr transport.ByteTransport, pool *bufpool.Pool, inbound *Queue, accept AcceptFunc) *Receiver {
	if accept == nil {
		accept = AcceptInbound
	}
	return &Receiver{
		tr:      tr,
		pool:    pool,
		inbound: inbound,
		accept:  accept,
		log:     logrus.WithField("component", "receiver"),
	}
}

// Service consumes every byte the transport has pending, looping through
// the state machine until a read comes back empty. It never blocks;
// progress resumes on the next read-ready notification.
func (r *Receiver) Service() {
	for {
		var read int
		switch r.state {
		case stateIdle:
			read = r.serviceIdle()
		case stateHeader:
			var stop bool
			read, stop = r.serviceHeader()
			if stop {
				return
			}
		case statePayload:
			read = r.servicePayload()
		case stateDiscard:
			read = r.serviceDiscard()
		default:
			r.log.WithField("state", r.state).Error("deframer in impossible state")
			panic("deframer state corrupted")
		}
		if read == 0 {
			return
		}
	}
}

// serviceIdle reads the packet type byte. Unrecognized types are dropped
// one byte at a time.
func (r *Receiver) serviceIdle() int {
	var t [1]byte
	read := r.tr.Read(t[:])
	if read == 0 {
		return 0
	}
	pt := hci.PacketType(t[0])
	if !r.accept(pt) {
		r.log.WithField("byte", t[0]).Warn("unknown packet indicator")
		return read
	}
	hdrLen, err := pt.HeaderLen()
	if err != nil {
		// accept() passed a type the codec does not know; the
		// accept set is wrong, not the stream.
		r.log.WithField("type", pt).Error("accepted type without header codec")
		return read
	}
	r.ptype = pt
	r.hdrLen = hdrLen
	r.remaining = hdrLen
	r.state = stateHeader
	return read
}

// serviceHeader accumulates the fixed header, then acquires a packet
// buffer and decides between payload and discard. The stop result forces
// Service to return without consuming more bytes this cycle, which is how
// buffer exhaustion yields the notification context.
func (r *Receiver) serviceHeader() (int, bool) {
	read := r.tr.Read(r.hdr[r.hdrLen-r.remaining : r.hdrLen])
	r.remaining -= read
	if r.remaining > 0 {
		return read, false
	}

	pkt, err := r.pool.Get(r.ptype)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"type": r.ptype.String(),
		}).Error("no packet buffers available, dropping frame")
		r.state = stateIdle
		return read, true
	}

	payloadLen, err := r.ptype.PayloadLen(r.hdr[:r.hdrLen])
	if err != nil {
		// Unreachable: the type was validated entering stateHeader.
		r.pool.Put(pkt)
		r.log.WithField("type", r.ptype).Error("header decode failed")
		r.state = stateIdle
		return read, true
	}

	// The packet carries its own wire image: indicator, header, payload.
	if err := pkt.AddByte(byte(r.ptype)); err == nil {
		err = pkt.Add(r.hdr[:r.hdrLen])
	}
	if err != nil {
		r.pool.Put(pkt)
		r.log.WithError(err).Error("packet buffer smaller than a header")
		r.state = stateIdle
		return read, true
	}

	if payloadLen > pkt.Tailroom() {
		r.log.WithFields(logrus.Fields{
			"type":     r.ptype.String(),
			"declared": payloadLen,
			"capacity": pkt.Tailroom(),
		}).Error("declared payload exceeds buffer, discarding frame")
		r.pool.Put(pkt)
		r.remaining = payloadLen
		r.state = stateDiscard
		return read, false
	}

	r.pkt = pkt
	r.remaining = payloadLen
	r.state = statePayload
	return read, false
}

// servicePayload reads payload bytes straight into the packet tail and
// delivers the packet when the declared length is reached.
func (r *Receiver) servicePayload() int {
	read := r.tr.Read(r.pkt.Tail(r.remaining))
	r.pkt.Extend(read)
	r.remaining -= read
	if r.remaining == 0 {
		r.log.WithFields(logrus.Fields{
			"type": r.ptype.String(),
			"len":  r.pkt.Len(),
		}).Debug("packet received")
		r.inbound.Put(r.pkt)
		r.pkt = nil
		r.state = stateIdle
	}
	return read
}

// serviceDiscard drains and drops the remainder of an oversized frame in
// bounded chunks.
func (r *Receiver) serviceDiscard() int {
	var scratch [discardLen]byte
	toRead := r.remaining
	if toRead > len(scratch) {
		toRead = len(scratch)
	}
	read := r.tr.Read(scratch[:toRead])
	r.remaining -= read
	if r.remaining == 0 {
		r.state = stateIdle
	}
	return read
}
