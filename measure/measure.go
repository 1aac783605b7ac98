// Package measure computes presentation-latency deltas from the
// controller-to-host packet stream.
//
// Two packet shapes carry SDU timestamps: inbound ISO data (the receive
// path's sync reference) and the command complete of LE Read ISO TX Sync
// (the transmit path's timestamp). For each, the loop toggles the timesync
// pin through the correlator, subtracts the embedded timestamp from the
// toggle instant and emits a fixed-width text record over the telemetry
// sinks. All packets are forwarded to the host afterwards, measured or
// not.
package measure

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/hcibridge/bridge"
	"github.com/opd-ai/hcibridge/hci"
	"github.com/opd-ai/hcibridge/synctimer"
)

// Wire offsets of the measured fields.
const (
	// isoTimestampPos is where the SDU sync reference sits in an ISO
	// packet with a timestamp: indicator (1) + ISO header (4).
	isoTimestampPos = 5
	// isoSeqPos is the first payload byte used as the sequence marker.
	isoSeqPos = 13
	// isoMinLen is the shortest ISO packet the receive measurement can
	// decode.
	isoMinLen = isoSeqPos + 1

	// ccOpcodePos is where the completed opcode sits in a command
	// complete event: indicator (1) + event header (2) + ncmd (1).
	ccOpcodePos = 4
	// ccReturnPos is where the return parameters begin.
	ccReturnPos = 6
	// txSync return parameter layout: status (1), handle (2),
	// sequence (2), timestamp (4).
	txSeqOff       = 3
	txTimestampOff = 5
	txMinLen       = ccReturnPos + txTimestampOff + 4
)

// PacketSource yields controller-originated packets; *bridge.Queue
// satisfies it.
type PacketSource interface {
	Get(ctx context.Context) (*hci.Packet, error)
}

// Measurer watches the controller-to-host stream for timestamped packets.
type Measurer struct {
	correlator *synctimer.Correlator
	pin        synctimer.Pin
	sinks      []Sink
	log        *logrus.Entry
}

// New creates a measurer toggling pin for every measured packet and
// emitting records to the given sinks.
func New(correlator *synctimer.Correlator, pin synctimer.Pin, sinks ...Sink) *Measurer {
	return &Measurer{
		correlator: correlator,
		pin:        pin,
		sinks:      sinks,
		log:        logrus.WithField("component", "measure"),
	}
}

// Run forwards packets from src to the host sender until ctx ends,
// measuring the ones that carry timestamps.
func (m *Measurer) Run(ctx context.Context, src PacketSource, sender *bridge.Sender) error {
	for {
		pkt, err := src.Get(ctx)
		if err != nil {
			return err
		}
		m.Inspect(pkt)
		sender.Send(pkt)
	}
}

// Inspect measures a single packet if it is one of the timestamped
// shapes. Packets stay untouched; only their bytes are examined.
func (m *Measurer) Inspect(pkt *hci.Packet) {
	wire := pkt.Bytes()
	if len(wire) == 0 {
		return
	}
	switch hci.PacketType(wire[0]) {
	case hci.ISOData:
		m.measureReceive(wire)
	case hci.Event:
		m.measureTransmit(wire)
	}
}

// measureReceive handles inbound ISO data: the embedded timestamp is the
// SDU sync reference, normally in the future, so the delta is usually
// negative.
func (m *Measurer) measureReceive(wire []byte) {
	if len(wire) < isoMinLen {
		m.log.WithField("len", len(wire)).Warn("ISO packet too short to measure")
		return
	}

	toggle := m.correlator.ToggleAndCapture(m.pin)
	reference := hci.ReadUint32(wire, isoTimestampPos)
	delta := int32(toggle - reference)
	seq := wire[isoSeqPos]

	m.emit(fmt.Sprintf("R%+06d@%02X!", delta, seq))
	m.log.WithFields(logrus.Fields{
		"toggle_us":    toggle,
		"reference_us": reference,
		"delta_us":     delta,
		"seq":          seq,
	}).Info("receive latency sample")
}

// measureTransmit handles the command complete of LE Read ISO TX Sync.
func (m *Measurer) measureTransmit(wire []byte) {
	if len(wire) < txMinLen || wire[1] != hci.EvtCommandComplete {
		return
	}
	if hci.ReadUint16(wire, ccOpcodePos) != hci.OpcodeLEReadISOTXSync {
		return
	}

	toggle := m.correlator.ToggleAndCapture(m.pin)
	ret := wire[ccReturnPos:]
	seq := hci.ReadUint16(ret, txSeqOff)
	txTime := hci.ReadUint32(ret, txTimestampOff)
	delta := int32(toggle - txTime)

	m.emit(fmt.Sprintf("T%+06d@%02X!", delta, byte(seq)))
	m.log.WithFields(logrus.Fields{
		"toggle_us": toggle,
		"tx_us":     txTime,
		"delta_us":  delta,
		"seq":       seq,
	}).Info("transmit latency sample")
}

func (m *Measurer) emit(record string) {
	for _, s := range m.sinks {
		if err := s.Emit(record); err != nil {
			m.log.WithError(err).Warn("telemetry sink failed")
		}
	}
}
