package hci

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HCI event codes and opcodes the bridge itself recognizes or emits.
const (
	// EvtCommandComplete is the Command Complete event code.
	EvtCommandComplete = 0x0e
	// EvtVendor is the vendor-specific debug event code.
	EvtVendor = 0xff

	// OGFVendor is the vendor-specific opcode group.
	OGFVendor = 0x3f
	// OCFISOTimesync is the vendor timesync command within OGFVendor.
	OCFISOTimesync = 0x0200

	// OpcodeLEReadISOTXSync is LE Read ISO TX Sync, whose command
	// complete carries the transmit-side SDU timestamp.
	OpcodeLEReadISOTXSync = 0x2061

	// OpcodeNOP is the no-operation opcode used by the startup
	// command-complete announcement.
	OpcodeNOP = 0x0000

	// StatusSuccess is the HCI success status code.
	StatusSuccess = 0x00
)

// ErrExtHandled is the "already handled" sentinel: a command handler has
// composed and sent its own response, so the generic completion path must
// not emit a second one. It flows as an error value but signals success.
var ErrExtHandled = errors.New("command handled, response already sent")

// Opcode combines an opcode group and an opcode command field.
func Opcode(ogf, ocf uint16) uint16 {
	return ogf<<10 | ocf
}

// AppendCommandComplete appends a Command Complete event for the given
// opcode with the given return parameters to p. The event is written
// without the H4 indicator; push one with p.Push if raw framing is active.
func AppendCommandComplete(p *Packet, opcode uint16, params []byte) error {
	total := 3 + len(params) // ncmd + opcode + return parameters
	if total > 0xff {
		return fmt.Errorf("%w: %d bytes of command complete parameters", ErrNoTailroom, len(params))
	}
	hdr := [3]byte{EvtCommandComplete, byte(total), 1}
	if err := p.Add(hdr[:]); err != nil {
		return err
	}
	var op [2]byte
	binary.LittleEndian.PutUint16(op[:], opcode)
	if err := p.Add(op[:]); err != nil {
		return err
	}
	return p.Add(params)
}

// NOPCommandComplete returns the fixed Command Complete announcement for
// the NOP opcode, H4 indicator included. Emitted at startup when the host
// is configured to wait for it before issuing commands.
func NOPCommandComplete() []byte {
	return []byte{byte(Event), EvtCommandComplete, 0x03, 0x01, 0x00, 0x00}
}

// CommandOpcode extracts the opcode of a command packet whose buffer
// starts with the H4 indicator. Returns false if the buffer is too short
// or not a command.
func CommandOpcode(wire []byte) (uint16, bool) {
	if len(wire) < 1+CommandHeaderLen || PacketType(wire[0]) != Command {
		return 0, false
	}
	return ReadUint16(wire, 1), true
}
