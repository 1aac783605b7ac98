package hci

import (
	"encoding/binary"
	"errors"
)

// PacketType is the H4 packet indicator byte.
type PacketType byte

const (
	// Command is a host-to-controller HCI command packet.
	Command PacketType = 0x01
	// ACLData is an ACL data packet, valid in both directions.
	ACLData PacketType = 0x02
	// SCOData is a synchronous connection data packet.
	SCOData PacketType = 0x03
	// Event is a controller-to-host HCI event packet.
	Event PacketType = 0x04
	// ISOData is an isochronous data packet, valid in both directions.
	ISOData PacketType = 0x05
)

// Header sizes for each packet type, in bytes, not counting the leading
// indicator byte.
const (
	CommandHeaderLen = 3 // opcode (2) + parameter length (1)
	ACLHeaderLen     = 4 // handle (2) + data length (2)
	SCOHeaderLen     = 3 // handle (2) + data length (1)
	EventHeaderLen   = 2 // event code (1) + parameter length (1)
	ISOHeaderLen     = 4 // handle+flags (2) + data load length (2)

	// MaxHeaderLen is the size of a header scratch buffer large enough
	// for any packet type.
	MaxHeaderLen = 4
)

// isoDataLoadMask extracts the ISO data load length from the 16-bit length
// field; the upper two bits are reserved for future use.
const isoDataLoadMask = 0x3fff

// ErrUnknownType indicates a packet type byte outside the H4 set.
var ErrUnknownType = errors.New("unknown H4 packet type")

// String returns the conventional short name of the packet type.
func (t PacketType) String() string {
	switch t {
	case Command:
		return "CMD"
	case ACLData:
		return "ACL"
	case SCOData:
		return "SCO"
	case Event:
		return "EVT"
	case ISOData:
		return "ISO"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether t is one of the five H4 packet types.
func (t PacketType) Valid() bool {
	return t >= Command && t <= ISOData
}

// ValidInbound reports whether t may appear on the host-to-controller
// direction of the link. Only commands, ACL data and ISO data travel that
// way; events and SCO data originate at the controller.
func (t PacketType) ValidInbound() bool {
	return t == Command || t == ACLData || t == ISOData
}

// HeaderLen returns the fixed header size that follows the indicator byte
// for the given packet type, or an error for an unknown type.
func (t PacketType) HeaderLen() (int, error) {
	switch t {
	case Command:
		return CommandHeaderLen, nil
	case ACLData:
		return ACLHeaderLen, nil
	case SCOData:
		return SCOHeaderLen, nil
	case Event:
		return EventHeaderLen, nil
	case ISOData:
		return ISOHeaderLen, nil
	default:
		return 0, ErrUnknownType
	}
}

// PayloadLen decodes the declared payload length from a complete header.
// The header slice must hold at least HeaderLen bytes for the type.
func (t PacketType) PayloadLen(hdr []byte) (int, error) {
	switch t {
	case Command:
		return int(hdr[2]), nil
	case ACLData:
		return int(binary.LittleEndian.Uint16(hdr[2:4])), nil
	case SCOData:
		return int(hdr[2]), nil
	case Event:
		return int(hdr[1]), nil
	case ISOData:
		return int(binary.LittleEndian.Uint16(hdr[2:4]) & isoDataLoadMask), nil
	default:
		return 0, ErrUnknownType
	}
}

// ReadUint16 reads a little-endian 16-bit value at the given offset.
func ReadUint16(b []byte, pos int) uint16 {
	return binary.LittleEndian.Uint16(b[pos : pos+2])
}

// ReadUint32 reads a little-endian 32-bit value at the given offset.
func ReadUint32(b []byte, pos int) uint32 {
	return binary.LittleEndian.Uint32(b[pos : pos+4])
}
