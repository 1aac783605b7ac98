// Package hci defines the H4 packet model shared by every component of the
// bridge.
//
// H4 framing places a single indicator byte in front of each HCI packet,
// followed by a type-specific fixed header and a variable payload whose
// length is encoded in the header:
//
//	[type:1][header:N(type)][payload:len(header)]
//
// All multi-byte fields are little-endian. The package provides the packet
// type constants, per-type header sizes, payload length decoding, the Packet
// buffer type used to assemble and drain frames, and builders for the HCI
// event envelopes the bridge emits itself (command complete, the vendor
// debug event).
package hci
