package hci

import (
	"bytes"
	"errors"
	"testing"
)

// TestPacketAppendAndDrain exercises the assemble/drain lifecycle of a
// packet buffer.
func TestPacketAppendAndDrain(t *testing.T) {
	p := NewPacket(ACLData, 8)

	if p.Len() != 0 {
		t.Fatalf("fresh packet has len %d", p.Len())
	}
	if p.Tailroom() != 8 {
		t.Fatalf("fresh packet has tailroom %d, want 8", p.Tailroom())
	}

	if err := p.AddByte(byte(ACLData)); err != nil {
		t.Fatalf("AddByte: %v", err)
	}
	if err := p.Add([]byte{0x01, 0x00, 0x03, 0x00}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// Direct read into the tail, committing only what was "read".
	tail := p.Tail(3)
	if len(tail) != 3 {
		t.Fatalf("Tail(3) returned %d bytes", len(tail))
	}
	copy(tail, []byte{0xaa, 0xbb, 0xcc})
	p.Extend(3)

	want := []byte{0x02, 0x01, 0x00, 0x03, 0x00, 0xaa, 0xbb, 0xcc}
	if !bytes.Equal(p.Bytes(), want) {
		t.Fatalf("Bytes() = %x, want %x", p.Bytes(), want)
	}

	// Drain in two chunks, as a write-ready path would.
	if err := p.Pull(5); err != nil {
		t.Fatalf("Pull(5): %v", err)
	}
	if !bytes.Equal(p.Bytes(), []byte{0xaa, 0xbb, 0xcc}) {
		t.Fatalf("after Pull(5): %x", p.Bytes())
	}
	if err := p.Pull(3); err != nil {
		t.Fatalf("Pull(3): %v", err)
	}
	if p.Len() != 0 {
		t.Fatalf("drained packet has len %d", p.Len())
	}
}

// TestPacketTailroomExhausted verifies append failures at capacity.
func TestPacketTailroomExhausted(t *testing.T) {
	p := NewPacket(Command, 2)

	if err := p.Add([]byte{1, 2}); err != nil {
		t.Fatalf("Add within capacity: %v", err)
	}
	if err := p.AddByte(3); !errors.Is(err, ErrNoTailroom) {
		t.Fatalf("AddByte at capacity = %v, want ErrNoTailroom", err)
	}
	if err := p.Add([]byte{3}); !errors.Is(err, ErrNoTailroom) {
		t.Fatalf("Add at capacity = %v, want ErrNoTailroom", err)
	}
}

// TestPacketPush verifies the single-byte front reserve.
func TestPacketPush(t *testing.T) {
	p := NewPacket(Event, 4)
	if err := p.Add([]byte{0x0e, 0x00}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := p.Push(byte(Event)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if !bytes.Equal(p.Bytes(), []byte{0x04, 0x0e, 0x00}) {
		t.Fatalf("after Push: %x", p.Bytes())
	}

	if err := p.Push(0x00); !errors.Is(err, ErrNoHeadroom) {
		t.Fatalf("second Push = %v, want ErrNoHeadroom", err)
	}
}

// TestPacketPullTooMuch verifies over-drain is rejected.
func TestPacketPullTooMuch(t *testing.T) {
	p := NewPacket(Command, 4)
	if err := p.Add([]byte{1, 2}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := p.Pull(3); !errors.Is(err, ErrShortPacket) {
		t.Fatalf("Pull(3) of 2 = %v, want ErrShortPacket", err)
	}
}

// TestPacketReset verifies pool-recycle behavior.
func TestPacketReset(t *testing.T) {
	p := NewPacket(Command, 4)
	if err := p.Add([]byte{1, 2, 3}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	p.Reset(ISOData)
	if p.Type != ISOData {
		t.Errorf("Type after Reset = %v", p.Type)
	}
	if p.Len() != 0 {
		t.Errorf("Len after Reset = %d", p.Len())
	}
	if p.Tailroom() != 4 {
		t.Errorf("Tailroom after Reset = %d, want 4", p.Tailroom())
	}
	if err := p.Push(0x01); err != nil {
		t.Errorf("Push after Reset should have headroom again: %v", err)
	}
}
