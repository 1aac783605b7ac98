package bridge

import (
	"bytes"
	"testing"

	"github.com/opd-ai/hcibridge/bufpool"
	"github.com/opd-ai/hcibridge/hci"
	"github.com/opd-ai/hcibridge/transport"
)

// rig bundles a loopback transport, pool and receiver for deframer tests.
type rig struct {
	lb      *transport.Loopback
	pool    *bufpool.Pool
	inbound *Queue
	recv    *Receiver
}

// rxOnly is a ReadyHandler that only services the deframer.
type rxOnly struct{ r *Receiver }

func (h rxOnly) OnReadReady()  { h.r.Service() }
func (h rxOnly) OnWriteReady() {}

func newRig(poolCount, poolCap int) *rig {
	lb := transport.NewLoopback()
	pool := bufpool.New(poolCount, poolCap)
	inbound := NewQueue()
	recv := NewReceiver(lb, pool, inbound, nil)
	lb.SetReadyHandler(rxOnly{recv})
	return &rig{lb: lb, pool: pool, inbound: inbound, recv: recv}
}

// TestDeframerExamples feeds the canonical frame vectors at every chunk
// size and expects identical packets regardless of boundaries.
func TestDeframerExamples(t *testing.T) {
	tests := []struct {
		name  string
		wire  []byte
		ptype hci.PacketType
	}{
		{
			name:  "acl with three payload bytes",
			wire:  []byte{0x02, 0x01, 0x00, 0x03, 0x00, 0xaa, 0xbb, 0xcc},
			ptype: hci.ACLData,
		},
		{
			name:  "vendor command with one parameter",
			wire:  []byte{0x01, 0xff, 0xff, 0x01, 0x7f},
			ptype: hci.Command,
		},
		{
			name:  "command with no parameters",
			wire:  []byte{0x01, 0x03, 0x0c, 0x00},
			ptype: hci.Command,
		},
		{
			name: "iso with timestamp",
			wire: []byte{
				0x05, 0x01, 0x60, 0x0d, 0x00,
				0x10, 0x20, 0x30, 0x40, 0x05, 0x00, 0x07, 0x00,
				0xde, 0xad, 0xbe, 0xef, 0x01,
			},
			ptype: hci.ISOData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for chunk := 1; chunk <= len(tt.wire); chunk++ {
				r := newRig(4, 64)
				r.lb.SetReadChunk(chunk)

				r.lb.Feed(tt.wire)

				pkt, ok := r.inbound.TryGet()
				if !ok {
					t.Fatalf("chunk %d: no packet delivered", chunk)
				}
				if pkt.Type != tt.ptype {
					t.Errorf("chunk %d: type = %v, want %v", chunk, pkt.Type, tt.ptype)
				}
				if !bytes.Equal(pkt.Bytes(), tt.wire) {
					t.Errorf("chunk %d: packet = %x, want %x", chunk, pkt.Bytes(), tt.wire)
				}
				if _, extra := r.inbound.TryGet(); extra {
					t.Errorf("chunk %d: more than one packet delivered", chunk)
				}
			}
		})
	}
}

// TestDeframerUnknownTypeDropped verifies unrecognized indicator bytes are
// consumed without disturbing the frames around them.
func TestDeframerUnknownTypeDropped(t *testing.T) {
	r := newRig(4, 64)

	// Garbage, then a valid command, then more garbage.
	r.lb.Feed([]byte{0x00, 0x99, 0xff})
	r.lb.Feed([]byte{0x01, 0xff, 0xff, 0x01, 0x7f})
	r.lb.Feed([]byte{0x42})

	pkt, ok := r.inbound.TryGet()
	if !ok {
		t.Fatal("valid command not delivered")
	}
	if !bytes.Equal(pkt.Bytes(), []byte{0x01, 0xff, 0xff, 0x01, 0x7f}) {
		t.Fatalf("packet = %x", pkt.Bytes())
	}
	if _, extra := r.inbound.TryGet(); extra {
		t.Fatal("garbage produced a packet")
	}
	if r.lb.Pending() != 0 {
		t.Fatalf("%d bytes left unconsumed", r.lb.Pending())
	}
}

// TestDeframerEventRejectedInbound verifies the inbound direction drops
// controller-originated types.
func TestDeframerEventRejectedInbound(t *testing.T) {
	r := newRig(4, 64)

	r.lb.Feed([]byte{0x04, 0x0e, 0x03, 0x01, 0x00, 0x00})

	if _, got := r.inbound.TryGet(); got {
		t.Fatal("event packet delivered on inbound direction")
	}
}

// TestDeframerOversizedPayloadDiscarded verifies the discard path consumes
// exactly the declared length and then recovers.
func TestDeframerOversizedPayloadDiscarded(t *testing.T) {
	r := newRig(2, 64)

	// ACL header declaring 0xFFFF payload bytes, far beyond capacity.
	r.lb.Feed([]byte{0x02, 0x01, 0x00, 0xff, 0xff})
	if _, got := r.inbound.TryGet(); got {
		t.Fatal("oversized frame delivered a packet")
	}

	// Exactly 0xFFFF bytes must be dropped; drip them in uneven chunks.
	junk := make([]byte, 0xffff)
	for i := range junk {
		junk[i] = byte(i)
	}
	r.lb.Feed(junk[:10000])
	r.lb.Feed(junk[10000:40000])
	r.lb.Feed(junk[40000:])

	if _, got := r.inbound.TryGet(); got {
		t.Fatal("discarded bytes produced a packet")
	}
	if r.lb.Pending() != 0 {
		t.Fatalf("%d discard bytes left unconsumed", r.lb.Pending())
	}

	// The byte after the discarded run starts a fresh frame.
	r.lb.Feed([]byte{0x01, 0xff, 0xff, 0x01, 0x7f})
	pkt, ok := r.inbound.TryGet()
	if !ok {
		t.Fatal("receiver did not recover after discard")
	}
	if !bytes.Equal(pkt.Bytes(), []byte{0x01, 0xff, 0xff, 0x01, 0x7f}) {
		t.Fatalf("post-discard packet = %x", pkt.Bytes())
	}
}

// TestDeframerOutOfBuffers verifies buffer exhaustion abandons only the
// in-flight frame.
func TestDeframerOutOfBuffers(t *testing.T) {
	r := newRig(1, 64)

	// Drain the pool so header completion cannot acquire a buffer.
	hostage, err := r.pool.Get(hci.Command)
	if err != nil {
		t.Fatalf("priming Get: %v", err)
	}

	r.lb.Feed([]byte{0x02, 0x01, 0x00, 0x03, 0x00})
	if _, got := r.inbound.TryGet(); got {
		t.Fatal("packet delivered with an exhausted pool")
	}

	// With buffers back, a complete new frame goes through.
	r.pool.Put(hostage)
	r.lb.Feed([]byte{0x02, 0x01, 0x00, 0x01, 0x00, 0x5a})
	pkt, ok := r.inbound.TryGet()
	if !ok {
		t.Fatal("receiver did not recover after pool exhaustion")
	}
	if !bytes.Equal(pkt.Bytes(), []byte{0x02, 0x01, 0x00, 0x01, 0x00, 0x5a}) {
		t.Fatalf("packet = %x", pkt.Bytes())
	}
}

// TestDeframerZeroLengthPayload verifies frames with an empty payload are
// delivered.
func TestDeframerZeroLengthPayload(t *testing.T) {
	r := newRig(4, 64)

	r.lb.Feed([]byte{0x01, 0x03, 0x0c, 0x00})
	pkt, ok := r.inbound.TryGet()
	if !ok {
		t.Fatal("zero-payload command not delivered")
	}
	if pkt.Len() != 4 {
		t.Fatalf("packet len = %d, want 4", pkt.Len())
	}
}

// TestDeframerInterleavedFrames verifies several frames in one burst all
// come out intact.
func TestDeframerInterleavedFrames(t *testing.T) {
	r := newRig(8, 64)

	var burst []byte
	frames := [][]byte{
		{0x01, 0xff, 0xff, 0x01, 0x7f},
		{0x02, 0x01, 0x00, 0x03, 0x00, 0xaa, 0xbb, 0xcc},
		{0x01, 0x03, 0x0c, 0x00},
		{0x05, 0x01, 0x00, 0x02, 0x00, 0x11, 0x22},
	}
	for _, f := range frames {
		burst = append(burst, f...)
	}
	r.lb.SetReadChunk(5)
	r.lb.Feed(burst)

	for i, want := range frames {
		pkt, ok := r.inbound.TryGet()
		if !ok {
			t.Fatalf("frame %d not delivered", i)
		}
		if !bytes.Equal(pkt.Bytes(), want) {
			t.Errorf("frame %d = %x, want %x", i, pkt.Bytes(), want)
		}
	}
}
