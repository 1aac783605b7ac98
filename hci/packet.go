package hci

import (
	"errors"
	"fmt"
)

// headroom reserves space at the front of every packet buffer so a type
// indicator can be pushed in front of an already composed packet.
const headroom = 1

// Buffer-space errors.
var (
	// ErrNoTailroom indicates an append beyond the buffer capacity.
	ErrNoTailroom = errors.New("no tailroom in packet buffer")
	// ErrNoHeadroom indicates a push when the front reserve is used up.
	ErrNoHeadroom = errors.New("no headroom in packet buffer")
	// ErrShortPacket indicates a pull of more bytes than the packet holds.
	ErrShortPacket = errors.New("pull exceeds packet length")
)

// Recycler takes drained packets back. A buffer pool registers itself as
// the recycler of every packet it hands out, so a packet that crossed
// into another bridge still returns to the pool it came from.
type Recycler interface {
	Put(p *Packet)
}

// Packet is an owned, variable-length frame buffer. The buffer holds the
// wire representation of the frame: the contents between the read and write
// marks are exactly the bytes that go onto (or came off) the byte stream.
//
// A packet has a single owner at any time. The receiver owns it while
// assembling, the queue while parked, the sender while draining. Packets are
// recycled through a bufpool.Pool; none of the methods are safe for
// concurrent use.
type Packet struct {
	// Type is the H4 indicator this packet was framed with. It is a tag;
	// whether the indicator byte is also present in the buffer depends on
	// the framing mode of the path that composed the packet.
	Type PacketType

	data     []byte
	begin    int
	end      int
	recycler Recycler
}

// NewPacket allocates a packet with the given payload capacity plus the
// front reserve.
func NewPacket(t PacketType, capacity int) *Packet {
	return &Packet{
		Type:  t,
		data:  make([]byte, capacity+headroom),
		begin: headroom,
		end:   headroom,
	}
}

// Reset empties the packet and re-tags it for reuse. The recycler binding
// survives; the packet still belongs to the pool that allocated it.
func (p *Packet) Reset(t PacketType) {
	p.Type = t
	p.begin = headroom
	p.end = headroom
}

// SetRecycler binds the packet to its owning pool. Called once by the
// pool at allocation time.
func (p *Packet) SetRecycler(r Recycler) {
	p.recycler = r
}

// Release returns the packet to the pool it was allocated from. A packet
// without a recycler (built directly with NewPacket) is simply dropped.
func (p *Packet) Release() {
	if p.recycler != nil {
		p.recycler.Put(p)
	}
}

// Len returns the number of undrained bytes in the packet.
func (p *Packet) Len() int {
	return p.end - p.begin
}

// Bytes returns the undrained contents of the packet. The slice aliases the
// packet's buffer and is only valid until the next mutation.
func (p *Packet) Bytes() []byte {
	return p.data[p.begin:p.end]
}

// Tailroom returns how many more bytes the packet can hold.
func (p *Packet) Tailroom() int {
	return len(p.data) - p.end
}

// Add appends b to the packet.
func (p *Packet) Add(b []byte) error {
	if len(b) > p.Tailroom() {
		return fmt.Errorf("%w: need %d, have %d", ErrNoTailroom, len(b), p.Tailroom())
	}
	copy(p.data[p.end:], b)
	p.end += len(b)
	return nil
}

// AddByte appends a single byte to the packet.
func (p *Packet) AddByte(c byte) error {
	if p.Tailroom() < 1 {
		return ErrNoTailroom
	}
	p.data[p.end] = c
	p.end++
	return nil
}

// Push prepends a single byte, consuming headroom. Used to place the H4
// indicator in front of a composed event when raw framing is active.
func (p *Packet) Push(c byte) error {
	if p.begin == 0 {
		return ErrNoHeadroom
	}
	p.begin--
	p.data[p.begin] = c
	return nil
}

// Tail returns a writable slice over the next max unused bytes, for reads
// that land directly in the buffer. Commit the bytes actually written with
// Extend.
func (p *Packet) Tail(max int) []byte {
	if room := p.Tailroom(); max > room {
		max = room
	}
	return p.data[p.end : p.end+max]
}

// Extend marks n bytes of tail as written.
func (p *Packet) Extend(n int) {
	p.end += n
}

// Pull drains n bytes from the front of the packet.
func (p *Packet) Pull(n int) error {
	if n > p.Len() {
		return fmt.Errorf("%w: pull %d of %d", ErrShortPacket, n, p.Len())
	}
	p.begin += n
	return nil
}
