// Package bufpool provides a fixed-size pool of packet buffers.
//
// The pool models constrained buffer memory: acquisition never blocks and
// never allocates past the configured count. Callers that cannot get a
// buffer drop the frame they were assembling; the pool is the backpressure
// boundary of the bridge.
package bufpool

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/hcibridge/hci"
)

// DefaultCount is the number of buffers a pool holds unless configured
// otherwise.
const DefaultCount = 16

// DefaultCapacity is the default per-buffer capacity in bytes. It covers
// the largest header plus a full ACL/ISO data load for typical LE audio
// traffic.
const DefaultCapacity = 1 + hci.MaxHeaderLen + 512

// ErrOutOfBuffers indicates the pool is exhausted. The caller must drop
// the frame; acquisition is never retried automatically.
var ErrOutOfBuffers = errors.New("out of packet buffers")

// Pool is a bounded free list of packets. Safe for concurrent use.
type Pool struct {
	mu       sync.Mutex
	free     []*hci.Packet
	capacity int
}

// New creates a pool of count buffers, each able to hold capacity bytes.
func New(count, capacity int) *Pool {
	if count <= 0 {
		count = DefaultCount
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	p := &Pool{
		free:     make([]*hci.Packet, 0, count),
		capacity: capacity,
	}
	for i := 0; i < count; i++ {
		pkt := hci.NewPacket(0, capacity)
		pkt.SetRecycler(p)
		p.free = append(p.free, pkt)
	}
	return p
}

// Capacity returns the per-buffer capacity in bytes.
func (p *Pool) Capacity() int {
	return p.capacity
}

// Free returns how many buffers are currently available.
func (p *Pool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Get acquires an empty packet tagged with the given type. Returns
// ErrOutOfBuffers when the pool is exhausted.
func (p *Pool) Get(t hci.PacketType) (*hci.Packet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		logrus.WithFields(logrus.Fields{
			"type": t.String(),
		}).Debug("packet buffer pool exhausted")
		return nil, ErrOutOfBuffers
	}
	pkt := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	pkt.Reset(t)
	return pkt, nil
}

// Put returns a packet to the pool. Releasing nil is a no-op.
func (p *Pool) Put(pkt *hci.Packet) {
	if pkt == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, pkt)
}
