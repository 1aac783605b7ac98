package bridge

import (
	"container/list"
	"context"
	"sync"

	"github.com/opd-ai/hcibridge/hci"
)

// Queue is an unbounded packet FIFO shared across goroutines. Put never
// blocks; Get blocks until a packet arrives or the context ends. Any
// number of producers and consumers may use it concurrently.
type Queue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items list.List
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Put appends a packet. Never blocks.
func (q *Queue) Put(p *hci.Packet) {
	q.mu.Lock()
	q.items.PushBack(p)
	q.mu.Unlock()
	q.cond.Broadcast()
}

// TryGet removes the front packet without waiting. The second result is
// false when the queue is empty.
func (q *Queue) TryGet() (*hci.Packet, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	front := q.items.Front()
	if front == nil {
		return nil, false
	}
	q.items.Remove(front)
	return front.Value.(*hci.Packet), true
}

// Get removes the front packet, waiting for one if necessary. Returns the
// context error if ctx ends first.
func (q *Queue) Get(ctx context.Context) (*hci.Packet, error) {
	// The broadcast must be ordered against the waiter's ctx.Err check,
	// which runs under q.mu: taking the lock first means the callback
	// either runs before the check (which then sees the error) or after
	// the waiter is registered with the cond (and gets woken).
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.cond.Broadcast()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if front := q.items.Front(); front != nil {
			q.items.Remove(front)
			return front.Value.(*hci.Packet), nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		q.cond.Wait()
	}
}

// Len returns the number of queued packets.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}
