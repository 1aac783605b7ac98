package bridge

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/hcibridge/bufpool"
	"github.com/opd-ai/hcibridge/hci"
	"github.com/opd-ai/hcibridge/transport"
)

// stubSink records submitted packets and answers with scripted errors.
type stubSink struct {
	mu      sync.Mutex
	packets []*hci.Packet
	errs    []error
}

func (s *stubSink) Submit(p *hci.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packets = append(s.packets, p)
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

func (s *stubSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.packets)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

// TestDispatchSubmitsDownstream verifies the worker moves completed
// packets to the sink.
func TestDispatchSubmitsDownstream(t *testing.T) {
	lb := transport.NewLoopback()
	pool := bufpool.New(4, 64)
	b := New(lb, pool, nil, nil)
	sink := &stubSink{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- b.RunDispatch(ctx, sink) }()

	lb.Feed([]byte{0x01, 0xff, 0xff, 0x01, 0x7f})
	waitFor(t, func() bool { return sink.count() == 1 })

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("RunDispatch returned %v", err)
	}
}

// TestDispatchErrorHandling verifies the error taxonomy: the sentinel is
// swallowed, real errors release the packet, success hands ownership to
// the sink.
func TestDispatchErrorHandling(t *testing.T) {
	lb := transport.NewLoopback()
	pool := bufpool.New(4, 64)
	b := New(lb, pool, nil, nil)
	sink := &stubSink{errs: []error{
		hci.ErrExtHandled,
		errors.New("controller rejected packet"),
		nil,
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.RunDispatch(ctx, sink) }()

	frame := []byte{0x01, 0xff, 0xff, 0x01, 0x7f}
	lb.Feed(frame)
	lb.Feed(frame)
	lb.Feed(frame)
	waitFor(t, func() bool { return sink.count() == 3 })

	// Two failures released their buffers; the success is owned by the
	// sink and still out of the pool.
	waitFor(t, func() bool { return pool.Free() == 3 })
}

// TestDispatchVendorRegistry verifies registered opcodes are claimed
// before the sink sees them.
func TestDispatchVendorRegistry(t *testing.T) {
	lb := transport.NewLoopback()
	pool := bufpool.New(4, 64)
	reg := NewCommandRegistry()

	var handled []*hci.Packet
	var handledWire []byte
	reg.Register(hci.Opcode(hci.OGFVendor, hci.OCFISOTimesync), 1, func(cmd *hci.Packet) error {
		handled = append(handled, cmd)
		handledWire = append([]byte{}, cmd.Bytes()...)
		return hci.ErrExtHandled
	})

	b := New(lb, pool, nil, reg)
	sink := &stubSink{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.RunDispatch(ctx, sink) }()

	// The vendor command: opcode 0xfe00, one parameter byte.
	vendor := []byte{0x01, 0x00, 0xfe, 0x01, 0x42}
	other := []byte{0x01, 0x03, 0x0c, 0x00}
	lb.Feed(vendor)
	lb.Feed(other)

	waitFor(t, func() bool { return sink.count() == 1 })
	if len(handled) != 1 {
		t.Fatalf("handler ran %d times, want 1", len(handled))
	}
	if !bytes.Equal(handledWire, vendor) {
		t.Fatalf("handler saw %x, want %x", handledWire, vendor)
	}
	if !bytes.Equal(sink.packets[0].Bytes(), other) {
		t.Fatalf("sink saw %x, want %x", sink.packets[0].Bytes(), other)
	}
	// The claimed command's buffer went back to the pool.
	waitFor(t, func() bool { return pool.Free() == 3 })
}

// TestRegistryMinParamLen verifies short commands are claimed but
// rejected.
func TestRegistryMinParamLen(t *testing.T) {
	reg := NewCommandRegistry()
	ran := false
	reg.Register(0xfe00, 2, func(*hci.Packet) error {
		ran = true
		return nil
	})

	pkt := hci.NewPacket(hci.Command, 16)
	if err := pkt.Add([]byte{0x01, 0x00, 0xfe, 0x01, 0x42}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	claimed, err := reg.Dispatch(pkt)
	if !claimed {
		t.Fatal("short command not claimed")
	}
	if !errors.Is(err, ErrShortCommand) {
		t.Fatalf("err = %v, want ErrShortCommand", err)
	}
	if ran {
		t.Fatal("handler ran despite short parameters")
	}
}

// TestRegistryUnknownOpcodePasses verifies unclaimed traffic flows
// through.
func TestRegistryUnknownOpcodePasses(t *testing.T) {
	reg := NewCommandRegistry()
	reg.Register(0xfe00, 1, func(*hci.Packet) error { return nil })

	pkt := hci.NewPacket(hci.Command, 16)
	if err := pkt.Add([]byte{0x01, 0x03, 0x0c, 0x00}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if claimed, _ := reg.Dispatch(pkt); claimed {
		t.Fatal("unregistered opcode claimed")
	}

	acl := hci.NewPacket(hci.ACLData, 16)
	if err := acl.Add([]byte{0x02, 0x01, 0x00, 0x00, 0x00}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if claimed, _ := reg.Dispatch(acl); claimed {
		t.Fatal("data packet claimed by command registry")
	}
}

// TestQueueBlockingGet verifies Get waits for data and honors
// cancellation.
func TestQueueBlockingGet(t *testing.T) {
	q := NewQueue()

	got := make(chan *hci.Packet, 1)
	go func() {
		p, err := q.Get(context.Background())
		if err != nil {
			return
		}
		got <- p
	}()

	time.Sleep(10 * time.Millisecond)
	want := hci.NewPacket(hci.Command, 4)
	q.Put(want)

	select {
	case p := <-got:
		if p != want {
			t.Fatal("Get returned a different packet")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Get never woke up")
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := q.Get(ctx)
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Get returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled Get never returned")
	}
}

// TestQueueCancelWakesGet races cancellation against the waiter going to
// sleep. Every Get on an empty queue must return the context error no
// matter where the cancel lands relative to its cond registration.
func TestQueueCancelWakesGet(t *testing.T) {
	for i := 0; i < 500; i++ {
		q := NewQueue()
		ctx, cancel := context.WithCancel(context.Background())

		errc := make(chan error, 1)
		go func() {
			_, err := q.Get(ctx)
			errc <- err
		}()
		cancel()

		select {
		case err := <-errc:
			if !errors.Is(err, context.Canceled) {
				t.Fatalf("iteration %d: Get returned %v, want context.Canceled", i, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("iteration %d: cancelled Get never woke up", i)
		}
	}
}

// TestAnnounceReady pins the startup NOP announcement on the wire.
func TestAnnounceReady(t *testing.T) {
	lb := transport.NewLoopback()
	pool := bufpool.New(2, 64)
	b := New(lb, pool, nil, nil)

	if err := b.AnnounceReady(); err != nil {
		t.Fatalf("AnnounceReady: %v", err)
	}
	if got := lb.TakeSent(); !bytes.Equal(got, []byte{0x04, 0x0e, 0x03, 0x01, 0x00, 0x00}) {
		t.Fatalf("announcement = %x", got)
	}
}
