package bridge

import (
	"context"
	"errors"
	"runtime"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/hcibridge/bufpool"
	"github.com/opd-ai/hcibridge/hci"
	"github.com/opd-ai/hcibridge/transport"
)

// PacketSink is the downstream collaborator consuming deframed packets.
// Submit takes ownership on success and on hci.ErrExtHandled the caller
// releases the packet itself; any other error leaves release to the
// caller as well.
type PacketSink interface {
	Submit(p *hci.Packet) error
}

// Bridge couples a Receiver and Sender to one transport and runs the
// dispatch loop between the inbound queue and a downstream sink. It is
// the transport's ReadyHandler: read-ready services the deframer,
// write-ready services the drain.
type Bridge struct {
	Receiver *Receiver
	Sender   *Sender

	tr       transport.ByteTransport
	inbound  *Queue
	registry *CommandRegistry
	log      *logrus.Entry
}

// New wires a bridge to its transport. A nil accept uses AcceptInbound;
// a nil registry means no commands are claimed locally.
func New(tr transport.ByteTransport, pool *bufpool.Pool, accept AcceptFunc, registry *CommandRegistry) *Bridge {
	inbound := NewQueue()
	b := &Bridge{
		Receiver: NewReceiver(tr, pool, inbound, accept),
		Sender:   NewSender(tr),
		tr:       tr,
		inbound:  inbound,
		registry: registry,
		log:      logrus.WithField("component", "bridge"),
	}
	tr.SetReadyHandler(b)
	return b
}

// Inbound exposes the completed-packet queue, for consumers that bypass
// the dispatch loop (the measurement loop reads its direction directly).
func (b *Bridge) Inbound() *Queue {
	return b.inbound
}

// OnReadReady implements transport.ReadyHandler.
func (b *Bridge) OnReadReady() {
	b.Receiver.Service()
}

// OnWriteReady implements transport.ReadyHandler.
func (b *Bridge) OnWriteReady() {
	b.Sender.ServiceWrite()
}

// AnnounceReady emits the NOP command-complete announcement over the
// blocking out-of-band path, for hosts configured to wait for it.
func (b *Bridge) AnnounceReady() error {
	for _, c := range hci.NOPCommandComplete() {
		if err := b.tr.WriteByte(c); err != nil {
			return err
		}
	}
	return nil
}

// RunDispatch consumes the inbound queue until ctx ends: each packet is
// offered to the command registry first, then submitted downstream.
// Handler and submission failures drop the packet; the "already handled"
// sentinel is business as usual. The loop yields after every packet so a
// saturated queue cannot starve other goroutines.
func (b *Bridge) RunDispatch(ctx context.Context, sink PacketSink) error {
	for {
		pkt, err := b.inbound.Get(ctx)
		if err != nil {
			return err
		}

		if b.registry != nil {
			if claimed, herr := b.registry.Dispatch(pkt); claimed {
				if herr != nil && !errors.Is(herr, hci.ErrExtHandled) {
					b.log.WithError(herr).Error("vendor command failed")
				}
				pkt.Release()
				runtime.Gosched()
				continue
			}
		}

		if err := sink.Submit(pkt); err != nil {
			if !errors.Is(err, hci.ErrExtHandled) {
				b.log.WithError(err).Error("downstream submission failed")
			}
			pkt.Release()
		}

		runtime.Gosched()
	}
}
