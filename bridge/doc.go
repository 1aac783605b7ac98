// Package bridge reframes the byte stream of a serial transport into
// discrete H4 packets and drains outbound packets back onto it.
//
// The Receiver is a four-state deframer (idle, header, payload, discard)
// driven by read-ready notifications; the Sender drains an outbound queue
// as the transport signals write space. Both run on the transport's single
// notification context and never block: byte availability is the only
// suspension boundary, handled by returning until the next notification.
// A Bridge ties the two to a transport; the dispatch loop consumes
// completed inbound packets on its own goroutine and hands them
// downstream, short-circuiting commands claimed by the vendor command
// registry.
package bridge
