// Package timesync implements the vendor timesync HCI command.
//
// The command exists so an external analyzer can correlate host time with
// the bridge's free-running audio sync counter: handling it toggles a
// dedicated GPIO line and returns the counter value of that exact instant,
// captured through the jitter-rejecting protocol so the edge and the
// timestamp cannot disagree.
package timesync

import (
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/hcibridge/bridge"
	"github.com/opd-ai/hcibridge/bufpool"
	"github.com/opd-ai/hcibridge/hci"
	"github.com/opd-ai/hcibridge/synctimer"
)

// MinParamLen is the minimum parameter length of the timesync command.
const MinParamLen = 1

// Handler services the vendor timesync command. The pin is dedicated to
// timesync and must not be shared with the toggle scheduler's output pin.
type Handler struct {
	correlator *synctimer.Correlator
	pin        synctimer.Pin
	sender     *bridge.Sender
	pool       *bufpool.Pool
	rawH4      bool
	log        *logrus.Entry
}

// NewHandler creates the command handler. rawH4 selects whether responses
// carry the leading H4 indicator byte.
func NewHandler(correlator *synctimer.Correlator, pin synctimer.Pin, sender *bridge.Sender, pool *bufpool.Pool, rawH4 bool) *Handler {
	return &Handler{
		correlator: correlator,
		pin:        pin,
		sender:     sender,
		pool:       pool,
		rawH4:      rawH4,
		log:        logrus.WithField("component", "timesync"),
	}
}

// Register claims the vendor timesync opcode in the registry.
func (h *Handler) Register(reg *bridge.CommandRegistry) {
	reg.Register(hci.Opcode(hci.OGFVendor, hci.OCFISOTimesync), MinParamLen, h.Handle)
}

// Handle captures a race-free timestamp paired with the timesync pin
// toggle, sends the command complete itself and returns the
// "already handled" sentinel so no generic completion follows.
func (h *Handler) Handle(cmd *hci.Packet) error {
	h.log.WithFields(logrus.Fields{
		"type": cmd.Type.String(),
		"len":  cmd.Len(),
	}).Info("timesync command")

	timestamp := h.correlator.ToggleAndCapture(h.pin)

	rsp, err := h.pool.Get(hci.Event)
	if err != nil {
		return fmt.Errorf("timesync response: %w", err)
	}

	var params [5]byte
	params[0] = hci.StatusSuccess
	binary.LittleEndian.PutUint32(params[1:], timestamp)
	if err := hci.AppendCommandComplete(rsp, hci.Opcode(hci.OGFVendor, hci.OCFISOTimesync), params[:]); err != nil {
		h.pool.Put(rsp)
		return fmt.Errorf("timesync response: %w", err)
	}
	if h.rawH4 {
		if err := rsp.Push(byte(hci.Event)); err != nil {
			h.pool.Put(rsp)
			return fmt.Errorf("timesync response: %w", err)
		}
	}

	h.sender.Send(rsp)

	h.log.WithField("timestamp_us", timestamp).Info("timesync response sent")
	return hci.ErrExtHandled
}
