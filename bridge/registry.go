package bridge

import (
	"errors"
	"fmt"
	"sync"

	"github.com/opd-ai/hcibridge/hci"
)

// ErrShortCommand indicates a vendor command arrived with fewer parameter
// bytes than its handler requires.
var ErrShortCommand = errors.New("command parameters shorter than registered minimum")

// CommandHandler processes a command packet claimed by the registry. A
// handler that sends its own response returns hci.ErrExtHandled so the
// generic completion path stays quiet.
type CommandHandler func(cmd *hci.Packet) error

// CommandRegistry routes recognized out-of-band command opcodes to local
// handlers before packets reach the downstream stack.
type CommandRegistry struct {
	mu       sync.RWMutex
	handlers map[uint16]registeredCommand
}

type registeredCommand struct {
	minParamLen int
	fn          CommandHandler
}

// NewCommandRegistry creates an empty registry.
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{handlers: make(map[uint16]registeredCommand)}
}

// Register claims an opcode. Commands carrying fewer than minParamLen
// parameter bytes are rejected without reaching the handler.
func (r *CommandRegistry) Register(opcode uint16, minParamLen int, fn CommandHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[opcode] = registeredCommand{minParamLen: minParamLen, fn: fn}
}

// Dispatch runs the handler registered for the packet's opcode, if any.
// The first result reports whether the packet was claimed; when it is,
// the error carries the handler's verdict (including hci.ErrExtHandled).
func (r *CommandRegistry) Dispatch(p *hci.Packet) (bool, error) {
	wire := p.Bytes()
	opcode, ok := hci.CommandOpcode(wire)
	if !ok {
		return false, nil
	}

	r.mu.RLock()
	cmd, claimed := r.handlers[opcode]
	r.mu.RUnlock()
	if !claimed {
		return false, nil
	}

	params := len(wire) - 1 - hci.CommandHeaderLen
	if params < cmd.minParamLen {
		return true, fmt.Errorf("%w: opcode %#04x has %d of %d bytes",
			ErrShortCommand, opcode, params, cmd.minParamLen)
	}
	return true, cmd.fn(p)
}
