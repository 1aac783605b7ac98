package bridge

import (
	"encoding/binary"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/hcibridge/hci"
)

// FaultReporter emits unrecoverable invariant violations to the host as a
// vendor-specific debug event and then halts. It writes through the
// blocking byte path so a corrupted queue or sender cannot get in the way.
type FaultReporter struct {
	tr interface{ WriteByte(b byte) error }
}

// NewFaultReporter creates a reporter over the given blocking byte writer.
func NewFaultReporter(tr interface{ WriteByte(b byte) error }) *FaultReporter {
	return &FaultReporter{tr: tr}
}

// Fatal reports the fault location and panics. The wire format is the
// vendor debug event: event code 0xFF, subcode 0xAA, the source file base
// name NUL-terminated, then a 32-bit line number.
func (f *FaultReporter) Fatal(file string, line uint32) {
	if idx := strings.LastIndexByte(file, '/'); idx >= 0 {
		file = file[idx+1:]
	}

	f.put(byte(hci.Event))
	f.put(hci.EvtVendor)
	f.put(byte(1 + len(file) + 1 + 4))
	f.put(0xaa)
	for i := 0; i < len(file); i++ {
		f.put(file[i])
	}
	f.put(0x00)
	var ln [4]byte
	binary.LittleEndian.PutUint32(ln[:], line)
	for _, b := range ln {
		f.put(b)
	}

	logrus.WithFields(logrus.Fields{
		"file": file,
		"line": line,
	}).Fatal("unrecoverable fault")
}

// FaultHook adapts the reporter to the toggle scheduler's fault hook. The
// fault message rides in the event's string field.
func (f *FaultReporter) FaultHook(msg string) {
	f.Fatal(msg, 0)
}

func (f *FaultReporter) put(b byte) {
	// Best effort: the process is going down either way.
	_ = f.tr.WriteByte(b)
}
