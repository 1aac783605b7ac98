package synctimer

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultPresentationWindow is the time between the SDU sync reference and
// the simulated audio output edge, in microseconds.
const DefaultPresentationWindow = 10000

// ScheduleState is the toggle scheduler's position in its compare-match
// sequence.
type ScheduleState uint8

const (
	// StateIdle means no schedule is pending.
	StateIdle ScheduleState = iota
	// StateAwaitingReference means a compare is armed for the SDU sync
	// reference instant.
	StateAwaitingReference
	// StateAwaitingOutput means the reference fired and a compare is
	// armed for the audio output instant.
	StateAwaitingOutput
)

// String returns the state name.
func (s ScheduleState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingReference:
		return "awaiting-reference"
	case StateAwaitingOutput:
		return "awaiting-output"
	default:
		return "invalid"
	}
}

// RearmPolicy selects what the scheduler does after the output edge.
type RearmPolicy uint8

const (
	// RearmNone leaves the scheduler in StateAwaitingOutput after the
	// output edge: one measurement per Trigger.
	RearmNone RearmPolicy = iota
	// RearmIdle returns the scheduler to StateIdle after the output
	// edge so a new Trigger can start another cycle.
	RearmIdle
)

// FaultFunc reports an unrecoverable invariant violation. The default
// panics; a fault hook can be injected to report through the transport or
// to capture the fault in tests.
type FaultFunc func(msg string)

// ToggleScheduler drives the three-state presentation-latency sequence on
// a compare-match timer. A Trigger arms a compare delay microseconds out;
// when it matches, the output pin is raised and a second compare is armed
// one presentation window later; when that matches, the pin is dropped.
//
// A compare match observed in StateIdle means the timer fired without a
// schedule, which only state corruption can produce; it is reported
// through the fault hook.
type ToggleScheduler struct {
	timer  CompareTimer
	pin    Pin
	window uint32
	policy RearmPolicy
	log    *logrus.Entry

	mu    sync.Mutex
	state ScheduleState
	fault FaultFunc
}

// NewToggleScheduler wires a scheduler to its timer and output pin and
// registers the compare handler. A window of zero selects
// DefaultPresentationWindow.
func NewToggleScheduler(timer CompareTimer, pin Pin, window uint32, policy RearmPolicy) *ToggleScheduler {
	if window == 0 {
		window = DefaultPresentationWindow
	}
	s := &ToggleScheduler{
		timer:  timer,
		pin:    pin,
		window: window,
		policy: policy,
		log:    logrus.WithField("component", "toggle_scheduler"),
		fault: func(msg string) {
			panic(msg)
		},
	}
	timer.SetCompareHandler(s.onCompare)
	return s
}

// SetFaultHook replaces the fatal fault reporter.
func (s *ToggleScheduler) SetFaultHook(fn FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn != nil {
		s.fault = fn
	}
}

// State returns the current schedule state.
func (s *ToggleScheduler) State() ScheduleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Trigger arms the sequence: the SDU sync reference compare is scheduled
// delay microseconds from now and the scheduler enters
// StateAwaitingReference.
func (s *ToggleScheduler) Trigger(delay uint32) {
	now := s.timer.Capture()
	// A fresh capture channel can report zero before the first tick
	// lands; spin until the counter is live.
	for now == 0 {
		now = s.timer.Capture()
	}
	ref := now + delay

	s.mu.Lock()
	s.state = StateAwaitingReference
	s.mu.Unlock()
	s.timer.ScheduleCompare(ref)

	s.log.WithFields(logrus.Fields{
		"now_us": now,
		"ref_us": ref,
	}).Info("presentation schedule armed")
}

// onCompare is the compare-match handler.
func (s *ToggleScheduler) onCompare(matchTime uint32) {
	s.mu.Lock()
	state := s.state
	var fault FaultFunc
	switch state {
	case StateAwaitingReference:
		s.state = StateAwaitingOutput
	case StateAwaitingOutput:
		if s.policy == RearmIdle {
			s.state = StateIdle
		}
	default:
		fault = s.fault
	}
	s.mu.Unlock()

	switch state {
	case StateAwaitingReference:
		s.pin.Set(true)
		s.timer.ScheduleCompare(matchTime + s.window)
		s.log.WithField("time_us", matchTime).Info("SDU sync reference")
	case StateAwaitingOutput:
		s.pin.Set(false)
		s.log.WithField("time_us", matchTime).Info("audio out")
	default:
		fault("compare match while toggle scheduler is idle")
	}
}
