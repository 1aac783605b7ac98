// Package synctimer pairs a free-running microsecond counter with GPIO
// edges for end-to-end latency measurement.
//
// Three pieces cooperate. The Correlator captures a counter reading that
// is guaranteed not to have raced a concurrent toggle, using a double-read
// jitter-rejection protocol under a short critical section. The
// ToggleScheduler drives a three-state compare-match sequence that raises
// an output pin at a scheduled presentation reference and drops it one
// presentation window later. The hardware interfaces (Counter,
// CompareTimer, Pin) abstract the timer and GPIO drivers; ClockTimer and
// LogPin back them with host facilities, SimTimer and SimPin with scripted
// deterministic fakes for tests.
package synctimer
