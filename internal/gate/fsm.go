// Package gate turns entry and exit edges from a two-point sensor gate into
// transit records: an axle count and the time the vehicle took to cross
// the gate.
package gate

import (
	"math"

	"github.com/banshee-data/speedgate/internal/traffic"
)

// Phase is the state of a measurement cycle.
type Phase int

const (
	Idle Phase = iota
	Active
)

func (p Phase) String() string {
	if p == Active {
		return "active"
	}
	return "idle"
}

// Outcome reports what Finalize did with the cycle it closed.
type Outcome int

const (
	// OutcomeIdle means there was no cycle to close.
	OutcomeIdle Outcome = iota
	// OutcomeProduced means a transit record was emitted.
	OutcomeProduced
	// OutcomeNoExit means the exit sensor never fired during the cycle.
	OutcomeNoExit
	// OutcomeInvalidTiming means the exit was not strictly after the entry.
	OutcomeInvalidTiming
)

func (o Outcome) String() string {
	switch o {
	case OutcomeProduced:
		return "produced"
	case OutcomeNoExit:
		return "no-exit"
	case OutcomeInvalidTiming:
		return "invalid-timing"
	default:
		return "idle"
	}
}

// FSM is the per-gate measurement state machine. It is not safe for
// concurrent use; a Station owns exactly one.
//
// The first entry edge opens a cycle, every further entry counts another
// axle, and only the first exit edge is timed. The cycle closes when the
// owner calls Finalize after the inactivity timeout.
type FSM struct {
	phase         Phase
	startMS       int64
	endMS         int64
	axles         uint32
	speedMeasured bool
}

// Entry handles an entry-sensor edge at uptime ts and reports whether it
// opened a new cycle.
func (f *FSM) Entry(ts int64) bool {
	if f.phase == Idle {
		*f = FSM{phase: Active, startMS: ts, axles: 1}
		return true
	}
	f.axles++
	return false
}

// Exit handles an exit-sensor edge at uptime ts and reports whether it was
// recorded. Exits while idle or after the first exit of a cycle are ignored.
func (f *FSM) Exit(ts int64) bool {
	if f.phase != Active || f.speedMeasured {
		return false
	}
	f.endMS = ts
	f.speedMeasured = true
	return true
}

// Finalize closes the current cycle. The record is valid only for
// OutcomeProduced; an exit that is not after the entry, or too far after it
// for a uint32 duration, gives OutcomeInvalidTiming. The FSM is always Idle
// afterwards.
func (f *FSM) Finalize() (traffic.TransitRecord, Outcome) {
	defer func() { *f = FSM{} }()

	switch {
	case f.phase == Idle:
		return traffic.TransitRecord{}, OutcomeIdle
	case !f.speedMeasured:
		return traffic.TransitRecord{}, OutcomeNoExit
	case f.endMS <= f.startMS, uint64(f.endMS-f.startMS) > math.MaxUint32:
		return traffic.TransitRecord{}, OutcomeInvalidTiming
	}
	return traffic.TransitRecord{
		StartMS:    f.startMS,
		EndMS:      f.endMS,
		DurationMS: uint32(f.endMS - f.startMS),
		AxleCount:  f.axles,
		Vehicle:    traffic.ClassifyAxles(f.axles),
	}, OutcomeProduced
}

// Phase returns the current phase.
func (f *FSM) Phase() Phase { return f.phase }

// Axles returns the axle count of the open cycle.
func (f *FSM) Axles() uint32 { return f.axles }
