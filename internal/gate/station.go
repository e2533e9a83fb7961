package gate

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/banshee-data/speedgate/internal/monitoring"
	"github.com/banshee-data/speedgate/internal/queue"
	"github.com/banshee-data/speedgate/internal/timeutil"
	"github.com/banshee-data/speedgate/internal/traffic"
)

// DefaultInactivityTimeout is how long a cycle stays open after its last
// entry edge.
const DefaultInactivityTimeout = 2000 * time.Millisecond

// Line identifies which sensor produced an edge.
type Line int

const (
	LineEntry Line = iota
	LineExit
)

func (l Line) String() string {
	if l == LineExit {
		return "exit"
	}
	return "entry"
}

// ParseLine is the inverse of String.
func ParseLine(s string) (Line, error) {
	switch s {
	case "entry", "start":
		return LineEntry, nil
	case "exit", "end":
		return LineExit, nil
	}
	return 0, fmt.Errorf("unknown sensor line %q", s)
}

// Edge is one rising edge on a sensor line.
type Edge struct {
	Line     Line
	UptimeMS int64
}

// StationConfig configures a Station.
type StationConfig struct {
	GateID            string
	InactivityTimeout time.Duration
	EdgeBuffer        int
	Clock             timeutil.Clock
}

// Stats are the station counters.
type Stats struct {
	GateID         string `json:"gate_id"`
	Phase          string `json:"phase"`
	EdgesReceived  uint64 `json:"edges_received"`
	EdgesDropped   uint64 `json:"edges_dropped"`
	EdgesProcessed uint64 `json:"edges_processed"`
	Cycles         uint64 `json:"cycles"`
	Produced       uint64 `json:"produced"`
	NoExit         uint64 `json:"no_exit"`
	InvalidTiming  uint64 `json:"invalid_timing"`
	StrayExits     uint64 `json:"stray_exits"`
	TransitDropped uint64 `json:"transit_dropped"`
}

// Station runs the measurement cycle of one gate. Edge callbacks may be
// called from any goroutine; Run is the only goroutine that touches the FSM.
type Station struct {
	id      string
	timeout time.Duration
	clock   timeutil.Clock
	start   time.Time
	edges   chan Edge
	out     *queue.Bounded[traffic.TransitRecord]

	fsm FSM

	active        atomic.Bool // mirrors fsm.Phase() for Stats
	received      monitoring.Counter
	dropped       monitoring.Counter
	processed     monitoring.Counter
	cycles        monitoring.Counter
	produced      monitoring.Counter
	noExit        monitoring.Counter
	invalidTiming monitoring.Counter
	strayExits    monitoring.Counter
}

// NewStation creates a station that emits finalized transits to out.
func NewStation(cfg StationConfig, out *queue.Bounded[traffic.TransitRecord]) *Station {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = DefaultInactivityTimeout
	}
	if cfg.EdgeBuffer < 1 {
		cfg.EdgeBuffer = 32
	}
	return &Station{
		id:      cfg.GateID,
		timeout: cfg.InactivityTimeout,
		clock:   cfg.Clock,
		start:   cfg.Clock.Now(),
		edges:   make(chan Edge, cfg.EdgeBuffer),
		out:     out,
	}
}

// ID returns the gate identifier.
func (s *Station) ID() string { return s.id }

// Uptime returns the time since the station was created, the timebase used
// by Trigger.
func (s *Station) Uptime() time.Duration { return s.clock.Since(s.start) }

// Trigger records an edge on line, timestamped with the station uptime.
// It never blocks.
func (s *Station) Trigger(line Line) {
	s.TriggerAt(line, s.Uptime().Milliseconds())
}

// TriggerAt records an edge on line with a timestamp supplied by the
// caller, e.g. the uptime reported by the gate controller board. It never
// blocks; if the edge buffer is full the edge is dropped and counted.
func (s *Station) TriggerAt(line Line, uptimeMS int64) {
	s.received.Inc()
	select {
	case s.edges <- Edge{Line: line, UptimeMS: uptimeMS}:
	default:
		s.dropped.Inc()
		monitoring.Warnf("gate %s: edge buffer full, dropped %s edge at %d ms", s.id, line, uptimeMS)
	}
}

// Run processes edges and inactivity timeouts until ctx is done.
func (s *Station) Run(ctx context.Context) error {
	timer := s.clock.NewTimer(s.timeout)
	timer.Stop()
	defer timer.Stop()

	monitoring.Logf("gate %s: station running (timeout %s)", s.id, s.timeout)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-s.edges:
			s.handleEdge(e, timer)
			s.processed.Inc()
		case <-timer.C():
			s.expire(timer)
		}
	}
}

// expire handles a timer fire. Edges already queued at the deadline are
// applied first; if one of them is an entry it re-arms the window and the
// cycle stays open.
func (s *Station) expire(timer timeutil.Timer) {
	rearmed := false
	for drained := false; !drained; {
		select {
		case e := <-s.edges:
			s.handleEdge(e, timer)
			s.processed.Inc()
			rearmed = rearmed || e.Line == LineEntry
		default:
			drained = true
		}
	}
	if !rearmed {
		s.finalize()
	}
}

func (s *Station) handleEdge(e Edge, timer timeutil.Timer) {
	switch e.Line {
	case LineEntry:
		if s.fsm.Entry(e.UptimeMS) {
			s.cycles.Inc()
			s.active.Store(true)
		}
		timer.Reset(s.timeout)
	case LineExit:
		if s.fsm.Phase() == Idle {
			s.strayExits.Inc()
			return
		}
		s.fsm.Exit(e.UptimeMS)
	}
}

func (s *Station) finalize() {
	axles := s.fsm.Axles()
	rec, outcome := s.fsm.Finalize()
	switch outcome {
	case OutcomeIdle:
		// stale fire
		return
	case OutcomeProduced:
		monitoring.Logf("gate %s: Vehicle Detected: %s", s.id, rec)
		s.out.TryPut(rec)
		s.produced.Inc()
	case OutcomeNoExit:
		s.noExit.Inc()
		monitoring.Warnf("gate %s: timeout with %d axle(s) and no exit edge, ignored", s.id, axles)
	case OutcomeInvalidTiming:
		s.invalidTiming.Inc()
		monitoring.Warnf("gate %s: invalid timing (exit not after entry or out of range), ignored", s.id)
	}
	s.active.Store(false)
}

// Stats returns a snapshot of the station counters.
func (s *Station) Stats() Stats {
	phase := Idle
	if s.active.Load() {
		phase = Active
	}
	return Stats{
		GateID:         s.id,
		Phase:          phase.String(),
		EdgesReceived:  s.received.Load(),
		EdgesDropped:   s.dropped.Load(),
		EdgesProcessed: s.processed.Load(),
		Cycles:         s.cycles.Load(),
		Produced:       s.produced.Load(),
		NoExit:         s.noExit.Load(),
		InvalidTiming:  s.invalidTiming.Load(),
		StrayExits:     s.strayExits.Load(),
		TransitDropped: s.out.Dropped(),
	}
}
