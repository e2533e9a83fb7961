package control

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/banshee-data/speedgate/internal/monitoring"
	"github.com/banshee-data/speedgate/internal/plate"
	"github.com/banshee-data/speedgate/internal/queue"
	"github.com/banshee-data/speedgate/internal/timeutil"
	"github.com/banshee-data/speedgate/internal/traffic"
	"github.com/banshee-data/speedgate/internal/units"
)

// Limits are the speed limits and gate geometry used for classification.
type Limits struct {
	DistanceMM     uint32 `json:"distance_mm"`
	LightLimitKMH  uint32 `json:"light_limit_kmh"`
	HeavyLimitKMH  uint32 `json:"heavy_limit_kmh"`
	WarningPercent uint32 `json:"warning_percent"`
}

// LimitFor returns the speed limit for a vehicle class. Unknown vehicles get
// the stricter heavy limit.
func (l Limits) LimitFor(v traffic.VehicleClass) uint32 {
	if v == traffic.Light {
		return l.LightLimitKMH
	}
	return l.HeavyLimitKMH
}

// Config configures a Controller.
type Config struct {
	Limits
	PollInterval   time.Duration
	ResultCapacity int
	Clock          timeutil.Clock
}

// Pipes are the hand-off points the controller reads from and writes to.
type Pipes struct {
	Transits *queue.Bounded[traffic.TransitRecord]
	Display  *queue.Bounded[traffic.DisplayRecord]
	Triggers *queue.Topic[traffic.CameraTrigger]
	Results  *queue.Topic[traffic.CameraResult]
}

// Stats are the controller counters. TriggersPublished counts triggers that
// reached at least one subscriber; TriggersUndelivered counts those that
// reached none.
type Stats struct {
	Transits            uint64 `json:"transits"`
	Normal              uint64 `json:"normal"`
	Warnings            uint64 `json:"warnings"`
	Infractions         uint64 `json:"infractions"`
	TriggersPublished   uint64 `json:"triggers_published"`
	TriggersDropped     uint64 `json:"triggers_dropped"`
	TriggersUndelivered uint64 `json:"triggers_undelivered"`
	ResultsAccepted     uint64 `json:"results_accepted"`
	ResultsRejected     uint64 `json:"results_rejected"`
	ResultsDropped      uint64 `json:"results_dropped"`
	DisplayDropped      uint64 `json:"display_dropped"`
}

// Controller turns transit records into display records and camera
// triggers, and camera results into plate records.
type Controller struct {
	cfg   Config
	pipes Pipes

	resultSubID string
	results     <-chan traffic.CameraResult

	lastTrigger atomic.Uint64

	transits        monitoring.Counter
	normal          monitoring.Counter
	warnings        monitoring.Counter
	infractions     monitoring.Counter
	triggersSent    monitoring.Counter
	triggersLost    monitoring.Counter
	resultsAccepted monitoring.Counter
	resultsRejected monitoring.Counter
}

// NewController subscribes to the result topic and returns a controller
// ready to Run.
func NewController(cfg Config, pipes Pipes) (*Controller, error) {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	if cfg.ResultCapacity < 1 {
		cfg.ResultCapacity = 16
	}
	id, ch, err := pipes.Results.Subscribe(cfg.ResultCapacity)
	if err != nil {
		return nil, fmt.Errorf("subscribe to camera results: %w", err)
	}
	return &Controller{cfg: cfg, pipes: pipes, resultSubID: id, results: ch}, nil
}

// Limits returns the classification parameters in use.
func (c *Controller) Limits() Limits { return c.cfg.Limits }

// HandleTransit classifies one transit, emits its display record and, on an
// infraction, publishes a camera trigger.
func (c *Controller) HandleTransit(rec traffic.TransitRecord) traffic.DisplayRecord {
	c.transits.Inc()

	speed := units.SpeedKMH(c.cfg.DistanceMM, rec.DurationMS)
	limit := c.cfg.LimitFor(rec.Vehicle)
	status := Classify(speed, limit, c.cfg.WarningPercent)

	out := traffic.DisplayRecord{
		SpeedKMH: speed,
		LimitKMH: limit,
		Vehicle:  rec.Vehicle,
		Status:   status,
	}

	switch status {
	case traffic.Normal:
		c.normal.Inc()
	case traffic.Warning:
		c.warnings.Inc()
	case traffic.Infraction:
		c.infractions.Inc()
		out.TriggerID = c.lastTrigger.Add(1)
		if c.pipes.Triggers.Publish(traffic.CameraTrigger{ID: out.TriggerID, SpeedKMH: speed, Vehicle: rec.Vehicle}) > 0 {
			c.triggersSent.Inc()
		} else {
			c.triggersLost.Inc()
			monitoring.Warnf("camera trigger %d reached no camera", out.TriggerID)
		}
		monitoring.Logf("infraction: %d km/h in a %d km/h zone (%s), camera trigger %d", speed, limit, rec.Vehicle, out.TriggerID)
	}

	c.pipes.Display.TryPut(out)
	return out
}

// HandleResult validates a camera result. A valid read of a well-formed
// plate becomes a plate record; anything else is logged and dropped.
func (c *Controller) HandleResult(res traffic.CameraResult) (traffic.DisplayRecord, bool) {
	if !res.ValidRead || !plate.Validate(res.Plate) {
		c.resultsRejected.Inc()
		monitoring.Warnf("camera result for trigger %d rejected (valid_read=%t, plate=%q)", res.TriggerID, res.ValidRead, res.Plate)
		return traffic.DisplayRecord{}, false
	}
	c.resultsAccepted.Inc()
	out := traffic.DisplayRecord{
		Vehicle:   traffic.Unknown,
		Status:    traffic.Infraction,
		Plate:     res.Plate,
		TriggerID: res.TriggerID,
	}
	c.pipes.Display.TryPut(out)
	return out, true
}

// Poll takes at most one transit and one camera result without blocking
// and reports whether it handled anything.
func (c *Controller) Poll() bool {
	worked := false
	if rec, ok := c.pipes.Transits.TryGet(); ok {
		c.HandleTransit(rec)
		worked = true
	}
	select {
	case res, ok := <-c.results:
		if ok {
			c.HandleResult(res)
			worked = true
		}
	default:
	}
	return worked
}

// Run polls on the configured interval until ctx is done, then releases its
// result subscription.
func (c *Controller) Run(ctx context.Context) error {
	ticker := c.cfg.Clock.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	defer c.pipes.Results.Unsubscribe(c.resultSubID)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			c.Poll()
		}
	}
}

// Stats returns a snapshot of the controller counters.
func (c *Controller) Stats() Stats {
	return Stats{
		Transits:            c.transits.Load(),
		Normal:              c.normal.Load(),
		Warnings:            c.warnings.Load(),
		Infractions:         c.infractions.Load(),
		TriggersPublished:   c.triggersSent.Load(),
		TriggersDropped:     c.pipes.Triggers.Dropped(),
		TriggersUndelivered: c.triggersLost.Load(),
		ResultsAccepted:     c.resultsAccepted.Load(),
		ResultsRejected:     c.resultsRejected.Load(),
		ResultsDropped:      c.pipes.Results.Dropped(),
		DisplayDropped:      c.pipes.Display.Dropped(),
	}
}
