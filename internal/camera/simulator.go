// Package camera connects the controller's trigger and result topics to an
// enforcement camera: a local simulator for development, or a remote camera
// reached over MQTT.
package camera

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/banshee-data/speedgate/internal/monitoring"
	"github.com/banshee-data/speedgate/internal/queue"
	"github.com/banshee-data/speedgate/internal/timeutil"
	"github.com/banshee-data/speedgate/internal/traffic"
)

// DefaultTriggerCapacity is the trigger subscription buffer used when a
// config leaves it unset.
const DefaultTriggerCapacity = 16

// SimulatorConfig configures a Simulator.
type SimulatorConfig struct {
	// Latency is the simulated capture and OCR time.
	Latency time.Duration
	// UnreadableRate is the probability in [0, 1] that a capture is not
	// readable.
	UnreadableRate float64
	Seed           uint64
	// TriggerCapacity is the trigger subscription buffer.
	TriggerCapacity int
	Clock           timeutil.Clock
}

// Simulator answers every camera trigger with a synthetic plate read.
type Simulator struct {
	cfg      SimulatorConfig
	rng      *rand.Rand
	triggers *queue.Topic[traffic.CameraTrigger]
	results  *queue.Topic[traffic.CameraResult]
}

// NewSimulator creates a simulator between the given topics.
func NewSimulator(cfg SimulatorConfig, triggers *queue.Topic[traffic.CameraTrigger], results *queue.Topic[traffic.CameraResult]) *Simulator {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.TriggerCapacity < 1 {
		cfg.TriggerCapacity = DefaultTriggerCapacity
	}
	return &Simulator{
		cfg:      cfg,
		rng:      rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		triggers: triggers,
		results:  results,
	}
}

// Capture produces the result for one trigger.
func (s *Simulator) Capture(trig traffic.CameraTrigger) traffic.CameraResult {
	if s.rng.Float64() < s.cfg.UnreadableRate {
		return traffic.CameraResult{TriggerID: trig.ID, ValidRead: false}
	}
	return traffic.CameraResult{TriggerID: trig.ID, ValidRead: true, Plate: RandomPlate(s.rng)}
}

// Run answers triggers until ctx is done.
func (s *Simulator) Run(ctx context.Context) error {
	id, triggers, err := s.triggers.Subscribe(s.cfg.TriggerCapacity)
	if err != nil {
		return err
	}
	defer s.triggers.Unsubscribe(id)

	monitoring.Logf("camera simulator running (latency %s, unreadable rate %.2f)", s.cfg.Latency, s.cfg.UnreadableRate)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case trig, ok := <-triggers:
			if !ok {
				return nil
			}
			if s.cfg.Latency > 0 {
				timer := s.cfg.Clock.NewTimer(s.cfg.Latency)
				select {
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				case <-timer.C():
				}
			}
			res := s.Capture(trig)
			monitoring.Logf("camera simulator: trigger %d (%d km/h) -> valid_read=%t plate=%q", trig.ID, trig.SpeedKMH, res.ValidRead, res.Plate)
			s.results.Publish(res)
		}
	}
}

// RandomPlate returns a random Mercosul plate.
func RandomPlate(r *rand.Rand) string {
	b := []byte{
		letter(r), letter(r), letter(r),
		digit(r),
		letter(r),
		digit(r), digit(r),
	}
	return string(b)
}

func letter(r *rand.Rand) byte { return byte('A' + r.IntN(26)) }
func digit(r *rand.Rand) byte  { return byte('0' + r.IntN(10)) }
