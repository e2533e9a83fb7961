package control

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/speedgate/internal/monitoring"
	"github.com/banshee-data/speedgate/internal/queue"
	"github.com/banshee-data/speedgate/internal/timeutil"
	"github.com/banshee-data/speedgate/internal/traffic"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

var testLimits = Limits{DistanceMM: 3000, LightLimitKMH: 60, HeavyLimitKMH: 40, WarningPercent: 80}

type fixture struct {
	ctrl     *Controller
	pipes    Pipes
	triggers <-chan traffic.CameraTrigger
}

func newFixture(t *testing.T, displayCap int) *fixture {
	t.Helper()
	pipes := Pipes{
		Transits: queue.NewBounded[traffic.TransitRecord]("transit", 10),
		Display:  queue.NewBounded[traffic.DisplayRecord]("display", displayCap),
		Triggers: queue.NewTopic[traffic.CameraTrigger]("trigger"),
		Results:  queue.NewTopic[traffic.CameraResult]("result"),
	}
	_, triggers, err := pipes.Triggers.Subscribe(16)
	require.NoError(t, err)
	ctrl, err := NewController(Config{Limits: testLimits}, pipes)
	require.NoError(t, err)
	return &fixture{ctrl: ctrl, pipes: pipes, triggers: triggers}
}

// durationFor returns the transit time over 3 m that yields kmh.
func durationFor(kmh uint32) uint32 { return 3000 * 36 / (kmh * 10) }

func TestHandleTransit_GateVector(t *testing.T) {
	f := newFixture(t, 10)

	got := f.ctrl.HandleTransit(traffic.TransitRecord{StartMS: 0, EndMS: 200, DurationMS: 200, AxleCount: 2, Vehicle: traffic.Light})

	want := traffic.DisplayRecord{SpeedKMH: 54, LimitKMH: 60, Vehicle: traffic.Light, Status: traffic.Warning}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("display record mismatch (-want +got):\n%s", diff)
	}
	queued, ok := f.pipes.Display.TryGet()
	require.True(t, ok)
	assert.Equal(t, want, queued)
	assert.Len(t, f.triggers, 0)
}

func TestHandleTransit_Statuses(t *testing.T) {
	tests := []struct {
		name    string
		vehicle traffic.VehicleClass
		durMS   uint32
		speed   uint32
		limit   uint32
		status  traffic.Status
	}{
		{"light normal", traffic.Light, 240, 45, 60, traffic.Normal},
		{"light warning", traffic.Light, 225, 48, 60, traffic.Warning},
		{"light infraction", traffic.Light, 177, 61, 60, traffic.Infraction},
		{"heavy normal", traffic.Heavy, 400, 27, 40, traffic.Normal},
		{"heavy infraction", traffic.Heavy, 225, 48, 40, traffic.Infraction},
		{"zero duration", traffic.Light, 0, 0, 60, traffic.Normal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 10)
			got := f.ctrl.HandleTransit(traffic.TransitRecord{DurationMS: tt.durMS, AxleCount: 2, Vehicle: tt.vehicle})
			assert.Equal(t, tt.speed, got.SpeedKMH)
			assert.Equal(t, tt.limit, got.LimitKMH)
			assert.Equal(t, tt.status, got.Status)
		})
	}
}

func TestHandleTransit_InfractionPublishesOneTrigger(t *testing.T) {
	f := newFixture(t, 10)

	first := f.ctrl.HandleTransit(traffic.TransitRecord{DurationMS: durationFor(72), AxleCount: 2, Vehicle: traffic.Light})
	second := f.ctrl.HandleTransit(traffic.TransitRecord{DurationMS: durationFor(90), AxleCount: 4, Vehicle: traffic.Heavy})

	require.Len(t, f.triggers, 2)
	assert.Equal(t, traffic.CameraTrigger{ID: 1, SpeedKMH: 72, Vehicle: traffic.Light}, <-f.triggers)
	assert.Equal(t, traffic.CameraTrigger{ID: 2, SpeedKMH: 90, Vehicle: traffic.Heavy}, <-f.triggers)
	assert.Equal(t, uint64(1), first.TriggerID)
	assert.Equal(t, uint64(2), second.TriggerID)

	s := f.ctrl.Stats()
	assert.Equal(t, uint64(2), s.Infractions)
	assert.Equal(t, uint64(2), s.TriggersPublished)
	assert.Equal(t, uint64(0), s.TriggersUndelivered)
}

func TestHandleTransit_TriggerWithoutCameraIsCounted(t *testing.T) {
	pipes := Pipes{
		Transits: queue.NewBounded[traffic.TransitRecord]("transit", 10),
		Display:  queue.NewBounded[traffic.DisplayRecord]("display", 10),
		Triggers: queue.NewTopic[traffic.CameraTrigger]("trigger"),
		Results:  queue.NewTopic[traffic.CameraResult]("result"),
	}
	ctrl, err := NewController(Config{Limits: testLimits}, pipes)
	require.NoError(t, err)

	// 108 km/h light vehicle, nobody listening for triggers
	got := ctrl.HandleTransit(traffic.TransitRecord{DurationMS: 100, AxleCount: 2, Vehicle: traffic.Light})
	assert.Equal(t, traffic.Infraction, got.Status)
	assert.Equal(t, uint64(1), got.TriggerID)

	s := ctrl.Stats()
	assert.Equal(t, uint64(1), s.Infractions)
	assert.Equal(t, uint64(0), s.TriggersPublished)
	assert.Equal(t, uint64(1), s.TriggersUndelivered)
	assert.Equal(t, uint64(0), s.TriggersDropped)
}

func TestHandleTransit_DisplayFullDropsNewest(t *testing.T) {
	f := newFixture(t, 1)

	f.ctrl.HandleTransit(traffic.TransitRecord{DurationMS: durationFor(45), Vehicle: traffic.Light})
	f.ctrl.HandleTransit(traffic.TransitRecord{DurationMS: durationFor(72), Vehicle: traffic.Light})

	assert.Equal(t, uint64(1), f.ctrl.Stats().DisplayDropped)
	rec, _ := f.pipes.Display.TryGet()
	assert.Equal(t, uint32(45), rec.SpeedKMH)
	// the trigger is still sent when the display queue is full
	assert.Len(t, f.triggers, 1)
}

func TestHandleResult(t *testing.T) {
	tests := []struct {
		name   string
		result traffic.CameraResult
		ok     bool
	}{
		{"valid", traffic.CameraResult{TriggerID: 3, ValidRead: true, Plate: "ABC1D23"}, true},
		{"unknown trigger id", traffic.CameraResult{ValidRead: true, Plate: "BRA2E19"}, true},
		{"old format plate", traffic.CameraResult{ValidRead: true, Plate: "ABC123D"}, false},
		{"lower case plate", traffic.CameraResult{ValidRead: true, Plate: "abc1d23"}, false},
		{"invalid read", traffic.CameraResult{ValidRead: false, Plate: "ABC1D23"}, false},
		{"empty", traffic.CameraResult{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 10)
			got, ok := f.ctrl.HandleResult(tt.result)
			assert.Equal(t, tt.ok, ok)
			if !tt.ok {
				assert.Zero(t, f.pipes.Display.Len())
				assert.Equal(t, uint64(1), f.ctrl.Stats().ResultsRejected)
				return
			}
			want := traffic.DisplayRecord{Vehicle: traffic.Unknown, Status: traffic.Infraction, Plate: tt.result.Plate, TriggerID: tt.result.TriggerID}
			assert.Equal(t, want, got)
			queued, _ := f.pipes.Display.TryGet()
			assert.Equal(t, want, queued)
		})
	}
}

func TestPoll(t *testing.T) {
	f := newFixture(t, 10)
	assert.False(t, f.ctrl.Poll())

	f.pipes.Transits.TryPut(traffic.TransitRecord{DurationMS: 200, AxleCount: 2, Vehicle: traffic.Light})
	f.pipes.Results.Publish(traffic.CameraResult{TriggerID: 1, ValidRead: true, Plate: "ABC1D23"})

	assert.True(t, f.ctrl.Poll())
	assert.Equal(t, 2, f.pipes.Display.Len())
	assert.False(t, f.ctrl.Poll())
}

func TestRun(t *testing.T) {
	clock := timeutil.NewMockClock(time.Now())
	pipes := Pipes{
		Transits: queue.NewBounded[traffic.TransitRecord]("transit", 10),
		Display:  queue.NewBounded[traffic.DisplayRecord]("display", 10),
		Triggers: queue.NewTopic[traffic.CameraTrigger]("trigger"),
		Results:  queue.NewTopic[traffic.CameraResult]("result"),
	}
	ctrl, err := NewController(Config{Limits: testLimits, Clock: clock, PollInterval: 10 * time.Millisecond}, pipes)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()

	pipes.Transits.TryPut(traffic.TransitRecord{DurationMS: 200, AxleCount: 2, Vehicle: traffic.Light})
	require.Eventually(t, func() bool {
		clock.Advance(10 * time.Millisecond)
		return pipes.Display.Len() == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 0, pipes.Results.Subscribers())
}
