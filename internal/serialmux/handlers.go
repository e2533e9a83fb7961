package serialmux

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"maps"
	"sync"

	"github.com/banshee-data/speedgate/internal/gate"
	"github.com/banshee-data/speedgate/internal/monitoring"
)

// EdgeSink receives parsed edges. *gate.Station implements it.
type EdgeSink interface {
	TriggerAt(line gate.Line, uptimeMS int64)
}

// Forwarder feeds edge lines from the board into a station and keeps the
// latest configuration the board reported.
type Forwarder struct {
	sink EdgeSink

	mu    sync.Mutex
	state map[string]any

	edges     monitoring.Counter
	malformed monitoring.Counter
	unknown   monitoring.Counter
}

// ForwarderStats are the Forwarder counters.
type ForwarderStats struct {
	Edges     uint64 `json:"edges"`
	Malformed uint64 `json:"malformed"`
	Unknown   uint64 `json:"unknown"`
}

func NewForwarder(sink EdgeSink) *Forwarder {
	return &Forwarder{sink: sink, state: make(map[string]any)}
}

// HandleLine dispatches one line from the board.
func (f *Forwarder) HandleLine(payload string) error {
	switch ClassifyPayload(payload) {
	case EventTypeEdge:
		e, err := ParseEdge(payload)
		if err != nil {
			f.malformed.Inc()
			return err
		}
		f.edges.Inc()
		f.sink.TriggerAt(e.Line, e.UptimeMS)
	case EventTypeConfig:
		if err := f.handleConfigResponse(payload); err != nil {
			return fmt.Errorf("failed to handle config response: %w", err)
		}
	default:
		f.unknown.Inc()
		log.Printf("unknown serial line: %s", payload)
	}
	return nil
}

func (f *Forwarder) handleConfigResponse(payload string) error {
	var values map[string]any
	if err := json.Unmarshal([]byte(payload), &values); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	f.mu.Lock()
	maps.Copy(f.state, values)
	f.mu.Unlock()
	log.Printf("Config Line: %+v", payload)
	return nil
}

// DeviceState returns a copy of the configuration values the board has
// reported.
func (f *Forwarder) DeviceState() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return maps.Clone(f.state)
}

// Stats returns a snapshot of the forwarder counters.
func (f *Forwarder) Stats() ForwarderStats {
	return ForwarderStats{Edges: f.edges.Load(), Malformed: f.malformed.Load(), Unknown: f.unknown.Load()}
}

// Run subscribes to mux and handles lines until ctx is done or the mux
// closes the subscription.
func (f *Forwarder) Run(ctx context.Context, mux SerialMuxInterface) error {
	id, lines := mux.Subscribe()
	defer mux.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := f.HandleLine(line); err != nil {
				monitoring.Warnf("serial: %v", err)
			}
		}
	}
}
