package api

import (
	"net/http"

	"github.com/banshee-data/speedgate/internal/control"
	"github.com/banshee-data/speedgate/internal/db"
	"github.com/banshee-data/speedgate/internal/gate"
	"github.com/banshee-data/speedgate/internal/serialmux"
	"github.com/banshee-data/speedgate/internal/version"
)

type boundedStats struct {
	Len     int    `json:"len"`
	Cap     int    `json:"cap"`
	Dropped uint64 `json:"dropped"`
}

type topicStats struct {
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
}

type queueStats struct {
	Transits    *boundedStats `json:"transits,omitempty"`
	Display     *boundedStats `json:"display,omitempty"`
	Triggers    *topicStats   `json:"triggers,omitempty"`
	Results     *topicStats   `json:"results,omitempty"`
	SerialLines *uint64       `json:"serial_lines_dropped,omitempty"`
}

// statsAPI gathers every pipeline counter, including each drop point.
type statsAPI struct {
	UptimeSeconds float64                   `json:"uptime_seconds"`
	Station       *gate.Stats               `json:"station,omitempty"`
	Controller    *control.Stats            `json:"controller,omitempty"`
	Serial        *serialmux.ForwarderStats `json:"serial,omitempty"`
	Display       *db.DisplayStatus         `json:"display,omitempty"`
	Queues        queueStats                `json:"queues"`
}

func (s *Server) collectStats() statsAPI {
	out := statsAPI{UptimeSeconds: s.Clock.Since(s.started).Seconds()}
	if s.Station != nil {
		st := s.Station.Stats()
		out.Station = &st
	}
	if s.Controller != nil {
		st := s.Controller.Stats()
		out.Controller = &st
	}
	if s.Forwarder != nil {
		st := s.Forwarder.Stats()
		out.Serial = &st
	}
	if s.Display != nil {
		st := s.Display.Status()
		out.Display = &st
	}
	if q := s.Transits; q != nil {
		out.Queues.Transits = &boundedStats{Len: q.Len(), Cap: q.Cap(), Dropped: q.Dropped()}
	}
	if q := s.DisplayQueue; q != nil {
		out.Queues.Display = &boundedStats{Len: q.Len(), Cap: q.Cap(), Dropped: q.Dropped()}
	}
	if t := s.Triggers; t != nil {
		out.Queues.Triggers = &topicStats{Subscribers: t.Subscribers(), Published: t.Published(), Dropped: t.Dropped()}
	}
	if s.Serial != nil {
		dropped := s.Serial.Dropped()
		out.Queues.SerialLines = &dropped
	}
	if t := s.Results; t != nil {
		out.Queues.Results = &topicStats{Subscribers: t.Subscribers(), Published: t.Published(), Dropped: t.Dropped()}
	}
	return out
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, s.collectStats())
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	cfg := map[string]any{
		"gate_id":  s.GateID,
		"units":    s.Units,
		"timezone": s.Timezone,
		"version":  version.String(),
	}
	if s.Controller != nil {
		cfg["limits"] = s.Controller.Limits()
	}
	if s.Config != nil {
		cfg["gate"] = s.Config
	}
	writeJSON(w, http.StatusOK, cfg)
}
