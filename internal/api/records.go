package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/speedgate/internal/db"
	"github.com/banshee-data/speedgate/internal/traffic"
	"github.com/banshee-data/speedgate/internal/units"
)

const maxRecordLimit = 1000

// recordAPI is a logged display record with speeds in the requested units.
type recordAPI struct {
	ID         int64                `json:"id"`
	GateID     string               `json:"gate_id"`
	RecordedAt time.Time            `json:"recorded_at"`
	Speed      float64              `json:"speed"`
	Limit      float64              `json:"limit"`
	Units      string               `json:"units"`
	Vehicle    traffic.VehicleClass `json:"vehicle_type"`
	Status     traffic.Status       `json:"status"`
	Plate      string               `json:"plate,omitempty"`
	TriggerID  uint64               `json:"trigger_id,omitempty"`
}

func toRecordAPI(r db.StoredRecord, unit, tz string) (recordAPI, error) {
	at, err := units.ConvertTime(r.RecordedAt, tz)
	if err != nil {
		return recordAPI{}, err
	}
	return recordAPI{
		ID:         r.ID,
		GateID:     r.GateID,
		RecordedAt: at,
		Speed:      units.FromKMH(float64(r.SpeedKMH), unit),
		Limit:      units.FromKMH(float64(r.LimitKMH), unit),
		Units:      unit,
		Vehicle:    r.Vehicle,
		Status:     r.Status,
		Plate:      r.Plate,
		TriggerID:  r.TriggerID,
	}, nil
}

// unitsParam returns the units query parameter, or the server default.
func (s *Server) unitsParam(r *http.Request) (string, error) {
	u := r.URL.Query().Get("units")
	if u == "" {
		return s.Units, nil
	}
	if !units.IsValid(u) {
		return "", fmt.Errorf("Invalid 'units' parameter; must be one of: %s", units.GetValidUnitsString())
	}
	return u, nil
}

func (s *Server) timezoneParam(r *http.Request) (string, error) {
	tz := r.URL.Query().Get("tz")
	if tz == "" {
		return s.Timezone, nil
	}
	if !units.IsTimezoneValid(tz) {
		return "", fmt.Errorf("Invalid 'tz' parameter %q", tz)
	}
	return tz, nil
}

// intParam parses a positive integer query parameter capped at max.
func intParam(r *http.Request, name string, def, max int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("Invalid '%s' parameter", name)
	}
	if n > max {
		n = max
	}
	return n, nil
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if !s.requireDB(w) {
		return
	}
	limit, err := intParam(r, "limit", 100, maxRecordLimit)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	unit, err := s.unitsParam(r)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	tz, err := s.timezoneParam(r)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}

	stored, err := s.DB.RecentDisplayRecords(r.Context(), limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve records: %v", err))
		return
	}
	out := make([]recordAPI, 0, len(stored))
	for _, rec := range stored {
		api, err := toRecordAPI(rec, unit, tz)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out = append(out, api)
	}
	writeJSON(w, http.StatusOK, out)
}

// summaryAPI is db.SpeedSummary with speeds converted to the requested units.
type summaryAPI struct {
	db.SpeedSummary
	Units     string      `json:"units"`
	Days      int         `json:"days"`
	Histogram []db.Bucket `json:"histogram"`
}

func (s *Server) showSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if !s.requireDB(w) {
		return
	}
	days, err := intParam(r, "days", 1, 366)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	unit, err := s.unitsParam(r)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}

	since := s.Clock.Now().Add(-time.Duration(days) * 24 * time.Hour)
	sum, err := s.DB.SpeedSummary(r.Context(), since)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to compute summary: %v", err))
		return
	}
	speeds, err := s.DB.Speeds(r.Context(), since)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve speeds: %v", err))
		return
	}

	sum.MeanKMH = units.FromKMH(sum.MeanKMH, unit)
	sum.P50KMH = units.FromKMH(sum.P50KMH, unit)
	sum.P85KMH = units.FromKMH(sum.P85KMH, unit)
	sum.P98KMH = units.FromKMH(sum.P98KMH, unit)
	sum.MaxKMH = units.FromKMH(sum.MaxKMH, unit)
	for i := range speeds {
		speeds[i] = units.FromKMH(speeds[i], unit)
	}

	writeJSON(w, http.StatusOK, summaryAPI{
		SpeedSummary: sum,
		Units:        unit,
		Days:         days,
		Histogram:    db.SpeedHistogram(speeds, 5),
	})
}

type infractionAPI struct {
	Speed recordAPI  `json:"speed"`
	Plate *recordAPI `json:"plate,omitempty"`
}

func (s *Server) listInfractions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if !s.requireDB(w) {
		return
	}
	days, err := intParam(r, "days", 1, 366)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	limit, err := intParam(r, "limit", 100, maxRecordLimit)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	unit, err := s.unitsParam(r)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	tz, err := s.timezoneParam(r)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}

	since := s.Clock.Now().Add(-time.Duration(days) * 24 * time.Hour)
	infractions, err := s.DB.Infractions(r.Context(), since, limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve infractions: %v", err))
		return
	}

	out := make([]infractionAPI, 0, len(infractions))
	for _, inf := range infractions {
		speed, err := toRecordAPI(inf.Speed, unit, tz)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		item := infractionAPI{Speed: speed}
		if inf.Plate != nil {
			plate, err := toRecordAPI(*inf.Plate, unit, tz)
			if err != nil {
				writeJSONError(w, http.StatusInternalServerError, err.Error())
				return
			}
			item.Plate = &plate
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, out)
}
