package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/speedgate/internal/db"
	"github.com/banshee-data/speedgate/internal/units"
)

// showSpeedHistogram renders an HTML bar chart of recent speeds.
func (s *Server) showSpeedHistogram(w http.ResponseWriter, r *http.Request) {
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
	speeds, err := s.DB.Speeds(r.Context(), since)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve speeds: %v", err))
		return
	}
	for i := range speeds {
		speeds[i] = units.FromKMH(speeds[i], unit)
	}
	buckets := db.SpeedHistogram(speeds, 5)

	x := make([]string, 0, len(buckets))
	y := make([]opts.BarData, 0, len(buckets))
	for _, b := range buckets {
		x = append(x, fmt.Sprintf("%.0f", b.FromKMH))
		y = append(y, opts.BarData{Value: b.Count})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Speed distribution", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Speed distribution", Subtitle: fmt.Sprintf("gate=%s vehicles=%d days=%d", s.GateID, len(speeds), days)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: unit, NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "vehicles"}),
	)
	bar.SetXAxis(x).
		AddSeries("vehicles", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	var buf bytes.Buffer
	if err := bar.Render(&buf); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
