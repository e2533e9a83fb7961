package db

import (
	"context"
	"time"

	"gonum.org/v1/gonum/stat"
)

// SpeedSummary aggregates the speed records logged in a time window.
type SpeedSummary struct {
	Since       time.Time `json:"since"`
	Count       int       `json:"count"`
	Light       int       `json:"light"`
	Heavy       int       `json:"heavy"`
	Normal      int       `json:"normal"`
	Warnings    int       `json:"warnings"`
	Infractions int       `json:"infractions"`
	Plates      int       `json:"plates"`
	MeanKMH     float64   `json:"mean_kmh"`
	P50KMH      float64   `json:"p50_kmh"`
	P85KMH      float64   `json:"p85_kmh"`
	P98KMH      float64   `json:"p98_kmh"`
	MaxKMH      float64   `json:"max_kmh"`
}

// Speeds returns the speeds of speed-path records logged since the given
// time, in ascending order.
func (db *DB) Speeds(ctx context.Context, since time.Time) ([]float64, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT speed_kmh FROM display_records
		WHERE plate IS NULL AND recorded_at >= ?
		ORDER BY speed_kmh`, since.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var speeds []float64
	for rows.Next() {
		var s float64
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		speeds = append(speeds, s)
	}
	return speeds, rows.Err()
}

// SpeedSummary counts records by class and status and computes the speed
// percentiles used in traffic studies.
func (db *DB) SpeedSummary(ctx context.Context, since time.Time) (SpeedSummary, error) {
	sum := SpeedSummary{Since: since}

	err := db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN plate IS NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN plate IS NULL AND vehicle_type = 'light' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN plate IS NULL AND vehicle_type = 'heavy' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN plate IS NULL AND status = 'normal' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN plate IS NULL AND status = 'warning' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN plate IS NULL AND status = 'infraction' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN plate IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM display_records WHERE recorded_at >= ?`, since.UnixMilli(),
	).Scan(&sum.Count, &sum.Light, &sum.Heavy, &sum.Normal, &sum.Warnings, &sum.Infractions, &sum.Plates)
	if err != nil {
		return sum, err
	}

	speeds, err := db.Speeds(ctx, since)
	if err != nil || len(speeds) == 0 {
		return sum, err
	}
	sum.MeanKMH = stat.Mean(speeds, nil)
	sum.P50KMH = stat.Quantile(0.50, stat.Empirical, speeds, nil)
	sum.P85KMH = stat.Quantile(0.85, stat.Empirical, speeds, nil)
	sum.P98KMH = stat.Quantile(0.98, stat.Empirical, speeds, nil)
	sum.MaxKMH = speeds[len(speeds)-1]
	return sum, nil
}

// Bucket is one bar of a speed histogram.
type Bucket struct {
	FromKMH float64 `json:"from_kmh"`
	Count   int     `json:"count"`
}

// SpeedHistogram groups speeds into fixed-width buckets starting at zero.
func SpeedHistogram(speeds []float64, widthKMH float64) []Bucket {
	if widthKMH <= 0 {
		widthKMH = 5
	}
	if len(speeds) == 0 {
		return nil
	}
	max := 0.0
	for _, s := range speeds {
		if s > max {
			max = s
		}
	}
	buckets := make([]Bucket, int(max/widthKMH)+1)
	for i := range buckets {
		buckets[i].FromKMH = float64(i) * widthKMH
	}
	for _, s := range speeds {
		buckets[int(s/widthKMH)].Count++
	}
	return buckets
}
