package db

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/banshee-data/speedgate/internal/queue"
	"github.com/banshee-data/speedgate/internal/timeutil"
	"github.com/banshee-data/speedgate/internal/traffic"
)

// DisplayWorker drains the display queue, logs every record and persists
// it. It is the consumer end of the controller's display output.
type DisplayWorker struct {
	DB       *DB
	Source   *queue.Bounded[traffic.DisplayRecord]
	GateID   string
	Interval time.Duration
	Clock    timeutil.Clock

	mu             sync.RWMutex
	lastRunAt      time.Time
	lastRunError   error
	runCount       int64
	recordsWritten int64
}

// DisplayStatus represents the current state of the display worker.
type DisplayStatus struct {
	LastRunAt      time.Time `json:"last_run_at"`
	LastRunError   string    `json:"last_run_error,omitempty"`
	RunCount       int64     `json:"run_count"`
	RecordsWritten int64     `json:"records_written"`
	Pending        int       `json:"pending"`
	IsHealthy      bool      `json:"is_healthy"`
}

func NewDisplayWorker(db *DB, source *queue.Bounded[traffic.DisplayRecord], gateID string) *DisplayWorker {
	return &DisplayWorker{
		DB:       db,
		Source:   source,
		GateID:   gateID,
		Interval: 100 * time.Millisecond,
		Clock:    timeutil.RealClock{},
	}
}

// Run drains the queue every Interval until ctx is done, then drains
// whatever is left.
func (w *DisplayWorker) Run(ctx context.Context) error {
	ticker := w.Clock.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if _, err := w.RunOnce(context.Background()); err != nil {
				log.Printf("display worker final drain error: %v", err)
			}
			return ctx.Err()
		case <-ticker.C():
			if _, err := w.RunOnce(ctx); err != nil {
				log.Printf("display worker run error: %v", err)
			}
		}
	}
}

// RunOnce writes every queued record and returns how many were written.
// A record that fails to persist is still logged and is not retried.
func (w *DisplayWorker) RunOnce(ctx context.Context) (int, error) {
	var (
		written  int
		firstErr error
	)
	for {
		rec, ok := w.Source.TryGet()
		if !ok {
			break
		}
		logDisplayRecord(w.GateID, rec)
		if w.DB == nil {
			written++
			continue
		}
		if _, err := w.DB.RecordDisplay(ctx, w.GateID, w.Clock.Now(), rec); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		written++
	}

	w.mu.Lock()
	w.lastRunAt = w.Clock.Now()
	w.lastRunError = firstErr
	w.runCount++
	w.recordsWritten += int64(written)
	w.mu.Unlock()
	return written, firstErr
}

func logDisplayRecord(gateID string, rec traffic.DisplayRecord) {
	if rec.IsPlateRecord() {
		log.Printf("[%s] Plate: %s (trigger %d)", gateID, rec.Plate, rec.TriggerID)
		return
	}
	log.Printf("[%s] Speed: %d km/h, Limit: %d km/h, Type: %s, Status: %s",
		gateID, rec.SpeedKMH, rec.LimitKMH, rec.Vehicle, rec.Status)
}

// Status returns the current status of the display worker.
func (w *DisplayWorker) Status() DisplayStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()
	st := DisplayStatus{
		LastRunAt:      w.lastRunAt,
		RunCount:       w.runCount,
		RecordsWritten: w.recordsWritten,
		Pending:        w.Source.Len(),
		IsHealthy:      true,
	}
	if w.lastRunError != nil {
		st.LastRunError = w.lastRunError.Error()
		st.IsHealthy = false
	}
	return st
}
