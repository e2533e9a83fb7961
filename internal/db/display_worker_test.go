package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/speedgate/internal/queue"
	"github.com/banshee-data/speedgate/internal/timeutil"
	"github.com/banshee-data/speedgate/internal/traffic"
)

func TestDisplayWorker_RunOnce(t *testing.T) {
	db := setupTestDB(t)
	src := queue.NewBounded[traffic.DisplayRecord]("display", 10)
	w := NewDisplayWorker(db, src, "north")
	w.Clock = timeutil.NewMockClock(t0)

	src.TryPut(traffic.DisplayRecord{SpeedKMH: 54, LimitKMH: 60, Vehicle: traffic.Light, Status: traffic.Warning})
	src.TryPut(traffic.DisplayRecord{Status: traffic.Infraction, Plate: "ABC1D23", TriggerID: 4})

	n, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Zero(t, src.Len())

	recs, err := db.RecentDisplayRecords(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	st := w.Status()
	assert.Equal(t, int64(1), st.RunCount)
	assert.Equal(t, int64(2), st.RecordsWritten)
	assert.True(t, st.IsHealthy)
	assert.True(t, st.LastRunAt.Equal(t0))
}

func TestDisplayWorker_WithoutDB(t *testing.T) {
	src := queue.NewBounded[traffic.DisplayRecord]("display", 10)
	w := NewDisplayWorker(nil, src, "north")
	src.TryPut(traffic.DisplayRecord{SpeedKMH: 30})

	n, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDisplayWorker_ReportsWriteErrors(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.Close())

	src := queue.NewBounded[traffic.DisplayRecord]("display", 10)
	w := NewDisplayWorker(db, src, "north")
	src.TryPut(traffic.DisplayRecord{SpeedKMH: 30})

	n, err := w.RunOnce(context.Background())
	assert.Error(t, err)
	assert.Zero(t, n)
	assert.False(t, w.Status().IsHealthy)
	assert.Zero(t, src.Len(), "failed records are not retried")
}

func TestDisplayWorker_Run(t *testing.T) {
	src := queue.NewBounded[traffic.DisplayRecord]("display", 10)
	w := NewDisplayWorker(nil, src, "north")
	clock := timeutil.NewMockClock(t0)
	w.Clock = clock

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	src.TryPut(traffic.DisplayRecord{SpeedKMH: 30})
	require.Eventually(t, func() bool {
		clock.Advance(w.Interval)
		return w.Status().RecordsWritten == 1
	}, time.Second, 5*time.Millisecond)

	src.TryPut(traffic.DisplayRecord{SpeedKMH: 31})
	cancel()
	assert.True(t, errors.Is(<-done, context.Canceled))
	assert.Equal(t, int64(2), w.Status().RecordsWritten, "records left at shutdown are drained")
}
