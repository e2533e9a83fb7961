package db

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/speedgate/internal/testutil"
	"github.com/banshee-data/speedgate/internal/traffic"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "speedgate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

var t0 = time.Date(2025, 5, 12, 7, 30, 0, 0, time.UTC)

func TestNewDB_AppliesMigrations(t *testing.T) {
	db := setupTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	latest, err := LatestMigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, latest, version)
	assert.False(t, dirty)
	assert.Equal(t, uint(2), latest)
}

func TestMigrateDownAndUp(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, db.MigrateDown())
	version, _, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	require.NoError(t, db.MigrateUp())
	require.NoError(t, db.MigrateUp()) // no change is not an error
	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
}

func TestRecordDisplay_RoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	speed := traffic.DisplayRecord{SpeedKMH: 72, LimitKMH: 60, Vehicle: traffic.Light, Status: traffic.Infraction, TriggerID: 1}
	plate := traffic.DisplayRecord{Vehicle: traffic.Unknown, Status: traffic.Infraction, Plate: "ABC1D23", TriggerID: 1}
	normal := traffic.DisplayRecord{SpeedKMH: 45, LimitKMH: 60, Vehicle: traffic.Light, Status: traffic.Normal}

	_, err := db.RecordDisplay(ctx, "north", t0, speed)
	require.NoError(t, err)
	_, err = db.RecordDisplay(ctx, "north", t0.Add(time.Second), plate)
	require.NoError(t, err)
	id, err := db.RecordDisplay(ctx, "north", t0.Add(2*time.Second), normal)
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)

	got, err := db.RecentDisplayRecords(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, normal, got[0].DisplayRecord)
	assert.Equal(t, plate, got[1].DisplayRecord)
	assert.Equal(t, speed, got[2].DisplayRecord)
	assert.Equal(t, "north", got[2].GateID)
	assert.True(t, got[2].RecordedAt.Equal(t0))

	limited, err := db.RecentDisplayRecords(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestInfractions_JoinsPlates(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	records := []traffic.DisplayRecord{
		{SpeedKMH: 72, LimitKMH: 60, Vehicle: traffic.Light, Status: traffic.Infraction, TriggerID: 1},
		{SpeedKMH: 55, LimitKMH: 40, Vehicle: traffic.Heavy, Status: traffic.Infraction, TriggerID: 2},
		{Vehicle: traffic.Unknown, Status: traffic.Infraction, Plate: "BRA2E19", TriggerID: 1},
		{SpeedKMH: 50, LimitKMH: 60, Vehicle: traffic.Light, Status: traffic.Warning},
	}
	for i, r := range records {
		_, err := db.RecordDisplay(ctx, "north", t0.Add(time.Duration(i)*time.Second), r)
		require.NoError(t, err)
	}

	got, err := db.Infractions(ctx, t0, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, uint64(2), got[0].Speed.TriggerID)
	assert.Nil(t, got[0].Plate, "trigger 2 has no readable plate")
	assert.Equal(t, uint64(1), got[1].Speed.TriggerID)
	require.NotNil(t, got[1].Plate)
	assert.Equal(t, "BRA2E19", got[1].Plate.Plate)
}

func TestAttachAdminRoutes_Backup(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.RecordDisplay(context.Background(), "north", t0, traffic.DisplayRecord{SpeedKMH: 40, Vehicle: traffic.Light})
	require.NoError(t, err)

	mux := http.NewServeMux()
	db.AttachAdminRoutes(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, testutil.LocalRequest(http.MethodGet, "/debug/backup", nil))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "backup-")

	gz, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("SQLite format 3")))
}
