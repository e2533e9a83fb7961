// Package db persists display records in SQLite and serves the debug routes
// for inspecting them.
package db

import (
	"compress/gzip"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/speedgate/internal/traffic"
)

type DB struct {
	*sql.DB
	path string
}

// OpenDB opens the database without touching the schema. Use it for the
// migrate subcommand; everything else should use NewDB.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return &DB{DB: db, path: path}, nil
}

// NewDB opens the database and applies any pending migrations.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// StoredRecord is a display record as logged.
type StoredRecord struct {
	ID         int64     `json:"id"`
	GateID     string    `json:"gate_id"`
	RecordedAt time.Time `json:"recorded_at"`
	traffic.DisplayRecord
}

// RecordDisplay logs one display record and returns its row ID.
func (db *DB) RecordDisplay(ctx context.Context, gateID string, at time.Time, rec traffic.DisplayRecord) (int64, error) {
	var plate sql.NullString
	if rec.Plate != "" {
		plate = sql.NullString{String: rec.Plate, Valid: true}
	}
	var trigger sql.NullInt64
	if rec.TriggerID != 0 {
		trigger = sql.NullInt64{Int64: int64(rec.TriggerID), Valid: true}
	}

	res, err := db.ExecContext(ctx, `
		INSERT INTO display_records (
			gate_id, recorded_at, speed_kmh, limit_kmh, vehicle_type, status, plate, trigger_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		gateID, at.UnixMilli(), rec.SpeedKMH, rec.LimitKMH, rec.Vehicle, rec.Status, plate, trigger,
	)
	if err != nil {
		return 0, fmt.Errorf("insert display record: %w", err)
	}
	return res.LastInsertId()
}

const selectRecords = `SELECT record_id, gate_id, recorded_at, speed_kmh, limit_kmh,
	vehicle_type, status, plate, trigger_id FROM display_records`

func scanRecords(rows *sql.Rows) ([]StoredRecord, error) {
	defer rows.Close()

	var out []StoredRecord
	for rows.Next() {
		var (
			r          StoredRecord
			recordedAt int64
			plate      sql.NullString
			trigger    sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.GateID, &recordedAt, &r.SpeedKMH, &r.LimitKMH,
			&r.Vehicle, &r.Status, &plate, &trigger); err != nil {
			return nil, err
		}
		r.RecordedAt = time.UnixMilli(recordedAt).UTC()
		r.Plate = plate.String
		r.TriggerID = uint64(trigger.Int64)
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecentDisplayRecords returns up to limit records, newest first.
func (db *DB) RecentDisplayRecords(ctx context.Context, limit int) ([]StoredRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, selectRecords+` ORDER BY recorded_at DESC, record_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

// Infraction pairs an infraction's speed record with the plate the camera
// read for it, if any.
type Infraction struct {
	Speed StoredRecord  `json:"speed"`
	Plate *StoredRecord `json:"plate,omitempty"`
}

// Infractions returns up to limit infractions since the given time, newest
// first, joined to their plate records by trigger ID.
func (db *DB) Infractions(ctx context.Context, since time.Time, limit int) ([]Infraction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, selectRecords+`
		WHERE status = 'infraction' AND plate IS NULL AND recorded_at >= ?
		ORDER BY recorded_at DESC, record_id DESC LIMIT ?`, since.UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	speeds, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}

	out := make([]Infraction, 0, len(speeds))
	for _, s := range speeds {
		inf := Infraction{Speed: s}
		if s.TriggerID != 0 {
			rows, err := db.QueryContext(ctx, selectRecords+`
				WHERE trigger_id = ? AND plate IS NOT NULL ORDER BY record_id LIMIT 1`, int64(s.TriggerID))
			if err != nil {
				return nil, err
			}
			plates, err := scanRecords(rows)
			if err != nil {
				return nil, err
			}
			if len(plates) > 0 {
				inf.Plate = &plates[0]
			}
		}
		out = append(out, inf)
	}
	return out, nil
}

func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	// create a tailSQL instance and point it to our DB
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(db.path), db.DB, &tailsql.DBOptions{
		Label: "Speed gate record log",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(db.serveBackup))
}

// serveBackup snapshots the database with VACUUM INTO and streams it gzipped.
func (db *DB) serveBackup(w http.ResponseWriter, r *http.Request) {
	name := fmt.Sprintf("backup-%d.db", time.Now().Unix())
	backupPath := filepath.Join(os.TempDir(), name)
	if _, err := db.ExecContext(r.Context(), "VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := os.Remove(backupPath); err != nil {
			log.Printf("Failed to remove backup file: %v", err)
		}
	}()

	backupFile, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer backupFile.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", name))
	w.Header().Set("Content-Type", "application/gzip")

	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, backupFile); err != nil {
		log.Printf("Failed to write backup: %v", err)
	}
}
