// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package reputation

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/fusion-engine/pkg/types"
)

// SnapshotStore persists ProviderStats in SQLite so a restarted process
// routes with the reputation it had learned.
type SnapshotStore struct {
	db *sql.DB
}

// OpenSnapshotStore opens or creates the snapshot database at path.
func OpenSnapshotStore(path string) (*SnapshotStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating snapshot directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening snapshot database: %w", err)
	}

	s := &SnapshotStore{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating snapshot schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *SnapshotStore) Close() error {
	return s.db.Close()
}

func (s *SnapshotStore) createSchema() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS provider_stats (
		provider TEXT PRIMARY KEY,
		request_count INTEGER NOT NULL,
		error_count INTEGER NOT NULL,
		probe_count INTEGER NOT NULL DEFAULT 0,
		avg_response_time_ms REAL NOT NULL,
		reputation REAL NOT NULL,
		last_connected_at TEXT,
		last_error TEXT,
		updated_at TEXT NOT NULL
	)`)
	return err
}

// Save upserts every stats row in one transaction.
func (s *SnapshotStore) Save(ctx context.Context, stats []types.ProviderStats) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO provider_stats
		(provider, request_count, error_count, probe_count, avg_response_time_ms, reputation, last_connected_at, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider) DO UPDATE SET
			request_count = excluded.request_count,
			error_count = excluded.error_count,
			probe_count = excluded.probe_count,
			avg_response_time_ms = excluded.avg_response_time_ms,
			reputation = excluded.reputation,
			last_connected_at = excluded.last_connected_at,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("preparing snapshot upsert: %w", err)
	}
	defer stmt.Close()

	for _, st := range stats {
		updated := st.UpdatedAt
		if updated.IsZero() {
			updated = time.Now()
		}
		if _, err := stmt.ExecContext(ctx,
			st.Provider, st.RequestCount, st.ErrorCount, st.ProbeCount, st.AvgResponseTimeMs, st.Reputation,
			formatTime(st.LastConnectedAt), st.LastError, formatTime(updated),
		); err != nil {
			return fmt.Errorf("saving stats for %s: %w", st.Provider, err)
		}
	}
	return tx.Commit()
}

// Load returns every persisted stats row.
func (s *SnapshotStore) Load(ctx context.Context) ([]types.ProviderStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT provider, request_count, error_count, probe_count,
		avg_response_time_ms, reputation, last_connected_at, last_error, updated_at
		FROM provider_stats ORDER BY provider`)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer rows.Close()

	var out []types.ProviderStats
	for rows.Next() {
		var (
			st                 types.ProviderStats
			connected, updated sql.NullString
			lastErr            sql.NullString
		)
		if err := rows.Scan(&st.Provider, &st.RequestCount, &st.ErrorCount, &st.ProbeCount,
			&st.AvgResponseTimeMs, &st.Reputation, &connected, &lastErr, &updated); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		st.LastConnectedAt = parseTime(connected.String)
		st.UpdatedAt = parseTime(updated.String)
		st.LastError = lastErr.String
		out = append(out, st)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
