package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrRunNotFound is returned when a run id has no row.
var ErrRunNotFound = errors.New("run not found")

// Run is one process run of the controller.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running or after a crash
	Source     string
	ConfigJSON string
	Ticks      int
}

// StartRun records a new run and returns its id.
func (db *DB) StartRun(ctx context.Context, startedAt time.Time, source, configJSON string) (string, error) {
	id := uuid.NewString()
	_, err := db.ExecContext(ctx,
		`INSERT INTO runs (run_id, started_at, source, config_json) VALUES (?, ?, ?, ?)`,
		id, startedAt.UTC(), source, configJSON)
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}
	return id, nil
}

// FinishRun stamps the end time of a run.
func (db *DB) FinishRun(ctx context.Context, id string, finishedAt time.Time) error {
	res, err := db.ExecContext(ctx, `UPDATE runs SET finished_at = ? WHERE run_id = ?`, finishedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// Runs returns the most recent runs, newest first, with their tick counts.
func (db *DB) Runs(ctx context.Context, limit int) ([]Run, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT r.run_id, r.started_at, r.finished_at, r.source, r.config_json,
		       (SELECT COUNT(*) FROM ticks t WHERE t.run_id = r.run_id)
		FROM runs r
		ORDER BY r.started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r        Run
			finished sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.StartedAt, &finished, &r.Source, &r.ConfigJSON, &r.Ticks); err != nil {
			return nil, err
		}
		if finished.Valid {
			r.FinishedAt = finished.Time
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
