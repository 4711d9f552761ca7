package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Tick is one control-loop record. Optional measurements carry a Has flag
// and are stored as NULL when absent.
type Tick struct {
	RunID string
	Seq   uint64
	At    time.Time
	State string
	Level string

	DistanceMM  float64
	HasDistance bool
	SpeedMPS    float64
	HasSpeed    bool
	TTC         float64
	HasTTC      bool

	CornerAngleDeg   int
	CornerDistanceMM float64
	HasCorner        bool

	EmergencyLatched bool
	Reason           string
}

// ReplayFrame is the part of a tick a replay needs.
type ReplayFrame struct {
	DistanceMM  float64
	HasDistance bool
	SpeedMPS    float64
	HasSpeed    bool
}

func nullFloat(v float64, ok bool) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: ok}
}

// InsertTicks writes ticks in one transaction.
func (db *DB) InsertTicks(ctx context.Context, ticks []Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO ticks (
			run_id, seq, ts_unix_nanos, state, level, distance_mm, speed_mps, ttc_s,
			corner_angle_deg, corner_distance_mm, emergency_latched, reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, t := range ticks {
		var cornerAngle sql.NullInt64
		if t.HasCorner {
			cornerAngle = sql.NullInt64{Int64: int64(t.CornerAngleDeg), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			t.RunID, int64(t.Seq), t.At.UnixNano(), t.State, t.Level,
			nullFloat(t.DistanceMM, t.HasDistance),
			nullFloat(t.SpeedMPS, t.HasSpeed),
			nullFloat(t.TTC, t.HasTTC),
			cornerAngle,
			nullFloat(t.CornerDistanceMM, t.HasCorner),
			t.EmergencyLatched, t.Reason,
		); err != nil {
			return fmt.Errorf("failed to insert tick %d: %w", t.Seq, err)
		}
	}
	return tx.Commit()
}

// RecentTicks returns the last n ticks of a run, oldest first.
func (db *DB) RecentTicks(ctx context.Context, runID string, n int) ([]Tick, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT run_id, seq, ts_unix_nanos, state, level, distance_mm, speed_mps, ttc_s,
		       corner_angle_deg, corner_distance_mm, emergency_latched, reason
		FROM (SELECT * FROM ticks WHERE run_id = ? ORDER BY seq DESC LIMIT ?)
		ORDER BY seq ASC`, runID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Tick
	for rows.Next() {
		var (
			t                     Tick
			seq, nanos            int64
			dist, speed, ttc, cdm sql.NullFloat64
			cang                  sql.NullInt64
		)
		if err := rows.Scan(&t.RunID, &seq, &nanos, &t.State, &t.Level, &dist, &speed, &ttc,
			&cang, &cdm, &t.EmergencyLatched, &t.Reason); err != nil {
			return nil, err
		}
		t.Seq = uint64(seq)
		t.At = time.Unix(0, nanos)
		t.DistanceMM, t.HasDistance = dist.Float64, dist.Valid
		t.SpeedMPS, t.HasSpeed = speed.Float64, speed.Valid
		t.TTC, t.HasTTC = ttc.Float64, ttc.Valid
		t.CornerAngleDeg, t.CornerDistanceMM, t.HasCorner = int(cang.Int64), cdm.Float64, cang.Valid
		out = append(out, t)
	}
	return out, rows.Err()
}

// LoadReplay returns the distance and speed of every tick of a run in
// sequence order.
func (db *DB) LoadReplay(ctx context.Context, runID string) ([]ReplayFrame, error) {
	var exists int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE run_id = ?`, runID).Scan(&exists); err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT distance_mm, speed_mps FROM ticks WHERE run_id = ? ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var frames []ReplayFrame
	for rows.Next() {
		var dist, speed sql.NullFloat64
		if err := rows.Scan(&dist, &speed); err != nil {
			return nil, err
		}
		frames = append(frames, ReplayFrame{
			DistanceMM: dist.Float64, HasDistance: dist.Valid,
			SpeedMPS: speed.Float64, HasSpeed: speed.Valid,
		})
	}
	return frames, rows.Err()
}
