package db

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// RunRecord is one tracking run of one track over one frame window.
type RunRecord struct {
	RunID       string `json:"run_id"`
	Dataset     string `json:"dataset"`
	MarkerSize  string `json:"marker_size"`
	TrackNumber int    `json:"track_number"`
	Window      string `json:"window"`
	StartFrame  *int   `json:"start_frame,omitempty"`
	State       string `json:"state"`
	Steps       int    `json:"steps"`
	FailedFrame *int   `json:"failed_frame,omitempty"`
	ResultPath  string `json:"result_path,omitempty"`
	CreatedAt   int64  `json:"created_at"`
}

// ErrorSummary condenses one error table column.
type ErrorSummary struct {
	SummaryID  string  `json:"summary_id"`
	Dataset    string  `json:"dataset"`
	MarkerSize string  `json:"marker_size"`
	Category   string  `json:"category"`
	TrackType  string  `json:"track_type"`
	MeanError  float64 `json:"mean_error"` // NaN when Frames is 0
	Frames     int     `json:"frames"`
	CreatedAt  int64   `json:"created_at"`
}

// RecordRun inserts rec. If RunID is empty, a UUID is generated.
func (db *DB) RecordRun(ctx context.Context, rec *RunRecord) error {
	if rec.RunID == "" {
		rec.RunID = uuid.New().String()
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = db.clock.Now().UnixNano()
	}

	return retryOnBusy(db.clock, func() error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO tracking_runs (
				run_id, dataset, marker_size, track_number, frame_window,
				start_frame, state, steps, failed_frame, result_path, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.RunID, rec.Dataset, rec.MarkerSize, rec.TrackNumber, rec.Window,
			nullInt(rec.StartFrame), rec.State, rec.Steps, nullInt(rec.FailedFrame),
			rec.ResultPath, rec.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		return nil
	})
}

// ListRuns returns the runs of dataset in insertion order. An empty
// dataset lists every run.
func (db *DB) ListRuns(ctx context.Context, dataset string) ([]*RunRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT run_id, dataset, marker_size, track_number, frame_window,
		       start_frame, state, steps, failed_frame, result_path, created_at
		FROM tracking_runs
		WHERE ? = '' OR dataset = ?
		ORDER BY created_at, rowid`, dataset, dataset)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		var r RunRecord
		var start, failed sql.NullInt64
		var path sql.NullString
		if err := rows.Scan(
			&r.RunID, &r.Dataset, &r.MarkerSize, &r.TrackNumber, &r.Window,
			&start, &r.State, &r.Steps, &failed, &path, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartFrame = intPtr(start)
		r.FailedFrame = intPtr(failed)
		r.ResultPath = path.String
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// RecordErrorSummary inserts s. If SummaryID is empty, a UUID is generated.
func (db *DB) RecordErrorSummary(ctx context.Context, s *ErrorSummary) error {
	if s.SummaryID == "" {
		s.SummaryID = uuid.New().String()
	}
	if s.CreatedAt == 0 {
		s.CreatedAt = db.clock.Now().UnixNano()
	}

	var mean interface{}
	if !math.IsNaN(s.MeanError) {
		mean = s.MeanError
	}

	return retryOnBusy(db.clock, func() error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO error_summaries (
				summary_id, dataset, marker_size, category, track_type,
				mean_error, frames, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			s.SummaryID, s.Dataset, s.MarkerSize, s.Category, s.TrackType,
			mean, s.Frames, s.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert error summary: %w", err)
		}
		return nil
	})
}

// ListErrorSummaries returns the summaries of dataset in insertion order.
func (db *DB) ListErrorSummaries(ctx context.Context, dataset string) ([]*ErrorSummary, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT summary_id, dataset, marker_size, category, track_type,
		       mean_error, frames, created_at
		FROM error_summaries
		WHERE dataset = ?
		ORDER BY created_at, rowid`, dataset)
	if err != nil {
		return nil, fmt.Errorf("query error summaries: %w", err)
	}
	defer rows.Close()

	var out []*ErrorSummary
	for rows.Next() {
		var s ErrorSummary
		var mean sql.NullFloat64
		if err := rows.Scan(
			&s.SummaryID, &s.Dataset, &s.MarkerSize, &s.Category, &s.TrackType,
			&mean, &s.Frames, &s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan error summary: %w", err)
		}
		s.MeanError = math.NaN()
		if mean.Valid {
			s.MeanError = mean.Float64
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

func nullInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
