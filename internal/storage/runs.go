package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/aerodocs/aipdeck/internal/model"
)

// SaveRun persists a finalized run record and its event logs in one
// transaction. A record is written exactly once; readers never observe a
// partial run.
func (d *DB) SaveRun(ctx context.Context, rec model.RunRecord) error {
	profiles, err := json.Marshal(rec.Profiles)
	if err != nil {
		return fmt.Errorf("storage: encode run profiles: %w", err)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin save run: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, status, profiles, pdf_created) VALUES (?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.Timestamp, string(rec.Status), string(profiles), rec.PDFCreated,
	); err != nil {
		return fmt.Errorf("storage: insert run: %w", err)
	}

	// Events are sequenced per profile in occurrence order, following the
	// selection order of the run so a replayed log reads chronologically.
	seq := 0
	for _, name := range rec.Profiles {
		for _, ev := range rec.Logs[name] {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO run_events (run_id, seq, occurred_at, profile, stage, message, status)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				rec.ID.String(), seq, ev.Timestamp, ev.Profile, string(ev.Stage), ev.Message, string(ev.Status),
			); err != nil {
				return fmt.Errorf("storage: insert run event: %w", err)
			}
			seq++
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit run: %w", err)
	}
	d.logger.Info("run saved", "run_id", rec.ID, "status", rec.Status, "profiles", len(rec.Profiles))
	return nil
}

// ListRuns returns run summaries, most recent first.
func (d *DB) ListRuns(ctx context.Context) ([]model.RunSummary, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, started_at, status, profiles, pdf_created FROM runs ORDER BY started_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("storage: list runs: %w", err)
	}
	defer rows.Close()

	runs := []model.RunSummary{}
	for rows.Next() {
		var s model.RunSummary
		var id, status, profiles string
		if err := rows.Scan(&id, &s.Timestamp, &status, &profiles, &s.PDFCreated); err != nil {
			return nil, fmt.Errorf("storage: scan run: %w", err)
		}
		s.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("storage: run id %q: %w", id, err)
		}
		s.Status = model.RunStatus(status)
		if err := json.Unmarshal([]byte(profiles), &s.Profiles); err != nil {
			return nil, fmt.Errorf("storage: decode run profiles: %w", err)
		}
		runs = append(runs, s)
	}
	return runs, rows.Err()
}

// GetRun returns the full run record including per-profile event logs,
// or ErrNotFound for an unknown id.
func (d *DB) GetRun(ctx context.Context, id uuid.UUID) (model.RunRecord, error) {
	var rec model.RunRecord
	var status, profiles string
	err := d.db.QueryRowContext(ctx,
		`SELECT started_at, status, profiles, pdf_created FROM runs WHERE id = ?`, id.String(),
	).Scan(&rec.Timestamp, &status, &profiles, &rec.PDFCreated)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RunRecord{}, ErrNotFound
	}
	if err != nil {
		return model.RunRecord{}, fmt.Errorf("storage: get run: %w", err)
	}
	rec.ID = id
	rec.Status = model.RunStatus(status)
	if err := json.Unmarshal([]byte(profiles), &rec.Profiles); err != nil {
		return model.RunRecord{}, fmt.Errorf("storage: decode run profiles: %w", err)
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT occurred_at, profile, stage, message, status FROM run_events
		 WHERE run_id = ? ORDER BY seq`, id.String())
	if err != nil {
		return model.RunRecord{}, fmt.Errorf("storage: get run events: %w", err)
	}
	defer rows.Close()

	rec.Logs = make(map[string][]model.StageEvent)
	for rows.Next() {
		var ev model.StageEvent
		var stage, evStatus string
		if err := rows.Scan(&ev.Timestamp, &ev.Profile, &stage, &ev.Message, &evStatus); err != nil {
			return model.RunRecord{}, fmt.Errorf("storage: scan run event: %w", err)
		}
		ev.Stage = model.Stage(stage)
		ev.Status = model.EventStatus(evStatus)
		rec.Logs[ev.Profile] = append(rec.Logs[ev.Profile], ev)
	}
	return rec, rows.Err()
}
