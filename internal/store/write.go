package store

import (
	"context"
	"fmt"
	"time"
)

// CreateSession inserts a session record.
// Uses ON CONFLICT(id) DO NOTHING: creating the same session twice is a no-op.
func (s *Store) CreateSession(ctx context.Context, sess Session) error {
	status := sess.Status
	if status == "" {
		status = StatusRunning
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, pipeline, started_at, status, runs)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, sess.ID, sess.Pipeline, formatTime(sess.StartedAt), status, sess.Runs)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// FinishSession records how a session ended.
func (s *Store) FinishSession(ctx context.Context, id, status string, runs int64, endedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, runs = ?, ended_at = ?
		WHERE id = ?
	`, status, runs, formatTime(endedAt), id)
	if err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish session %s: %w", id, ErrSessionNotFound)
	}
	return nil
}

// WriteSteps inserts step records in one transaction.
// Uses ON CONFLICT DO NOTHING for idempotency: a (session, run, unit) row is
// written once.
func (s *Store) WriteSteps(ctx context.Context, steps []StepRecord) error {
	if len(steps) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write steps: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO steps
		(session_id, run, unit, kind, state, steps, duration_ns, consumed, total, quality)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("write steps: prepare: %w", err)
	}
	defer stmt.Close()

	for _, st := range steps {
		quality, err := marshalQuality(st.Quality)
		if err != nil {
			return fmt.Errorf("write steps: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			st.SessionID,
			st.Run,
			st.Unit,
			st.Kind,
			st.State,
			st.Steps,
			int64(st.Duration),
			st.Consumed,
			st.Total,
			quality,
		); err != nil {
			return fmt.Errorf("write step %s@%d: %w", st.Unit, st.Run, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write steps: commit: %w", err)
	}
	return nil
}

// WriteFault inserts a fault record. Duplicate writes are ignored.
func (s *Store) WriteFault(ctx context.Context, f FaultRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO faults (session_id, run, unit, message)
		VALUES (?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, f.SessionID, f.Run, f.Unit, f.Message)
	if err != nil {
		return fmt.Errorf("write fault: %w", err)
	}
	return nil
}
