package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrSessionNotFound is returned when a session ID is unknown.
var ErrSessionNotFound = errors.New("session not found")

// ReadSession returns a session with its steps and faults.
// Steps are ordered by run, then unit name.
func (s *Store) ReadSession(ctx context.Context, id string) (Trace, error) {
	sess, err := s.readSessionRow(ctx, id)
	if err != nil {
		return Trace{}, err
	}
	steps, err := s.ReadSteps(ctx, id, "")
	if err != nil {
		return Trace{}, err
	}
	faults, err := s.readFaults(ctx, id)
	if err != nil {
		return Trace{}, err
	}
	return Trace{Session: sess, Steps: steps, Faults: faults}, nil
}

func (s *Store) readSessionRow(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, pipeline, started_at, ended_at, status, runs
		FROM sessions
		WHERE id = ?
	`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("read session %s: %w", id, ErrSessionNotFound)
	}
	return sess, err
}

// ListSessions returns all sessions, oldest first.
// Returns an empty slice (not nil) when the store has no sessions.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pipeline, started_at, ended_at, status, runs
		FROM sessions
		ORDER BY started_at ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// ReadSteps returns the step records of a session, optionally limited to
// one unit.
func (s *Store) ReadSteps(ctx context.Context, sessionID, unit string) ([]StepRecord, error) {
	query := `
		SELECT session_id, run, unit, kind, state, steps, duration_ns, consumed, total, quality
		FROM steps
		WHERE session_id = ?`
	args := []any{sessionID}
	if unit != "" {
		query += ` AND unit = ?`
		args = append(args, unit)
	}
	query += ` ORDER BY run ASC, unit COLLATE BINARY ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	steps := []StepRecord{}
	for rows.Next() {
		var (
			st       StepRecord
			duration int64
			quality  string
		)
		if err := rows.Scan(
			&st.SessionID, &st.Run, &st.Unit, &st.Kind, &st.State,
			&st.Steps, &duration, &st.Consumed, &st.Total, &quality,
		); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		st.Duration = time.Duration(duration)
		if st.Quality, err = unmarshalQuality(quality); err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}
	return steps, nil
}

func (s *Store) readFaults(ctx context.Context, sessionID string) ([]FaultRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, run, unit, message
		FROM faults
		WHERE session_id = ?
		ORDER BY run ASC, unit COLLATE BINARY ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query faults: %w", err)
	}
	defer rows.Close()

	faults := []FaultRecord{}
	for rows.Next() {
		var f FaultRecord
		if err := rows.Scan(&f.SessionID, &f.Run, &f.Unit, &f.Message); err != nil {
			return nil, fmt.Errorf("scan fault: %w", err)
		}
		faults = append(faults, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate faults: %w", err)
	}
	return faults, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var (
		sess    Session
		started string
		ended   sql.NullString
	)
	if err := row.Scan(&sess.ID, &sess.Pipeline, &started, &ended, &sess.Status, &sess.Runs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("scan session: %w", err)
	}
	var err error
	if sess.StartedAt, err = parseTime(started); err != nil {
		return Session{}, err
	}
	if ended.Valid {
		t, err := parseTime(ended.String)
		if err != nil {
			return Session{}, err
		}
		sess.EndedAt = &t
	}
	return sess, nil
}
