package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/progflow/internal/engine"
)

// Recorder writes a scheduler run into the trace store.
//
// Observe is registered as an after-step observer on every unit and buffers
// one record per step; Pass is a pass hook that flushes the buffer in one
// transaction; Fault is a fault hook. Write errors are logged and the run
// continues: the trace is a diagnostic, not part of the dataflow.
type Recorder struct {
	store   *Store
	session string
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	pending []StepRecord
	written int
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithRecorderLogger sets the logger for write errors.
func WithRecorderLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithNow sets the time source for session timestamps.
func WithNow(now func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRecorder creates a recorder writing into session sessionID.
func NewRecorder(s *Store, sessionID string, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:   s,
		session: sessionID,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SessionID returns the session being recorded.
func (r *Recorder) SessionID() string { return r.session }

// Begin creates the session record.
func (r *Recorder) Begin(ctx context.Context, pipeline string) error {
	return r.store.CreateSession(ctx, Session{
		ID:        r.session,
		Pipeline:  pipeline,
		StartedAt: r.now(),
		Status:    StatusRunning,
	})
}

// Attach registers Observe on every unit currently in the graph.
func (r *Recorder) Attach(g *engine.Graph) {
	for _, u := range g.Units() {
		u.Core().OnAfterStep(r.Observe)
	}
}

// Options returns the scheduler options that feed the recorder.
func (r *Recorder) Options() []engine.Option {
	return []engine.Option{
		engine.WithPassHook(r.Pass),
		engine.WithFaultHook(r.Fault),
	}
}

// Observe buffers the step the unit just completed.
func (r *Recorder) Observe(u engine.Unit, run int64) {
	st := engine.StatusOf(u)
	rec := StepRecord{
		SessionID: r.session,
		Run:       run,
		Unit:      st.Name,
		Kind:      st.Kind,
		State:     st.State,
		Steps:     u.Core().LastSteps(),
		Duration:  u.Core().LastStepTime(),
		Consumed:  st.Consumed,
		Total:     st.Total,
		Quality:   st.Quality,
	}
	r.mu.Lock()
	r.pending = append(r.pending, rec)
	r.mu.Unlock()
}

// Pass flushes the steps buffered during the pass.
func (r *Recorder) Pass(p engine.PassStats) {
	if err := r.Flush(context.Background()); err != nil {
		r.logger.Error("trace write failed", "session", r.session, "run", p.Run, "error", err)
	}
}

// Fault records a step fault.
func (r *Recorder) Fault(f *engine.StepFault) {
	err := r.store.WriteFault(context.Background(), FaultRecord{
		SessionID: r.session,
		Run:       f.Run,
		Unit:      f.Unit,
		Message:   f.Err.Error(),
	})
	if err != nil {
		r.logger.Error("trace fault write failed", "session", r.session, "unit", f.Unit, "error", err)
	}
}

// Flush writes buffered steps.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	if err := r.store.WriteSteps(ctx, batch); err != nil {
		return err
	}
	r.mu.Lock()
	r.written += len(batch)
	r.mu.Unlock()
	return nil
}

// Written returns the number of step records flushed so far.
func (r *Recorder) Written() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

// Finish flushes what is left and closes the session with a status derived
// from how the run ended.
func (r *Recorder) Finish(ctx context.Context, runErr error, stopped bool, runs int64) error {
	flushErr := r.Flush(ctx)
	status := StatusDrained
	switch {
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		status = StatusCancelled
	case runErr != nil:
		status = StatusFailed
	case stopped:
		status = StatusStopped
	}
	if err := r.store.FinishSession(ctx, r.session, status, runs, r.now()); err != nil {
		return errors.Join(flushErr, err)
	}
	return flushErr
}
