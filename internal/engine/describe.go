package engine

import (
	"fmt"
	"io"
	"math"
	"text/tabwriter"
	"time"
)

// UnitStatus is a point-in-time view of a unit.
type UnitStatus struct {
	Name       string             `json:"name"`
	Kind       string             `json:"kind"`
	State      string             `json:"state"`
	LastRun    int64              `json:"last_run"`
	StepCount  int64              `json:"step_count"`
	TotalSteps int64              `json:"total_steps"`
	Consumed   int64              `json:"consumed"`
	Total      int64              `json:"total"`
	Quality    map[string]float64 `json:"quality,omitempty"`
	DataInput  bool               `json:"data_input,omitempty"`
	Rows       int64              `json:"rows_ingested,omitempty"`
	StepTime   time.Duration      `json:"step_time_ns"`
	Fault      string             `json:"fault,omitempty"`
}

// FiniteQuality returns a copy of q without the NaN and infinite values,
// which JSON cannot encode.
func FiniteQuality(q map[string]float64) map[string]float64 {
	if q == nil {
		return nil
	}
	out := make(map[string]float64, len(q))
	for k, v := range q {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out[k] = v
		}
	}
	return out
}

// StatusOf reads a unit's status. Call it from the loop goroutine (for
// example in an after-step observer) or while no pass is running.
func StatusOf(u Unit) UnitStatus {
	c := u.Core()
	st := UnitStatus{
		Name:       c.Name(),
		Kind:       c.Kind(),
		State:      c.State().String(),
		LastRun:    c.LastRun(),
		StepCount:  c.StepCount(),
		TotalSteps: c.TotalSteps(),
		DataInput:  c.IsDataInput(),
		StepTime:   c.TotalStepTime(),
	}
	if p, ok := u.(ProgressReporter); ok {
		st.Consumed, st.Total = p.Progress()
	}
	if q, ok := u.(QualityReporter); ok {
		st.Quality = FiniteQuality(q.Quality())
	}
	if d, ok := u.(DataInput); ok {
		st.Rows = d.RowsIngested()
	}
	if f := c.Fault(); f != nil {
		st.Fault = f.Error()
	}
	return st
}

// Snapshot returns the status of every unit in registration order. It waits
// for the pass in progress, so it must not be called from the loop.
func (s *Scheduler) Snapshot() []UnitStatus {
	s.passMu.Lock()
	defer s.passMu.Unlock()
	units := s.graph.Units()
	out := make([]UnitStatus, 0, len(units))
	for _, u := range units {
		out = append(out, StatusOf(u))
	}
	return out
}

// Describe writes an aligned listing of the scheduler's units.
func (s *Scheduler) Describe(w io.Writer) error {
	units := s.Snapshot()
	fmt.Fprintf(w, "Scheduler run=%d running=%t units=%d\n", s.RunNumber(), s.Running(), len(units))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tSTATE\tRUN\tSTEPS\tPROGRESS")
	for _, u := range units {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
			u.Name, u.Kind, u.State, u.LastRun, u.TotalSteps, formatProgress(u.Consumed, u.Total))
	}
	return tw.Flush()
}

func formatProgress(consumed, total int64) string {
	if total <= 0 {
		if consumed == 0 {
			return "-"
		}
		return fmt.Sprintf("%d/?", consumed)
	}
	return fmt.Sprintf("%d/%d (%.0f%%)", consumed, total, 100*float64(consumed)/float64(total))
}
