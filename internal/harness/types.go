package harness

// StepEvent is one completed step as seen by an after-step observer.
type StepEvent struct {
	Run   int64  `json:"run"`
	Unit  string `json:"unit"`
	State string `json:"state"`
	Steps int64  `json:"steps"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Runs is the scheduler's run counter after the loop ended.
	Runs int64 `json:"runs"`

	// Trace lists completed steps in execution order.
	Trace []StepEvent `json:"trace"`

	// Faults holds the step faults raised during the run.
	Faults []string `json:"faults,omitempty"`

	// Errors holds assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// States maps every unit still in the graph to its final state.
	States map[string]string `json:"states,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []StepEvent{},
		Errors: []string{},
		States: make(map[string]string),
	}
}

// AddError records an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddStep appends a completed step to the trace.
func (r *Result) AddStep(run int64, unit, state string, steps int64) {
	r.Trace = append(r.Trace, StepEvent{
		Run:   run,
		Unit:  unit,
		State: state,
		Steps: steps,
	})
}
