package engine

import (
	"errors"
	"fmt"
)

// WiringError is raised synchronously by graph edits. A failed edit leaves
// the graph unchanged.
type WiringError struct {
	// Code identifies the error category.
	Code WiringErrorCode

	// Message is a human-readable description.
	Message string

	// Unit and Port identify the offending endpoint when known.
	Unit string
	Port string
}

// WiringErrorCode categorizes wiring errors.
type WiringErrorCode string

const (
	// ErrCodeDuplicateName indicates a unit name is already registered.
	ErrCodeDuplicateName WiringErrorCode = "DUPLICATE_NAME"

	// ErrCodeUnknownUnit indicates a referenced unit is not in the graph.
	ErrCodeUnknownUnit WiringErrorCode = "UNKNOWN_UNIT"

	// ErrCodeUnknownOutput indicates the producer did not declare the output.
	ErrCodeUnknownOutput WiringErrorCode = "UNKNOWN_OUTPUT"

	// ErrCodeUnknownInput indicates the consumer did not declare the input.
	ErrCodeUnknownInput WiringErrorCode = "UNKNOWN_INPUT"

	// ErrCodeAlreadyBound indicates the input already has a slot.
	ErrCodeAlreadyBound WiringErrorCode = "ALREADY_BOUND"

	// ErrCodeTypeMismatch indicates a declared or actual type conflict.
	ErrCodeTypeMismatch WiringErrorCode = "TYPE_MISMATCH"

	// ErrCodeUnknownColumn indicates a column hint names a missing column.
	ErrCodeUnknownColumn WiringErrorCode = "UNKNOWN_COLUMN"

	// ErrCodeUnboundInput indicates a required input has no slot.
	ErrCodeUnboundInput WiringErrorCode = "UNBOUND_INPUT"

	// ErrCodeCycle indicates a dependency cycle made of live edges.
	ErrCodeCycle WiringErrorCode = "CYCLE"
)

// Error implements the error interface.
func (e *WiringError) Error() string {
	switch {
	case e.Unit != "" && e.Port != "":
		return fmt.Sprintf("%s: %s (unit=%s, port=%s)", e.Code, e.Message, e.Unit, e.Port)
	case e.Unit != "":
		return fmt.Sprintf("%s: %s (unit=%s)", e.Code, e.Message, e.Unit)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// DuplicateNameError reports a name collision in the graph.
func DuplicateNameError(name string) *WiringError {
	return &WiringError{Code: ErrCodeDuplicateName, Message: "unit name already registered", Unit: name}
}

// UnknownUnitError reports a reference to a unit that is not in the graph.
func UnknownUnitError(name string) *WiringError {
	return &WiringError{Code: ErrCodeUnknownUnit, Message: "unit not in graph", Unit: name}
}

// UnknownOutputError reports an undeclared producer output.
func UnknownOutputError(unit, output string) *WiringError {
	return &WiringError{Code: ErrCodeUnknownOutput, Message: "output not declared", Unit: unit, Port: output}
}

// UnknownInputError reports an undeclared consumer input.
func UnknownInputError(unit, input string) *WiringError {
	return &WiringError{Code: ErrCodeUnknownInput, Message: "input not declared", Unit: unit, Port: input}
}

// AlreadyBoundError reports a second slot for the same input.
func AlreadyBoundError(unit, input, boundTo string) *WiringError {
	return &WiringError{
		Code:    ErrCodeAlreadyBound,
		Message: fmt.Sprintf("input already bound to %s", boundTo),
		Unit:    unit,
		Port:    input,
	}
}

// InputTypeError reports a value whose type does not match a declaration.
func InputTypeError(unit, input string, want, got fmt.Stringer) *WiringError {
	return &WiringError{
		Code:    ErrCodeTypeMismatch,
		Message: fmt.Sprintf("expected %v, got %v", want, got),
		Unit:    unit,
		Port:    input,
	}
}

// UnknownColumnError reports a column hint that the producer cannot satisfy.
func UnknownColumnError(unit, input, column string) *WiringError {
	return &WiringError{
		Code:    ErrCodeUnknownColumn,
		Message: fmt.Sprintf("producer has no column %q", column),
		Unit:    unit,
		Port:    input,
	}
}

// UnboundInputError reports a required input without a slot.
func UnboundInputError(unit, input string) *WiringError {
	return &WiringError{Code: ErrCodeUnboundInput, Message: "required input is not connected", Unit: unit, Port: input}
}

// CycleError reports a dependency cycle over live edges.
func CycleError(path []string) *WiringError {
	return &WiringError{Code: ErrCodeCycle, Message: fmt.Sprintf("cycle over live edges: %v", path)}
}

func hasWiringCode(err error, code WiringErrorCode) bool {
	var we *WiringError
	if errors.As(err, &we) {
		return we.Code == code
	}
	return false
}

// IsWiringError returns true for any wiring error.
func IsWiringError(err error) bool {
	var we *WiringError
	return errors.As(err, &we)
}

// IsDuplicateName returns true if err is a duplicate-name wiring error.
func IsDuplicateName(err error) bool { return hasWiringCode(err, ErrCodeDuplicateName) }

// IsUnknownOutput returns true if err reports an undeclared output.
func IsUnknownOutput(err error) bool { return hasWiringCode(err, ErrCodeUnknownOutput) }

// IsUnknownInput returns true if err reports an undeclared input.
func IsUnknownInput(err error) bool { return hasWiringCode(err, ErrCodeUnknownInput) }

// IsAlreadyBound returns true if err reports a doubly bound input.
func IsAlreadyBound(err error) bool { return hasWiringCode(err, ErrCodeAlreadyBound) }

// IsInputTypeError returns true if err reports a type mismatch.
func IsInputTypeError(err error) bool { return hasWiringCode(err, ErrCodeTypeMismatch) }

// IsUnboundInput returns true if err reports a missing required input.
func IsUnboundInput(err error) bool { return hasWiringCode(err, ErrCodeUnboundInput) }

// IsCycle returns true if err reports a live-edge cycle.
func IsCycle(err error) bool { return hasWiringCode(err, ErrCodeCycle) }

// ErrOutsideTransaction is returned by direct graph edits while a scheduler
// is running; use Scheduler.Update or Scheduler.Enqueue instead.
var ErrOutsideTransaction = errors.New("graph mutation outside a transaction while scheduler is running")

// ErrUpstreamRemoved is the fault recorded on a unit whose required input
// lost its slot while the graph was live.
var ErrUpstreamRemoved = errors.New("required input removed")

// StepFault wraps an error returned (or a panic raised) by a unit's step.
// The scheduler records it on the unit, which becomes a zombie.
type StepFault struct {
	Unit string
	Run  int64
	Err  error
}

// Error implements the error interface.
func (f *StepFault) Error() string {
	return fmt.Sprintf("unit %s faulted at run %d: %v", f.Unit, f.Run, f.Err)
}

// Unwrap returns the underlying error.
func (f *StepFault) Unwrap() error { return f.Err }

// IsStepFault returns true if err is a StepFault.
func IsStepFault(err error) bool {
	var sf *StepFault
	return errors.As(err, &sf)
}

// PartialUpdateError reports that fewer created indices were available than
// requested. It is informational: the delivered prefix is valid and callers
// continue with what exists.
type PartialUpdateError struct {
	Requested int
	Delivered int
}

// Error implements the error interface.
func (e *PartialUpdateError) Error() string {
	return fmt.Sprintf("partial update: requested %d, delivered %d", e.Requested, e.Delivered)
}

// IsPartialUpdate returns true if err is a PartialUpdateError.
func IsPartialUpdate(err error) bool {
	var pe *PartialUpdateError
	return errors.As(err, &pe)
}

// BudgetViolation records a unit reporting more steps than it was able to
// consume. The scheduler clamps the count and keeps running.
type BudgetViolation struct {
	Unit     string
	Run      int64
	Reported int
	Clamped  int
}
