package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Pipeline drained, document valid
	ExitFailure      = 1 // Validation failed or a unit faulted
	ExitCommandError = 2 // Bad arguments, unreadable files, database errors
)

// Error codes reported in output.
const (
	ErrCodeGeneric  = "E001"
	ErrCodeNotFound = "E002" // File or session not found
	ErrCodeLoad     = "E003" // Pipeline could not be read, parsed or validated
	ErrCodeWiring   = "E004" // Pipeline did not build into a valid graph
	ErrCodeStore    = "E005" // Trace database error
	ErrCodeFault    = "E006" // A unit faulted during the run
	ErrCodeServer   = "E007" // Status server failed
	ErrCodeScenario = "E008" // A scenario assertion failed
)

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates an ExitError.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error; errors that are not
// an ExitError map to ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Response is the JSON envelope of every command's output.
type Response struct {
	Status string     `json:"status"` // "ok" or "error"
	Data   any        `json:"data,omitempty"`
	Error  *ErrorBody `json:"error,omitempty"`
}

// ErrorBody describes a failure in JSON output.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// OutputFormatter writes command results as text or JSON.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // diagnostics; keeps JSON on Writer parseable
	Verbose   bool
}

func newFormatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// Emit writes data in an "ok" envelope when the format is JSON and calls
// text otherwise.
func (f *OutputFormatter) Emit(data any, text func(io.Writer) error) error {
	if f.Format == "json" {
		return f.encode(Response{Status: "ok", Data: data})
	}
	return text(f.Writer)
}

// Fail reports an error and returns the ExitError the command should
// return. data, when set, is included in the JSON envelope.
func (f *OutputFormatter) Fail(exit int, code, message string, data, details any) error {
	if f.Format == "json" {
		if err := f.encode(Response{
			Status: "error",
			Data:   data,
			Error:  &ErrorBody{Code: code, Message: message, Details: details},
		}); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
		if f.Verbose && details != nil {
			fmt.Fprintf(f.Writer, "Details: %v\n", details)
		}
	}
	return NewExitError(exit, fmt.Sprintf("%s: %s", code, message))
}

// VerboseLog writes a diagnostic line when verbose output is on.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

func (f *OutputFormatter) encode(r Response) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
