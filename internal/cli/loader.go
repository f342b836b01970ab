package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/roach88/progflow/internal/engine"
	"github.com/roach88/progflow/internal/pipeline"
)

// LoadError is a pipeline that could not be loaded or built.
type LoadError struct {
	Code    string
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *LoadError) Unwrap() error { return e.Err }

// LoadPipeline reads a pipeline document and builds its graph. Print
// units write to stdout.
func LoadPipeline(path string, stdout io.Writer) (*pipeline.Document, *engine.Graph, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("pipeline not found: %s", path)}
		}
		return nil, nil, &LoadError{Code: ErrCodeNotFound, Message: "cannot access pipeline", Err: err}
	}
	doc, err := pipeline.Load(path)
	if err != nil {
		return nil, nil, &LoadError{Code: ErrCodeLoad, Message: "cannot load pipeline", Err: err}
	}
	g, err := pipeline.Build(doc, pipeline.DefaultRegistry(stdout))
	if err != nil {
		return doc, nil, &LoadError{Code: ErrCodeWiring, Message: "cannot build pipeline", Err: err}
	}
	return doc, g, nil
}

// failLoad reports a LoadError through f.
func failLoad(f *OutputFormatter, err error) error {
	var le *LoadError
	if !errors.As(err, &le) {
		return f.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil, nil)
	}
	msg := le.Message
	if le.Err != nil {
		msg = fmt.Sprintf("%s: %v", le.Message, le.Err)
	}
	exit := ExitCommandError
	if le.Code == ErrCodeLoad || le.Code == ErrCodeWiring {
		exit = ExitFailure
	}
	var details any
	var we *engine.WiringError
	if errors.As(err, &we) {
		details = map[string]string{"wiring_code": string(we.Code)}
	}
	return f.Fail(exit, le.Code, msg, nil, details)
}
