package integrate

import (
	"fmt"
	"strings"

	"github.com/ChrisMcGann/hquant/pkg/level"
)

// ConsistencyError means a data file holds keys the relationship file does not
// relate to any parent. It is a configuration error and never retried.
type ConsistencyError struct {
	DataFile string
	RelFile  string
	Missing  []string
}

func (e *ConsistencyError) Error() string {
	shown := e.Missing
	if len(shown) > 5 {
		shown = shown[:5]
	}
	return fmt.Sprintf("%d keys of %s are not children in %s (first: %s)",
		len(e.Missing), e.DataFile, e.RelFile, strings.Join(shown, ", "))
}

// CalibrationError is a failed calibration. Calibration is not retried.
type CalibrationError struct {
	Err error
}

func (e *CalibrationError) Error() string {
	return "calibration failed: " + e.Err.Error()
}

func (e *CalibrationError) Unwrap() error {
	return e.Err
}

// StepError locates a fatal error in the pipeline.
type StepError struct {
	Level   level.Kind
	Dataset string
	State   State
	Err     error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s level, dataset %s (%s): %v", e.Level, e.Dataset, e.State, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
