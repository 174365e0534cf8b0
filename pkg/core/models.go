package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrEnvironment wraps failures raised by an environment during reset or step
var ErrEnvironment = errors.New("environment error")

type Observation []float64

type Action int

// Info carries auxiliary per-step data such as the "crashed" flag
type Info map[string]any

// Bool returns info[key] when it holds a bool
func (i Info) Bool(key string) bool {
	v, ok := i[key].(bool)
	return ok && v
}

type StepResult struct {
	Observation Observation
	Reward      float64
	Terminated  bool
	Truncated   bool
	Info        Info
}

// Done reports whether the episode ended on this step
func (r StepResult) Done() bool {
	return r.Terminated || r.Truncated
}

type RunStatus struct {
	Running   bool
	StartTime time.Time
	EndTime   time.Time
	Errors    []error
}

// EnvError tags err as an environment failure during op unless it already is one
func EnvError(op string, err error) error {
	if errors.Is(err, ErrEnvironment) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrEnvironment, op, err)
}
