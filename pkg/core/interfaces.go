package core

import (
	"context"
	"image"
	"math/rand"
)

// Environment is a single-agent episodic simulator
type Environment interface {
	// Reset starts a new episode and returns its first observation
	Reset(ctx context.Context) (Observation, Info, error)
	// Step advances the environment by one action
	Step(ctx context.Context, action Action) (StepResult, error)
	// ActionSpace describes the discrete actions Step accepts
	ActionSpace() ActionSpace
	// ObservationSize is the length of every observation vector
	ObservationSize() int
	// Close releases the environment
	Close() error
}

// Wrapper is implemented by environments that decorate another environment
type Wrapper interface {
	Environment
	Unwrap() Environment
}

// Telemetry is the vehicle state a reward shaper may read
type Telemetry interface {
	Speed() float64
	// LaneIndex returns false when the lane cannot be determined
	LaneIndex() (int, bool)
	LaneCount() int
	Crashed() bool
}

// TelemetryProvider exposes telemetry for the controlled vehicle.
// Telemetry returns nil when no vehicle exists.
type TelemetryProvider interface {
	Telemetry() Telemetry
}

// Renderer produces a frame of the current environment state
type Renderer interface {
	Render() (image.Image, error)
	// RenderFPS is the playback rate of consecutive frames
	RenderFPS() int
}

// Policy maps observations to actions without exploration noise
type Policy interface {
	Predict(obs Observation) (Action, error)
}

// StepHook is invoked by a learner after every environment step with the
// cumulative number of steps taken. A non-nil error aborts learning.
type StepHook func(ctx context.Context, numTimesteps int) error

// Agent is a trainable policy
type Agent interface {
	Policy
	// Learn trains for exactly steps environment steps
	Learn(ctx context.Context, env Environment, steps int, hook StepHook) error
	// Save persists the agent so it can be loaded again
	Save(path string) error
	// NumTimesteps is the number of environment steps trained so far
	NumTimesteps() int
}

// ActionSpace is a discrete action space of size N
type ActionSpace struct {
	N int
}

// Sample draws an action uniformly
func (s ActionSpace) Sample(rng *rand.Rand) Action {
	if s.N <= 0 {
		return 0
	}
	return Action(rng.Intn(s.N))
}

// Contains reports whether a is a valid action
func (s ActionSpace) Contains(a Action) bool {
	return a >= 0 && int(a) < s.N
}

// Unwrap walks wrapper chains and returns the innermost environment
func Unwrap(env Environment) Environment {
	for {
		w, ok := env.(Wrapper)
		if !ok {
			return env
		}
		env = w.Unwrap()
	}
}

// FindTelemetry returns the first TelemetryProvider in a wrapper chain
func FindTelemetry(env Environment) (TelemetryProvider, bool) {
	for env != nil {
		if tp, ok := env.(TelemetryProvider); ok {
			return tp, true
		}
		w, ok := env.(Wrapper)
		if !ok {
			return nil, false
		}
		env = w.Unwrap()
	}
	return nil, false
}

// FindRenderer returns the first Renderer in a wrapper chain
func FindRenderer(env Environment) (Renderer, bool) {
	for env != nil {
		if r, ok := env.(Renderer); ok {
			return r, true
		}
		w, ok := env.(Wrapper)
		if !ok {
			return nil, false
		}
		env = w.Unwrap()
	}
	return nil, false
}
