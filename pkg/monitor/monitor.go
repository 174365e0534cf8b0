// Package monitor tracks per-episode reward and length during training and
// writes them to a CSV log.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/boristopalov/highway-evolution/pkg/core"
	"github.com/boristopalov/highway-evolution/pkg/events"
)

// Env wraps an environment and publishes an events.Episode every time an
// episode ends.
type Env struct {
	env   core.Environment
	bus   events.Publisher
	runID string
	now   func() time.Time

	start    time.Time
	reward   float64
	length   int
	episodes int
	steps    int
}

type Option func(*Env)

// WithClock overrides the clock used for elapsed times
func WithClock(clock func() time.Time) Option {
	return func(e *Env) {
		e.now = clock
	}
}

// WithRunID tags published events with a run id
func WithRunID(id string) Option {
	return func(e *Env) {
		e.runID = id
	}
}

func Wrap(env core.Environment, bus events.Publisher, opts ...Option) *Env {
	m := &Env{env: env, bus: bus, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	m.start = m.now()
	return m
}

func (e *Env) Reset(ctx context.Context) (core.Observation, core.Info, error) {
	e.reward = 0
	e.length = 0
	return e.env.Reset(ctx)
}

func (e *Env) Step(ctx context.Context, action core.Action) (core.StepResult, error) {
	res, err := e.env.Step(ctx, action)
	if err != nil {
		return core.StepResult{}, err
	}
	e.reward += res.Reward
	e.length++
	e.steps++
	if !res.Done() {
		return res, nil
	}

	e.episodes++
	ep := events.Episode{
		Index:   e.episodes,
		Reward:  e.reward,
		Length:  e.length,
		Elapsed: e.now().Sub(e.start),
		Step:    e.steps,
	}
	if e.bus != nil {
		if err := e.bus.Publish(events.Event{
			Type:      events.TypeEpisodeCompleted,
			RunID:     e.runID,
			Payload:   ep,
			Timestamp: e.now(),
		}); err != nil {
			return core.StepResult{}, fmt.Errorf("publish episode %d: %w", ep.Index, err)
		}
	}
	return res, nil
}

// Episodes returns the number of completed episodes
func (e *Env) Episodes() int { return e.episodes }

func (e *Env) ActionSpace() core.ActionSpace { return e.env.ActionSpace() }
func (e *Env) ObservationSize() int          { return e.env.ObservationSize() }
func (e *Env) Close() error                  { return e.env.Close() }
func (e *Env) Unwrap() core.Environment      { return e.env }
