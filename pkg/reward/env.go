package reward

import (
	"context"

	"github.com/boristopalov/highway-evolution/pkg/core"
)

// Env wraps an environment and replaces every step reward with the shaped
// reward. The native reward is discarded.
type Env struct {
	env     core.Environment
	weights Weights
	tracker LaneTracker
	last    Terms
}

func Wrap(env core.Environment, weights Weights) *Env {
	return &Env{env: env, weights: weights}
}

func (e *Env) Reset(ctx context.Context) (core.Observation, core.Info, error) {
	e.tracker.Forget()
	obs, info, err := e.env.Reset(ctx)
	if err != nil {
		return nil, nil, err
	}
	sig := e.signal(info)
	e.tracker.Observe(sig.Lane, sig.LaneKnown)
	return obs, info, nil
}

func (e *Env) Step(ctx context.Context, action core.Action) (core.StepResult, error) {
	res, err := e.env.Step(ctx, action)
	if err != nil {
		return core.StepResult{}, err
	}
	e.last = e.weights.Shape(e.signal(res.Info), &e.tracker)
	res.Reward = e.last.Total
	return res, nil
}

// LastTerms returns the breakdown of the most recent shaped reward
func (e *Env) LastTerms() Terms {
	return e.last
}

func (e *Env) ActionSpace() core.ActionSpace { return e.env.ActionSpace() }
func (e *Env) ObservationSize() int          { return e.env.ObservationSize() }
func (e *Env) Close() error                  { return e.env.Close() }
func (e *Env) Unwrap() core.Environment      { return e.env }

func (e *Env) signal(info core.Info) Signal {
	sig := Signal{Crashed: info.Bool("crashed")}
	tp, ok := core.FindTelemetry(e.env)
	if !ok {
		return sig
	}
	t := tp.Telemetry()
	if t == nil {
		return sig
	}
	sig.Speed = t.Speed()
	sig.Lane, sig.LaneKnown = t.LaneIndex()
	sig.LaneCount = t.LaneCount()
	sig.Crashed = sig.Crashed || t.Crashed()
	return sig
}
