// Package agent implements a small PPO learner: a linear softmax policy and a
// linear value function trained with the clipped surrogate objective.
package agent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"go.uber.org/zap"

	"github.com/boristopalov/highway-evolution/pkg/core"
)

// ErrDiverged is returned when an update produces non-finite parameters
var ErrDiverged = errors.New("training diverged")

type PPO struct {
	params   Hyperparams
	obsDim   int
	nActions int

	w  [][]float64 // [nActions][obsDim]
	b  []float64
	vw []float64
	vb float64

	numTimesteps int
	rng          *rand.Rand
	logger       *zap.Logger
}

// NewPPO creates an agent for observations of length obsDim and nActions
// discrete actions.
func NewPPO(obsDim, nActions int, opts ...Option) (*PPO, error) {
	params := defaultPPOParams()
	for _, opt := range opts {
		opt(params)
	}
	if obsDim < 1 || nActions < 1 {
		return nil, fmt.Errorf("invalid shape: obs=%d actions=%d", obsDim, nActions)
	}
	if err := params.Hyperparams.Validate(); err != nil {
		return nil, err
	}
	if params.Logger == nil {
		params.Logger = zap.NewNop()
	}

	p := &PPO{
		params:   params.Hyperparams,
		obsDim:   obsDim,
		nActions: nActions,
		w:        make([][]float64, nActions),
		b:        make([]float64, nActions),
		vw:       make([]float64, obsDim),
		rng:      rand.New(rand.NewSource(params.Seed)),
		logger:   params.Logger,
	}
	for i := range p.w {
		p.w[i] = make([]float64, obsDim)
		for j := range p.w[i] {
			p.w[i][j] = (p.rng.Float64()*2 - 1) * 0.01
		}
	}
	return p, nil
}

// NewPPOForEnv sizes a new agent from env
func NewPPOForEnv(env core.Environment, opts ...Option) (*PPO, error) {
	return NewPPO(env.ObservationSize(), env.ActionSpace().N, opts...)
}

func (p *PPO) NumTimesteps() int        { return p.numTimesteps }
func (p *PPO) Hyperparams() Hyperparams { return p.params }

// Predict returns the most probable action
func (p *PPO) Predict(obs core.Observation) (core.Action, error) {
	if len(obs) != p.obsDim {
		return 0, fmt.Errorf("observation has %d features, policy expects %d", len(obs), p.obsDim)
	}
	logits := p.logits(obs)
	best := 0
	for i, l := range logits {
		if l > logits[best] {
			best = i
		}
	}
	return core.Action(best), nil
}

type transition struct {
	obs     core.Observation
	action  int
	logProb float64
	value   float64
	reward  float64
	end     bool
}

// Learn collects rollouts of NSteps transitions and updates after each one
// until exactly steps environment steps have been taken. hook runs after every
// step with the cumulative step count.
func (p *PPO) Learn(ctx context.Context, env core.Environment, steps int, hook core.StepHook) error {
	if env.ObservationSize() != p.obsDim || env.ActionSpace().N != p.nActions {
		return fmt.Errorf("environment shape obs=%d actions=%d does not match policy obs=%d actions=%d",
			env.ObservationSize(), env.ActionSpace().N, p.obsDim, p.nActions)
	}

	obs, _, err := env.Reset(ctx)
	if err != nil {
		return core.EnvError("reset", err)
	}

	for taken := 0; taken < steps; {
		n := min(p.params.NSteps, steps-taken)
		buf := make([]transition, 0, n)
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			action, logProb, value := p.sample(obs)
			res, err := env.Step(ctx, core.Action(action))
			if err != nil {
				return core.EnvError(fmt.Sprintf("step %d", p.numTimesteps+1), err)
			}
			p.numTimesteps++
			taken++

			r := res.Reward
			if res.Truncated && !res.Terminated {
				r += p.params.Gamma * p.value(res.Observation)
			}
			buf = append(buf, transition{
				obs:     obs,
				action:  action,
				logProb: logProb,
				value:   value,
				reward:  r,
				end:     res.Done(),
			})

			if hook != nil {
				if err := hook(ctx, p.numTimesteps); err != nil {
					return err
				}
			}

			if res.Done() {
				obs, _, err = env.Reset(ctx)
				if err != nil {
					return core.EnvError("reset", err)
				}
			} else {
				obs = res.Observation
			}
		}

		advantages, returns := p.gae(buf, p.value(obs))
		clipFrac := p.update(buf, advantages, returns)
		if !p.finite() {
			return fmt.Errorf("%w at step %d", ErrDiverged, p.numTimesteps)
		}
		p.logger.Debug("policy update",
			zap.Int("timesteps", p.numTimesteps),
			zap.Int("rollout", len(buf)),
			zap.Float64("clip_fraction", clipFrac))
	}
	return nil
}

// gae computes generalized advantage estimates, bootstrapping from lastValue
// when the rollout ends mid-episode.
func (p *PPO) gae(buf []transition, lastValue float64) (advantages, returns []float64) {
	advantages = make([]float64, len(buf))
	returns = make([]float64, len(buf))
	var last float64
	for t := len(buf) - 1; t >= 0; t-- {
		next := lastValue
		if t+1 < len(buf) {
			next = buf[t+1].value
		}
		nonTerminal := 1.0
		if buf[t].end {
			nonTerminal = 0
		}
		delta := buf[t].reward + p.params.Gamma*next*nonTerminal - buf[t].value
		last = delta + p.params.Gamma*p.params.GAELambda*nonTerminal*last
		advantages[t] = last
		returns[t] = last + buf[t].value
	}
	return advantages, returns
}

// update runs NEpochs passes of shuffled minibatches and returns the fraction
// of samples whose policy gradient was clipped.
func (p *PPO) update(buf []transition, advantages, returns []float64) float64 {
	idx := make([]int, len(buf))
	for i := range idx {
		idx[i] = i
	}
	var clipped, seen int

	for epoch := 0; epoch < p.params.NEpochs; epoch++ {
		p.rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		for start := 0; start < len(idx); start += p.params.BatchSize {
			batch := idx[start:min(start+p.params.BatchSize, len(idx))]
			adv := normalized(advantages, batch)

			gw := zeros(p.nActions, p.obsDim)
			gb := make([]float64, p.nActions)
			gvw := make([]float64, p.obsDim)
			var gvb float64

			for k, i := range batch {
				tr := buf[i]
				probs := softmax(p.logits(tr.obs))
				ratio := math.Exp(math.Log(probs[tr.action]+1e-8) - tr.logProb)
				seen++
				if (adv[k] > 0 && ratio > 1+p.params.ClipRange) || (adv[k] < 0 && ratio < 1-p.params.ClipRange) {
					clipped++
				} else {
					coef := ratio * adv[k]
					for a := 0; a < p.nActions; a++ {
						g := -probs[a]
						if a == tr.action {
							g += 1
						}
						g *= coef
						gb[a] += g
						for j, x := range tr.obs {
							gw[a][j] += g * x
						}
					}
				}

				verr := p.params.VFCoef * (returns[i] - p.value(tr.obs))
				gvb += verr
				for j, x := range tr.obs {
					gvw[j] += verr * x
				}
			}

			scale := p.params.LearningRate / float64(len(batch)) * p.gradScale(gw, gb, gvw, gvb, float64(len(batch)))
			for a := range p.w {
				for j := range p.w[a] {
					p.w[a][j] += scale * gw[a][j]
				}
				p.b[a] += scale * gb[a]
			}
			for j := range p.vw {
				p.vw[j] += scale * gvw[j]
			}
			p.vb += scale * gvb
		}
	}
	if seen == 0 {
		return 0
	}
	return float64(clipped) / float64(seen)
}

// gradScale shrinks the averaged gradient to MaxGradNorm
func (p *PPO) gradScale(gw [][]float64, gb, gvw []float64, gvb, n float64) float64 {
	if p.params.MaxGradNorm == 0 {
		return 1
	}
	var sq float64
	for a := range gw {
		for _, g := range gw[a] {
			sq += g * g
		}
		sq += gb[a] * gb[a]
	}
	for _, g := range gvw {
		sq += g * g
	}
	sq += gvb * gvb
	norm := math.Sqrt(sq) / n
	if norm <= p.params.MaxGradNorm {
		return 1
	}
	return p.params.MaxGradNorm / norm
}

func (p *PPO) sample(obs core.Observation) (action int, logProb, value float64) {
	probs := softmax(p.logits(obs))
	action = sampleCategorical(probs, p.rng)
	return action, math.Log(probs[action] + 1e-8), p.value(obs)
}

func (p *PPO) logits(obs core.Observation) []float64 {
	out := make([]float64, p.nActions)
	for a := range out {
		out[a] = p.b[a]
		for j, x := range obs {
			out[a] += p.w[a][j] * x
		}
	}
	return out
}

func (p *PPO) value(obs core.Observation) float64 {
	v := p.vb
	for j, x := range obs {
		v += p.vw[j] * x
	}
	return v
}

func (p *PPO) finite() bool {
	ok := func(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
	for a := range p.w {
		for _, v := range p.w[a] {
			if !ok(v) {
				return false
			}
		}
		if !ok(p.b[a]) {
			return false
		}
	}
	for _, v := range p.vw {
		if !ok(v) {
			return false
		}
	}
	return ok(p.vb)
}

func normalized(values []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	var mean float64
	for k, i := range idx {
		out[k] = values[i]
		mean += values[i]
	}
	if len(idx) < 2 {
		return out
	}
	mean /= float64(len(idx))
	var variance float64
	for _, v := range out {
		variance += (v - mean) * (v - mean)
	}
	std := math.Sqrt(variance/float64(len(idx))) + 1e-8
	for k := range out {
		out[k] = (out[k] - mean) / std
	}
	return out
}

func zeros(rows, cols int) [][]float64 {
	m := make([][]float64, rows)
	for i := range m {
		m[i] = make([]float64, cols)
	}
	return m
}

func softmax(logits []float64) []float64 {
	maxLogit := logits[0]
	for _, v := range logits[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}
	values := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		values[i] = math.Exp(v - maxLogit)
		sum += values[i]
	}
	for i := range values {
		values[i] /= sum
	}
	return values
}

func sampleCategorical(probs []float64, rng *rand.Rand) int {
	threshold := rng.Float64()
	var cumulativeProb float64
	for i, prob := range probs {
		cumulativeProb += prob
		if threshold <= cumulativeProb {
			return i
		}
	}
	return len(probs) - 1
}
