package agent

import (
	"fmt"
	"math/rand"

	"go.uber.org/zap"
)

// Hyperparams configures PPO training
type Hyperparams struct {
	LearningRate float64 `json:"learning_rate"`
	NSteps       int     `json:"n_steps"`
	BatchSize    int     `json:"batch_size"`
	NEpochs      int     `json:"n_epochs"`
	Gamma        float64 `json:"gamma"`
	GAELambda    float64 `json:"gae_lambda"`
	ClipRange    float64 `json:"clip_range"`
	VFCoef       float64 `json:"vf_coef"`
	MaxGradNorm  float64 `json:"max_grad_norm"`
}

func DefaultHyperparams() Hyperparams {
	return Hyperparams{
		LearningRate: 3e-4,
		NSteps:       2048,
		BatchSize:    64,
		NEpochs:      10,
		Gamma:        0.99,
		GAELambda:    0.95,
		ClipRange:    0.2,
		VFCoef:       0.5,
		MaxGradNorm:  0.5,
	}
}

func (h Hyperparams) Validate() error {
	switch {
	case h.LearningRate <= 0:
		return fmt.Errorf("learning_rate must be > 0, got %g", h.LearningRate)
	case h.NSteps < 1:
		return fmt.Errorf("n_steps must be >= 1, got %d", h.NSteps)
	case h.BatchSize < 1:
		return fmt.Errorf("batch_size must be >= 1, got %d", h.BatchSize)
	case h.NEpochs < 1:
		return fmt.Errorf("n_epochs must be >= 1, got %d", h.NEpochs)
	case h.Gamma < 0 || h.Gamma > 1:
		return fmt.Errorf("gamma must be in [0, 1], got %g", h.Gamma)
	case h.GAELambda < 0 || h.GAELambda > 1:
		return fmt.Errorf("gae_lambda must be in [0, 1], got %g", h.GAELambda)
	case h.ClipRange <= 0:
		return fmt.Errorf("clip_range must be > 0, got %g", h.ClipRange)
	case h.VFCoef < 0:
		return fmt.Errorf("vf_coef must be >= 0, got %g", h.VFCoef)
	case h.MaxGradNorm < 0:
		return fmt.Errorf("max_grad_norm must be >= 0, got %g", h.MaxGradNorm)
	}
	return nil
}

type ppoParams struct {
	Hyperparams Hyperparams
	Seed        int64
	Logger      *zap.Logger
}

type Option func(*ppoParams)

func WithHyperparams(h Hyperparams) Option {
	return func(p *ppoParams) {
		p.Hyperparams = h
	}
}

func WithSeed(seed int64) Option {
	return func(p *ppoParams) {
		p.Seed = seed
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(p *ppoParams) {
		p.Logger = l
	}
}

func defaultPPOParams() *ppoParams {
	return &ppoParams{
		Hyperparams: DefaultHyperparams(),
		Seed:        rand.Int63(),
		Logger:      zap.NewNop(),
	}
}
