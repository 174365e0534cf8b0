package training

import (
	"go.uber.org/zap"

	"github.com/boristopalov/highway-evolution/pkg/agent"
	"github.com/boristopalov/highway-evolution/pkg/config"
	"github.com/boristopalov/highway-evolution/pkg/core"
	"github.com/boristopalov/highway-evolution/pkg/environment"
	"github.com/boristopalov/highway-evolution/pkg/events"
	"github.com/boristopalov/highway-evolution/pkg/reward"
	"github.com/boristopalov/highway-evolution/pkg/store"
)

// EnvFactory builds the reward-shaped training environment
type EnvFactory func(cfg *config.Config) (core.Environment, error)

// AgentFactory builds a fresh agent for env
type AgentFactory func(cfg *config.Config, env core.Environment, logger *zap.Logger) (core.Agent, error)

type Option func(*Session)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithStore records runs in st. The caller keeps ownership of st.
func WithStore(st store.Store) Option {
	return func(s *Session) {
		s.store = st
	}
}

func WithBus(bus *events.Bus) Option {
	return func(s *Session) {
		s.bus = bus
	}
}

func WithEnvFactory(f EnvFactory) Option {
	return func(s *Session) {
		s.makeEnv = f
	}
}

func WithAgentFactory(f AgentFactory) Option {
	return func(s *Session) {
		s.makeAgent = f
	}
}

// DefaultEnvFactory makes cfg.EnvID with the shaped reward applied
func DefaultEnvFactory(cfg *config.Config) (core.Environment, error) {
	env, err := environment.Make(cfg.EnvID, cfg.Seed)
	if err != nil {
		return nil, err
	}
	return reward.Wrap(env, cfg.Reward), nil
}

// DefaultAgentFactory builds a PPO agent from the configured hyperparameters
func DefaultAgentFactory(cfg *config.Config, env core.Environment, logger *zap.Logger) (core.Agent, error) {
	p, err := agent.NewPPOForEnv(env,
		agent.WithHyperparams(cfg.Hyperparams()),
		agent.WithSeed(cfg.Seed),
		agent.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return p, nil
}
