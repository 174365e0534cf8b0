package evolution

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"go.uber.org/zap"

	"github.com/boristopalov/highway-evolution/pkg/agent"
	"github.com/boristopalov/highway-evolution/pkg/capture"
	"github.com/boristopalov/highway-evolution/pkg/checkpoint"
	"github.com/boristopalov/highway-evolution/pkg/config"
	"github.com/boristopalov/highway-evolution/pkg/core"
	"github.com/boristopalov/highway-evolution/pkg/environment"
	"github.com/boristopalov/highway-evolution/pkg/reward"
)

// EnvFactory builds a fresh rendering environment for one stage
type EnvFactory func(cfg *config.Config) (core.Environment, error)

// PolicyLoader restores a policy from a checkpoint file
type PolicyLoader func(path string) (core.Policy, error)

type recordParams struct {
	logger     *zap.Logger
	makeEnv    EnvFactory
	loadPolicy PolicyLoader
}

type Option func(*recordParams)

func WithLogger(logger *zap.Logger) Option {
	return func(p *recordParams) {
		p.logger = logger
	}
}

func WithEnvFactory(f EnvFactory) Option {
	return func(p *recordParams) {
		p.makeEnv = f
	}
}

func WithPolicyLoader(f PolicyLoader) Option {
	return func(p *recordParams) {
		p.loadPolicy = f
	}
}

// DefaultEnvFactory makes cfg.EnvID with the shaped reward applied, seeded
// with cfg.Seed so every stage starts from the same traffic.
func DefaultEnvFactory(cfg *config.Config) (core.Environment, error) {
	env, err := environment.Make(cfg.EnvID, cfg.Seed)
	if err != nil {
		return nil, err
	}
	return reward.Wrap(env, cfg.Reward), nil
}

func loadPPO(path string) (core.Policy, error) {
	p, err := agent.Load(path)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// StageRecording is the capture of one stage
type StageRecording struct {
	Stage     Stage
	Recording capture.Recording
}

// RecordStages captures one episode per stage: a seeded random policy, the
// half checkpoint and the final checkpoint. Stale clips in each stage folder
// are removed first so every folder ends with exactly one clip.
func RecordStages(ctx context.Context, cfg *config.Config, opts ...Option) ([]StageRecording, error) {
	params := &recordParams{makeEnv: DefaultEnvFactory, loadPolicy: loadPPO}
	for _, opt := range opts {
		opt(params)
	}
	if params.logger == nil {
		params.logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	layout := Layout{Root: cfg.Video.Dir}
	capturer := capture.Capturer{Logger: params.logger, Prefix: cfg.Video.Prefix}

	out := make([]StageRecording, 0, 3)
	for _, stage := range Stages() {
		src, err := stageSource(cfg, stage, params.loadPolicy)
		if err != nil {
			return out, err
		}
		dir := layout.StageDir(stage)
		if err := purgeMedia(dir); err != nil {
			return out, fmt.Errorf("clear %s: %w", dir, err)
		}

		rec, err := recordStage(ctx, cfg, params.makeEnv, capturer, src, dir)
		if err != nil {
			return out, fmt.Errorf("record %s stage: %w", stage, err)
		}
		params.logger.Info("recorded stage",
			zap.Stringer("stage", stage),
			zap.String("path", rec.Path))
		out = append(out, StageRecording{Stage: stage, Recording: rec})
	}
	return out, nil
}

func stageSource(cfg *config.Config, stage Stage, load PolicyLoader) (capture.ActionSource, error) {
	switch stage {
	case Untrained:
		return capture.NewRandom(cfg.Seed), nil
	case Half:
		policy, err := checkpoint.Load[core.Policy](cfg.HalfPath(), load)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s (total_timesteps %d): %w",
				ErrHalfCheckpointMissing, cfg.HalfPath(), cfg.TotalTimesteps, err)
		}
		if err != nil {
			return nil, err
		}
		return capture.Policy{Policy: policy}, nil
	case Final:
		policy, err := checkpoint.Load[core.Policy](cfg.FinalPath(), load)
		if err != nil {
			return nil, err
		}
		return capture.Policy{Policy: policy}, nil
	default:
		return nil, fmt.Errorf("unknown stage %d", int(stage))
	}
}

func recordStage(ctx context.Context, cfg *config.Config, makeEnv EnvFactory, c capture.Capturer, src capture.ActionSource, dir string) (rec capture.Recording, err error) {
	env, err := makeEnv(cfg)
	if err != nil {
		return capture.Recording{}, err
	}
	defer func() {
		if cerr := env.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return c.Capture(ctx, env, src, dir)
}

// Stitch assembles the clip of every stage folder into cfg.EvolutionPath()
func Stitch(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Result, error) {
	layout := Layout{Root: cfg.Video.Dir}
	inputs := make([]string, 0, 3)
	for _, dir := range layout.StageDirs() {
		path, err := SelectMedia(dir)
		if err != nil {
			return Result{}, err
		}
		inputs = append(inputs, path)
	}
	return Assembler{Logger: logger, FPS: cfg.Video.FPS}.Assemble(ctx, inputs, cfg.EvolutionPath())
}
