// Package training runs a PPO training session and saves a half-budget and a
// final checkpoint.
package training

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/boristopalov/highway-evolution/pkg/checkpoint"
	"github.com/boristopalov/highway-evolution/pkg/config"
	"github.com/boristopalov/highway-evolution/pkg/core"
	"github.com/boristopalov/highway-evolution/pkg/events"
	"github.com/boristopalov/highway-evolution/pkg/monitor"
	"github.com/boristopalov/highway-evolution/pkg/store"
)

// progressSteps is how many progress lines a run logs
const progressSteps = 10

// Result summarizes a finished run
type Result struct {
	RunID     string
	Timesteps int
	Episodes  int
	// MeanReward is the mean over the last logs.reward_window episodes
	MeanReward float64
	// Half is nil when the half checkpoint was not written
	Half  *checkpoint.Checkpoint
	Final checkpoint.Checkpoint
	// HalfErr holds a failed half checkpoint save. Training continues past it.
	HalfErr error
}

// Session trains one agent on one environment
type Session struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     store.Store
	bus       *events.Bus
	makeEnv   EnvFactory
	makeAgent AgentFactory

	mu     sync.RWMutex
	status core.RunStatus
}

func NewSession(cfg *config.Config, opts ...Option) (*Session, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", config.ErrInvalidConfig)
	}
	s := &Session{
		cfg:       cfg,
		makeEnv:   DefaultEnvFactory,
		makeAgent: DefaultAgentFactory,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.bus == nil {
		s.bus = events.NewBus()
	}
	return s, nil
}

// Status reports whether the session is running and the errors it hit
func (s *Session) Status() core.RunStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.status
	st.Errors = append([]error(nil), s.status.Errors...)
	return st
}

func (s *Session) recordError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Errors = append(s.status.Errors, err)
}

// Run trains for total_timesteps steps. The half checkpoint is saved the
// first time the step count reaches half the budget; a failure there is
// logged and kept on the result. A failure to save the final checkpoint, or
// any agent or environment error, fails the run.
func (s *Session) Run(ctx context.Context) (res *Result, err error) {
	s.mu.Lock()
	if s.status.Running {
		s.mu.Unlock()
		return nil, errors.New("session is already running")
	}
	s.status = core.RunStatus{Running: true, StartTime: time.Now()}
	s.mu.Unlock()

	defer func() {
		if err != nil {
			s.recordError(err)
		}
		s.mu.Lock()
		s.status.Running = false
		s.status.EndTime = time.Now()
		s.mu.Unlock()
	}()

	cfg := s.cfg
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, dir := range []string{cfg.ModelDir, cfg.Logs.Dir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	st := s.store
	if st == nil {
		st, err = store.NewStore(cfg.Store.Backend, cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
		}
		defer func() {
			if cerr := store.CloseIfSupported(st); cerr != nil && err == nil {
				err = fmt.Errorf("close store: %w", cerr)
			}
		}()
	}
	if err := st.Init(ctx); err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	run := store.NewRun(cfg.EnvID, cfg.Seed, cfg.TotalTimesteps)
	if err := st.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("register run: %w", err)
	}
	logger := s.logger.With(zap.String("run_id", run.ID))
	defer func() {
		run.FinishedAt = time.Now().UTC()
		run.Status = store.StatusFinished
		if err != nil {
			run.Status = store.StatusFailed
			run.Error = err.Error()
		}
		if serr := st.SaveRun(context.WithoutCancel(ctx), run); serr != nil {
			logger.Warn("failed to update run record", zap.Error(serr))
		}
	}()

	res = &Result{RunID: run.ID}
	window := monitor.NewRewardWindow(cfg.Logs.RewardWindow)
	unsubscribe, err := s.subscribe(ctx, run, st, window, logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := unsubscribe(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	base, err := s.makeEnv(cfg)
	if err != nil {
		return nil, fmt.Errorf("make environment %s: %w", cfg.EnvID, err)
	}
	env := monitor.Wrap(base, s.bus, monitor.WithRunID(run.ID))
	defer func() {
		if cerr := env.Close(); cerr != nil {
			logger.Warn("failed to close environment", zap.Error(cerr))
		}
	}()

	learner, err := s.makeAgent(cfg, env, logger)
	if err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}

	logger.Info("training started",
		zap.String("env_id", cfg.EnvID),
		zap.String("timesteps", humanize.Comma(int64(cfg.TotalTimesteps))),
		zap.String("store", cfg.Store.Backend))

	latch := checkpoint.NewLatch(cfg.TotalTimesteps)
	if latch.Disabled() {
		logger.Warn("budget too small for a half checkpoint", zap.Int("total_timesteps", cfg.TotalTimesteps))
	}
	every := max(cfg.TotalTimesteps/progressSteps, 1)

	hook := func(ctx context.Context, n int) error {
		var fire bool
		latch, fire = latch.Advance(n)
		if fire {
			s.saveHalf(learner, run.ID, n, res, logger)
		}
		if n%every == 0 {
			logger.Info("progress",
				zap.String("timesteps", humanize.Comma(int64(n))),
				zap.Int("episodes", env.Episodes()),
				zap.Float64("mean_reward", window.Mean()))
		}
		return nil
	}

	if err := learner.Learn(ctx, env, cfg.TotalTimesteps, hook); err != nil {
		return nil, fmt.Errorf("learn: %w", err)
	}

	final, err := checkpoint.Save(learner, run.ID, checkpoint.KindFinal, cfg.ModelDir, cfg.FinalName, learner.NumTimesteps())
	if err != nil {
		return nil, err
	}
	if err := s.publishCheckpoint(run.ID, final); err != nil {
		return nil, err
	}
	logger.Info("saved final model", zap.String("path", final.Path))

	res.Final = final
	res.Timesteps = learner.NumTimesteps()
	res.Episodes = env.Episodes()
	res.MeanReward = window.Mean()
	return res, nil
}

// saveHalf writes the half checkpoint. Failures are recorded, not returned.
func (s *Session) saveHalf(learner core.Agent, runID string, step int, res *Result, logger *zap.Logger) {
	cp, err := checkpoint.Save(learner, runID, checkpoint.KindHalf, s.cfg.ModelDir, s.cfg.HalfName, step)
	if err == nil {
		err = s.publishCheckpoint(runID, cp)
	}
	if err != nil {
		res.HalfErr = err
		s.recordError(err)
		logger.Warn("half checkpoint not saved, continuing", zap.Int("step", step), zap.Error(err))
		return
	}
	res.Half = &cp
	logger.Info("saved half model", zap.Int("step", step), zap.String("path", cp.Path))
}

func (s *Session) publishCheckpoint(runID string, cp checkpoint.Checkpoint) error {
	return s.bus.Publish(events.Event{
		Type:      events.TypeCheckpointSaved,
		RunID:     runID,
		Payload:   events.CheckpointSaved{Checkpoint: cp},
		Timestamp: cp.CreatedAt,
	})
}
