package training

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/boristopalov/highway-evolution/pkg/checkpoint"
	"github.com/boristopalov/highway-evolution/pkg/config"
	"github.com/boristopalov/highway-evolution/pkg/core"
	"github.com/boristopalov/highway-evolution/pkg/events"
	"github.com/boristopalov/highway-evolution/pkg/monitor"
	"github.com/boristopalov/highway-evolution/pkg/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// loopEnv ends every episode after three steps with reward 1 per step
type loopEnv struct {
	steps  int
	closed bool
}

func (e *loopEnv) Reset(context.Context) (core.Observation, core.Info, error) {
	e.steps = 0
	return core.Observation{0}, core.Info{}, nil
}

func (e *loopEnv) Step(context.Context, core.Action) (core.StepResult, error) {
	e.steps++
	return core.StepResult{Observation: core.Observation{float64(e.steps)}, Reward: 1, Truncated: e.steps == 3}, nil
}

func (e *loopEnv) ActionSpace() core.ActionSpace { return core.ActionSpace{N: 5} }
func (e *loopEnv) ObservationSize() int          { return 1 }

func (e *loopEnv) Close() error {
	e.closed = true
	return nil
}

// stubAgent steps env directly and writes its step count on Save
type stubAgent struct {
	steps    int
	failSave func(path string) bool
	failAt   int
	saves    []int
}

func (a *stubAgent) Predict(core.Observation) (core.Action, error) { return 1, nil }
func (a *stubAgent) NumTimesteps() int                             { return a.steps }

func (a *stubAgent) Learn(ctx context.Context, env core.Environment, steps int, hook core.StepHook) error {
	if _, _, err := env.Reset(ctx); err != nil {
		return err
	}
	for i := 0; i < steps; i++ {
		if a.failAt > 0 && a.steps+1 == a.failAt {
			return core.EnvError("step", errors.New("vehicle left the road"))
		}
		res, err := env.Step(ctx, 1)
		if err != nil {
			return err
		}
		a.steps++
		if err := hook(ctx, a.steps); err != nil {
			return err
		}
		if res.Done() {
			if _, _, err := env.Reset(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *stubAgent) Save(path string) error {
	if a.failSave != nil && a.failSave(path) {
		return errors.New("disk full")
	}
	a.saves = append(a.saves, a.steps)
	return os.WriteFile(path, []byte("agent"), 0o644)
}

func testConfig(t *testing.T, total int) *config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.TotalTimesteps = total
	cfg.ModelDir = filepath.Join(root, "models")
	cfg.Logs.Dir = filepath.Join(root, "logs")
	cfg.Video.Dir = filepath.Join(root, "videos")
	cfg.Store.Backend = "memory"
	return cfg
}

type fixture struct {
	session *Session
	env     *loopEnv
	agent   *stubAgent
	store   *store.MemoryStore
}

func newFixture(t *testing.T, cfg *config.Config, a *stubAgent) fixture {
	t.Helper()
	f := fixture{env: &loopEnv{}, agent: a, store: store.NewMemoryStore()}
	s, err := NewSession(cfg,
		WithLogger(zap.NewNop()),
		WithStore(f.store),
		WithEnvFactory(func(*config.Config) (core.Environment, error) { return f.env, nil }),
		WithAgentFactory(func(*config.Config, core.Environment, *zap.Logger) (core.Agent, error) { return f.agent, nil }))
	require.NoError(t, err)
	f.session = s
	return f
}

func TestRunSavesHalfAndFinalCheckpoints(t *testing.T) {
	cfg := testConfig(t, 10)
	f := newFixture(t, cfg, &stubAgent{})
	ctx := context.Background()

	res, err := f.session.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 10, res.Timesteps)
	assert.Equal(t, 3, res.Episodes)
	assert.InDelta(t, 3.0, res.MeanReward, 1e-9)
	require.NotNil(t, res.Half)
	assert.Equal(t, 5, res.Half.CreatedAtStep)
	assert.Equal(t, cfg.HalfPath(), res.Half.Path)
	assert.Equal(t, cfg.FinalPath(), res.Final.Path)
	assert.NoError(t, res.HalfErr)
	assert.Equal(t, []int{5, 10}, f.agent.saves)
	assert.FileExists(t, cfg.HalfPath())
	assert.FileExists(t, cfg.FinalPath())
	assert.True(t, f.env.closed)

	run, ok, err := f.store.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, store.StatusFinished, run.Status)
	assert.False(t, run.FinishedAt.IsZero())

	cps, err := f.store.ListCheckpoints(ctx, res.RunID)
	require.NoError(t, err)
	require.Len(t, cps, 2)
	assert.Equal(t, string(checkpoint.KindHalf), cps[0].Kind)
	assert.Equal(t, string(checkpoint.KindFinal), cps[1].Kind)

	eps, err := f.store.ListEpisodes(ctx, res.RunID)
	require.NoError(t, err)
	assert.Len(t, eps, 3)

	rows, err := monitor.ReadCSV(cfg.MonitorPath())
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for _, r := range rows {
		assert.Equal(t, 3.0, r.Reward)
		assert.Equal(t, 3, r.Length)
	}

	st := f.session.Status()
	assert.False(t, st.Running)
	assert.Empty(t, st.Errors)
	assert.False(t, st.EndTime.Before(st.StartTime))
}

func TestHalfSaveFailureDoesNotStopTraining(t *testing.T) {
	cfg := testConfig(t, 10)
	a := &stubAgent{failSave: func(path string) bool { return strings.HasSuffix(path, cfg.HalfName) }}
	f := newFixture(t, cfg, a)

	res, err := f.session.Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, res.Half)
	require.ErrorIs(t, res.HalfErr, checkpoint.ErrSave)
	assert.Equal(t, 10, res.Timesteps)
	assert.FileExists(t, cfg.FinalPath())
	assert.NoFileExists(t, cfg.HalfPath())
	assert.Len(t, f.session.Status().Errors, 1)
}

func TestFinalSaveFailureFailsRun(t *testing.T) {
	cfg := testConfig(t, 10)
	a := &stubAgent{failSave: func(path string) bool { return strings.HasSuffix(path, cfg.FinalName) }}
	f := newFixture(t, cfg, a)

	_, err := f.session.Run(context.Background())
	require.ErrorIs(t, err, checkpoint.ErrSave)
	assert.FileExists(t, cfg.HalfPath(), "half checkpoint is left in place")

	runs, err := f.store.ListRuns(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.StatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "disk full")
}

func TestEnvironmentErrorAbortsRun(t *testing.T) {
	cfg := testConfig(t, 10)
	f := newFixture(t, cfg, &stubAgent{failAt: 7})

	_, err := f.session.Run(context.Background())
	require.ErrorIs(t, err, core.ErrEnvironment)
	assert.FileExists(t, cfg.HalfPath())
	assert.NoFileExists(t, cfg.FinalPath())
	assert.True(t, f.env.closed)
	assert.NotEmpty(t, f.session.Status().Errors)
}

func TestTinyBudgetSkipsHalfCheckpoint(t *testing.T) {
	cfg := testConfig(t, 1)
	f := newFixture(t, cfg, &stubAgent{})

	res, err := f.session.Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, res.Half)
	assert.NoError(t, res.HalfErr)
	assert.Equal(t, []int{1}, f.agent.saves)
	assert.NoFileExists(t, cfg.HalfPath())
}

func TestInvalidConfigIsRejected(t *testing.T) {
	cfg := testConfig(t, 0)
	f := newFixture(t, cfg, &stubAgent{})

	_, err := f.session.Run(context.Background())
	require.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.Equal(t, 0, f.agent.steps)

	_, err = NewSession(nil)
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestSharedBusIsDetachedAfterRun(t *testing.T) {
	cfg := testConfig(t, 4)
	bus := events.NewBus()
	var seen []events.Type
	require.NoError(t, bus.Subscribe("observer", func(e events.Event) error {
		seen = append(seen, e.Type)
		return nil
	}))

	f := newFixture(t, cfg, &stubAgent{})
	WithBus(bus)(f.session)
	_, err := f.session.Run(context.Background())
	require.NoError(t, err)

	// half at step 2, episode end at 3, final at 4
	assert.Equal(t, []events.Type{
		events.TypeCheckpointSaved,
		events.TypeEpisodeCompleted,
		events.TypeCheckpointSaved,
	}, seen)

	// only the external observer remains
	require.NoError(t, bus.Unsubscribe("observer"))
	require.NoError(t, bus.Publish(events.Event{Type: events.TypeEpisodeCompleted}))
}

func TestRunWithDefaultFactories(t *testing.T) {
	cfg := testConfig(t, 64)
	cfg.EnvID = "highway-fast-v0"
	cfg.NSteps = 32
	cfg.BatchSize = 8
	cfg.NEpochs = 2
	cfg.Store.Backend = "sqlite"
	cfg.Store.Path = filepath.Join(t.TempDir(), "runs.db")

	s, err := NewSession(cfg)
	require.NoError(t, err)
	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 64, res.Timesteps)
	assert.FileExists(t, cfg.HalfPath())
	assert.FileExists(t, cfg.FinalPath())

	st := store.NewSQLiteStore(cfg.Store.Path)
	require.NoError(t, st.Init(context.Background()))
	defer st.Close()
	run, ok, err := st.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, store.StatusFinished, run.Status)
}
