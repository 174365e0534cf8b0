package monitor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boristopalov/highway-evolution/pkg/core"
	"github.com/boristopalov/highway-evolution/pkg/events"
)

// countdownEnv ends every episode after length steps with reward 1 per step.
type countdownEnv struct {
	length int
	steps  int
}

func (e *countdownEnv) Reset(context.Context) (core.Observation, core.Info, error) {
	e.steps = 0
	return core.Observation{0}, core.Info{}, nil
}

func (e *countdownEnv) Step(context.Context, core.Action) (core.StepResult, error) {
	e.steps++
	return core.StepResult{
		Observation: core.Observation{0},
		Reward:      1,
		Truncated:   e.steps >= e.length,
	}, nil
}

func (e *countdownEnv) ActionSpace() core.ActionSpace { return core.ActionSpace{N: 1} }
func (e *countdownEnv) ObservationSize() int          { return 1 }
func (e *countdownEnv) Close() error                  { return nil }

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func TestMonitorPublishesEpisodes(t *testing.T) {
	ctx := context.Background()
	bus := events.NewBus()
	var got []events.Episode
	require.NoError(t, bus.Subscribe("test", func(e events.Event) error {
		assert.Equal(t, "run-7", e.RunID)
		got = append(got, e.Payload.(events.Episode))
		return nil
	}, events.TypeEpisodeCompleted))

	clock := &fakeClock{t: time.Unix(0, 0)}
	env := Wrap(&countdownEnv{length: 3}, bus, WithClock(clock.now), WithRunID("run-7"))

	for ep := 0; ep < 2; ep++ {
		_, _, err := env.Reset(ctx)
		require.NoError(t, err)
		for {
			res, err := env.Step(ctx, 0)
			require.NoError(t, err)
			if res.Done() {
				break
			}
		}
	}

	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Index)
	assert.Equal(t, 3.0, got[0].Reward)
	assert.Equal(t, 3, got[0].Length)
	assert.Equal(t, 3, got[0].Step)
	assert.Equal(t, 6, got[1].Step)
	assert.Greater(t, got[1].Elapsed, got[0].Elapsed)
	assert.Equal(t, 2, env.Episodes())
}

func TestMonitorPropagatesSubscriberErrors(t *testing.T) {
	ctx := context.Background()
	bus := events.NewBus()
	diskFull := errors.New("disk full")
	require.NoError(t, bus.Subscribe("csv", func(events.Event) error { return diskFull }))

	env := Wrap(&countdownEnv{length: 1}, bus)
	_, _, err := env.Reset(ctx)
	require.NoError(t, err)
	_, err = env.Step(ctx, 0)
	require.ErrorIs(t, err, diskFull)
}

func TestCSVWriterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "monitor.csv")
	w, err := NewCSVWriter(path, "highway-v0", "run-1")
	require.NoError(t, err)

	for i, r := range []float64{1.5, -4.25} {
		require.NoError(t, w.Handle(events.Event{
			Type:    events.TypeEpisodeCompleted,
			Payload: events.Episode{Index: i + 1, Reward: r, Length: 10 + i, Elapsed: time.Duration(i+1) * time.Second},
		}))
	}
	require.NoError(t, w.Handle(events.Event{Type: events.TypeCheckpointSaved, Payload: events.CheckpointSaved{}}))

	// rows are flushed as they are written
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "#{"))
	assert.Contains(t, lines[0], `"env_id":"highway-v0"`)
	assert.Equal(t, "reward,length,elapsed", lines[1])

	require.NoError(t, w.Close())

	rows, err := ReadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, []Row{
		{Reward: 1.5, Length: 10, Elapsed: 1},
		{Reward: -4.25, Length: 11, Elapsed: 2},
	}, rows)
}

func TestRewardWindow(t *testing.T) {
	w := NewRewardWindow(3)
	assert.Zero(t, w.Mean())

	for _, r := range []float64{1, 2, 3, 4} {
		w.Add(r)
	}
	assert.Equal(t, 3, w.Len())
	assert.Equal(t, []float64{2, 3, 4}, w.Values())
	assert.InDelta(t, 3.0, w.Mean(), 1e-12)
}
