package capture

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boristopalov/highway-evolution/pkg/core"
	"github.com/boristopalov/highway-evolution/pkg/media"
)

// scriptedEnv terminates after `length` steps and renders a solid frame
type scriptedEnv struct {
	length    int
	steps     int
	resets    int
	actions   []core.Action
	failStep  int
	failFrame int
	renders   int
}

func (e *scriptedEnv) Reset(context.Context) (core.Observation, core.Info, error) {
	e.resets++
	e.steps = 0
	return core.Observation{0}, core.Info{}, nil
}

func (e *scriptedEnv) Step(_ context.Context, a core.Action) (core.StepResult, error) {
	e.steps++
	if e.failStep > 0 && e.steps == e.failStep {
		return core.StepResult{}, errors.New("sensor fault")
	}
	e.actions = append(e.actions, a)
	return core.StepResult{
		Observation: core.Observation{float64(e.steps)},
		Reward:      0.5,
		Terminated:  e.steps >= e.length,
	}, nil
}

func (e *scriptedEnv) ActionSpace() core.ActionSpace { return core.ActionSpace{N: 5} }
func (e *scriptedEnv) ObservationSize() int          { return 1 }
func (e *scriptedEnv) Close() error                  { return nil }
func (e *scriptedEnv) RenderFPS() int                { return 5 }

func (e *scriptedEnv) Render() (image.Image, error) {
	e.renders++
	if e.failFrame > 0 && e.renders == e.failFrame {
		return nil, errors.New("no display")
	}
	img := image.NewPaletted(image.Rect(0, 0, 4, 4), color.Palette{color.Black, color.White})
	return img, nil
}

type constPolicy core.Action

func (p constPolicy) Predict(core.Observation) (core.Action, error) { return core.Action(p), nil }

type failingPolicy struct{}

func (failingPolicy) Predict(core.Observation) (core.Action, error) {
	return 0, errors.New("bad weights")
}

func TestCaptureRecordsResetFramePlusOnePerStep(t *testing.T) {
	env := &scriptedEnv{length: 3}
	dir := filepath.Join(t.TempDir(), "1_untrained")

	rec, err := Capturer{}.Capture(context.Background(), env, NewRandom(1), dir)
	require.NoError(t, err)

	assert.Equal(t, 3, rec.Steps)
	assert.Equal(t, 4, rec.Frames)
	assert.InDelta(t, 1.5, rec.Reward, 1e-9)
	assert.Equal(t, filepath.Join(dir, "stage-episode-0.gif"), rec.Path)
	assert.Equal(t, 1, env.resets, "only one episode is recorded")

	clip, err := media.OpenClip(rec.Path)
	require.NoError(t, err)
	defer clip.Close()
	assert.Len(t, clip.Frames, 4)
	assert.Equal(t, []int{20, 20, 20, 20}, clip.Delays)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCapturePolicyIsDeterministic(t *testing.T) {
	env := &scriptedEnv{length: 4}
	rec, err := Capturer{Prefix: "final", FPS: 30}.Capture(context.Background(), env, Policy{Policy: constPolicy(3)}, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "final-episode-0.gif", filepath.Base(rec.Path))
	assert.Equal(t, []core.Action{3, 3, 3, 3}, env.actions)
}

func TestCaptureRandomStaysInActionSpace(t *testing.T) {
	env := &scriptedEnv{length: 50}
	_, err := Capturer{}.Capture(context.Background(), env, Random{Rng: rand.New(rand.NewSource(9))}, t.TempDir())
	require.NoError(t, err)
	for _, a := range env.actions {
		assert.True(t, env.ActionSpace().Contains(a))
	}
}

func TestCaptureFailuresLeaveNoClip(t *testing.T) {
	tests := []struct {
		name string
		env  *scriptedEnv
		src  ActionSource
		is   error
	}{
		{"step error", &scriptedEnv{length: 5, failStep: 2}, NewRandom(1), core.ErrEnvironment},
		{"render error", &scriptedEnv{length: 5, failFrame: 3}, NewRandom(1), nil},
		{"predict error", &scriptedEnv{length: 5}, Policy{Policy: failingPolicy{}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			_, err := Capturer{}.Capture(context.Background(), tt.env, tt.src, dir)
			require.Error(t, err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestCaptureRejectsIncompleteSources(t *testing.T) {
	env := &scriptedEnv{length: 1}
	_, err := Capturer{}.Capture(context.Background(), env, Random{}, t.TempDir())
	assert.Error(t, err)
	_, err = Capturer{}.Capture(context.Background(), env, Policy{}, t.TempDir())
	assert.Error(t, err)
	_, err = Capturer{}.Capture(context.Background(), env, nil, t.TempDir())
	assert.Error(t, err)
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "random", Describe(NewRandom(1)))
	assert.Equal(t, "policy", Describe(Policy{Policy: constPolicy(0)}))
}
