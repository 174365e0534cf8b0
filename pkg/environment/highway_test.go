package environment

import (
	"context"
	"errors"
	"image"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boristopalov/highway-evolution/pkg/core"
)

func runEpisode(t *testing.T, env *Highway, policy func(step int) core.Action) (steps int, last core.StepResult) {
	t.Helper()
	ctx := context.Background()
	_, _, err := env.Reset(ctx)
	require.NoError(t, err)
	for {
		res, err := env.Step(ctx, policy(steps))
		require.NoError(t, err)
		steps++
		if res.Done() {
			return steps, res
		}
		require.LessOrEqual(t, steps, 1000, "episode never ended")
	}
}

func TestMakeKnownAndUnknown(t *testing.T) {
	env, err := Make("highway-v0", 1)
	require.NoError(t, err)
	assert.Equal(t, 5, env.ActionSpace().N)
	assert.Equal(t, 20, env.ObservationSize())

	_, err = Make("mountain-car-v0", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "highway-v0")
}

func TestEpisodeEndsByTruncationWithoutTraffic(t *testing.T) {
	env, err := NewHighway(Config{Lanes: 3, Vehicles: 0, Duration: 7, Density: 1, RenderFPS: 5}, rand.New(rand.NewSource(3)))
	require.NoError(t, err)

	steps, last := runEpisode(t, env, func(int) core.Action { return ActionFaster })
	assert.Equal(t, 7, steps)
	assert.True(t, last.Truncated)
	assert.False(t, last.Terminated)
	assert.Equal(t, 30.0, last.Info["speed"])
}

func TestCollisionTerminates(t *testing.T) {
	env, err := NewHighway(Config{Lanes: 1, Vehicles: 3, Duration: 200, Density: 1, RenderFPS: 5}, rand.New(rand.NewSource(9)))
	require.NoError(t, err)

	// a single lane with slower traffic ahead and the ego car at top speed
	steps, last := runEpisode(t, env, func(int) core.Action { return ActionFaster })
	assert.Less(t, steps, 200)
	assert.True(t, last.Terminated)
	assert.True(t, last.Info.Bool("crashed"))
	assert.Equal(t, -1.0, last.Reward)

	_, err = env.Step(context.Background(), ActionIdle)
	assert.ErrorIs(t, err, core.ErrEnvironment)
}

func TestLaneChangesStayOnRoad(t *testing.T) {
	env, err := NewHighway(Config{Lanes: 4, Vehicles: 0, Duration: 10, Density: 1, RenderFPS: 5}, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	ctx := context.Background()
	_, _, err = env.Reset(ctx)
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		_, err := env.Step(ctx, ActionLaneRight)
		require.NoError(t, err)
	}
	lane, ok := env.Telemetry().LaneIndex()
	require.True(t, ok)
	assert.Equal(t, 3, lane)
	assert.Equal(t, 4, env.Telemetry().LaneCount())
}

func TestTelemetryNilBeforeReset(t *testing.T) {
	env, err := Make("highway-fast-v0", 1)
	require.NoError(t, err)
	assert.Nil(t, env.Telemetry())

	_, err = env.Step(context.Background(), ActionIdle)
	assert.True(t, errors.Is(err, core.ErrEnvironment))
}

func TestSeedIsReproducible(t *testing.T) {
	ctx := context.Background()
	a, err := Make("highway-v0", 42)
	require.NoError(t, err)
	b, err := Make("highway-v0", 42)
	require.NoError(t, err)

	oa, _, err := a.Reset(ctx)
	require.NoError(t, err)
	ob, _, err := b.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, oa, ob)
}

func TestInvalidActionRejected(t *testing.T) {
	env, err := Make("highway-v0", 1)
	require.NoError(t, err)
	_, _, err = env.Reset(context.Background())
	require.NoError(t, err)

	_, err = env.Step(context.Background(), core.Action(9))
	assert.ErrorIs(t, err, core.ErrEnvironment)
}

func TestRender(t *testing.T) {
	env, err := Make("highway-v0", 5)
	require.NoError(t, err)
	_, err = env.Render()
	require.Error(t, err)

	_, _, err = env.Reset(context.Background())
	require.NoError(t, err)
	img, err := env.Render()
	require.NoError(t, err)

	p, ok := img.(*image.Paletted)
	require.True(t, ok)
	assert.Equal(t, image.Rect(0, 0, frameWidth, 4*lanePixels+2*roadMargin), p.Bounds())

	// ego vehicle is drawn at a fixed offset from the left edge
	egoX := int(viewBehindM * pixelsPerM)
	egoLane := env.ego.Lane
	y := roadMargin + egoLane*lanePixels + lanePixels/2
	assert.Equal(t, colorEgo, p.ColorIndexAt(egoX, y))
}

func TestRegisterValidates(t *testing.T) {
	require.Error(t, Register("broken-v0", Config{}))
	require.NoError(t, Register("narrow-v0", Config{Lanes: 2, Vehicles: 4, Duration: 5, Density: 1, RenderFPS: 2}))
	cfg, ok := Lookup("narrow-v0")
	require.True(t, ok)
	assert.Equal(t, 2, cfg.Lanes)
	assert.Contains(t, IDs(), "narrow-v0")
}
