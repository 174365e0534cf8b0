// Package capture records a single episode of an environment as an animated
// clip.
package capture

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/boristopalov/highway-evolution/pkg/core"
	"github.com/boristopalov/highway-evolution/pkg/media"
)

// DefaultPrefix names clips when Capturer.Prefix is empty
const DefaultPrefix = "stage"

// Recording describes a finished capture
type Recording struct {
	Path   string
	Steps  int
	Frames int
	Reward float64
}

// Capturer records the first episode of an environment. A zero FPS uses the
// environment's own render rate.
type Capturer struct {
	Logger *zap.Logger
	FPS    int
	Prefix string
}

// ClipName is the file name of the first captured episode
func ClipName(prefix string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + "-episode-0" + media.Ext
}

// Capture resets env once and steps it with actions from src until the
// episode terminates or is truncated, recording the reset frame and one frame
// per step into outDir. Only one episode is ever recorded.
func (c Capturer) Capture(ctx context.Context, env core.Environment, src ActionSource, outDir string) (Recording, error) {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if src == nil {
		return Recording{}, errors.New("nil action source")
	}
	switch s := src.(type) {
	case Random:
		if s.Rng == nil {
			return Recording{}, errors.New("random action source needs a generator")
		}
	case Policy:
		if s.Policy == nil {
			return Recording{}, errors.New("policy action source needs a policy")
		}
	}
	renderer, ok := core.FindRenderer(env)
	if !ok {
		return Recording{}, errors.New("environment cannot render frames")
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Recording{}, fmt.Errorf("create capture dir: %w", err)
	}

	fps := c.FPS
	if fps == 0 {
		fps = renderer.RenderFPS()
	}
	rec, err := media.NewRecorder(filepath.Join(outDir, ClipName(c.Prefix)), fps)
	if err != nil {
		return Recording{}, err
	}
	out := Recording{Path: rec.Path()}

	obs, _, err := env.Reset(ctx)
	if err != nil {
		rec.Abort()
		return Recording{}, core.EnvError("reset", err)
	}
	if err := addFrame(rec, renderer); err != nil {
		rec.Abort()
		return Recording{}, err
	}

	space := env.ActionSpace()
	for {
		if err := ctx.Err(); err != nil {
			rec.Abort()
			return Recording{}, err
		}
		action, err := src.next(space, obs)
		if err != nil {
			rec.Abort()
			return Recording{}, fmt.Errorf("choose action at step %d: %w", out.Steps+1, err)
		}
		res, err := env.Step(ctx, action)
		if err != nil {
			rec.Abort()
			return Recording{}, core.EnvError(fmt.Sprintf("step %d", out.Steps+1), err)
		}
		out.Steps++
		out.Reward += res.Reward
		if err := addFrame(rec, renderer); err != nil {
			rec.Abort()
			return Recording{}, err
		}
		if res.Done() {
			break
		}
		obs = res.Observation
	}

	out.Frames = rec.Frames()
	if err := rec.Close(); err != nil {
		return Recording{}, err
	}
	logger.Info("captured episode",
		zap.String("source", Describe(src)),
		zap.String("path", out.Path),
		zap.Int("steps", out.Steps),
		zap.Int("frames", out.Frames),
		zap.Float64("reward", out.Reward))
	return out, nil
}

func addFrame(rec *media.Recorder, r core.Renderer) error {
	frame, err := r.Render()
	if err != nil {
		return fmt.Errorf("render frame %d: %w", rec.Frames(), err)
	}
	return rec.Add(frame)
}

// NewRandom returns a Random source seeded with seed
func NewRandom(seed int64) Random {
	return Random{Rng: rand.New(rand.NewSource(seed))}
}
