package evolution

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/boristopalov/highway-evolution/pkg/media"
)

// OutputFPS is the frame rate of the evolution animation
const OutputFPS = 30

// Result describes a written evolution animation
type Result struct {
	Path  string
	Size  int64
	Stats media.Stats
}

// Assembler concatenates stage clips into one animation
type Assembler struct {
	Logger *zap.Logger
	// FPS defaults to OutputFPS
	FPS int
	// Open defaults to media.OpenClip
	Open func(path string) (*media.Clip, error)
}

// Assemble opens every input, writes them in order to out and closes every
// opened clip, whether or not writing succeeds.
func (a Assembler) Assemble(ctx context.Context, inputs []string, out string) (res Result, err error) {
	logger := a.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	open := a.Open
	if open == nil {
		open = media.OpenClip
	}
	fps := a.FPS
	if fps == 0 {
		fps = OutputFPS
	}
	if len(inputs) == 0 {
		return Result{}, errors.New("no inputs to assemble")
	}

	clips := make([]*media.Clip, 0, len(inputs))
	defer func() {
		var errs []error
		for _, c := range clips {
			if cerr := c.Close(); cerr != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", c.Path, cerr))
			}
		}
		if cerr := errors.Join(errs...); cerr != nil && err == nil {
			err = cerr
		}
	}()

	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		c, err := open(in)
		if err != nil {
			return Result{}, err
		}
		clips = append(clips, c)
		logger.Debug("opened clip",
			zap.String("path", in),
			zap.Int("frames", len(c.Frames)),
			zap.Duration("duration", c.Duration()))
	}

	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return Result{}, fmt.Errorf("create output dir: %w", err)
	}
	partial := out + media.PartialSuffix
	f, err := os.Create(partial)
	if err != nil {
		return Result{}, fmt.Errorf("create output: %w", err)
	}
	stats, err := media.WriteComposed(f, clips, fps)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close output: %w", cerr)
	}
	if err != nil {
		os.Remove(partial)
		return Result{}, err
	}
	if err := os.Rename(partial, out); err != nil {
		os.Remove(partial)
		return Result{}, fmt.Errorf("finalize output: %w", err)
	}

	info, err := os.Stat(out)
	if err != nil {
		return Result{}, err
	}
	logger.Info("wrote evolution animation",
		zap.String("path", out),
		zap.Int("clips", len(clips)),
		zap.Int("frames", stats.Frames),
		zap.Duration("duration", stats.Duration),
		zap.String("size", humanize.Bytes(uint64(info.Size()))))
	return Result{Path: out, Size: info.Size(), Stats: stats}, nil
}
