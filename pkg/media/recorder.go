// Package media reads and writes the animated GIF clips produced by episode
// capture and combines them into a single fixed-rate animation.
package media

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"os"
	"path/filepath"
)

// PartialSuffix marks a clip that is still being written
const PartialSuffix = ".partial"

// Ext is the extension of finished clips
const Ext = ".gif"

// Recorder buffers frames and writes them as one GIF on Close. The file is
// encoded under path+PartialSuffix and renamed into place, so path only ever
// holds a complete clip.
type Recorder struct {
	path  string
	delay int
	anim  gif.GIF
	done  bool
}

// NewRecorder prepares a clip at path played back at fps frames per second
func NewRecorder(path string, fps int) (*Recorder, error) {
	if fps < 1 {
		return nil, fmt.Errorf("fps must be >= 1, got %d", fps)
	}
	delay := (100 + fps/2) / fps
	if delay < 1 {
		delay = 1
	}
	return &Recorder{path: path, delay: delay}, nil
}

func (r *Recorder) Path() string { return r.path }

// Frames is the number of frames added so far
func (r *Recorder) Frames() int { return len(r.anim.Image) }

// Add appends a frame. Paletted frames are copied; other images are
// quantized to the Plan 9 palette.
func (r *Recorder) Add(img image.Image) error {
	if r.done {
		return errors.New("recorder closed")
	}
	if img == nil {
		return errors.New("nil frame")
	}
	r.anim.Image = append(r.anim.Image, toPaletted(img))
	r.anim.Delay = append(r.anim.Delay, r.delay)
	return nil
}

// Close encodes the buffered frames and moves the clip into place
func (r *Recorder) Close() error {
	if r.done {
		return nil
	}
	r.done = true
	if len(r.anim.Image) == 0 {
		return errors.New("no frames recorded")
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create clip dir: %w", err)
	}
	partial := r.path + PartialSuffix
	f, err := os.Create(partial)
	if err != nil {
		return fmt.Errorf("create clip: %w", err)
	}
	if err := gif.EncodeAll(f, &r.anim); err != nil {
		f.Close()
		os.Remove(partial)
		return fmt.Errorf("encode clip: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(partial)
		return fmt.Errorf("close clip: %w", err)
	}
	if err := os.Rename(partial, r.path); err != nil {
		os.Remove(partial)
		return fmt.Errorf("finalize clip: %w", err)
	}
	return nil
}

// Abort drops the buffered frames without writing anything
func (r *Recorder) Abort() {
	r.done = true
	r.anim = gif.GIF{}
}

func toPaletted(img image.Image) *image.Paletted {
	b := img.Bounds()
	pal := color.Palette(palette.Plan9)
	if p, ok := img.(*image.Paletted); ok {
		pal = append(color.Palette(nil), p.Palette...)
	}
	out := image.NewPaletted(b, pal)
	draw.Draw(out, b, img, b.Min, draw.Src)
	return out
}
