package media

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	"os"
	"time"
)

// defaultDelay is used for frames that declare no delay, matching how
// browsers play such GIFs.
const defaultDelay = 10

// Clip is a decoded animation. Frames are fully composited, so each one can
// be drawn on its own.
type Clip struct {
	Path   string
	Width  int
	Height int
	Frames []*image.RGBA
	// Delays are per-frame display times in hundredths of a second
	Delays []int

	closed bool
}

// OpenClip decodes the GIF at path
func OpenClip(path string) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open clip: %w", err)
	}
	defer f.Close()

	anim, err := gif.DecodeAll(f)
	if err != nil {
		return nil, fmt.Errorf("decode clip %s: %w", path, err)
	}
	if len(anim.Image) == 0 {
		return nil, fmt.Errorf("clip %s has no frames", path)
	}

	w, h := anim.Config.Width, anim.Config.Height
	if w == 0 || h == 0 {
		b := anim.Image[0].Bounds()
		w, h = b.Max.X, b.Max.Y
	}
	c := &Clip{Path: path, Width: w, Height: h}

	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	for i, frame := range anim.Image {
		var restore *image.RGBA
		disposal := byte(gif.DisposalNone)
		if i < len(anim.Disposal) {
			disposal = anim.Disposal[i]
		}
		if disposal == gif.DisposalPrevious {
			restore = cloneRGBA(canvas)
		}

		draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)
		c.Frames = append(c.Frames, cloneRGBA(canvas))

		delay := defaultDelay
		if i < len(anim.Delay) && anim.Delay[i] > 0 {
			delay = anim.Delay[i]
		}
		c.Delays = append(c.Delays, delay)

		switch disposal {
		case gif.DisposalBackground:
			draw.Draw(canvas, frame.Bounds(), image.Transparent, image.Point{}, draw.Src)
		case gif.DisposalPrevious:
			canvas = restore
		}
	}
	return c, nil
}

// Duration is the total display time of the clip
func (c *Clip) Duration() time.Duration {
	var cs int
	for _, d := range c.Delays {
		cs += d
	}
	return time.Duration(cs) * 10 * time.Millisecond
}

// Close releases the decoded frames. Closing twice is an error.
func (c *Clip) Close() error {
	if c.closed {
		return errors.New("clip already closed")
	}
	c.closed = true
	c.Frames = nil
	return nil
}

// frameAt returns the frame displayed at offset t from the clip start
func (c *Clip) frameAt(t time.Duration) *image.RGBA {
	var elapsed time.Duration
	for i, d := range c.Delays {
		elapsed += time.Duration(d) * 10 * time.Millisecond
		if t < elapsed {
			return c.Frames[i]
		}
	}
	return c.Frames[len(c.Frames)-1]
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	out := image.NewRGBA(src.Rect)
	copy(out.Pix, src.Pix)
	return out
}
