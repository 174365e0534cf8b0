package media

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"io"
	"math"
	"time"
)

// Stats describes a composed animation
type Stats struct {
	Frames   int
	Width    int
	Height   int
	Duration time.Duration
}

// OutputDelay is the delay in hundredths of a second of output frame j at
// fps. Delays are spread so every 100 frames-per-second worth of frames sums
// to exactly one second; at 30 fps they cycle 3, 3, 4.
func OutputDelay(j, fps int) int {
	return (j+1)*100/fps - j*100/fps
}

// WriteComposed concatenates clips in order onto a black canvas sized to the
// largest clip, centering each frame, and resamples the result to fps.
func WriteComposed(w io.Writer, clips []*Clip, fps int) (Stats, error) {
	if len(clips) == 0 {
		return Stats{}, errors.New("no clips to compose")
	}
	if fps < 1 || fps > 100 {
		return Stats{}, fmt.Errorf("fps must be in [1, 100], got %d", fps)
	}

	var width, height int
	for _, c := range clips {
		if len(c.Frames) == 0 {
			return Stats{}, fmt.Errorf("clip %s has no frames", c.Path)
		}
		width = max(width, c.Width)
		height = max(height, c.Height)
	}
	bounds := image.Rect(0, 0, width, height)
	pal, index := buildPalette(clips)

	var anim gif.GIF
	canvas := image.NewRGBA(bounds)
	step := time.Second / time.Duration(fps)
	for _, c := range clips {
		n := int(math.Round(c.Duration().Seconds() * float64(fps)))
		n = max(n, 1)
		offset := image.Pt((width-c.Width)/2, (height-c.Height)/2)
		for k := 0; k < n; k++ {
			draw.Draw(canvas, bounds, image.Black, image.Point{}, draw.Src)
			src := c.frameAt(time.Duration(k) * step)
			draw.Draw(canvas, src.Rect.Add(offset), src, src.Rect.Min, draw.Over)

			anim.Image = append(anim.Image, quantize(canvas, pal, index))
			anim.Delay = append(anim.Delay, OutputDelay(len(anim.Delay), fps))
		}
	}
	anim.Config = image.Config{ColorModel: pal, Width: width, Height: height}

	if err := gif.EncodeAll(w, &anim); err != nil {
		return Stats{}, fmt.Errorf("encode composed animation: %w", err)
	}

	var cs int
	for _, d := range anim.Delay {
		cs += d
	}
	return Stats{
		Frames:   len(anim.Image),
		Width:    width,
		Height:   height,
		Duration: time.Duration(cs) * 10 * time.Millisecond,
	}, nil
}

// buildPalette collects the exact colors used by all clips plus black. When
// they do not fit a GIF palette the Plan 9 palette is used and index is nil.
func buildPalette(clips []*Clip) (color.Palette, map[color.RGBA]uint8) {
	index := map[color.RGBA]uint8{{A: 255}: 0}
	pal := color.Palette{color.RGBA{A: 255}}
	for _, c := range clips {
		for _, f := range c.Frames {
			for i := 0; i < len(f.Pix); i += 4 {
				px := color.RGBA{R: f.Pix[i], G: f.Pix[i+1], B: f.Pix[i+2], A: 255}
				if _, ok := index[px]; ok {
					continue
				}
				if len(pal) == 256 {
					return palette.Plan9, nil
				}
				index[px] = uint8(len(pal))
				pal = append(pal, px)
			}
		}
	}
	return pal, index
}

func quantize(src *image.RGBA, pal color.Palette, index map[color.RGBA]uint8) *image.Paletted {
	out := image.NewPaletted(src.Rect, pal)
	if index == nil {
		draw.Draw(out, src.Rect, src, src.Rect.Min, draw.Src)
		return out
	}
	for i, j := 0, 0; i < len(src.Pix); i, j = i+4, j+1 {
		px := color.RGBA{R: src.Pix[i], G: src.Pix[i+1], B: src.Pix[i+2], A: 255}
		out.Pix[j] = index[px]
	}
	return out
}
