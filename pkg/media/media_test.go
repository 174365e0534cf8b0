package media

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPalette = color.Palette{
	color.RGBA{R: 255, A: 255},
	color.RGBA{G: 255, A: 255},
	color.RGBA{B: 255, A: 255},
}

func solid(w, h int, idx uint8) *image.Paletted {
	img := image.NewPaletted(image.Rect(0, 0, w, h), testPalette)
	for i := range img.Pix {
		img.Pix[i] = idx
	}
	return img
}

func writeClip(t *testing.T, path string, w, h, frames, fps int) {
	t.Helper()
	rec, err := NewRecorder(path, fps)
	require.NoError(t, err)
	for i := 0; i < frames; i++ {
		require.NoError(t, rec.Add(solid(w, h, uint8(i%len(testPalette)))))
	}
	require.NoError(t, rec.Close())
}

func TestRecorderWritesCompleteClip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stage", "clip.gif")
	writeClip(t, path, 8, 4, 4, 10)

	_, err := os.Stat(path + PartialSuffix)
	assert.ErrorIs(t, err, os.ErrNotExist)

	clip, err := OpenClip(path)
	require.NoError(t, err)
	assert.Len(t, clip.Frames, 4)
	assert.Equal(t, []int{10, 10, 10, 10}, clip.Delays)
	assert.Equal(t, 400*time.Millisecond, clip.Duration())
	assert.Equal(t, 8, clip.Width)
	assert.Equal(t, 4, clip.Height)

	r, g, _, _ := clip.Frames[1].At(0, 0).RGBA()
	assert.Equal(t, uint32(0), r)
	assert.Equal(t, uint32(0xffff), g)

	require.NoError(t, clip.Close())
	assert.Error(t, clip.Close())
}

func TestRecorderAbortLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	rec, err := NewRecorder(filepath.Join(dir, "clip.gif"), 30)
	require.NoError(t, err)
	require.NoError(t, rec.Add(solid(2, 2, 0)))
	rec.Abort()
	require.NoError(t, rec.Close())
	assert.Error(t, rec.Add(solid(2, 2, 0)))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRecorderRejectsEmptyClip(t *testing.T) {
	rec, err := NewRecorder(filepath.Join(t.TempDir(), "clip.gif"), 30)
	require.NoError(t, err)
	assert.Error(t, rec.Close())

	_, err = NewRecorder("x.gif", 0)
	assert.Error(t, err)
}

func TestOutputDelayCycle(t *testing.T) {
	var got []int
	for j := 0; j < 6; j++ {
		got = append(got, OutputDelay(j, 30))
	}
	assert.Equal(t, []int{3, 3, 4, 3, 3, 4}, got)
}

func TestWriteComposed(t *testing.T) {
	dir := t.TempDir()
	big := filepath.Join(dir, "big.gif")
	small := filepath.Join(dir, "small.gif")
	writeClip(t, big, 20, 10, 4, 10) // 0.4s
	writeClip(t, small, 10, 4, 3, 5) // 0.6s

	var clips []*Clip
	for _, p := range []string{big, small} {
		c, err := OpenClip(p)
		require.NoError(t, err)
		clips = append(clips, c)
	}

	var buf bytes.Buffer
	stats, err := WriteComposed(&buf, clips, 30)
	require.NoError(t, err)
	assert.Equal(t, 30, stats.Frames)
	assert.Equal(t, 20, stats.Width)
	assert.Equal(t, 10, stats.Height)
	assert.Equal(t, time.Second, stats.Duration)

	out, err := gif.DecodeAll(&buf)
	require.NoError(t, err)
	require.Len(t, out.Image, 30)
	assert.Equal(t, []int{3, 3, 4}, out.Delay[:3])

	// first clip fills the canvas
	r, _, _, _ := out.Image[0].At(10, 5).RGBA()
	assert.Equal(t, uint32(0xffff), r)

	// second clip is centered with black padding
	last := out.Image[len(out.Image)-1]
	pr, pg, pb, _ := last.At(0, 0).RGBA()
	assert.Equal(t, [3]uint32{0, 0, 0}, [3]uint32{pr, pg, pb})
	_, _, b, _ := last.At(10, 5).RGBA()
	assert.Equal(t, uint32(0xffff), b, "third frame of the small clip is blue")
}

func TestWriteComposedErrors(t *testing.T) {
	var buf bytes.Buffer
	_, err := WriteComposed(&buf, nil, 30)
	assert.Error(t, err)

	_, err = WriteComposed(&buf, []*Clip{{Path: "empty"}}, 30)
	assert.Error(t, err)

	_, err = WriteComposed(&buf, []*Clip{{Frames: []*image.RGBA{image.NewRGBA(image.Rect(0, 0, 1, 1))}, Delays: []int{1}}}, 0)
	assert.Error(t, err)
}
