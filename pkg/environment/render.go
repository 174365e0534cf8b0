package environment

import (
	"errors"
	"image"
	"image/color"
	"math"
)

const (
	frameWidth   = 600
	lanePixels   = 24
	roadMargin   = 16
	pixelsPerM   = 4.0
	viewBehindM  = 30.0
	carWidthPx   = 12
	markingDashM = 3.0
)

// Palette indexes used by rendered frames
const (
	colorGrass uint8 = iota
	colorRoad
	colorMarking
	colorEgo
	colorTraffic
	colorCrash
)

var Palette = color.Palette{
	color.RGBA{R: 34, G: 85, B: 34, A: 255},
	color.RGBA{R: 90, G: 90, B: 90, A: 255},
	color.RGBA{R: 235, G: 235, B: 235, A: 255},
	color.RGBA{R: 50, G: 200, B: 50, A: 255},
	color.RGBA{R: 60, G: 110, B: 230, A: 255},
	color.RGBA{R: 220, G: 40, B: 40, A: 255},
}

// Render draws a top-down view centered behind the controlled vehicle
func (h *Highway) Render() (image.Image, error) {
	if h.ego == nil {
		return nil, errors.New("render before reset")
	}
	height := h.cfg.Lanes*lanePixels + 2*roadMargin
	img := image.NewPaletted(image.Rect(0, 0, frameWidth, height), Palette)
	fill(img, img.Rect, colorGrass)
	fill(img, image.Rect(0, roadMargin, frameWidth, height-roadMargin), colorRoad)

	origin := h.ego.X - viewBehindM
	for lane := 1; lane < h.cfg.Lanes; lane++ {
		y := roadMargin + lane*lanePixels
		// dashes scroll with the road
		offset := math.Mod(origin, 2*markingDashM)
		for m := -offset; m*pixelsPerM < frameWidth; m += 2 * markingDashM {
			x0 := int(m * pixelsPerM)
			fill(img, image.Rect(x0, y-1, x0+int(markingDashM*pixelsPerM), y+1), colorMarking)
		}
	}

	for _, v := range h.traffic {
		idx := colorTraffic
		if v.Crashed {
			idx = colorCrash
		}
		h.drawVehicle(img, v, origin, idx)
	}
	egoColor := colorEgo
	if h.ego.Crashed {
		egoColor = colorCrash
	}
	h.drawVehicle(img, h.ego, origin, egoColor)
	return img, nil
}

func (h *Highway) RenderFPS() int {
	return h.cfg.RenderFPS
}

func (h *Highway) drawVehicle(img *image.Paletted, v *Vehicle, origin float64, idx uint8) {
	x0 := int((v.X - vehicleLength/2 - origin) * pixelsPerM)
	x1 := x0 + int(vehicleLength*pixelsPerM)
	y0 := roadMargin + v.Lane*lanePixels + (lanePixels-carWidthPx)/2
	fill(img, image.Rect(x0, y0, x1, y0+carWidthPx), idx)
}

func fill(img *image.Paletted, r image.Rectangle, idx uint8) {
	r = r.Intersect(img.Rect)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetColorIndex(x, y, idx)
		}
	}
}
