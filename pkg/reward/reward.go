// Package reward replaces an environment's native reward with a weighted sum of
// speed, right-lane, collision and lane-change terms:
//
//	R = alpha*speed_norm + beta*right_lane - gamma*crashed - delta*lane_changed
package reward

import "fmt"

// Weights configures the shaped reward. Zero values are meaningful, so callers
// start from DefaultWeights and override individual fields.
type Weights struct {
	AlphaSpeed      float64 `yaml:"alpha_speed"`
	BetaRightLane   float64 `yaml:"beta_right_lane"`
	GammaCollision  float64 `yaml:"gamma_collision"`
	DeltaLaneChange float64 `yaml:"delta_lane_change"`
	VMin            float64 `yaml:"v_min"`
	VMax            float64 `yaml:"v_max"`
}

func DefaultWeights() Weights {
	return Weights{
		AlphaSpeed:      1.0,
		BetaRightLane:   0.2,
		GammaCollision:  5.0,
		DeltaLaneChange: 0.05,
		VMin:            20,
		VMax:            40,
	}
}

// Validate rejects an empty or inverted speed window
func (w Weights) Validate() error {
	if w.VMax <= w.VMin {
		return fmt.Errorf("v_max (%g) must be greater than v_min (%g)", w.VMax, w.VMin)
	}
	return nil
}

// Signal is the telemetry sampled after a step
type Signal struct {
	Speed     float64
	Lane      int
	LaneKnown bool
	LaneCount int
	Crashed   bool
}

// Terms holds each component of a shaped reward
type Terms struct {
	SpeedNorm   float64
	RightLane   float64
	Crashed     float64
	LaneChanged float64
	Total       float64
}

// NormalizeSpeed maps speed into [0, 1] over [VMin, VMax], saturating outside it
func (w Weights) NormalizeSpeed(speed float64) float64 {
	n := (speed - w.VMin) / (w.VMax - w.VMin)
	switch {
	case n < 0 || n != n:
		return 0
	case n > 1:
		return 1
	}
	return n
}

// Shape computes the reward for sig and then records sig's lane on the tracker.
// A nil tracker disables lane-change detection.
func (w Weights) Shape(sig Signal, tracker *LaneTracker) Terms {
	t := Terms{SpeedNorm: w.NormalizeSpeed(sig.Speed)}
	if sig.LaneKnown && sig.LaneCount > 0 && sig.Lane == sig.LaneCount-1 {
		t.RightLane = 1
	}
	if sig.Crashed {
		t.Crashed = 1
	}
	if tracker != nil {
		if tracker.Changed(sig.Lane, sig.LaneKnown) {
			t.LaneChanged = 1
		}
		tracker.Observe(sig.Lane, sig.LaneKnown)
	}
	t.Total = w.AlphaSpeed*t.SpeedNorm +
		w.BetaRightLane*t.RightLane -
		w.GammaCollision*t.Crashed -
		w.DeltaLaneChange*t.LaneChanged
	return t
}

// LaneTracker remembers the lane seen on the previous step of one episode
type LaneTracker struct {
	prev  int
	known bool
}

// Previous returns the tracked lane, false while it is unknown
func (l *LaneTracker) Previous() (int, bool) {
	return l.prev, l.known
}

// Changed reports whether lane differs from the tracked lane. Unknown lanes on
// either side never count as a change.
func (l *LaneTracker) Changed(lane int, ok bool) bool {
	return l.known && ok && lane != l.prev
}

// Observe records lane as the previous lane for the next step
func (l *LaneTracker) Observe(lane int, ok bool) {
	l.prev, l.known = lane, ok
}

// Forget returns the tracker to the unknown state
func (l *LaneTracker) Forget() {
	l.prev, l.known = 0, false
}
