package environment

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/boristopalov/highway-evolution/pkg/core"
)

// Discrete meta-actions
const (
	ActionLaneLeft core.Action = iota
	ActionIdle
	ActionLaneRight
	ActionFaster
	ActionSlower
	numActions
)

var ActionNames = map[core.Action]string{
	ActionLaneLeft:  "LANE_LEFT",
	ActionIdle:      "IDLE",
	ActionLaneRight: "LANE_RIGHT",
	ActionFaster:    "FASTER",
	ActionSlower:    "SLOWER",
}

const (
	vehicleLength = 5.0
	dt            = 1.0
	maxAccel      = 5.0
	// vehicles further than this behind the ego car are respawned ahead
	recycleDistance = 50.0
	perceptionRange = 100.0
	// observed rows: ego plus nearest others
	observedVehicles = 5
	featuresPerRow   = 4
)

// TargetSpeeds are the cruise speeds FASTER and SLOWER move between
var TargetSpeeds = []float64{20, 25, 30}

// Vehicle is a car on the road. Lane 0 is the leftmost lane.
type Vehicle struct {
	X       float64
	Lane    int
	Speed   float64
	Desired float64
	Crashed bool
}

// Highway is a straight multi-lane road with one controlled vehicle
type Highway struct {
	cfg     Config
	rng     *rand.Rand
	ego     *Vehicle
	target  int
	traffic []*Vehicle
	steps   int
}

// NewHighway creates an environment; rng drives traffic placement
func NewHighway(cfg Config, rng *rand.Rand) (*Highway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Highway{cfg: cfg, rng: rng}, nil
}

func (h *Highway) Reset(ctx context.Context) (core.Observation, core.Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	h.steps = 0
	h.target = 1
	h.ego = &Vehicle{
		Lane:    h.rng.Intn(h.cfg.Lanes),
		Speed:   TargetSpeeds[h.target],
		Desired: TargetSpeeds[h.target],
	}

	h.traffic = h.traffic[:0]
	x := h.ego.X + 2*vehicleLength
	spacing := 12.0 / h.cfg.Density
	for i := 0; i < h.cfg.Vehicles; i++ {
		x += spacing * (0.5 + h.rng.Float64())
		h.traffic = append(h.traffic, h.spawn(x))
	}
	return h.observe(), h.info(ActionIdle), nil
}

func (h *Highway) spawn(x float64) *Vehicle {
	speed := 20 + 4*h.rng.Float64()
	return &Vehicle{
		X:       x,
		Lane:    h.rng.Intn(h.cfg.Lanes),
		Speed:   speed,
		Desired: speed,
	}
}

func (h *Highway) Step(ctx context.Context, action core.Action) (core.StepResult, error) {
	if err := ctx.Err(); err != nil {
		return core.StepResult{}, err
	}
	if h.ego == nil {
		return core.StepResult{}, fmt.Errorf("%w: step before reset", core.ErrEnvironment)
	}
	if !h.ActionSpace().Contains(action) {
		return core.StepResult{}, fmt.Errorf("%w: invalid action %d", core.ErrEnvironment, action)
	}
	if h.ego.Crashed {
		return core.StepResult{}, fmt.Errorf("%w: step after episode terminated", core.ErrEnvironment)
	}

	h.act(action)
	h.moveTraffic()

	before := make([]float64, len(h.traffic))
	for i, v := range h.traffic {
		before[i] = v.X - h.ego.X
	}
	h.ego.Speed += clamp(h.ego.Desired-h.ego.Speed, -maxAccel*dt, maxAccel*dt)
	h.ego.X += h.ego.Speed * dt
	for _, v := range h.traffic {
		v.X += v.Speed * dt
	}
	h.checkCollisions(before)
	h.recycle()
	h.steps++

	return core.StepResult{
		Observation: h.observe(),
		Reward:      h.nativeReward(),
		Terminated:  h.ego.Crashed,
		Truncated:   !h.ego.Crashed && h.steps >= h.cfg.Duration,
		Info:        h.info(action),
	}, nil
}

func (h *Highway) act(action core.Action) {
	switch action {
	case ActionLaneLeft:
		if h.ego.Lane > 0 {
			h.ego.Lane--
		}
	case ActionLaneRight:
		if h.ego.Lane < h.cfg.Lanes-1 {
			h.ego.Lane++
		}
	case ActionFaster:
		if h.target < len(TargetSpeeds)-1 {
			h.target++
		}
	case ActionSlower:
		if h.target > 0 {
			h.target--
		}
	}
	h.ego.Desired = TargetSpeeds[h.target]
}

// moveTraffic adjusts traffic speeds: follow a slower leader, otherwise relax
// back toward the desired speed.
func (h *Highway) moveTraffic() {
	for _, v := range h.traffic {
		speed := v.Desired
		if lead, gap := h.leader(v); lead != nil && gap < 4*vehicleLength && lead.Speed < speed {
			speed = lead.Speed
		}
		v.Speed += clamp(speed-v.Speed, -maxAccel*dt, maxAccel*dt)
	}
}

func (h *Highway) leader(v *Vehicle) (*Vehicle, float64) {
	var best *Vehicle
	gap := math.Inf(1)
	candidates := append([]*Vehicle{h.ego}, h.traffic...)
	for _, o := range candidates {
		if o == v || o.Lane != v.Lane {
			continue
		}
		if d := o.X - v.X; d > 0 && d < gap {
			best, gap = o, d
		}
	}
	return best, gap
}

// checkCollisions flags overlaps in the ego lane, including vehicles the ego
// car passed through within one step.
func (h *Highway) checkCollisions(before []float64) {
	for i, v := range h.traffic {
		if v.Lane != h.ego.Lane {
			continue
		}
		after := v.X - h.ego.X
		if math.Abs(after) < vehicleLength || before[i]*after < 0 {
			h.ego.Crashed = true
			v.Crashed = true
		}
	}
}

func (h *Highway) recycle() {
	ahead := h.ego.X
	for _, v := range h.traffic {
		if v.X > ahead {
			ahead = v.X
		}
	}
	for i, v := range h.traffic {
		if v.Crashed || v.X > h.ego.X-recycleDistance {
			continue
		}
		ahead += 12.0 / h.cfg.Density * (0.5 + h.rng.Float64())
		h.traffic[i] = h.spawn(ahead)
	}
}

func (h *Highway) nativeReward() float64 {
	if h.ego.Crashed {
		return -1
	}
	speed := clamp((h.ego.Speed-TargetSpeeds[0])/(TargetSpeeds[len(TargetSpeeds)-1]-TargetSpeeds[0]), 0, 1)
	right := 0.0
	if h.cfg.Lanes > 1 {
		right = float64(h.ego.Lane) / float64(h.cfg.Lanes-1)
	}
	return (0.4*speed + 0.1*right) / 0.5
}

func (h *Highway) info(action core.Action) core.Info {
	return core.Info{
		"speed":   h.ego.Speed,
		"crashed": h.ego.Crashed,
		"action":  int(action),
	}
}

// observe builds the kinematics observation: one row for the ego vehicle in
// absolute terms, then the nearest vehicles relative to it.
func (h *Highway) observe() core.Observation {
	obs := make(core.Observation, observedVehicles*featuresPerRow)
	lanes := float64(h.cfg.Lanes)
	obs[0] = 1
	obs[1] = 0
	obs[2] = float64(h.ego.Lane) / lanes
	obs[3] = h.ego.Speed / 40

	near := make([]*Vehicle, 0, len(h.traffic))
	for _, v := range h.traffic {
		if math.Abs(v.X-h.ego.X) <= perceptionRange {
			near = append(near, v)
		}
	}
	sort.Slice(near, func(i, j int) bool {
		return math.Abs(near[i].X-h.ego.X) < math.Abs(near[j].X-h.ego.X)
	})

	for i, v := range near {
		if i >= observedVehicles-1 {
			break
		}
		row := (i + 1) * featuresPerRow
		obs[row] = 1
		obs[row+1] = (v.X - h.ego.X) / perceptionRange
		obs[row+2] = float64(v.Lane-h.ego.Lane) / lanes
		obs[row+3] = (v.Speed - h.ego.Speed) / 40
	}
	return obs
}

func (h *Highway) ActionSpace() core.ActionSpace {
	return core.ActionSpace{N: int(numActions)}
}

func (h *Highway) ObservationSize() int {
	return observedVehicles * featuresPerRow
}

func (h *Highway) Close() error {
	h.ego = nil
	h.traffic = nil
	return nil
}

// Telemetry is nil until the first Reset
func (h *Highway) Telemetry() core.Telemetry {
	if h.ego == nil {
		return nil
	}
	return telemetry{v: h.ego, lanes: h.cfg.Lanes}
}

// Ego returns a copy of the controlled vehicle
func (h *Highway) Ego() (Vehicle, bool) {
	if h.ego == nil {
		return Vehicle{}, false
	}
	return *h.ego, true
}

type telemetry struct {
	v     *Vehicle
	lanes int
}

func (t telemetry) Speed() float64 { return t.v.Speed }
func (t telemetry) LaneCount() int { return t.lanes }
func (t telemetry) Crashed() bool  { return t.v.Crashed }

func (t telemetry) LaneIndex() (int, bool) {
	if t.v.Lane < 0 || t.v.Lane >= t.lanes {
		return 0, false
	}
	return t.v.Lane, true
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
