package capture

import (
	"math/rand"

	"github.com/boristopalov/highway-evolution/pkg/core"
)

// ActionSource chooses the actions taken during a captured episode. It is
// either Random or Policy.
type ActionSource interface {
	next(space core.ActionSpace, obs core.Observation) (core.Action, error)
}

// Random samples uniformly from the action space
type Random struct {
	Rng *rand.Rand
}

// Policy takes the deterministic action of a trained policy
type Policy struct {
	Policy core.Policy
}

func (r Random) next(space core.ActionSpace, _ core.Observation) (core.Action, error) {
	return space.Sample(r.Rng), nil
}

func (p Policy) next(_ core.ActionSpace, obs core.Observation) (core.Action, error) {
	return p.Policy.Predict(obs)
}

// Describe names the variant for logs
func Describe(src ActionSource) string {
	switch src.(type) {
	case Random:
		return "random"
	case Policy:
		return "policy"
	default:
		return "unknown"
	}
}
