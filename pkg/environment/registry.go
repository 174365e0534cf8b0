package environment

import (
	"fmt"
	"math/rand"
	"sort"
)

// Config describes one highway variant
type Config struct {
	Lanes    int
	Vehicles int
	// Duration is the episode length in steps before truncation
	Duration int
	// Density scales traffic spacing; higher is denser
	Density   float64
	RenderFPS int
}

func (c Config) Validate() error {
	switch {
	case c.Lanes < 1:
		return fmt.Errorf("lanes must be >= 1, got %d", c.Lanes)
	case c.Vehicles < 0:
		return fmt.Errorf("vehicles must be >= 0, got %d", c.Vehicles)
	case c.Duration < 1:
		return fmt.Errorf("duration must be >= 1, got %d", c.Duration)
	case c.Density <= 0:
		return fmt.Errorf("density must be > 0, got %g", c.Density)
	case c.RenderFPS < 1:
		return fmt.Errorf("render fps must be >= 1, got %d", c.RenderFPS)
	}
	return nil
}

var registry = map[string]Config{
	"highway-v0": {
		Lanes:     4,
		Vehicles:  20,
		Duration:  40,
		Density:   1,
		RenderFPS: 5,
	},
	"highway-fast-v0": {
		Lanes:     3,
		Vehicles:  12,
		Duration:  30,
		Density:   1,
		RenderFPS: 5,
	},
}

// Register adds or replaces an environment id
func Register(id string, cfg Config) error {
	if id == "" {
		return fmt.Errorf("environment id is required")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("register %s: %w", id, err)
	}
	registry[id] = cfg
	return nil
}

// Lookup returns the configuration registered under id
func Lookup(id string) (Config, bool) {
	cfg, ok := registry[id]
	return cfg, ok
}

// IDs lists registered environment ids in sorted order
func IDs() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Make builds the environment registered under id, seeded for reproducibility
func Make(id string, seed int64) (*Highway, error) {
	cfg, ok := registry[id]
	if !ok {
		return nil, fmt.Errorf("unknown environment %q (registered: %v)", id, IDs())
	}
	return NewHighway(cfg, rand.New(rand.NewSource(seed)))
}
