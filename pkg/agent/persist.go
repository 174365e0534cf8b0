package agent

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

const snapshotVersion = 1

type snapshot struct {
	Version      int         `json:"version"`
	ObsDim       int         `json:"obs_dim"`
	NActions     int         `json:"n_actions"`
	W            [][]float64 `json:"w"`
	B            []float64   `json:"b"`
	VW           []float64   `json:"vw"`
	VB           float64     `json:"vb"`
	NumTimesteps int         `json:"num_timesteps"`
	Hyperparams  Hyperparams `json:"hyperparams"`
}

// Save writes the agent as JSON. The file is written beside path and renamed
// into place so readers never observe a partial checkpoint.
func (p *PPO) Save(path string) error {
	data, err := json.Marshal(snapshot{
		Version:      snapshotVersion,
		ObsDim:       p.obsDim,
		NActions:     p.nActions,
		W:            p.w,
		B:            p.b,
		VW:           p.vw,
		VB:           p.vb,
		NumTimesteps: p.numTimesteps,
		Hyperparams:  p.params,
	})
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Load restores an agent saved with Save. Options may replace the logger and
// seed; hyperparameters always come from the checkpoint.
func Load(path string, opts ...Option) (*PPO, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	if s.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported checkpoint version %d", s.Version)
	}
	if s.ObsDim < 1 || s.NActions < 1 || len(s.W) != s.NActions || len(s.B) != s.NActions || len(s.VW) != s.ObsDim {
		return nil, fmt.Errorf("malformed checkpoint: obs=%d actions=%d", s.ObsDim, s.NActions)
	}
	for _, row := range s.W {
		if len(row) != s.ObsDim {
			return nil, fmt.Errorf("malformed checkpoint: weight row has %d columns, want %d", len(row), s.ObsDim)
		}
	}

	params := defaultPPOParams()
	for _, opt := range opts {
		opt(params)
	}
	if params.Logger == nil {
		params.Logger = zap.NewNop()
	}

	p := &PPO{
		params:       s.Hyperparams,
		obsDim:       s.ObsDim,
		nActions:     s.NActions,
		w:            s.W,
		b:            s.B,
		vw:           s.VW,
		vb:           s.VB,
		numTimesteps: s.NumTimesteps,
		rng:          rand.New(rand.NewSource(params.Seed)),
		logger:       params.Logger,
	}
	if !p.finite() {
		return nil, fmt.Errorf("checkpoint %s: %w", path, ErrDiverged)
	}
	return p, nil
}
