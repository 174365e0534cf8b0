// Package checkpoint decides when training snapshots are taken and persists
// them through the agent's own save interface.
package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

var (
	ErrSave = errors.New("checkpoint save failed")
	ErrLoad = errors.New("checkpoint load failed")
)

type Kind string

const (
	KindHalf  Kind = "half"
	KindFinal Kind = "final"
)

// Checkpoint records one persisted agent snapshot
type Checkpoint struct {
	RunID         string    `json:"run_id"`
	Kind          Kind      `json:"kind"`
	Path          string    `json:"path"`
	CreatedAtStep int       `json:"created_at_step"`
	CreatedAt     time.Time `json:"created_at"`
}

// Saver is anything that can persist itself to a path
type Saver interface {
	Save(path string) error
}

// Save creates dir if needed and saves s to dir/name. Errors wrap ErrSave.
func Save(s Saver, runID string, kind Kind, dir, name string, step int) (Checkpoint, error) {
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Checkpoint{}, fmt.Errorf("%w: create %s: %v", ErrSave, dir, err)
	}
	if err := s.Save(path); err != nil {
		return Checkpoint{}, fmt.Errorf("%w: %s: %v", ErrSave, path, err)
	}
	return Checkpoint{
		RunID:         runID,
		Kind:          kind,
		Path:          path,
		CreatedAtStep: step,
		CreatedAt:     time.Now(),
	}, nil
}

// Load opens the checkpoint at path with load. A missing file is reported
// with both ErrLoad and fs.ErrNotExist in the chain.
func Load[T any](path string, load func(string) (T, error)) (T, error) {
	var zero T
	if _, err := os.Stat(path); err != nil {
		return zero, fmt.Errorf("%w: %w", ErrLoad, err)
	}
	v, err := load(path)
	if err != nil {
		return zero, fmt.Errorf("%w: %s: %w", ErrLoad, path, err)
	}
	return v, nil
}
