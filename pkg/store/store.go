// Package store persists training runs, their checkpoints and episode
// summaries so past runs can be listed after the process exits.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotInitialized is returned by any operation issued before Init
var ErrNotInitialized = errors.New("store not initialized")

type Status string

const (
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"
)

type Run struct {
	ID             string
	EnvID          string
	Seed           int64
	TotalTimesteps int
	Status         Status
	StartedAt      time.Time
	FinishedAt     time.Time
	// Error is the failure message of a failed run
	Error string
}

// NewRun returns a running run with a fresh id
func NewRun(envID string, seed int64, totalTimesteps int) Run {
	return Run{
		ID:             uuid.NewString(),
		EnvID:          envID,
		Seed:           seed,
		TotalTimesteps: totalTimesteps,
		Status:         StatusRunning,
		StartedAt:      time.Now().UTC(),
	}
}

type CheckpointRecord struct {
	RunID     string
	Kind      string
	Path      string
	Step      int
	CreatedAt time.Time
}

type EpisodeRecord struct {
	RunID   string
	Index   int
	Reward  float64
	Length  int
	Elapsed time.Duration
	Step    int
}

// Store defines persistence for runs and their artifacts. Lists are ordered:
// runs newest first, checkpoints by step, episodes by index.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, id string) (Run, bool, error)
	ListRuns(ctx context.Context) ([]Run, error)
	SaveCheckpoint(ctx context.Context, rec CheckpointRecord) error
	ListCheckpoints(ctx context.Context, runID string) ([]CheckpointRecord, error)
	SaveEpisode(ctx context.Context, rec EpisodeRecord) error
	ListEpisodes(ctx context.Context, runID string) ([]EpisodeRecord, error)
}
