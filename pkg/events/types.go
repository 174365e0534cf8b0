package events

import (
	"time"

	"github.com/boristopalov/highway-evolution/pkg/checkpoint"
)

type Type string

const (
	TypeEpisodeCompleted Type = "episode_completed"
	TypeCheckpointSaved  Type = "checkpoint_saved"
)

// Event is a notification published during training
type Event struct {
	Type      Type
	RunID     string
	Payload   any
	Timestamp time.Time
}

// Episode is the payload of TypeEpisodeCompleted
type Episode struct {
	Index   int
	Reward  float64
	Length  int
	Elapsed time.Duration
	// Step is the cumulative environment step count at episode end
	Step int
}

// CheckpointSaved is the payload of TypeCheckpointSaved
type CheckpointSaved struct {
	Checkpoint checkpoint.Checkpoint
}

// Handler consumes an event. An error stops delivery and is returned to the publisher.
type Handler func(Event) error

// Publisher is the write side of a Bus
type Publisher interface {
	Publish(e Event) error
}
