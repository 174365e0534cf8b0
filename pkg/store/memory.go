package store

import (
	"context"
	"sort"
	"sync"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]Run
	checkpoints map[string][]CheckpointRecord
	episodes    map[string][]EpisodeRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.runs = make(map[string]Run)
	s.checkpoints = make(map[string][]CheckpointRecord)
	s.episodes = make(map[string][]EpisodeRecord)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}

	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (Run, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return Run{}, false, ErrNotInitialized
	}

	run, ok := s.runs[id]
	return run, ok, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, ErrNotInitialized
	}

	runs := make([]Run, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs, nil
}

func (s *MemoryStore) SaveCheckpoint(_ context.Context, rec CheckpointRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}

	recs := s.checkpoints[rec.RunID]
	for i := range recs {
		if recs[i].Kind == rec.Kind {
			recs[i] = rec
			return nil
		}
	}
	recs = append(recs, rec)
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Step < recs[j].Step })
	s.checkpoints[rec.RunID] = recs
	return nil
}

func (s *MemoryStore) ListCheckpoints(_ context.Context, runID string) ([]CheckpointRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, ErrNotInitialized
	}

	return append([]CheckpointRecord(nil), s.checkpoints[runID]...), nil
}

func (s *MemoryStore) SaveEpisode(_ context.Context, rec EpisodeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}

	recs := s.episodes[rec.RunID]
	for i := range recs {
		if recs[i].Index == rec.Index {
			recs[i] = rec
			return nil
		}
	}
	s.episodes[rec.RunID] = append(recs, rec)
	return nil
}

func (s *MemoryStore) ListEpisodes(_ context.Context, runID string) ([]EpisodeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, ErrNotInitialized
	}

	out := append([]EpisodeRecord(nil), s.episodes[runID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}
