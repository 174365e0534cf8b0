package training

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/boristopalov/highway-evolution/pkg/events"
	"github.com/boristopalov/highway-evolution/pkg/monitor"
	"github.com/boristopalov/highway-evolution/pkg/store"
)

// subscribe attaches the monitor log, the run store and the progress logger
// to the bus and returns a function that detaches them again.
func (s *Session) subscribe(ctx context.Context, run store.Run, st store.Store, window *monitor.RewardWindow, logger *zap.Logger) (func() error, error) {
	csvLog, err := monitor.NewCSVWriter(s.cfg.MonitorPath(), s.cfg.EnvID, run.ID)
	if err != nil {
		return nil, err
	}

	subs := []struct {
		id      string
		handler events.Handler
		types   []events.Type
	}{
		{"monitor-" + run.ID, csvLog.Handle, []events.Type{events.TypeEpisodeCompleted}},
		{"store-" + run.ID, storeRecorder(ctx, st), nil},
		{"progress-" + run.ID, progressLogger(window, logger), []events.Type{events.TypeEpisodeCompleted}},
	}

	var ids []string
	detach := func() error {
		var errs []error
		for _, id := range ids {
			if err := s.bus.Unsubscribe(id); err != nil {
				errs = append(errs, err)
			}
		}
		if err := csvLog.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close monitor log: %w", err))
		}
		return errors.Join(errs...)
	}

	for _, sub := range subs {
		if err := s.bus.Subscribe(sub.id, sub.handler, sub.types...); err != nil {
			return nil, errors.Join(err, detach())
		}
		ids = append(ids, sub.id)
	}
	return detach, nil
}

func storeRecorder(ctx context.Context, st store.Store) events.Handler {
	return func(e events.Event) error {
		switch p := e.Payload.(type) {
		case events.Episode:
			return st.SaveEpisode(ctx, store.EpisodeRecord{
				RunID:   e.RunID,
				Index:   p.Index,
				Reward:  p.Reward,
				Length:  p.Length,
				Elapsed: p.Elapsed,
				Step:    p.Step,
			})
		case events.CheckpointSaved:
			return st.SaveCheckpoint(ctx, store.CheckpointRecord{
				RunID:     e.RunID,
				Kind:      string(p.Checkpoint.Kind),
				Path:      p.Checkpoint.Path,
				Step:      p.Checkpoint.CreatedAtStep,
				CreatedAt: p.Checkpoint.CreatedAt,
			})
		}
		return nil
	}
}

func progressLogger(window *monitor.RewardWindow, logger *zap.Logger) events.Handler {
	return func(e events.Event) error {
		ep, ok := e.Payload.(events.Episode)
		if !ok {
			return nil
		}
		window.Add(ep.Reward)
		logger.Debug("episode finished",
			zap.Int("episode", ep.Index),
			zap.Float64("reward", ep.Reward),
			zap.Int("length", ep.Length),
			zap.Int("step", ep.Step))
		return nil
	}
}
