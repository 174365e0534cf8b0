package monitor

import "sync"

// RewardWindow keeps the most recent episode rewards
type RewardWindow struct {
	rewards  []float64
	capacity int
	mu       sync.RWMutex
}

func NewRewardWindow(capacity int) *RewardWindow {
	if capacity <= 0 {
		capacity = 1
	}
	return &RewardWindow{
		rewards:  make([]float64, 0, capacity),
		capacity: capacity,
	}
}

// Add records a reward, evicting the oldest once the window is full
func (w *RewardWindow) Add(r float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.rewards = append(w.rewards, r)
	if len(w.rewards) > w.capacity {
		w.rewards = w.rewards[1:]
	}
}

// Values returns a copy of the rewards, oldest first
func (w *RewardWindow) Values() []float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]float64, len(w.rewards))
	copy(out, w.rewards)
	return out
}

func (w *RewardWindow) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.rewards)
}

// Mean of the window, 0 when empty
func (w *RewardWindow) Mean() float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if len(w.rewards) == 0 {
		return 0
	}
	var sum float64
	for _, r := range w.rewards {
		sum += r
	}
	return sum / float64(len(w.rewards))
}
