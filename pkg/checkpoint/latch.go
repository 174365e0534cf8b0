package checkpoint

// Latch is a one-shot trigger that fires the first time the cumulative step
// count reaches its threshold. It is a value: Advance returns the next latch
// instead of mutating the receiver.
type Latch struct {
	threshold int
	fired     bool
	disabled  bool
}

// NewLatch arms a latch at total/2. Budgets below two steps leave no room for a
// snapshot strictly before the final one, so the latch is disabled.
func NewLatch(total int) Latch {
	if total < 2 {
		return Latch{threshold: total / 2, disabled: true}
	}
	return Latch{threshold: total / 2}
}

// Advance observes a cumulative step count. fire is true only on the update
// that first reaches the threshold.
func (l Latch) Advance(steps int) (next Latch, fire bool) {
	if l.fired || l.disabled || steps < l.threshold {
		return l, false
	}
	l.fired = true
	return l, true
}

func (l Latch) Threshold() int { return l.threshold }
func (l Latch) Fired() bool    { return l.fired }
func (l Latch) Disabled() bool { return l.disabled }
