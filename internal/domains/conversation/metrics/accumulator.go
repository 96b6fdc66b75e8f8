package metrics

import (
	"sync"
	"time"
)

// TimingMetrics is a snapshot of one conversation attempt's timing.
type TimingMetrics struct {
	SessionStart     time.Time       `json:"sessionStart"`
	TurnStartTimes   []time.Time     `json:"turnStartTimes"`
	PerTurnIntervals []time.Duration `json:"perTurnIntervals"`
}

// AverageLatency is zero until a turn has completed.
func (m TimingMetrics) AverageLatency() time.Duration {
	if len(m.PerTurnIntervals) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range m.PerTurnIntervals {
		total += d
	}
	return total / time.Duration(len(m.PerTurnIntervals))
}

// Accumulator tracks per-turn latency and total session duration.
type Accumulator struct {
	mu           sync.Mutex
	sessionStart time.Time
	turnStarts   []time.Time
	intervals    []time.Duration
	open         bool
}

func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// MarkSessionStart records the start of the session the first time it is
// called after a reset.
func (a *Accumulator) MarkSessionStart(at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sessionStart.IsZero() {
		a.sessionStart = at
	}
}

// BeginTurn opens a turn at the moment the learner's text is sent.
func (a *Accumulator) BeginTurn(at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sessionStart.IsZero() {
		a.sessionStart = at
	}
	a.turnStarts = append(a.turnStarts, at)
	a.open = true
}

// EndTurn closes the open turn and returns its latency.
func (a *Accumulator) EndTurn(at time.Time) (time.Duration, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.open || len(a.turnStarts) == 0 {
		return 0, false
	}
	a.open = false
	d := at.Sub(a.turnStarts[len(a.turnStarts)-1])
	if d < 0 {
		d = 0
	}
	a.intervals = append(a.intervals, d)
	return d, true
}

// AbandonTurn closes the open turn without recording an interval.
func (a *Accumulator) AbandonTurn() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.open = false
}

func (a *Accumulator) SessionDuration(now time.Time) time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sessionStart.IsZero() {
		return 0
	}
	return now.Sub(a.sessionStart)
}

func (a *Accumulator) Snapshot() TimingMetrics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return TimingMetrics{
		SessionStart:     a.sessionStart,
		TurnStartTimes:   append([]time.Time(nil), a.turnStarts...),
		PerTurnIntervals: append([]time.Duration(nil), a.intervals...),
	}
}

func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessionStart = time.Time{}
	a.turnStarts = nil
	a.intervals = nil
	a.open = false
}
