package scheduler

import (
	"sync"

	v1 "github.com/foofork/orchflow/pkg/api/v1"
)

// historyCap is the fixed FIFO ring capacity for learning samples.
const historyCap = 100

// History is the scheduler's learning ring: every task terminal transition
// submits one TaskOutcome, oldest evicted first once full.
type History struct {
	mu      sync.Mutex
	samples []v1.TaskOutcome
	next    int
	full    bool
}

// NewHistory creates an empty learning ring.
func NewHistory() *History {
	return &History{samples: make([]v1.TaskOutcome, historyCap)}
}

// Record appends one outcome, evicting the oldest sample if the ring is full.
func (h *History) Record(o v1.TaskOutcome) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples[h.next] = o
	h.next = (h.next + 1) % historyCap
	if h.next == 0 {
		h.full = true
	}
}

func (h *History) snapshot() []v1.TaskOutcome {
	if h.full {
		out := make([]v1.TaskOutcome, historyCap)
		copy(out, h.samples)
		return out
	}
	out := make([]v1.TaskOutcome, h.next)
	copy(out, h.samples[:h.next])
	return out
}

// SuccessRate returns the fraction of recorded outcomes of the given type
// that succeeded, defaulting to 1.0 (optimistic prior) with no samples.
func (h *History) SuccessRate(t v1.TaskType) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	var total, succeeded int
	for _, s := range h.snapshot() {
		if s.TaskType != t {
			continue
		}
		total++
		if s.Success {
			succeeded++
		}
	}
	if total == 0 {
		return 1.0
	}
	return float64(succeeded) / float64(total)
}

// EstimatedDurationMinutes returns the mean observed duration for the given
// type, or a conservative default of 10 minutes with no samples.
func (h *History) EstimatedDurationMinutes(t v1.TaskType) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	var total int
	var sumMs int64
	for _, s := range h.snapshot() {
		if s.TaskType != t {
			continue
		}
		total++
		sumMs += s.DurationMs
	}
	if total == 0 {
		return 10.0
	}
	return float64(sumMs) / float64(total) / 60000.0
}

// Means returns the historical CPU/memory peak means by task type, for the
// conflict detector's estimator. Types with no samples are omitted.
func (h *History) Means() map[v1.TaskType]v1.Requirements {
	h.mu.Lock()
	defer h.mu.Unlock()

	type acc struct {
		cpu, mem float64
		n        int
	}
	byType := make(map[v1.TaskType]*acc)
	for _, s := range h.snapshot() {
		a, ok := byType[s.TaskType]
		if !ok {
			a = &acc{}
			byType[s.TaskType] = a
		}
		a.cpu += s.CPUPeak
		a.mem += s.MemoryPeak
		a.n++
	}
	out := make(map[v1.TaskType]v1.Requirements, len(byType))
	for t, a := range byType {
		out[t] = v1.Requirements{CPUPercent: a.cpu / float64(a.n), MemoryMB: a.mem / float64(a.n)}
	}
	return out
}
