package worker

import "strings"

// maxQuickAccessKey is the highest quick-access key a worker may be
// assigned; keys live in 1..9.
const maxQuickAccessKey = 9

// keyPool tracks which quick-access keys are currently assigned.
type keyPool struct {
	used [maxQuickAccessKey + 1]bool // index 0 unused
}

// assign returns the lowest free key in 1..9, or 0 if none remain.
func (p *keyPool) assign() int {
	for k := 1; k <= maxQuickAccessKey; k++ {
		if !p.used[k] {
			p.used[k] = true
			return k
		}
	}
	return 0
}

// release frees key k. A no-op for k == 0 (never assigned).
func (p *keyPool) release(k int) {
	if k >= 1 && k <= maxQuickAccessKey {
		p.used[k] = false
	}
}

// lookup resolves idOrName against the ordered worker list by exact id,
// then exact case-insensitive name, then first substring match on name in
// insertion order.
func lookup(workers []*Worker, idOrName string) *Worker {
	for _, w := range workers {
		if w.ID() == idOrName {
			return w
		}
	}
	lower := strings.ToLower(idOrName)
	for _, w := range workers {
		if strings.ToLower(w.DescriptiveName()) == lower {
			return w
		}
	}
	for _, w := range workers {
		if strings.Contains(strings.ToLower(w.DescriptiveName()), lower) {
			return w
		}
	}
	return nil
}
