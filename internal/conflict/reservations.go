package conflict

import "sync"

// allocation records exactly which resources a task holds, so Release can
// be symmetric without the caller re-deriving the claim.
type allocation struct {
	files    map[string]bool
	ports    map[int]bool
	services map[string]bool
}

// Reservations is the live table of resources held by in-flight tasks.
// Allocate/Release are idempotent: double-allocating the same task updates
// its held set rather than double-counting it.
type Reservations struct {
	mu sync.Mutex

	filesBy    map[string]string // path -> taskID
	portsBy    map[int]string    // port -> taskID
	servicesBy map[string]string // service -> taskID

	byTask map[string]*allocation
}

// NewReservations creates an empty reservation table.
func NewReservations() *Reservations {
	return &Reservations{
		filesBy:    make(map[string]string),
		portsBy:    make(map[int]string),
		servicesBy: make(map[string]string),
		byTask:     make(map[string]*allocation),
	}
}

// Allocate records c as held by its task, replacing any prior allocation for
// the same task id.
func (r *Reservations) Allocate(c Claim) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.releaseLocked(c.TaskID)

	a := &allocation{
		files:    make(map[string]bool, len(c.Files)),
		ports:    make(map[int]bool, len(c.Ports)),
		services: make(map[string]bool, len(c.Services)),
	}
	for _, f := range c.Files {
		r.filesBy[f] = c.TaskID
		a.files[f] = true
	}
	for _, p := range c.Ports {
		r.portsBy[p] = c.TaskID
		a.ports[p] = true
	}
	for _, s := range c.Services {
		r.servicesBy[s] = c.TaskID
		a.services[s] = true
	}
	r.byTask[c.TaskID] = a
}

// Release frees every resource held by taskID. Safe to call on a task with
// no current allocation.
func (r *Reservations) Release(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseLocked(taskID)
}

func (r *Reservations) releaseLocked(taskID string) {
	a, ok := r.byTask[taskID]
	if !ok {
		return
	}
	for f := range a.files {
		if r.filesBy[f] == taskID {
			delete(r.filesBy, f)
		}
	}
	for p := range a.ports {
		if r.portsBy[p] == taskID {
			delete(r.portsBy, p)
		}
	}
	for s := range a.services {
		if r.servicesBy[s] == taskID {
			delete(r.servicesBy, s)
		}
	}
	delete(r.byTask, taskID)
}

// FileHolder returns the task id currently holding path, if any.
func (r *Reservations) FileHolder(path string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.filesBy[path]
	return id, ok
}

// PortHolder returns the task id currently holding port, if any.
func (r *Reservations) PortHolder(port int) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.portsBy[port]
	return id, ok
}

// ServiceHolder returns the task id currently holding service, if any.
func (r *Reservations) ServiceHolder(service string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.servicesBy[service]
	return id, ok
}
