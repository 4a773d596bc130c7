package worker

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/foofork/orchflow/internal/apperrors"
	"github.com/foofork/orchflow/internal/common/logger"
	"github.com/foofork/orchflow/internal/worker/attach"
	v1 "github.com/foofork/orchflow/pkg/api/v1"
)

// Namer supplies a human-facing descriptive name for a newly spawned
// worker, independent of its machine id.
type Namer interface {
	Name(taskType v1.TaskType) string
}

// SequentialNamer is a deterministic Namer used when no richer naming
// source (e.g. a curated word list) is configured.
type SequentialNamer struct {
	mu  sync.Mutex
	n   int
}

// Name returns "<type>-worker-<n>" with an incrementing counter.
func (s *SequentialNamer) Name(taskType v1.TaskType) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-worker-%d", taskType, s.n)
}

// Config tunes the worker manager's behavior.
type Config struct {
	MaxWorkers           int
	OutputRingSize       int
	ResourcePollInterval time.Duration
	PTYCols, PTYRows      int
}

// Manager spawns, looks up, and tears down workers, and periodically
// refreshes their resource usage.
type Manager struct {
	mu      sync.RWMutex
	workers map[string]*Worker
	order   []string // insertion order, for deterministic lookup tie-break

	keys    keyPool
	namer   Namer
	cfg     Config
	sampler ResourceSampler
	logger  *logger.Logger

	stopPoll chan struct{}
	pollWg   sync.WaitGroup
}

// NewManager creates a worker manager with the given config. A nil namer
// defaults to SequentialNamer; a nil sampler defaults to the platform
// ResourceSampler (zero-valued where unsupported).
func NewManager(cfg Config, namer Namer, sampler ResourceSampler, log *logger.Logger) *Manager {
	if namer == nil {
		namer = &SequentialNamer{}
	}
	if sampler == nil {
		sampler = defaultSampler{}
	}
	if log == nil {
		log = logger.Default()
	}
	if cfg.PTYCols == 0 {
		cfg.PTYCols = 120
	}
	if cfg.PTYRows == 0 {
		cfg.PTYRows = 32
	}
	return &Manager{
		workers: make(map[string]*Worker),
		namer:   namer,
		cfg:     cfg,
		sampler: sampler,
		logger:  log.WithFields(zap.String("component", "worker.manager")),
	}
}

// Spawn creates a new worker of taskType with the given capabilities,
// launching initialCommand (which may be empty, starting an idle shell) in
// whichever attachment mode is available.
func (m *Manager) Spawn(taskType v1.TaskType, capabilities []string, initialCommand string) (*Worker, error) {
	m.mu.Lock()
	if m.cfg.MaxWorkers > 0 && len(m.workers) >= m.cfg.MaxWorkers {
		m.mu.Unlock()
		return nil, apperrors.New(apperrors.KindCapacityExceeded, "Spawn", fmt.Errorf("live workers %d >= maxWorkers %d", len(m.workers), m.cfg.MaxWorkers))
	}
	key := m.keys.assign()
	m.mu.Unlock()

	id := uuid.NewString()
	name := m.namer.Name(taskType)

	kind, attachment, err := m.attachWorker(id, initialCommand)
	if err != nil {
		m.mu.Lock()
		m.keys.release(key)
		m.mu.Unlock()
		return nil, apperrors.New(apperrors.KindSpawnTimeout, "Spawn", err)
	}

	w := newWorker(id, name, kind, taskType, capabilities, m.cfg.OutputRingSize, attachment)
	w.mu.Lock()
	w.data.QuickAccessKey = key
	w.data.PID = attachment.PID()
	w.data.MultiplexerSession = attachment.SessionName()
	w.mu.Unlock()
	w.setStatus(v1.WorkerStatusRunning)

	if da, ok := attachment.(*attach.DockerAttachment); ok {
		w.mu.Lock()
		w.data.ContainerID = da.ContainerID()
		w.mu.Unlock()
	}

	m.mu.Lock()
	m.workers[id] = w
	m.order = append(m.order, id)
	m.mu.Unlock()

	m.logger.Info("worker spawned", zap.String("worker_id", id), zap.String("name", name), zap.String("attachment", string(kind)))
	return w, nil
}

func (m *Manager) attachWorker(id, initialCommand string) (v1.AttachmentKind, attach.Attachment, error) {
	if attach.DetectMultiplexer() {
		command := initialCommand
		if command == "" {
			command = "$SHELL"
		}
		session := "orchflow-" + id
		a, err := attach.StartTmux(session, command)
		if err == nil {
			return v1.AttachmentMultiplexer, a, nil
		}
		m.logger.Warn("tmux attachment failed, falling back to raw process", zap.Error(err))
	}

	command := initialCommand
	if command == "" {
		// an interactive shell keeps the PTY alive and idle
		command = `exec "${SHELL:-/bin/sh}"`
		if runtime.GOOS == "windows" {
			command = "cmd.exe"
		}
	}
	a, err := attach.StartProcess(command, m.cfg.PTYCols, m.cfg.PTYRows, m.outputCallback(id))
	if err != nil {
		return "", nil, err
	}
	return v1.AttachmentProcess, a, nil
}

func (m *Manager) outputCallback(workerID string) attach.OnOutput {
	return func(stream, content string) {
		m.mu.RLock()
		w, ok := m.workers[workerID]
		m.mu.RUnlock()
		if !ok {
			return
		}
		w.RecordOutput(stream, content)
	}
}

// Get resolves idOrName by exact id, exact case-insensitive name, then
// substring match, in insertion order.
func (m *Manager) Get(idOrName string) (*Worker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ordered := make([]*Worker, 0, len(m.order))
	for _, id := range m.order {
		if w, ok := m.workers[id]; ok {
			ordered = append(ordered, w)
		}
	}
	w := lookup(ordered, idOrName)
	return w, w != nil
}

// List returns every worker's snapshot, in insertion order.
func (m *Manager) List() []v1.Worker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]v1.Worker, 0, len(m.order))
	for _, id := range m.order {
		if w, ok := m.workers[id]; ok {
			out = append(out, w.Snapshot())
		}
	}
	return out
}

// AssignTask requires the worker be idle, then writes renderedCommand to
// its attachment.
func (m *Manager) AssignTask(workerID string, taskID, renderedCommand string) error {
	m.mu.RLock()
	w, ok := m.workers[workerID]
	m.mu.RUnlock()
	if !ok {
		return apperrors.Newf(apperrors.KindNotFound, "AssignTask", "worker %q not found", workerID)
	}

	w.mu.Lock()
	if w.data.CurrentTask != "" {
		w.mu.Unlock()
		return apperrors.Newf(apperrors.KindBusy, "AssignTask", "worker %q already has task %q assigned", workerID, w.data.CurrentTask)
	}
	w.data.CurrentTask = taskID
	attachment := w.attachment
	w.mu.Unlock()

	if err := attachment.Send(renderedCommand); err != nil {
		w.mu.Lock()
		w.data.CurrentTask = ""
		w.mu.Unlock()
		return apperrors.New(apperrors.KindDispatchFailed, "AssignTask", err)
	}

	w.touch()
	return nil
}

// ReleaseTask clears a worker's current task once it terminates, making it
// eligible for the next dispatch.
func (m *Manager) ReleaseTask(workerID string) {
	m.mu.RLock()
	w, ok := m.workers[workerID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	w.mu.Lock()
	w.data.CurrentTask = ""
	w.mu.Unlock()
}

// Pause suspends a running worker's attachment.
func (m *Manager) Pause(idOrName string) error {
	w, ok := m.Get(idOrName)
	if !ok {
		return apperrors.Newf(apperrors.KindNotFound, "Pause", "worker %q not found", idOrName)
	}
	if err := w.attachment.Pause(); err != nil {
		return apperrors.New(apperrors.KindBusy, "Pause", err)
	}
	w.setStatus(v1.WorkerStatusPaused)
	return nil
}

// Resume continues a paused worker's attachment.
func (m *Manager) Resume(idOrName string) error {
	w, ok := m.Get(idOrName)
	if !ok {
		return apperrors.Newf(apperrors.KindNotFound, "Resume", "worker %q not found", idOrName)
	}
	if err := w.attachment.Resume(); err != nil {
		return apperrors.New(apperrors.KindBusy, "Resume", err)
	}
	w.setStatus(v1.WorkerStatusRunning)
	return nil
}

// Teardown stops a worker's attachment, releases its quick-access key, and
// removes it from both indexes.
func (m *Manager) Teardown(workerID string) error {
	m.mu.Lock()
	w, ok := m.workers[workerID]
	if !ok {
		m.mu.Unlock()
		return apperrors.Newf(apperrors.KindNotFound, "Teardown", "worker %q not found", workerID)
	}
	delete(m.workers, workerID)
	for i, id := range m.order {
		if id == workerID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	key := w.Snapshot().QuickAccessKey
	m.keys.release(key)
	m.mu.Unlock()

	w.setStatus(v1.WorkerStatusStopped)
	if err := w.attachment.Stop(); err != nil {
		m.logger.Warn("error stopping worker attachment", zap.String("worker_id", workerID), zap.Error(err))
	}
	return w.attachment.Close()
}

// StartResourcePolling begins the periodic sampler sweep. Stop via
// StopResourcePolling.
func (m *Manager) StartResourcePolling(ctx context.Context) {
	interval := m.cfg.ResourcePollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	m.stopPoll = make(chan struct{})
	m.pollWg.Add(1)
	go func() {
		defer m.pollWg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopPoll:
				return
			case <-ticker.C:
				m.pollOnce()
			}
		}
	}()
}

// StopResourcePolling halts the poller started by StartResourcePolling.
func (m *Manager) StopResourcePolling() {
	if m.stopPoll != nil {
		close(m.stopPoll)
	}
	m.pollWg.Wait()
}

func (m *Manager) pollOnce() {
	m.mu.RLock()
	workers := make([]*Worker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.mu.RUnlock()

	for _, w := range workers {
		pid := w.Snapshot().PID
		if pid == 0 {
			continue
		}
		cpu, mem, err := m.sampler.Sample(pid)
		if err != nil {
			continue
		}
		w.setResources(v1.Resources{CPUPercent: cpu, MemoryMB: mem})
	}
}
