// Package worker spawns, attaches to, and tears down the external processes
// (or multiplexer sessions, or containers) that execute dispatched tasks.
package worker

import (
	"sync"
	"time"

	"github.com/foofork/orchflow/internal/worker/attach"
	v1 "github.com/foofork/orchflow/pkg/api/v1"
)

// ResourceSampler reports a process's last-observed CPU/memory usage. The
// default implementation reads /proc on Linux; other platforms get a
// zero-value sampler rather than a fabricated reading.
type ResourceSampler interface {
	Sample(pid int) (cpuPercent, memoryMB float64, err error)
}

// Worker is a supervised external process bound to at most one task at a
// time.
type Worker struct {
	mu         sync.RWMutex
	data       v1.Worker
	attachment attach.Attachment
	output     *outputFeed
}

func newWorker(id, name string, kind v1.AttachmentKind, taskType v1.TaskType, capabilities []string, outputSize int, attachment attach.Attachment) *Worker {
	now := time.Now()
	return &Worker{
		data: v1.Worker{
			ID:              id,
			DescriptiveName: name,
			Type:            taskType,
			Capabilities:    capabilities,
			Status:          v1.WorkerStatusSpawning,
			AttachmentKind:  kind,
			StartTime:       now,
			LastActive:      now,
		},
		attachment: attachment,
		output:     newOutputFeed(outputSize),
	}
}

// ID returns the worker's stable identifier.
func (w *Worker) ID() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.data.ID
}

// DescriptiveName returns the worker's human-facing name.
func (w *Worker) DescriptiveName() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.data.DescriptiveName
}

// Snapshot returns a copy of the worker's current public state.
func (w *Worker) Snapshot() v1.Worker {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.data
}

// RecordOutput appends one captured output line, tagged with this worker's
// id, and pushes it to any live tail.
func (w *Worker) RecordOutput(stream, content string) {
	w.output.record(OutputLine{WorkerID: w.ID(), Timestamp: time.Now(), Stream: stream, Content: content})
}

// RecentOutput returns the last n captured output lines, oldest first.
func (w *Worker) RecentOutput(n int) []OutputLine { return w.output.recent(n) }

// AllOutput returns every buffered output line, oldest first.
func (w *Worker) AllOutput() []OutputLine { return w.output.all() }

// TailOutput registers a live subscriber for this worker's new output
// lines. Pair with StopTailing to release it.
func (w *Worker) TailOutput() chan OutputLine { return w.output.tail() }

// StopTailing deregisters and closes ch.
func (w *Worker) StopTailing(ch chan OutputLine) { w.output.untail(ch) }

// OutputCount returns the number of output lines currently buffered.
func (w *Worker) OutputCount() int { return w.output.count() }

func (w *Worker) setStatus(s v1.WorkerStatus) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.data.Status = s
}

func (w *Worker) setResources(r v1.Resources) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.data.Resources = r
}

func (w *Worker) touch() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.data.LastActive = time.Now()
}
