// Package events defines the closed set of notifications the orchestrator
// broadcasts to every connected RPC client and the bus abstraction used to
// fan them out.
package events

import (
	"time"

	v1 "github.com/foofork/orchflow/pkg/api/v1"
)

// Type is one of the fixed event names broadcast over the RPC hub.
type Type string

const (
	TypeInitialState  Type = "initialState"
	TypeTaskUpdate    Type = "task.update"
	TypeWorkerUpdate  Type = "worker.update"
	TypeWorkerOutput  Type = "worker.output"
	TypeTaskCompleted Type = "task.completed"
	TypeTaskFailed    Type = "task.failed"
	TypeStateSaved    Type = "state.saved"
	TypeSaveError     Type = "state.saveError"
)

// Event is one server-pushed notification, JSON-RPC framed by the transport
// as `{jsonrpc:"2.0", method, params}` with no id.
type Event struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Task      *v1.Task  `json:"task,omitempty"`
	Worker    *v1.Worker `json:"worker,omitempty"`
	Output    *OutputPayload `json:"output,omitempty"`
	Session   *v1.Session `json:"session,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// OutputPayload carries one captured output line for worker.output events.
type OutputPayload struct {
	WorkerID string `json:"workerId"`
	Stream   string `json:"stream"`
	Content  string `json:"content"`
}

func newEvent(t Type) Event { return Event{Type: t, Timestamp: time.Now()} }

// TaskUpdate builds a task.update event.
func TaskUpdate(t *v1.Task) Event { e := newEvent(TypeTaskUpdate); e.Task = t; return e }

// TaskCompleted builds a task.completed event.
func TaskCompleted(t *v1.Task) Event { e := newEvent(TypeTaskCompleted); e.Task = t; return e }

// TaskFailed builds a task.failed event carrying the failure reason.
func TaskFailed(t *v1.Task, reason string) Event {
	e := newEvent(TypeTaskFailed)
	e.Task = t
	e.Error = reason
	return e
}

// WorkerUpdate builds a worker.update event.
func WorkerUpdate(w *v1.Worker) Event { e := newEvent(TypeWorkerUpdate); e.Worker = w; return e }

// WorkerOutput builds a worker.output event for one captured line.
func WorkerOutput(workerID, stream, content string) Event {
	e := newEvent(TypeWorkerOutput)
	e.Output = &OutputPayload{WorkerID: workerID, Stream: stream, Content: content}
	return e
}

// InitialState builds the initialState event sent once a client connects.
func InitialState(s v1.Session) Event { e := newEvent(TypeInitialState); e.Session = &s; return e }

// StateSaved builds a state.saved event.
func StateSaved() Event { return newEvent(TypeStateSaved) }

// SaveError builds a state.saveError event; a failed save is reported to
// clients rather than aborting the caller that triggered it.
func SaveError(err error) Event {
	e := newEvent(TypeSaveError)
	e.Error = err.Error()
	return e
}
