package orchestrator

import (
	"context"

	"github.com/foofork/orchflow/internal/apperrors"
	"github.com/foofork/orchflow/internal/events"
	"github.com/foofork/orchflow/internal/taskgraph"
	v1 "github.com/foofork/orchflow/pkg/api/v1"
)

// SubmitTask inserts a new task into the dependency graph and persists it,
// satisfying rpcapi/tools.Core for the submit_task built-in. If the task
// already conflicts with something currently running, that is recorded on
// the task and reflected in the returned value immediately, rather than
// only surfacing once the dispatch tick gets around to checking it.
func (o *Orchestrator) SubmitTask(ctx context.Context, taskType v1.TaskType, description string, priority int, params map[string]any, dependencies []string) (v1.Task, error) {
	task := taskgraph.NewTask(taskType, description, params, priority, dependencies, nil)
	if err := o.graph.AddTask(task); err != nil {
		return v1.Task{}, err
	}

	if conflicts := o.checkConflicts(task); v1.HasError(conflicts) {
		task.Error = conflictSummary(conflicts)
	}

	o.syncSession()
	o.bus.Publish(events.TaskUpdate(task))
	return *task, nil
}

// ListWorkers returns every worker currently supervised, satisfying
// rpcapi/tools.Core for the list_workers built-in.
func (o *Orchestrator) ListWorkers(ctx context.Context) ([]v1.Worker, error) {
	return o.workers.List(), nil
}

// ConnectWorker resolves idOrName to a worker, satisfying rpcapi/tools.Core
// for the connect_worker built-in.
func (o *Orchestrator) ConnectWorker(ctx context.Context, idOrName string) (v1.Worker, error) {
	w, ok := o.workers.Get(idOrName)
	if !ok {
		return v1.Worker{}, apperrors.Newf(apperrors.KindNotFound, "ConnectWorker", "worker %q not found", idOrName)
	}
	return w.Snapshot(), nil
}

// PauseWorker suspends a worker's attachment, satisfying rpcapi/tools.Core
// for the pause_worker built-in.
func (o *Orchestrator) PauseWorker(ctx context.Context, idOrName string) error {
	return o.workers.Pause(idOrName)
}

// ResumeWorker resumes a paused worker's attachment, satisfying
// rpcapi/tools.Core for the resume_worker built-in.
func (o *Orchestrator) ResumeWorker(ctx context.Context, idOrName string) error {
	return o.workers.Resume(idOrName)
}

// GetSession returns the full current session, satisfying rpcapi/tools.Core
// for the get_session built-in.
func (o *Orchestrator) GetSession(ctx context.Context) (v1.Session, error) {
	return o.store.Session(), nil
}

// SaveSession merges metadata into the session and forces an immediate
// flush, satisfying rpcapi/tools.Core for the save_session built-in.
func (o *Orchestrator) SaveSession(ctx context.Context, metadata map[string]any) error {
	o.store.Mutate(func(s *v1.Session) {
		if s.Metadata == nil {
			s.Metadata = v1.SessionMetadata{}
		}
		for k, v := range metadata {
			s.Metadata[k] = v
		}
	})
	if err := o.store.ForceSave(); err != nil {
		return err
	}
	o.bus.Publish(events.StateSaved())
	return nil
}

// SessionSnapshot builds the payload sent to a newly connected RPC client as
// its initialState event.
func (o *Orchestrator) SessionSnapshot(ctx context.Context) (interface{}, error) {
	return o.store.Session(), nil
}
