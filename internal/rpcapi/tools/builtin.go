package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/foofork/orchflow/internal/apperrors"
	v1 "github.com/foofork/orchflow/pkg/api/v1"
)

// Core is the narrow slice of orchestrator behavior the built-in tools call
// into. Defined here rather than imported from internal/orchestrator so this
// package does not depend on the orchestrator; *orchestrator.Orchestrator
// satisfies it and is wired in by the caller.
type Core interface {
	SubmitTask(ctx context.Context, taskType v1.TaskType, description string, priority int, params map[string]any, dependencies []string) (v1.Task, error)
	ListWorkers(ctx context.Context) ([]v1.Worker, error)
	ConnectWorker(ctx context.Context, idOrName string) (v1.Worker, error)
	PauseWorker(ctx context.Context, idOrName string) error
	ResumeWorker(ctx context.Context, idOrName string) error
	GetSession(ctx context.Context) (v1.Session, error)
	SaveSession(ctx context.Context, metadata map[string]any) error
	CompleteTask(ctx context.Context, taskID string, success bool, errMsg string) error
}

// RegisterBuiltins populates reg with the eight built-in orchestrator tools.
// The registry's contents are fixed at process startup, so no
// notifications/tools/listChanged push is implemented; add one if a future
// built-in is ever registered after the hub starts serving clients.
func RegisterBuiltins(reg *Registry, core Core) {
	reg.Register(
		mcp.NewTool("submit_task",
			mcp.WithDescription("Submit a new task to the orchestrator's dependency graph"),
			mcp.WithString("type", mcp.Required(), mcp.Description("Task type: research, code, test, analysis, swarm, hive-mind")),
			mcp.WithString("description", mcp.Required(), mcp.Description("Human-readable description; also mined for file/port/service claims")),
			mcp.WithNumber("priority", mcp.Description("Scheduling priority, higher runs first; default 0")),
			mcp.WithObject("parameters", mcp.Description("Explicit claims: files, ports, services, and any renderer template fields")),
			mcp.WithArray("dependencies", mcp.Description("Task IDs this task depends on")),
		),
		submitTaskHandler(core),
	)

	reg.Register(
		mcp.NewTool("list_workers",
			mcp.WithDescription("List every worker the orchestrator currently supervises"),
		),
		listWorkersHandler(core),
	)

	reg.Register(
		mcp.NewTool("connect_worker",
			mcp.WithDescription("Resolve a worker by id or name and return how to attach to it"),
			mcp.WithString("workerId", mcp.Description("Exact worker id")),
			mcp.WithString("workerName", mcp.Description("Worker name, or a substring of one (first match in spawn order wins)")),
		),
		connectWorkerHandler(core),
	)

	reg.Register(
		mcp.NewTool("pause_worker",
			mcp.WithDescription("Suspend a running worker's attachment"),
			mcp.WithString("workerId", mcp.Description("Exact worker id")),
			mcp.WithString("workerName", mcp.Description("Worker name, or a substring of one (first match in spawn order wins)")),
		),
		pauseWorkerHandler(core),
	)

	reg.Register(
		mcp.NewTool("resume_worker",
			mcp.WithDescription("Resume a paused worker's attachment"),
			mcp.WithString("workerId", mcp.Description("Exact worker id")),
			mcp.WithString("workerName", mcp.Description("Worker name, or a substring of one (first match in spawn order wins)")),
		),
		resumeWorkerHandler(core),
	)

	reg.Register(
		mcp.NewTool("get_session",
			mcp.WithDescription("Return the full current session: tasks, workers, and metadata"),
		),
		getSessionHandler(core),
	)

	reg.Register(
		mcp.NewTool("save_session",
			mcp.WithDescription("Merge the given metadata into the session and force an immediate save"),
			mcp.WithObject("data", mcp.Description("Partial session metadata to merge")),
		),
		saveSessionHandler(core),
	)

	reg.Register(
		mcp.NewTool("complete_task",
			mcp.WithDescription("Report a running task's terminal outcome back to the orchestrator"),
			mcp.WithString("taskId", mcp.Required(), mcp.Description("The task id being reported on")),
			mcp.WithString("status", mcp.Required(), mcp.Description("success or failure")),
			mcp.WithString("error", mcp.Description("Failure detail, required when status is failure")),
		),
		completeTaskHandler(core),
	)
}

func decodeParams(params json.RawMessage, v interface{}) error {
	if len(params) == 0 {
		return nil
	}
	return json.Unmarshal(params, v)
}

func workerIDOrName(req struct {
	WorkerID   string `json:"workerId"`
	WorkerName string `json:"workerName"`
}) (string, error) {
	if req.WorkerID != "" {
		return req.WorkerID, nil
	}
	if req.WorkerName != "" {
		return req.WorkerName, nil
	}
	return "", apperrors.Newf(apperrors.KindNotFound, "connect_worker", "workerId or workerName required")
}

func submitTaskHandler(core Core) Handler {
	return func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var req struct {
			Type         string         `json:"type"`
			Description  string         `json:"description"`
			Priority     int            `json:"priority"`
			Parameters   map[string]any `json:"parameters"`
			Dependencies []string       `json:"dependencies"`
		}
		if err := decodeParams(params, &req); err != nil {
			return nil, apperrors.New(apperrors.KindNotFound, "submit_task", err)
		}
		if req.Type == "" || req.Description == "" {
			return nil, fmt.Errorf("submit_task: type and description are required")
		}
		task, err := core.SubmitTask(ctx, v1.TaskType(req.Type), req.Description, req.Priority, req.Parameters, req.Dependencies)
		if err != nil {
			return nil, err
		}
		return map[string]string{"taskId": task.ID, "status": "submitted"}, nil
	}
}

func listWorkersHandler(core Core) Handler {
	return func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
		return core.ListWorkers(ctx)
	}
}

func connectWorkerHandler(core Core) Handler {
	return func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var req struct {
			WorkerID   string `json:"workerId"`
			WorkerName string `json:"workerName"`
		}
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		idOrName, err := workerIDOrName(req)
		if err != nil {
			return nil, err
		}
		w, err := core.ConnectWorker(ctx, idOrName)
		if err != nil {
			return nil, err
		}
		conn := map[string]interface{}{"type": string(w.AttachmentKind)}
		switch w.AttachmentKind {
		case v1.AttachmentMultiplexer:
			conn["sessionName"] = w.MultiplexerSession
		case v1.AttachmentProcess:
			conn["pid"] = w.PID
		case v1.AttachmentDocker:
			conn["containerId"] = w.ContainerID
		}
		return map[string]interface{}{"connection": conn}, nil
	}
}

func pauseWorkerHandler(core Core) Handler {
	return func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var req struct {
			WorkerID   string `json:"workerId"`
			WorkerName string `json:"workerName"`
		}
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		idOrName, err := workerIDOrName(req)
		if err != nil {
			return nil, err
		}
		if err := core.PauseWorker(ctx, idOrName); err != nil {
			return nil, err
		}
		return map[string]string{"status": "paused"}, nil
	}
}

func resumeWorkerHandler(core Core) Handler {
	return func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var req struct {
			WorkerID   string `json:"workerId"`
			WorkerName string `json:"workerName"`
		}
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		idOrName, err := workerIDOrName(req)
		if err != nil {
			return nil, err
		}
		if err := core.ResumeWorker(ctx, idOrName); err != nil {
			return nil, err
		}
		return map[string]string{"status": "running"}, nil
	}
}

func getSessionHandler(core Core) Handler {
	return func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
		return core.GetSession(ctx)
	}
}

func saveSessionHandler(core Core) Handler {
	return func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var req struct {
			Data map[string]any `json:"data"`
		}
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		if err := core.SaveSession(ctx, req.Data); err != nil {
			return nil, err
		}
		return map[string]string{"status": "saved"}, nil
	}
}

func completeTaskHandler(core Core) Handler {
	return func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var req struct {
			TaskID string `json:"taskId"`
			Status string `json:"status"`
			Error  string `json:"error"`
		}
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		if req.TaskID == "" || req.Status == "" {
			return nil, fmt.Errorf("complete_task: taskId and status are required")
		}
		success := req.Status == "success"
		if err := core.CompleteTask(ctx, req.TaskID, success, req.Error); err != nil {
			return nil, err
		}
		return map[string]string{"status": "recorded"}, nil
	}
}
