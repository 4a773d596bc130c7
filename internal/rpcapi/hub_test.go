package rpcapi

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foofork/orchflow/internal/apperrors"
	"github.com/foofork/orchflow/internal/events"
	"github.com/foofork/orchflow/internal/rpcapi/tools"
	v1 "github.com/foofork/orchflow/pkg/api/v1"
)

type fakeCore struct {
	submitErr error
}

func (f *fakeCore) SubmitTask(ctx context.Context, taskType v1.TaskType, description string, priority int, params map[string]any, deps []string) (v1.Task, error) {
	if f.submitErr != nil {
		return v1.Task{}, f.submitErr
	}
	return v1.Task{ID: "t1", Type: taskType, Description: description, Status: v1.TaskStatusPending}, nil
}
func (f *fakeCore) ListWorkers(ctx context.Context) ([]v1.Worker, error) { return nil, nil }
func (f *fakeCore) ConnectWorker(ctx context.Context, idOrName string) (v1.Worker, error) {
	return v1.Worker{}, nil
}
func (f *fakeCore) PauseWorker(ctx context.Context, idOrName string) error  { return nil }
func (f *fakeCore) ResumeWorker(ctx context.Context, idOrName string) error { return nil }
func (f *fakeCore) GetSession(ctx context.Context) (v1.Session, error)     { return v1.Session{}, nil }
func (f *fakeCore) SaveSession(ctx context.Context, metadata map[string]any) error { return nil }
func (f *fakeCore) CompleteTask(ctx context.Context, taskID string, success bool, errMsg string) error {
	return nil
}

func newTestHub(core tools.Core) *Hub {
	reg := tools.NewRegistry()
	tools.RegisterBuiltins(reg, core)
	bus := events.NewMemoryBus(nil)
	return NewHub(reg, bus, nil, nil)
}

func TestDispatchToolsList(t *testing.T) {
	h := newTestHub(&fakeCore{})
	raw, _ := json.Marshal(Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "tools/list"})
	out := h.Dispatch(context.Background(), raw)
	require.NotNil(t, out)

	var resp Response
	require.NoError(t, json.Unmarshal(out, &resp))
	assert.Nil(t, resp.Error)
}

func TestDispatchCapabilities(t *testing.T) {
	h := newTestHub(&fakeCore{})
	raw, _ := json.Marshal(Request{JSONRPC: "2.0", ID: json.RawMessage(`2`), Method: "capabilities"})
	out := h.Dispatch(context.Background(), raw)

	var resp Response
	require.NoError(t, json.Unmarshal(out, &resp))
	assert.Nil(t, resp.Error)
	assert.NotNil(t, resp.Result)
}

func TestDispatchUnknownMethod(t *testing.T) {
	h := newTestHub(&fakeCore{})
	raw, _ := json.Marshal(Request{JSONRPC: "2.0", ID: json.RawMessage(`3`), Method: "nope"})
	out := h.Dispatch(context.Background(), raw)

	var resp Response
	require.NoError(t, json.Unmarshal(out, &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

func TestDispatchToolsCallSubmitTask(t *testing.T) {
	h := newTestHub(&fakeCore{})
	params, _ := json.Marshal(map[string]interface{}{
		"name": "submit_task",
		"arguments": map[string]interface{}{
			"type":        "code",
			"description": "fix the bug",
		},
	})
	raw, _ := json.Marshal(Request{JSONRPC: "2.0", ID: json.RawMessage(`4`), Method: "tools/call", Params: params})
	out := h.Dispatch(context.Background(), raw)

	var resp Response
	require.NoError(t, json.Unmarshal(out, &resp))
	require.Nil(t, resp.Error)
	result, ok := resp.Result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "t1", result["taskId"])
	assert.Equal(t, "submitted", result["status"])
}

func TestDispatchToolsCallPropagatesDomainErrorKind(t *testing.T) {
	h := newTestHub(&fakeCore{submitErr: apperrors.New(apperrors.KindCapacityExceeded, "submit_task", assertErr{})})
	params, _ := json.Marshal(map[string]interface{}{
		"name": "submit_task",
		"arguments": map[string]interface{}{
			"type":        "code",
			"description": "fix the bug",
		},
	})
	raw, _ := json.Marshal(Request{JSONRPC: "2.0", ID: json.RawMessage(`5`), Method: "tools/call", Params: params})
	out := h.Dispatch(context.Background(), raw)

	var resp Response
	require.NoError(t, json.Unmarshal(out, &resp))
	require.NotNil(t, resp.Error)
	require.NotNil(t, resp.Error.Data)
	assert.Equal(t, string(apperrors.KindCapacityExceeded), resp.Error.Data.Kind)
}

func TestDispatchToolsCallUnknownTool(t *testing.T) {
	h := newTestHub(&fakeCore{})
	params, _ := json.Marshal(map[string]interface{}{"name": "no_such_tool", "arguments": map[string]interface{}{}})
	raw, _ := json.Marshal(Request{JSONRPC: "2.0", ID: json.RawMessage(`6`), Method: "tools/call", Params: params})
	out := h.Dispatch(context.Background(), raw)

	var resp Response
	require.NoError(t, json.Unmarshal(out, &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
