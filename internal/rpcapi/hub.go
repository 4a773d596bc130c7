package rpcapi

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/foofork/orchflow/internal/apperrors"
	"github.com/foofork/orchflow/internal/common/logger"
	"github.com/foofork/orchflow/internal/events"
	"github.com/foofork/orchflow/internal/rpcapi/transport"
	"github.com/foofork/orchflow/internal/rpcapi/tools"
)

// capabilities is the fixed advert sent in response to a "capabilities" call.
var capabilities = map[string]interface{}{
	"tools":  true,
	"events": []string{"initialState", "task.update", "worker.update", "worker.output", "task.completed", "task.failed"},
}

// SessionProvider supplies the snapshot a newly connected client receives
// as its initialState event.
type SessionProvider func(ctx context.Context) (interface{}, error)

// Hub owns the tool registry, every connected transport.Conn, and the
// event-bus subscription that turns orchestrator mutations into broadcast
// notifications. One Hub serves every client of one orchflow process.
type Hub struct {
	registry *tools.Registry
	bus      events.Bus
	session  SessionProvider
	logger   *logger.Logger

	mu    sync.RWMutex
	conns map[string]*transport.Conn
}

// NewHub wires a hub around reg (already populated via tools.RegisterBuiltins),
// bus (the orchestrator's event bus) and session (used to seed new clients).
func NewHub(reg *tools.Registry, bus events.Bus, session SessionProvider, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Default()
	}
	return &Hub{
		registry: reg,
		bus:      bus,
		session:  session,
		logger:   log.WithFields(zap.String("component", "rpcapi.hub")),
		conns:    make(map[string]*transport.Conn),
	}
}

// Register admits a new connection, sends its initialState, and starts
// relaying it broadcast events until the connection closes.
func (h *Hub) Register(ctx context.Context, conn *transport.Conn) {
	h.mu.Lock()
	h.conns[conn.ID] = conn
	h.mu.Unlock()

	if h.session != nil {
		if snap, err := h.session(ctx); err == nil {
			h.sendNotification(conn, newNotification(string(events.TypeInitialState), snap))
		} else {
			h.logger.Warn("failed to build initial state", zap.Error(err))
		}
	}

	sub := h.bus.Subscribe()
	go func() {
		defer h.bus.Unsubscribe(sub)
		for event := range sub {
			h.mu.RLock()
			_, live := h.conns[conn.ID]
			h.mu.RUnlock()
			if !live {
				return
			}
			h.sendNotification(conn, newNotification(string(event.Type), event))
		}
	}()
}

// Unregister drops conn from the hub and closes it; its event-relay
// goroutine exits, releasing its bus subscription, on the next event it
// receives after this call.
func (h *Hub) Unregister(conn *transport.Conn) {
	h.mu.Lock()
	delete(h.conns, conn.ID)
	h.mu.Unlock()
	conn.Close()
}

func (h *Hub) sendNotification(conn *transport.Conn, n Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		h.logger.Error("failed to marshal notification", zap.Error(err))
		return
	}
	conn.Send(data)
}

// Dispatch decodes one client frame, executes it, and returns the encoded
// response frame (nil if the frame was itself a notification with no id
// expecting no reply).
func (h *Hub) Dispatch(ctx context.Context, raw []byte) []byte {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		resp := newErrorResponse(nil, CodeParseError, "invalid JSON", "")
		data, _ := json.Marshal(resp)
		return data
	}

	resp := h.handle(ctx, req)
	if req.ID == nil {
		return nil
	}
	data, err := json.Marshal(resp)
	if err != nil {
		h.logger.Error("failed to marshal response", zap.Error(err))
		return nil
	}
	return data
}

func (h *Hub) handle(ctx context.Context, req Request) Response {
	switch req.Method {
	case "capabilities":
		return newResponse(req.ID, capabilities)
	case "tools/list":
		return newResponse(req.ID, map[string]interface{}{"tools": h.registry.List()})
	case "tools/call":
		return h.handleToolsCall(ctx, req)
	default:
		return newErrorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method), "")
	}
}

func (h *Hub) handleToolsCall(ctx context.Context, req Request) Response {
	var call struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &call); err != nil {
		return newErrorResponse(req.ID, CodeInvalidParams, "invalid tools/call params", "")
	}

	result, err, found := h.registry.Call(ctx, call.Name, call.Arguments)
	if !found {
		return newErrorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown tool %q", call.Name), "")
	}
	if err != nil {
		kind, _ := apperrors.KindOf(err)
		return newErrorResponse(req.ID, CodeInternalError, err.Error(), string(kind))
	}
	return newResponse(req.ID, result)
}
