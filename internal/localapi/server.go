package localapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"duet/internal/dispatch"
	"duet/internal/engine"
	"duet/internal/logging"
)

// Caller runs one structured call; *dispatch.Dispatcher implements it.
type Caller interface {
	Call(ctx context.Context, req dispatch.Request) (any, error)
	Ops() []dispatch.OpInfo
}

type Deps struct {
	Caller    Caller
	ProjectID string
	Logger    *slog.Logger
}

type Server struct {
	deps   Deps
	mux    *http.ServeMux
	hub    *WSHub
	logger *slog.Logger
}

func NewServer(deps Deps) *Server {
	lg := logging.OrDiscard(deps.Logger)
	s := &Server{deps: deps, mux: http.NewServeMux(), logger: lg}
	s.hub = NewWSHub(s.callOp, lg)
	s.registerCallRoutes()
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/ws", s.hub.HandleWS)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// PublishEvent forwards a committed engine event to websocket subscribers.
// It matches engine.Observer.
func (s *Server) PublishEvent(ev engine.Event) {
	if s == nil || s.hub == nil {
		return
	}
	payload := map[string]any{
		"event_id":   ev.ID,
		"agent":      string(ev.Agent),
		"created_at": ev.CreatedAt,
	}
	if len(ev.Payload) > 0 {
		payload["data"] = ev.Payload
	}
	s.hub.Publish(ev.Type, s.deps.ProjectID, ev.TaskID, payload)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondOK(w, map[string]any{"status": "ok", "project_id": s.deps.ProjectID})
}

func (s *Server) callOp(ctx context.Context, req dispatch.Request) (any, error) {
	if s.deps.Caller == nil {
		return nil, &dispatch.Error{Code: dispatch.CodeInternal, Message: "dispatcher is unavailable"}
	}
	return s.deps.Caller.Call(ctx, req)
}

func respondOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "data": data})
}

func respondError(w http.ResponseWriter, code int, errCode string, msg string) {
	writeJSON(w, code, map[string]any{"ok": false, "error": map[string]any{"code": errCode, "message": msg}})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
