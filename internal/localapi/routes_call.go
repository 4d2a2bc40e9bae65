package localapi

import (
	"encoding/json"
	"io"
	"net/http"

	"duet/internal/dispatch"
)

const maxCallBodySize = 1 << 20

func (s *Server) registerCallRoutes() {
	s.mux.HandleFunc("/api/v1/call", s.handleCall)
	s.mux.HandleFunc("/api/v1/ops", s.handleOps)
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallBodySize+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, dispatch.CodeBadArgs, err.Error())
		return
	}
	if len(body) > maxCallBodySize {
		respondError(w, http.StatusRequestEntityTooLarge, dispatch.CodeBadArgs, "request body too large")
		return
	}
	var req dispatch.Request
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, dispatch.CodeBadArgs, "invalid json body")
		return
	}
	if agent := r.Header.Get("X-Duet-Agent"); req.Agent == "" && agent != "" {
		req.Agent = agent
	}

	out, err := s.callOp(r.Context(), req)
	if err != nil {
		code := dispatch.Code(err)
		if code == dispatch.CodeStorageContention {
			w.Header().Set("Retry-After", "1")
		}
		respondError(w, dispatch.HTTPStatus(code), code, err.Error())
		return
	}
	respondOK(w, out)
}

func (s *Server) handleOps(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if s.deps.Caller == nil {
		respondOK(w, []dispatch.OpInfo{})
		return
	}
	respondOK(w, s.deps.Caller.Ops())
}
