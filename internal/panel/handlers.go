package panel

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/avandres/stepflow/pkg/schema"
)

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.deps.Store.Sessions(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"sessions": ids})
}

func (s *Server) handleSessionState(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Store.LoadState(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, st)
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Store.Replay(r.Context(), r.PathValue("id"), r.URL.Query().Get("step"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{
		"state":   st,
		"context": st.ContextValues(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	events, err := s.deps.Store.History(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"events": events})
}

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Tools == nil {
		http.Error(w, "no tool executor configured", http.StatusNotFound)
		return
	}
	s.writeJSON(w, map[string]any{"tools": s.deps.Tools.Tools()})
}

func (s *Server) handleJobs(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Scheduler == nil {
		http.Error(w, "no scheduler configured", http.StatusNotFound)
		return
	}
	s.writeJSON(w, map[string]any{"jobs": s.deps.Scheduler.Jobs()})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.deps.Logger.Error("encode response", "error", err)
	}
}

// writeError maps structured error codes to HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := map[string]any{"error": err.Error()}

	var fe *schema.FlowError
	if errors.As(err, &fe) {
		body["code"] = fe.Code
		switch fe.Code {
		case schema.ErrCodeSessionNotFound, schema.ErrCodeStepNotFound, schema.ErrCodeNotFound:
			status = http.StatusNotFound
		case schema.ErrCodeValidation, schema.ErrCodeInvalidParameters:
			status = http.StatusBadRequest
		case schema.ErrCodeConflict:
			status = http.StatusConflict
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
