package panel

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/avandres/stepflow/internal/scheduler"
	"github.com/avandres/stepflow/internal/state"
	"github.com/avandres/stepflow/internal/streaming"
	"github.com/avandres/stepflow/internal/tool"
)

// Deps holds the dependencies for the panel server. Store is required; Hub
// may be nil to disable the SSE endpoints; Tools and Scheduler may be nil
// to disable the tool catalog and the job listing.
type Deps struct {
	Store     *state.Store
	Hub       streaming.EventHub
	Tools     *tool.Executor
	Scheduler *scheduler.Scheduler
	Logger    *slog.Logger
}

// Server is a read-only HTTP surface over the session store, the live
// event hub, and the scheduler: session listings, state, replay, history,
// scheduled jobs, and SSE streams.
type Server struct {
	deps Deps
}

// NewServer creates a panel Server.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Server{deps: deps}
}

// Handler returns the HTTP handler for the panel routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/sessions", s.handleSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleSessionState)
	mux.HandleFunc("GET /api/sessions/{id}/replay", s.handleReplay)
	mux.HandleFunc("GET /api/sessions/{id}/history", s.handleHistory)
	mux.HandleFunc("GET /api/tools", s.handleTools)
	mux.HandleFunc("GET /api/jobs", s.handleJobs)

	mux.HandleFunc("GET /sse/events", s.handleSSEGlobal)
	mux.HandleFunc("GET /sse/sessions/{id}", s.handleSSESession)

	return mux
}
