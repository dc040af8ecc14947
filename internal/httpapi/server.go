package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/docforge/docforge/internal/service"
)

type Server struct {
	svc *service.Service

	streamInterval time.Duration

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

// WithStreamInterval overrides how often the job-list stream pushes a
// snapshot. Tests shorten it.
func WithStreamInterval(d time.Duration) Option {
	return func(s *Server) {
		s.streamInterval = d
	}
}

func NewServer(svc *service.Service, opts ...Option) *Server {
	s := &Server{
		svc:            svc,
		streamInterval: time.Second,
		mux:            http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/jobs", s.handleJobs)
	s.mux.HandleFunc("/api/jobs/stream", s.handleJobStream)
	s.mux.HandleFunc("/api/jobs/clear", s.handleClearJobs)
	s.mux.HandleFunc("/api/jobs/", s.handleJobByID)
	s.mux.HandleFunc("/api/templates", s.handleRegisterTemplate)
	s.mux.HandleFunc("/api/templates/", s.handleTemplateAction)
	s.mux.HandleFunc("/api/documents", s.handleRegisterDocument)
}
