// Package api serves the log directory over HTTP: a JSON API, a live tail
// websocket, Prometheus metrics and a server-rendered browser UI.
package api

import (
	"context"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"logviewer/internal/config"
	"logviewer/internal/files"
	"logviewer/internal/logging"
	"logviewer/internal/retention"
)

// Version is reported by the API descriptor.
var Version = "1.0.0"

const requestTimeout = 30 * time.Second

// Options wires a Server to the rest of the application.
type Options struct {
	Config  config.Config
	Files   *files.Service
	Cleaner *retention.Cleaner
	// Scheduler is nil when automatic cleanup is disabled.
	Scheduler *retention.Scheduler
	Logger    *logging.Logger
	// CleanupLimiter throttles POST /api/cleanup. Defaults to one run every
	// five seconds with a burst of two.
	CleanupLimiter *rate.Limiter
}

// Server holds the HTTP handlers.
type Server struct {
	cfg       config.Config
	files     *files.Service
	cleaner   *retention.Cleaner
	scheduler *retention.Scheduler
	logger    *logging.Logger
	limiter   *rate.Limiter
	upgrader  websocket.Upgrader
	page      *template.Template
	router    chi.Router

	// sessions is cancelled by Close to end websocket sessions, which
	// http.Server.Shutdown does not track.
	sessions context.Context
	close    context.CancelFunc
}

func New(opts Options) *Server {
	s := &Server{
		cfg:       opts.Config,
		files:     opts.Files,
		cleaner:   opts.Cleaner,
		scheduler: opts.Scheduler,
		logger:    opts.Logger,
		limiter:   opts.CleanupLimiter,
		page:      template.Must(template.New("index").Funcs(funcMap).Parse(indexHTML)),
	}
	if s.logger == nil {
		s.logger = logging.NewNop()
	}
	if s.limiter == nil {
		s.limiter = rate.NewLimiter(rate.Every(5*time.Second), 2)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			ok, _ := s.originAllowed(origin)
			return ok
		},
	}
	s.sessions, s.close = context.WithCancel(context.Background())
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// Close ends open tail sessions.
func (s *Server) Close() { s.close() }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(s.recoverer)
	r.Use(s.cors)

	// long-lived
	r.Get("/api/tail", s.handleTail)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Get("/", s.handleIndex)
		r.Get("/api", s.handleDescriptor)
		r.Get("/api/health", s.handleHealth)
		r.Get("/api/tree", s.handleTree)
		r.Post("/api/reload", s.handleReload)
		r.Get("/api/file", s.handleFile)
		r.Post("/api/cleanup", s.handleCleanup)
		r.Get("/api/view", s.handleView)
		r.Get("/api/search", s.handleSearch)
		r.Get("/api/download", s.handleDownload)
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}
