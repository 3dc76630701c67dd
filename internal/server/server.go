// Package server provides the HTTP API for taskdeck.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/taskdeck/taskdeck/internal/event"
	"github.com/taskdeck/taskdeck/internal/logging"
	"github.com/taskdeck/taskdeck/internal/session"
	"github.com/taskdeck/taskdeck/internal/store"
	"github.com/taskdeck/taskdeck/internal/workdir"
	"github.com/taskdeck/taskdeck/pkg/types"
)

// Config holds server configuration. The Default* fields fill in task
// fields the create request leaves empty.
type Config struct {
	Host         string
	Port         int
	EnableCORS   bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	DefaultBackend string
	DefaultModel   string
	DefaultMode    types.InteractionMode
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Host:         "127.0.0.1",
		Port:         4810,
		EnableCORS:   true,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // No write timeout for SSE

		DefaultBackend: "claude",
		DefaultMode:    types.ModeDefault,
	}
}

// Server is the HTTP server. It owns no session state of its own; every
// handler delegates to the orchestrator or the store.
type Server struct {
	config  *Config
	router  *chi.Mux
	httpSrv *http.Server
	store   *store.Store
	service *session.Service
	bus     *event.Bus

	mu          sync.Mutex
	watchers    map[string]branchWatcher
	openWatcher func(dir string) (branchWatcher, error)
}

// branchWatcher is the slice of workdir.Watcher the server needs.
type branchWatcher interface {
	Start()
	Stop() error
}

// New creates a new Server instance.
func New(cfg *Config, st *store.Store, svc *session.Service, bus *event.Bus) *Server {
	s := &Server{
		config:   cfg,
		router:   chi.NewRouter(),
		store:    st,
		service:  svc,
		bus:      bus,
		watchers: make(map[string]branchWatcher),
	}
	s.openWatcher = func(dir string) (branchWatcher, error) {
		w, err := workdir.NewWatcher(bus, dir)
		if err != nil || w == nil {
			return nil, err
		}
		return w, nil
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)

	if s.config.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"Link", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully shuts down the server and stops branch watchers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	watchers := s.watchers
	s.watchers = make(map[string]branchWatcher)
	s.mu.Unlock()

	for dir, w := range watchers {
		if err := w.Stop(); err != nil {
			logging.Warn().Err(err).Str("directory", dir).Msg("branch watcher stop failed")
		}
	}

	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// watchDirectory starts a branch watcher for a task directory, once per
// directory. Non-git directories are skipped silently.
func (s *Server) watchDirectory(dir string) {
	s.mu.Lock()
	if _, exists := s.watchers[dir]; exists {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	w, err := s.openWatcher(dir)
	if err != nil {
		logging.Warn().Err(err).Str("directory", dir).Msg("branch watcher setup failed")
		return
	}
	if w == nil {
		return
	}

	s.mu.Lock()
	if _, exists := s.watchers[dir]; exists {
		s.mu.Unlock()
		w.Stop()
		return
	}
	s.watchers[dir] = w
	s.mu.Unlock()

	w.Start()
}
