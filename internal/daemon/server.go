package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/felixgeelhaar/filldrill/internal/config"
)

// Version is reported by /v1/status.
var Version = "0.1.0"

// Server represents the fill-drill daemon HTTP server
type Server struct {
	cfg    *config.LocalConfig
	server *http.Server
	router *http.ServeMux
	logger *slog.Logger

	svc *Services
}

// ServerConfig holds configuration for creating a new server
type ServerConfig struct {
	Config   *config.LocalConfig
	Services *Services
	Logger   *slog.Logger
}

// NewServer creates a new daemon server over already built services.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Services == nil || cfg.Services.Drill == nil {
		return nil, fmt.Errorf("create server: services are required")
	}
	if cfg.Config == nil {
		cfg.Config = config.DefaultLocalConfig()
	}
	s := &Server{
		cfg:    cfg.Config,
		router: http.NewServeMux(),
		logger: cfg.Logger,
		svc:    cfg.Services,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", cfg.Config.Daemon.Bind, cfg.Config.Daemon.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // grading can take a while
		IdleTimeout:  120 * time.Second,
	}
	return s, nil
}

// Handler returns the router wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return correlationIDMiddleware(recoveryMiddleware(s.logger, loggingMiddleware(s.logger, s.svc.Metrics, s.router)))
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Health & status
	s.router.HandleFunc("GET /v1/health", s.handleHealth)
	s.router.HandleFunc("GET /v1/status", s.handleStatus)
	s.router.HandleFunc("GET /v1/providers", s.handleListProviders)
	s.router.Handle("GET /metrics", s.svc.Metrics.Handler())

	// Views
	s.router.HandleFunc("POST /v1/views", s.handleOpenView)
	s.router.HandleFunc("GET /v1/views/{id}", s.handleGetView)
	s.router.HandleFunc("DELETE /v1/views/{id}", s.handleCloseView)
	s.router.HandleFunc("PUT /v1/views/{id}/level", s.handleSetLevel)
	s.router.HandleFunc("POST /v1/views/{id}/generate", s.handleGenerate)
	s.router.HandleFunc("POST /v1/views/{id}/grade", s.handleGrade)

	// Drafts
	s.router.HandleFunc("GET /v1/views/{id}/draft", s.handleGetDraft)
	s.router.HandleFunc("PUT /v1/views/{id}/draft", s.handleInput)
	s.router.HandleFunc("DELETE /v1/views/{id}/draft", s.handleClearDraft)

	// Collections
	s.router.HandleFunc("GET /v1/collections/{id}/progress", s.handleCollectionProgress)
	s.router.HandleFunc("POST /v1/collections/{id}/invalidate", s.handleInvalidate)

	// Remote progress contract, served for other daemons
	s.router.HandleFunc("GET /api/progress", s.handleFetchProgress)
	s.router.HandleFunc("PUT /api/progress", s.handlePutProgress)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting filldrill daemon",
		"addr", s.server.Addr,
		"llm_providers", s.svc.Registry.List(),
	)
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests, then drains the services.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down daemon...")

	err := s.server.Shutdown(ctx)
	if serr := s.svc.Shutdown(ctx); serr != nil {
		s.logger.Warn("service shutdown incomplete", "error", serr)
		if err == nil {
			err = serr
		}
	}
	return err
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"status":         "running",
		"version":        Version,
		"llm_providers":  s.svc.Registry.List(),
		"storage":        s.cfg.Storage.Backend,
		"remote":         s.cfg.Remote.Backend,
		"study_log":      s.cfg.StudyLog.Backend,
		"active_records": s.svc.Coordinator.Arena().Len(),
	})
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	registered := make(map[string]bool)
	for _, name := range s.svc.Registry.List() {
		registered[name] = true
	}
	providers := make([]map[string]any, 0, len(s.cfg.LLM.Providers))
	for name, cfg := range s.cfg.LLM.Providers {
		if cfg == nil {
			continue
		}
		providers = append(providers, map[string]any{
			"name":       name,
			"enabled":    cfg.Enabled,
			"model":      cfg.Model,
			"registered": registered[name],
		})
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"default":   s.svc.Registry.DefaultName(),
		"providers": providers,
	})
}

// Helper methods

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) jsonError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]any{
		"error":  message,
		"status": status,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	s.jsonResponse(w, status, response)
}

// decodeBody reads a JSON body of at most 1 MiB into v. An empty body leaves
// v untouched.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}
