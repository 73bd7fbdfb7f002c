package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/wikigames-crawler/internal/crawler"
	"github.com/JakeFAU/wikigames-crawler/internal/metrics"
)

const (
	defaultRequestTimeout = 60 * time.Second
	enqueueTimeout        = 5 * time.Second
	maxBodyBytes          = 1 << 20
)

// Seeder starts traversals and page tasks.
type Seeder interface {
	StartCategoryTraversal(ctx context.Context, category string) (crawler.CrawlTask, error)
	StartTemplateTransclusion(ctx context.Context, template string) (crawler.CrawlTask, error)
	StartAllPagesEnumeration(ctx context.Context, pageSize int, continuation string) (crawler.CrawlTask, error)
	StartPage(ctx context.Context, title string, kind crawler.PageKind) (crawler.CrawlTask, error)
}

// ReadyCheck reports whether a downstream dependency is usable.
type ReadyCheck func(ctx context.Context) error

// Config controls the HTTP surface.
type Config struct {
	// APIKey protects the /v1 routes when set.
	APIKey string
	// DefaultPageSize is used when an allpages seed omits its limit.
	DefaultPageSize int
	RequestTimeout  time.Duration
}

// Server wires HTTP handlers to the frontier.
type Server struct {
	router chi.Router
	seeder Seeder
	ready  []ReadyCheck
	cfg    Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(seeder Seeder, cfg Config, logger *zap.Logger, ready ...ReadyCheck) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	s := &Server{
		seeder: seeder,
		ready:  ready,
		cfg:    cfg,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Route("/seeds", func(r chi.Router) {
			r.Post("/category", s.seedCategory)
			r.Post("/template", s.seedTemplate)
			r.Post("/allpages", s.seedAllPages)
		})
		r.Post("/pages", s.submitPage)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	for _, check := range s.ready {
		if err := check(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			s.writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type categoryRequest struct {
	Category string `json:"category"`
}

type templateRequest struct {
	Template string `json:"template"`
}

type allPagesRequest struct {
	Limit        *int   `json:"limit"`
	Continuation string `json:"continuation"`
}

type pageRequest struct {
	Title string `json:"title"`
	Kind  string `json:"kind"`
}

func (s *Server) seedCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Category) == "" {
		s.writeError(w, http.StatusBadRequest, "category required")
		return
	}
	s.submit(w, r, func(ctx context.Context) (crawler.CrawlTask, error) {
		return s.seeder.StartCategoryTraversal(ctx, req.Category)
	})
}

func (s *Server) seedTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Template) == "" {
		s.writeError(w, http.StatusBadRequest, "template required")
		return
	}
	s.submit(w, r, func(ctx context.Context) (crawler.CrawlTask, error) {
		return s.seeder.StartTemplateTransclusion(ctx, req.Template)
	})
}

func (s *Server) seedAllPages(w http.ResponseWriter, r *http.Request) {
	var req allPagesRequest
	if !s.decode(w, r, &req) {
		return
	}
	limit := s.cfg.DefaultPageSize
	if req.Limit != nil {
		limit = *req.Limit
	}
	if limit <= 0 {
		s.writeError(w, http.StatusBadRequest, "limit must be positive")
		return
	}
	s.submit(w, r, func(ctx context.Context) (crawler.CrawlTask, error) {
		return s.seeder.StartAllPagesEnumeration(ctx, limit, req.Continuation)
	})
}

func (s *Server) submitPage(w http.ResponseWriter, r *http.Request) {
	var req pageRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		s.writeError(w, http.StatusBadRequest, "title required")
		return
	}
	kind, err := crawler.ParsePageKind(req.Kind)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.submit(w, r, func(ctx context.Context) (crawler.CrawlTask, error) {
		return s.seeder.StartPage(ctx, req.Title, kind)
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, seed func(context.Context) (crawler.CrawlTask, error)) {
	ctx, cancel := context.WithTimeout(r.Context(), enqueueTimeout)
	defer cancel()
	task, err := seed(ctx)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		s.logger.Error("seed submission failed", zap.Error(err))
		s.writeError(w, status, fmt.Sprintf("submit task: %v", err))
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"task_key": task.DedupKey()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
