// Package server assembles the HTTP stack: chi middleware, the Huma API,
// the Datastar editor streams and the static tile files.
package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-webgis/internal/api"
	"github.com/joeblew999/plat-webgis/internal/api/editor"
	"github.com/joeblew999/plat-webgis/internal/humastar"
	"github.com/joeblew999/plat-webgis/internal/observability"
	"github.com/joeblew999/plat-webgis/internal/service"
	"github.com/joeblew999/plat-webgis/internal/templates"
)

// Config holds the server configuration.
type Config struct {
	BaseURL          string // advertised in the OpenAPI servers list
	WebDir           string // optional; static/ and templates/fragments/ overrides
	ProgressInterval time.Duration
}

// Server is the WebGIS HTTP server.
type Server struct {
	config   Config
	router   chi.Router
	mux      *http.ServeMux
	humaAPI  huma.API
	services *api.Services
	bus      *service.EventBus
	metrics  *observability.Metrics
	logger   *zap.Logger
	renderer *templates.Renderer
}

// New creates the server and registers every route. metrics may be nil,
// which leaves /metrics out.
func New(cfg Config, services *api.Services, bus *service.EventBus, metrics *observability.Metrics, logger *zap.Logger) (*Server, error) {
	renderer, err := loadRenderer(cfg.WebDir, logger)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	s := &Server{
		config:   cfg,
		router:   chi.NewRouter(),
		mux:      mux,
		humaAPI:  humago.New(mux, api.Config(cfg.BaseURL)),
		services: services,
		bus:      bus,
		metrics:  metrics,
		logger:   logger,
		renderer: renderer,
	}
	s.routes()
	return s, nil
}

// loadRenderer prefers fragments under webDir so they can be edited
// without a rebuild, falling back to the embedded set.
func loadRenderer(webDir string, logger *zap.Logger) (*templates.Renderer, error) {
	if webDir != "" {
		dir := filepath.Join(webDir, "templates", "fragments")
		if _, err := os.Stat(dir); err == nil {
			r, err := templates.NewFromDir(dir)
			if err == nil {
				logger.Info("loaded fragment templates", zap.String("dir", dir))
				return r, nil
			}
			logger.Warn("fragment templates unusable, using embedded set", zap.String("dir", dir), zap.Error(err))
		}
	}
	return templates.New()
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// OpenAPI returns the generated OpenAPI document.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Close closes server resources.
func (s *Server) Close() error {
	return s.services.Store.Close()
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(observability.ZapLoggerMiddleware(s.logger))
	r.Use(observability.TracingMiddleware)

	// Register Huma REST API routes (OpenAPI-documented JSON endpoints)
	api.Register(s.humaAPI, s.services)

	// Register Editor SSE routes using Huma + Datastar SDK
	editor.NewEventHandler(s.services.Projects, s.bus, s.renderer).RegisterRoutes(s.humaAPI)
	editor.NewWizardHandler(s.services.Wizard, s.renderer, s.config.ProgressInterval).RegisterRoutes(s.humaAPI)
	if s.services.Tiles != nil {
		editor.NewTileHandler(s.services.Tiles, s.renderer).RegisterRoutes(s.humaAPI)
	}

	// Hypermedia links are computed from the complete OpenAPI document
	humastar.AutoLinks(s.humaAPI)

	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}
	if s.services.Tiles != nil {
		r.Handle("/tiles/*", http.StripPrefix("/tiles/", s.handleTiles(s.services.Tiles.TilesDir())))
	}
	if s.config.WebDir != "" {
		staticDir := filepath.Join(s.config.WebDir, "static")
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))
	}
	r.Get("/", s.handleRoot)

	// Everything else belongs to Huma
	r.Handle("/*", s.mux)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	links := humastar.RootLinks()
	if len(links) > 0 {
		w.Header().Set("Link", strings.Join(links, ", "))
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"service": "plat-webgis",
		"status":  "running",
		"docs":    "/docs",
	})
}

// handleTiles serves PMTiles archives with the CORS and Range headers
// map clients need.
func (s *Server) handleTiles(tilesDir string) http.Handler {
	files := http.FileServer(http.Dir(tilesDir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Range")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		files.ServeHTTP(w, r)
	})
}
