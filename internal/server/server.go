// Package server wires the catalog, sessions, search index and HTTP routes
// into one handler.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-wayfind/internal/api"
	"github.com/joeblew999/plat-wayfind/internal/api/viewer"
	"github.com/joeblew999/plat-wayfind/internal/catalog"
	"github.com/joeblew999/plat-wayfind/internal/humastar"
	"github.com/joeblew999/plat-wayfind/internal/index"
	"github.com/joeblew999/plat-wayfind/internal/metrics"
	"github.com/joeblew999/plat-wayfind/internal/service"
	"github.com/joeblew999/plat-wayfind/internal/style"
	"github.com/joeblew999/plat-wayfind/internal/templates"
	"github.com/joeblew999/plat-wayfind/internal/wayfind"
)

// Config holds the server configuration.
type Config struct {
	Host string
	Port string
	// PublicURL is how browsers reach this server; the basemap archive URL
	// in styles is built from it.
	PublicURL string
	// DataDir is the web root holding json/, icons/ and protomaps/.
	DataDir string
	// WebDir overrides the embedded fragment templates when set.
	WebDir string
	// CatalogURL fetches the catalog over HTTP instead of from DataDir.
	CatalogURL    string
	SessionIdle   time.Duration
	DisableSearch bool
	Logger        zerolog.Logger
}

// Loader is a catalog source that also resolves icons.
type Loader interface {
	wayfind.CatalogLoader
	LoadImage(ctx context.Context, url string) (wayfind.Image, error)
}

// Server is the wayfinding HTTP server.
type Server struct {
	config   Config
	log      zerolog.Logger
	mux      *http.ServeMux
	handler  http.Handler
	humaAPI  huma.API
	links    *humastar.Links
	metrics  *metrics.Metrics
	loader   Loader
	catalog  *service.CatalogService
	sessions *service.SessionService
	index    *index.Index
	services *api.Services
	renderer *templates.Renderer
}

// New creates the server. A catalog that cannot be indexed leaves search
// disabled; everything else still serves.
func New(cfg Config) (*Server, error) {
	log := cfg.Logger
	mux := http.NewServeMux()
	links := &humastar.Links{
		Entry:  "/",
		Search: "/api/v1/pois/search",
		Skip:   []string{viewer.Tag},
	}

	humaConfig := huma.DefaultConfig("plat-wayfind API", api.Version)
	humaConfig.Info.Description = "Indoor wayfinding for the EuroAirport terminal: floors, categories, points of interest and a server-driven map viewer."
	if cfg.PublicURL != "" {
		humaConfig.Servers = []*huma.Server{{URL: cfg.PublicURL, Description: "Local server"}}
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, links.Transformer())
	humaAPI := humago.New(mux, humaConfig)

	loader, err := newLoader(cfg)
	if err != nil {
		return nil, err
	}

	renderer, err := templates.Embedded()
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	if cfg.WebDir != "" {
		dir := filepath.Join(cfg.WebDir, "templates", "fragments")
		if err := renderer.Reload(dir); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("fragment override not loaded, using embedded templates")
		} else {
			log.Info().Str("dir", dir).Msg("loaded fragment templates")
		}
	}

	m := metrics.New()
	styleOpts := style.DefaultOptions()
	styleOpts.BaseURL = cfg.PublicURL
	catalogSvc := service.NewCatalogService(loader, log)

	s := &Server{
		config:   cfg,
		log:      log.With().Str("component", "server").Logger(),
		mux:      mux,
		humaAPI:  humaAPI,
		links:    links,
		metrics:  m,
		loader:   loader,
		catalog:  catalogSvc,
		renderer: renderer,
		sessions: service.NewSessionService(catalogSvc, log, service.SessionOptions{
			Idle:     cfg.SessionIdle,
			Style:    styleOpts,
			Images:   loader,
			Recorder: m,
			Sessions: m,
		}),
	}
	s.services = &api.Services{
		Catalog: catalogSvc,
		Tiles:   service.NewTileService(filepath.Join(cfg.DataDir, "protomaps")),
		Style:   styleOpts,
	}
	if !cfg.DisableSearch {
		s.openIndex()
	}

	s.routes()
	s.handler = chi.Chain(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		s.accessLog,
	).Handler(mux)
	return s, nil
}

func newLoader(cfg Config) (Loader, error) {
	if cfg.CatalogURL != "" {
		return catalog.NewHTTPLoader(cfg.CatalogURL, nil)
	}
	return catalog.NewDirLoader(cfg.DataDir), nil
}

// openIndex loads the catalog into an in-memory DuckDB index.
func (s *Server) openIndex() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cat, pois, err := s.catalog.Catalog(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("catalog not available, search disabled")
		return
	}
	ix, err := index.Open(index.Config{}, s.log)
	if err != nil {
		s.log.Warn().Err(err).Msg("duckdb not available, search disabled")
		return
	}
	if err := ix.Load(ctx, cat, pois); err != nil {
		ix.Close()
		s.log.Warn().Err(err).Msg("index load failed, search disabled")
		return
	}
	s.index = ix
	s.services.Index = ix
	s.log.Info().Int("pois", len(pois)).Msg("search index ready")
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// OpenAPI returns the generated spec.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Sessions returns the viewer session registry.
func (s *Server) Sessions() *service.SessionService { return s.sessions }

// Run expires idle viewer sessions until ctx is done.
func (s *Server) Run(ctx context.Context) {
	s.sessions.Run(ctx)
}

// Close closes server resources.
func (s *Server) Close() error {
	if s.index != nil {
		return s.index.Close()
	}
	return nil
}

func (s *Server) routes() {
	api.RegisterRoutes(s.humaAPI, s.services)

	var search viewer.Searcher
	if s.index != nil {
		search = s.index
	}
	viewer.NewHandler(s.sessions, search, s.renderer, s.log).RegisterRoutes(s.humaAPI)

	// Links need the complete route set.
	s.links.Build(s.humaAPI)

	s.mux.Handle("/metrics", s.metrics.Handler())
	s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServerFS(templates.Static())))
	s.mux.Handle("/protomaps/", http.StripPrefix("/protomaps/", s.handleTiles(filepath.Join(s.config.DataDir, "protomaps"))))
	s.mux.HandleFunc("/", s.handleRoot)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		s.metrics.ObserveHTTPRequest(r.Method, status, elapsed)
		s.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Int64("duration_ms", elapsed.Milliseconds()).
			Msg("http_request")
	})
}

// handleRoot answers "/" with the API entry links. Anything else is a
// catalog file (json/, icons/) from the data directory.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		if s.config.CatalogURL != "" || s.config.DataDir == "" {
			http.NotFound(w, r)
			return
		}
		http.FileServer(http.Dir(s.config.DataDir)).ServeHTTP(w, r)
		return
	}
	for _, l := range s.links.Root() {
		w.Header().Add("Link", l)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"service": "plat-wayfind",
		"status":  "running",
		"viewer":  "/viewer",
		"docs":    "/docs",
		"links":   s.links.Root(),
	})
}

// handleTiles serves PMTiles archives with the CORS and Range headers
// MapLibre's pmtiles protocol needs.
func (s *Server) handleTiles(tilesDir string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Range")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if _, err := os.Stat(tilesDir); err != nil {
			http.NotFound(w, r)
			return
		}
		http.FileServer(http.Dir(tilesDir)).ServeHTTP(w, r)
	})
}
