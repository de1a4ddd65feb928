package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ccall48/lorawan-analyzer/internal/auth"
	"github.com/ccall48/lorawan-analyzer/internal/broadcast"
	"github.com/ccall48/lorawan-analyzer/internal/config"
	"github.com/ccall48/lorawan-analyzer/internal/models"
	"github.com/ccall48/lorawan-analyzer/internal/operators"
	"github.com/ccall48/lorawan-analyzer/internal/storage"
	"github.com/ccall48/lorawan-analyzer/internal/validation"
)

// Server is the HTTP surface of the analyzer: read endpoints over the
// query layer, rule management, and the live WebSocket feed.
type Server struct {
	cfg       *config.Config
	store     storage.Store
	matcher   *operators.Matcher
	bcast     *broadcast.Broadcaster
	auth      *auth.Manager
	validator *validation.Validator
	router    chi.Router
	server    *http.Server
	upgrader  websocket.Upgrader
	log       zerolog.Logger

	// merged config + persisted hide rules, swapped on reload
	hideMu    sync.RWMutex
	hideRules []models.HideRule
}

// New creates the API server. Call ReloadHideRules once the store is
// reachable so persisted rules join the config-sourced ones.
func New(cfg *config.Config, store storage.Store, matcher *operators.Matcher, bcast *broadcast.Broadcaster, log zerolog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		store:     store,
		matcher:   matcher,
		bcast:     bcast,
		auth:      auth.NewManager(cfg.API.JWTSecret, cfg.API.AdminPassword),
		validator: validation.NewValidator(),
		router:    chi.NewRouter(),
		log:       log.With().Str("component", "api").Logger(),
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.hideRules = configHideRules(cfg.HideRules)

	s.setupRoutes()

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// setupRoutes configures middleware and mounts all routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.corsOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.router.Get("/healthz", s.HandleHealth)
	s.router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// the live socket outlives any request timeout, so it is mounted
	// outside the /api timeout group
	s.router.Get("/ws/live", s.HandleLiveWS)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		s.setupAPIRoutes(r)
	})
}

func (s *Server) corsOrigins() []string {
	if len(s.cfg.API.CORSOrigins) == 0 {
		return []string{"*"}
	}
	return s.cfg.API.CORSOrigins
}

// ListenAndServe starts the server on the configured bind address
func (s *Server) ListenAndServe() error {
	s.server.Addr = s.cfg.API.Bind
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// authMiddleware guards mutating endpoints with a bearer token. With no
// jwt secret configured the analyzer runs open (trusted LAN default).
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.respondError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			s.respondError(w, http.StatusUnauthorized, "invalid authorization header")
			return
		}

		if _, err := s.auth.ValidateToken(parts[1]); err != nil {
			s.respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ========== Rule reloads ==========

// ReloadOperators rebuilds the matcher rule set from the built-in table,
// config rules and the persisted custom operators, then swaps it in
// atomically.
func (s *Server) ReloadOperators(ctx context.Context) error {
	rows, err := s.store.ListCustomOperators(ctx)
	if err != nil {
		return err
	}

	custom := make([]models.CustomOperator, 0, len(rows))
	for _, r := range rows {
		custom = append(custom, *r)
	}

	rules, colors, err := operators.BuildRules(s.cfg.Operators, custom)
	if err != nil {
		return err
	}

	s.matcher.Reload(rules, colors)
	s.log.Info().Int("rules", len(rules)).Msg("operator rules reloaded")
	return nil
}

// ReloadHideRules merges config rules with the persisted ones. Called at
// startup and after every hide-rule mutation.
func (s *Server) ReloadHideRules(ctx context.Context) error {
	persisted, err := s.store.ListHideRules(ctx)
	if err != nil {
		return err
	}

	merged := configHideRules(s.cfg.HideRules)
	for _, r := range persisted {
		merged = append(merged, *r)
	}

	s.hideMu.Lock()
	s.hideRules = merged
	s.hideMu.Unlock()
	return nil
}

// currentHideRules returns the active hide rule set. The slice is shared
// and must not be mutated.
func (s *Server) currentHideRules() []models.HideRule {
	s.hideMu.RLock()
	defer s.hideMu.RUnlock()
	return s.hideRules
}

// configHideRules converts config-sourced rules; they carry no id and are
// not deletable through the API.
func configHideRules(rules []config.HideRuleConfig) []models.HideRule {
	out := make([]models.HideRule, 0, len(rules))
	for _, h := range rules {
		out = append(out, models.HideRule{
			Type:        h.Type,
			Prefix:      strings.ToUpper(h.Prefix),
			Description: h.Description,
		})
	}
	return out
}
