package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/pbxlink/pbxlink/internal/api/middleware"
	"github.com/pbxlink/pbxlink/internal/config"
	"github.com/pbxlink/pbxlink/internal/correlator"
	"github.com/pbxlink/pbxlink/internal/database"
	"github.com/pbxlink/pbxlink/internal/originate"
	"github.com/pbxlink/pbxlink/internal/settings"
)

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router     *chi.Mux
	cfg        *config.Config
	settings   *settings.Store
	correlator *correlator.Correlator
	originate  *originate.Service
	calls      database.CallRepository
	channels   database.ChannelRepository
	events     database.CallEventRepository
	recordings database.RecordingRepository
	users      database.PBXUserRepository
	partners   database.PartnerRepository
	sysConfig  database.SystemConfigRepository
	jwtSecret  []byte
	metrics    http.Handler
}

// Deps bundles everything the HTTP layer serves.
type Deps struct {
	Cfg        *config.Config
	Settings   *settings.Store
	Correlator *correlator.Correlator
	Originate  *originate.Service
	Calls      database.CallRepository
	Channels   database.ChannelRepository
	Events     database.CallEventRepository
	Recordings database.RecordingRepository
	Users      database.PBXUserRepository
	Partners   database.PartnerRepository
	SysConfig  database.SystemConfigRepository
	JWTSecret  []byte
	// Metrics is the scrape handler; nil disables the endpoint.
	Metrics http.Handler
}

// NewServer creates the HTTP handler with all routes mounted.
func NewServer(deps Deps) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		cfg:        deps.Cfg,
		settings:   deps.Settings,
		correlator: deps.Correlator,
		originate:  deps.Originate,
		calls:      deps.Calls,
		channels:   deps.Channels,
		events:     deps.Events,
		recordings: deps.Recordings,
		users:      deps.Users,
		partners:   deps.Partners,
		sysConfig:  deps.SysConfig,
		jwtSecret:  deps.JWTSecret,
		metrics:    deps.Metrics,
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	// Global middleware stack.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	// Agent endpoints: the switch agent posts events here. Guarded by the
	// address allowlist from settings and an agent JWT.
	agentLimiter := middleware.NewIPRateLimiter(middleware.AgentRateLimitConfig())
	r.Route("/agent", func(r chi.Router) {
		r.Use(middleware.PermitIPs(func() string {
			return s.settings.Snapshot().PermitIPAddresses
		}))
		r.Use(middleware.RateLimit(agentLimiter))
		r.Use(middleware.RequireAgentAuth(s.jwtSecret))

		r.Post("/events", s.handleAgentEvent)
		r.Get("/caller_name", s.handleCallerName)
	})

	// Administrative API.
	apiLimiter := middleware.NewIPRateLimiter(middleware.DefaultRateLimitConfig())
	setupLimiter := middleware.NewIPRateLimiter(middleware.AuthRateLimitConfig())
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(apiLimiter))

		// First-boot setup is the only unauthenticated write.
		r.With(middleware.RateLimit(setupLimiter)).Post("/setup", s.handleSetup)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAPISecret)

			r.Route("/calls", func(r chi.Router) {
				r.Get("/", s.handleListCalls)
				r.Get("/{id}", s.handleGetCall)
				r.Get("/{id}/recordings", s.handleListCallRecordings)
			})

			r.Get("/channels/active", s.handleActiveChannels)

			r.Get("/recordings/{id}/download", s.handleDownloadRecording)

			r.Route("/users", func(r chi.Router) {
				r.Get("/", s.handleListUsers)
				r.Post("/", s.handleCreateUser)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetUser)
					r.Put("/", s.handleUpdateUser)
					r.Delete("/", s.handleDeleteUser)
					r.Get("/channels", s.handleListUserChannels)
					r.Post("/channels", s.handleAddUserChannel)
				})
			})

			r.Post("/originate", s.handleOriginate)
			r.Post("/spy", s.handleSpy)

			r.Get("/settings", s.handleGetSettings)
			r.Put("/settings", s.handleUpdateSettings)

			r.Post("/agent-token", s.handleAgentToken)
		})
	})
}

// handleHealth returns basic health status. Unauthenticated.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
