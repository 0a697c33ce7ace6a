package api

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/crewflow/internal/health"
	"github.com/p-blackswan/crewflow/internal/metrics"
	"github.com/p-blackswan/crewflow/internal/requestid"
	"github.com/p-blackswan/crewflow/internal/store"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	ListenAddr  string
	Auth        AuthConfig
	RateLimit   RateLimitConfig
	CORSOrigins string
}

// Server is the HTTP API Fiber application.
type Server struct {
	app     *fiber.App
	engine  *Engine
	metrics *metrics.Metrics
	audit   *store.Store
	logger  zerolog.Logger
	config  ServerConfig
}

// NewServer creates and configures the API server. metricsCollector and
// audit may be nil.
func NewServer(
	cfg ServerConfig,
	engine *Engine,
	checker *health.Checker,
	metricsCollector *metrics.Metrics,
	audit *store.Store,
	logger zerolog.Logger,
) *Server {
	log := logger.With().Str("component", "api_server").Logger()

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler(log),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ReadBufferSize:        8192,
		WriteBufferSize:       8192,
	})

	if checker == nil {
		checker = health.NewChecker(logger)
	}

	s := &Server{
		app:     app,
		engine:  engine,
		metrics: metricsCollector,
		audit:   audit,
		logger:  log,
		config:  cfg,
	}

	s.setupMiddleware(cfg)
	s.setupRoutes(NewHandlers(engine, logger), checker)

	return s
}

func (s *Server) setupMiddleware(cfg ServerConfig) {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(func(c *fiber.Ctx) error {
		ctx, id := requestid.Ensure(c.UserContext(), c.Get(requestid.Header))
		c.SetUserContext(ctx)
		c.Set(requestid.Header, id)
		return c.Next()
	})

	if cfg.CORSOrigins != "" {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CORSOrigins,
			AllowHeaders: "Origin, Content-Type, Accept, Authorization, " + requestid.Header,
			AllowMethods: "GET, POST, DELETE, OPTIONS",
		}))
	}

	// Request metrics and access log. Handlers write their own problem
	// responses, so the status is final once Next returns.
	s.app.Use(func(c *fiber.Ctx) error {
		err := c.Next()
		status := c.Response().StatusCode()
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}
		s.metrics.RecordRequest(c.Method(), c.Route().Path, strconv.Itoa(status))
		if !isProbe(c.Path()) {
			s.logger.Info().
				Str("method", c.Method()).
				Str("path", c.Path()).
				Int("status", status).
				Str("ip", c.IP()).
				Str("request_id", requestID(c)).
				Msg("api request")
		}
		return err
	})

	if cfg.RateLimit.RPS > 0 {
		s.app.Use(NewRateLimitMiddleware(cfg.RateLimit))
	}

	s.app.Use(NewAuthMiddleware(cfg.Auth, s.logger))

	if s.audit != nil {
		s.app.Use(s.auditMiddleware)
	}
}

// auditMiddleware records every mutating request with its caller.
func (s *Server) auditMiddleware(c *fiber.Ctx) error {
	err := c.Next()
	if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodDelete {
		return err
	}
	ctx := context.WithoutCancel(c.UserContext())
	status := strconv.Itoa(c.Response().StatusCode())
	if aerr := s.audit.LogAudit(ctx, actorOf(c), c.Method(), c.Path(), status, requestID(c)); aerr != nil {
		s.logger.Warn().Err(aerr).Str("path", c.Path()).Msg("failed to write audit entry")
	}
	return err
}

func (s *Server) setupRoutes(h *Handlers, checker *health.Checker) {
	s.app.Get("/healthz", adaptor.HTTPHandlerFunc(health.LivenessHandler()))
	s.app.Get("/readyz", adaptor.HTTPHandlerFunc(checker.ReadinessHandler()))

	if s.metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))
	} else {
		s.app.Get("/metrics", func(c *fiber.Ctx) error {
			return c.SendString("# No metrics collector configured\n")
		})
	}

	v1 := s.app.Group("/api/v1")
	v1.Post("/projects", h.SubmitProject)
	v1.Get("/projects", h.ListProjects)
	v1.Get("/projects/:id", h.GetProject)
	v1.Delete("/projects/:id", h.CancelProject)
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":8090"
	}
	s.logger.Info().Str("addr", addr).Msg("api server starting")
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("api server shutting down")
	return s.app.ShutdownWithContext(ctx)
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

func requestID(c *fiber.Ctx) string {
	return requestid.FromContext(c.UserContext())
}
