// Package web assembles the HTTP surface of the coaching server: the
// WebSocket gateway, saved-session REST routes and ops endpoints.
package web

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teslashibe/go-cprcoach/pkg/gateway"
)

// DefaultShutdownTimeout bounds graceful shutdown.
const DefaultShutdownTimeout = 5 * time.Second

// Config configures a Server.
type Config struct {
	Version string
	Hub     *gateway.Hub

	// Sessions backs /api/sessions. Nil disables the routes.
	Sessions SessionStore

	// AccessLog enables per-request logging.
	AccessLog bool
	Logger    *slog.Logger
}

// Server is the coaching HTTP server.
type Server struct {
	app    *fiber.App
	cfg    Config
	logger *slog.Logger
}

// NewServer creates the server and registers all routes.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Hub == nil {
		cfg.Hub = gateway.NewHub(gateway.Config{Logger: cfg.Logger})
	}

	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "web"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "cprcoach",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))
	if cfg.AccessLog {
		app.Use(logger.New())
	}

	cfg.Hub.RegisterRoutes(app)

	api := app.Group("/api")
	cfg.Hub.RegisterAPIRoutes(api)
	if cfg.Sessions != nil {
		NewSessionHandler(cfg.Sessions).Register(api.Group("/sessions"))
	}

	app.Get("/health", s.handleHealth)
	app.Get("/metrics", s.handleMetrics)

	s.app = app
	return s
}

// App returns the underlying Fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("listening", "addr", addr, "websocket", "/ws")
	return s.app.Listen(addr)
}

// Shutdown disconnects clients and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cfg.Hub.CloseAll()
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":      "ok",
		"version":     s.cfg.Version,
		"connections": s.cfg.Hub.ConnectionCount(),
	})
}

func (s *Server) handleMetrics(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4")
	return s.cfg.Hub.GetStats().WritePrometheus(c)
}

// handleError renders every error as {"error": message}.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
