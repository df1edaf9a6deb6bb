package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	recoverer "github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/professor93/grblctl/internal/api"
	"github.com/professor93/grblctl/internal/database"
	"github.com/professor93/grblctl/internal/defaults"
	"github.com/professor93/grblctl/internal/grbl"
	"github.com/professor93/grblctl/internal/scan"
	"github.com/professor93/grblctl/pkg/constants"
)

// Store is the persisted settings table.
type Store interface {
	Ping() error
	All() ([]database.StoredSetting, error)
	Get(id grbl.SettingID) (database.StoredSetting, error)
	Set(id grbl.SettingID, value float64) error
	Reset(profile defaults.Profile) error
	SeededProfile() (string, error)
}

// Controller is the live link to the machine.
type Controller interface {
	Exec(ctx context.Context, line string) ([]string, error)
	PushSettings(ctx context.Context, lines []string) (int, error)
	Status() (grbl.Status, bool)
	Version() string
	Alarm() string
	// Connected reports whether the link is still up.
	Connected() bool
}

// Scanner runs raster scan jobs.
type Scanner interface {
	Start(ctx context.Context, plan scan.Plan) (scan.Job, error)
	Stop(ctx context.Context) (scan.Job, error)
	Status() scan.Job
}

// Deps are the components the handlers operate on. Controller and Scanner
// may be nil when no controller is connected.
type Deps struct {
	Store      Store
	Controller Controller
	Scanner    Scanner
	Logger     *zap.Logger
}

// Server represents the HTTP server
type Server struct {
	app    *fiber.App
	port   int
	config *Config
	deps   Deps
	logger *zap.Logger
	ctx    context.Context
}

// Config holds server configuration
type Config struct {
	Port               int
	MaxConcurrentConns int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	CommandTimeout     time.Duration

	Secret      string    // HS256 key for mutating routes; empty disables auth
	Profile     string    // explicit profile selection, empty for env/build default
	ScanDefault scan.Plan // fields a scan request leaves out
	Version     string
}

// DefaultConfig returns the default server configuration
func DefaultConfig() *Config {
	return &Config{
		Port:               constants.DefaultPort,
		MaxConcurrentConns: constants.DefaultMaxConcurrentConnections,
		ReadTimeout:        constants.DefaultRequestTimeout * time.Second,
		WriteTimeout:       constants.DefaultRequestTimeout * time.Second,
		IdleTimeout:        120 * time.Second,
		CommandTimeout:     constants.CommandTimeout * time.Second,
		ScanDefault:        scan.DefaultPlan(),
		Version:            "dev",
	}
}

// New creates a new HTTP server
func New(cfg *Config, deps Deps) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = constants.CommandTimeout * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		AppName:      constants.AppName,
		ServerHeader: constants.AppName,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		Concurrency:  cfg.MaxConcurrentConns,
		ErrorHandler: customErrorHandler,
	})

	server := &Server{
		app:    app,
		port:   cfg.Port,
		config: cfg,
		deps:   deps,
		logger: logger.With(zap.String("component", "http")),
		ctx:    context.Background(),
	}

	app.Use(recoverer.New())
	app.Use(requestLogger(server.logger))

	server.setupRoutes()

	return server
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.app.Get("/health", s.handleHealth)
	s.app.Get("/status", s.handleStatus)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Profiles
	s.app.Get("/profiles", s.handleProfiles)
	s.app.Get("/profiles/:name", s.handleProfile)

	// Persisted settings
	s.app.Get("/settings", s.handleSettings)
	s.app.Get("/settings/:id", s.handleSetting)
	s.app.Put("/settings/:id", s.requireAuth, s.handleSetSetting)
	s.app.Post("/settings/reset", s.requireAuth, s.handleReset)
	s.app.Post("/settings/push", s.requireAuth, s.handlePush)

	// Machine control
	s.app.Post("/gcode", s.requireAuth, s.handleGcode)
	s.app.Post("/scan/start", s.requireAuth, s.handleScanStart)
	s.app.Post("/scan/stop", s.requireAuth, s.handleScanStop)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("HTTP server listening", zap.String("addr", addr))
	return s.app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
}

// StartWithContext starts the server and shuts it down when ctx is done.
// Controller commands issued by handlers are bounded by ctx as well.
func (s *Server) StartWithContext(ctx context.Context) error {
	s.ctx = ctx

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.Start()
	}()

	select {
	case <-ctx.Done():
		return s.ShutdownWithTimeout(10 * time.Second)
	case err := <-errChan:
		return err
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// ShutdownWithTimeout shuts down the server with timeout
func (s *Server) ShutdownWithTimeout(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return s.app.ShutdownWithContext(ctx)
}

// GetApp returns the underlying Fiber app
func (s *Server) GetApp() *fiber.App {
	return s.app
}

// customErrorHandler handles errors and returns standardized API responses
func customErrorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	var appCode int
	switch code {
	case fiber.StatusBadRequest:
		appCode = api.CodeErrorBadRequest
	case fiber.StatusUnauthorized:
		appCode = api.CodeErrorUnauthorized
	case fiber.StatusForbidden:
		appCode = api.CodeErrorForbidden
	case fiber.StatusNotFound:
		appCode = api.CodeErrorNotFound
	case fiber.StatusConflict:
		appCode = api.CodeErrorConflict
	case fiber.StatusBadGateway:
		appCode = api.CodeErrorController
	case fiber.StatusServiceUnavailable:
		appCode = api.CodeErrorOffline
	default:
		appCode = api.CodeErrorInternal
	}

	return c.Status(code).JSON(api.NewErrorResponse(appCode, message))
}
