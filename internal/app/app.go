// Package app assembles the daemon: settings store, controller link, status
// poller, scan runner and HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/professor93/grblctl/internal/config"
	"github.com/professor93/grblctl/internal/database"
	"github.com/professor93/grblctl/internal/defaults"
	"github.com/professor93/grblctl/internal/grbl"
	"github.com/professor93/grblctl/internal/metrics"
	"github.com/professor93/grblctl/internal/scan"
	"github.com/professor93/grblctl/internal/server"
	"github.com/professor93/grblctl/internal/transport"
)

// ErrNoDevice is returned when neither a serial device nor the simulator is
// configured.
var ErrNoDevice = errors.New("serial.device is required unless serial.simulate is set")

// Options holds application dependencies
type Options struct {
	Config  *config.Config
	Logger  *zap.Logger
	Version string

	// Open opens the controller port; nil uses the serial port.
	Open transport.Opener
	// ReadyTimeout bounds the wait for the controller's welcome banner.
	ReadyTimeout time.Duration
	// Sleep replaces the scan runner's move wait; nil waits in real time.
	Sleep func(ctx context.Context, d time.Duration) error
}

// App holds the main application state
type App struct {
	cfg     *config.Config
	logger  *zap.Logger
	profile defaults.Profile

	db         *database.DB
	worker     *transport.Worker
	simulator  *transport.Simulator
	poller     *transport.Poller
	runner     *scan.Runner
	httpServer *server.Server
}

// New opens the settings store, seeding it from the active profile on first
// boot, and connects to the controller.
func New(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Open == nil {
		opts.Open = transport.OpenSerial
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 5 * time.Second
	}

	profile, err := cfg.ActiveProfile()
	if err != nil {
		return nil, fmt.Errorf("failed to select defaults profile: %w", err)
	}

	a := &App{cfg: cfg, logger: logger, profile: profile}

	db, err := database.New(&database.Config{DataDir: cfg.DatabaseDir(), Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.db = db

	seeded, err := db.EnsureSeeded(profile)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to seed settings: %w", err)
	}
	if seeded {
		metrics.IncSettingWrites("seed", len(grbl.Definitions()))
		logger.Info("Settings seeded", zap.String("profile", profile.Name))
	}

	if err := a.connect(ctx, opts); err != nil {
		db.Close()
		return nil, err
	}

	serverCfg := server.DefaultConfig()
	serverCfg.Port = cfg.API.Port
	serverCfg.Secret = cfg.API.Secret
	serverCfg.Profile = cfg.Profile
	serverCfg.ScanDefault = PlanFromConfig(cfg.Scan)
	if opts.Version != "" {
		serverCfg.Version = opts.Version
	}

	deps := server.Deps{Store: db, Logger: logger}
	if a.worker != nil {
		deps.Controller = a.worker
		deps.Scanner = a.runner
	}
	a.httpServer = server.New(serverCfg, deps)

	return a, nil
}

// connect opens the controller link and brings up the poller and runner.
func (a *App) connect(ctx context.Context, opts Options) error {
	cfg := a.cfg.Serial

	var port io.ReadWriteCloser
	switch {
	case cfg.Simulate:
		values, err := a.storedValues()
		if err != nil {
			return err
		}
		a.simulator = transport.NewSimulator(values)
		port = a.simulator
		a.logger.Info("Using simulated controller")
	case cfg.Device == "":
		return ErrNoDevice
	default:
		p, err := opts.Open(cfg.Device, cfg.Baud)
		if err != nil {
			return err
		}
		port = p
		a.logger.Info("Serial port opened", zap.String("device", cfg.Device), zap.Int("baud", cfg.Baud))
	}

	worker := transport.NewWorker(port, &transport.Config{Logger: a.logger})

	readyCtx, cancel := context.WithTimeout(ctx, opts.ReadyTimeout)
	defer cancel()
	if err := worker.WaitReady(readyCtx); err != nil {
		worker.Close()
		return fmt.Errorf("failed to reach controller: %w", err)
	}
	a.logger.Info("Controller ready", zap.String("firmware", worker.Version()))

	if err := worker.Unlock(ctx); err != nil {
		worker.Close()
		return fmt.Errorf("failed to unlock controller: %w", err)
	}

	if cfg.PushOnConnect {
		if err := a.push(ctx, worker); err != nil {
			worker.Close()
			return err
		}
	}

	if cfg.StatusPoll != "" {
		poller, err := transport.NewPoller(worker, cfg.StatusPoll, a.logger)
		if err != nil {
			worker.Close()
			return err
		}
		a.poller = poller
	}

	accel, err := a.acceleration()
	if err != nil {
		worker.Close()
		return err
	}
	a.runner = scan.NewRunner(worker, &scan.RunnerConfig{
		Logger:       a.logger,
		Acceleration: accel,
		Sleep:        opts.Sleep,
	})
	a.worker = worker
	return nil
}

func (a *App) storedValues() (map[grbl.SettingID]float64, error) {
	stored, err := a.db.All()
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	values := make(map[grbl.SettingID]float64, len(stored))
	for _, s := range stored {
		values[s.ID] = s.Value
	}
	return values, nil
}

// acceleration returns the stored X acceleration in mm/sec^2.
func (a *App) acceleration() (float64, error) {
	s, err := a.db.Get(grbl.SettingXAcceleration)
	if errors.Is(err, database.ErrSettingNotFound) {
		return a.profile.AccelerationPerSecond(), nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read acceleration: %w", err)
	}
	return s.Value / (60 * 60), nil
}

func (a *App) push(ctx context.Context, worker *transport.Worker) error {
	stored, err := a.db.All()
	if err != nil {
		return fmt.Errorf("failed to read settings: %w", err)
	}
	lines := make([]string, len(stored))
	for i, s := range stored {
		lines[i] = s.WireLine()
	}

	n, err := worker.PushSettings(ctx, lines)
	if err != nil {
		return fmt.Errorf("failed to push settings (%d of %d written): %w", n, len(lines), err)
	}
	a.logger.Info("Settings pushed to controller", zap.Int("count", n))
	return nil
}

// PlanFromConfig converts the configured scan defaults into a plan.
func PlanFromConfig(c config.ScanConfig) scan.Plan {
	return scan.Plan{
		XRange:  c.XRange,
		YRange:  c.YRange,
		Ratio:   scan.Ratio{X: c.RatioX, Y: c.RatioY},
		Quality: c.Quality,
		Order:   c.Order,
	}
}

// Run serves the API until ctx is cancelled or the server fails. A lost
// controller link is logged but does not stop the API.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.poller != nil {
		a.poller.Start()
	}

	if a.worker != nil {
		g.Go(func() error {
			select {
			case <-a.worker.Done():
				a.logger.Warn("Controller link lost")
			case <-ctx.Done():
			}
			return nil
		})
	}

	if a.cfg.Scan.AutoStart && a.runner != nil {
		job, err := a.runner.Start(ctx, PlanFromConfig(a.cfg.Scan))
		if err != nil {
			a.logger.Error("Failed to start scan", zap.Error(err))
		} else {
			a.logger.Info("Scan started", zap.String("job", job.ID), zap.Int("points", job.Total))
		}
	}

	g.Go(func() error {
		if err := a.httpServer.StartWithContext(ctx); err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// Stop releases the controller link and the database.
func (a *App) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.runner != nil {
		if err := a.runner.Close(ctx); err != nil {
			a.logger.Warn("Scan stop failed", zap.Error(err))
		}
	}
	if a.poller != nil {
		a.poller.Stop(ctx)
	}
	if a.worker != nil {
		if err := a.worker.Close(); err != nil {
			a.logger.Warn("Controller close failed", zap.Error(err))
		}
	}

	if err := a.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	a.logger.Info("Application stopped")
	return nil
}

// Server returns the HTTP server
func (a *App) Server() *server.Server {
	return a.httpServer
}

// Simulator returns the simulated controller, or nil when a real port is used.
func (a *App) Simulator() *transport.Simulator {
	return a.simulator
}

// Profile returns the active defaults profile
func (a *App) Profile() defaults.Profile {
	return a.profile
}
