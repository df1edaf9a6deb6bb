package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/professor93/grblctl/internal/app"
	"github.com/professor93/grblctl/internal/config"
	"github.com/professor93/grblctl/internal/logging"
	"github.com/professor93/grblctl/internal/service"
)

// newServeCmd runs the daemon in the foreground.
func newServeCmd(opts *options) *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon in the foreground",
		Long: `Run the daemon in the foreground until interrupted.

The daemon seeds the settings database on first boot, connects to the
controller (or the built-in simulator when serial.simulate is set) and serves
the HTTP API on api.port.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return opts.runDaemon(ctx, cfg, debug)
		},
	}

	cmd.Flags().BoolVar(&debug, "debug", false, "Development logging at debug level")
	return cmd
}

// runDaemon builds the application and blocks until ctx is cancelled.
func (o *options) runDaemon(ctx context.Context, cfg *config.Config, debug bool) error {
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, Debug: debug})
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("Starting",
		zap.String("version", o.build.Version),
		zap.String("profile", cfg.Profile),
		zap.Int("port", cfg.API.Port),
	)

	a, err := app.New(ctx, app.Options{Config: cfg, Logger: logger, Version: o.build.Version})
	if err != nil {
		return err
	}

	runErr := a.Run(ctx)
	if err := a.Stop(); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
	}
	return runErr
}

// newServiceCmd manages the daemon as a system service.
func newServiceCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the daemon as a system service",
	}

	simple := []struct {
		use   string
		short string
		run   func(*service.Manager) error
		done  string
	}{
		{"install", "Install and start the service", (*service.Manager).InstallAndStart, "Service installed and started successfully"},
		{"uninstall", "Stop and remove the service", (*service.Manager).StopAndUninstall, "Service uninstalled successfully"},
		{"start", "Start the installed service", func(m *service.Manager) error { return m.GetProgram().StartService() }, "Service started successfully"},
		{"stop", "Stop the running service", func(m *service.Manager) error { return m.GetProgram().StopService() }, "Service stopped successfully"},
		{"restart", "Restart the service", func(m *service.Manager) error { return m.GetProgram().Restart() }, "Service restarted successfully"},
	}
	for _, s := range simple {
		cmd.AddCommand(&cobra.Command{
			Use:   s.use,
			Short: s.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				mgr, err := opts.serviceManager(nil)
				if err != nil {
					return err
				}
				if err := s.run(mgr); err != nil {
					return fmt.Errorf("failed to %s service: %w", s.use, err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), s.done)
				return nil
			},
		})
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show service status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := opts.serviceManager(nil)
			if err != nil {
				return err
			}
			status, running, err := mgr.GetStatus()
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}
			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{"status": status, "running": running})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Service Status: %s\nRunning: %v\n", status, running)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:    "run",
		Short:  "Entry point used by the service manager",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			mgr, err := opts.serviceManager(func(ctx context.Context) error {
				return opts.runDaemon(ctx, cfg, false)
			})
			if err != nil {
				return err
			}
			return mgr.GetProgram().Run()
		},
	})

	return cmd
}

// serviceManager registers the service so the manager launches
// `grblctl service run` with the same configuration file.
func (o *options) serviceManager(onStart func(ctx context.Context) error) (*service.Manager, error) {
	path, err := filepath.Abs(config.NewManager(o.configPath).Path())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	return service.NewManager(&service.Config{
		Arguments: []string{"service", "run", "--config", path},
		OnStart:   onStart,
	})
}
