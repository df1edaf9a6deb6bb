// Package cli implements the grblctl command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/professor93/grblctl/internal/config"
	"github.com/professor93/grblctl/internal/database"
	"github.com/professor93/grblctl/pkg/constants"
)

// BuildInfo is stamped into the binary at link time.
type BuildInfo struct {
	Version   string
	BuildTime string
	GitCommit string
}

// options are the persistent flags shared by every command.
type options struct {
	configPath string
	jsonOutput bool
	build      BuildInfo
}

// NewRootCmd builds the grblctl command tree.
func NewRootCmd(build BuildInfo) *cobra.Command {
	opts := &options{build: build}

	cmd := &cobra.Command{
		Use:   constants.AppName,
		Short: constants.AppDescription,
		Long: `grblctl seeds a grbl controller's machine settings from a defaults profile,
keeps them in a local database and drives the machine over serial.

Quick Examples:
  grblctl defaults custom              # Print the custom profile as $n=value lines
  grblctl settings set 110 4000        # Change a stored setting
  grblctl serve                        # Run the daemon in the foreground
  grblctl remote push                  # Write stored settings to the controller`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "",
		"Path to configuration file (defaults to $"+constants.EnvConfigFile+" or ./"+constants.ConfigFileName+")")
	cmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false,
		"Output in JSON format")

	cmd.AddCommand(newDefaultsCmd(opts))
	cmd.AddCommand(newProfilesCmd(opts))
	cmd.AddCommand(newSettingsCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newServiceCmd(opts))
	cmd.AddCommand(newRemoteCmd(opts))
	cmd.AddCommand(newTokenCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newVersionCmd(opts))

	return cmd
}

// Execute runs the command line with the process arguments.
func Execute(build BuildInfo) error {
	return NewRootCmd(build).Execute()
}

func (o *options) loadConfig() (*config.Manager, *config.Config, error) {
	mgr := config.NewManager(o.configPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	return mgr, cfg, nil
}

// openStore opens the settings database, seeding it on first use.
func (o *options) openStore() (*database.DB, *config.Config, error) {
	_, cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	profile, err := cfg.ActiveProfile()
	if err != nil {
		return nil, nil, err
	}

	db, err := database.New(&database.Config{DataDir: cfg.DatabaseDir()})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.EnsureSeeded(profile); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to seed settings: %w", err)
	}
	return db, cfg, nil
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
