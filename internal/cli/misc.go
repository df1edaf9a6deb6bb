package cli

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/professor93/grblctl/internal/config"
	"github.com/professor93/grblctl/internal/defaults"
	"github.com/professor93/grblctl/internal/server"
	"github.com/professor93/grblctl/pkg/constants"
)

// newTokenCmd issues a bearer token signed with api.secret.
func newTokenCmd(opts *options) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token",
		Long: `Issue a bearer token for the daemon's mutating routes, signed with api.secret.

Examples:
  export GRBLCTL_TOKEN=$(grblctl token --ttl 24h)
  grblctl remote push`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			token, err := server.IssueToken(cfg.API.Secret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "cli", "Token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}

// newConfigCmd writes and shows the configuration file.
func newConfigCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	var (
		force    bool
		profile  string
		device   string
		simulate bool
	)
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with the default values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := config.NewManager(opts.configPath)
			if _, err := os.Stat(mgr.Path()); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", mgr.Path())
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("failed to check config file: %w", err)
			}

			cfg := config.Default()
			cfg.Profile = profile
			cfg.Serial.Device = device
			cfg.Serial.Simulate = simulate
			if err := mgr.Save(cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", mgr.Path())
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	initCmd.Flags().StringVar(&profile, "profile", "", "Defaults profile ("+fmt.Sprint(defaults.Names())+")")
	initCmd.Flags().StringVar(&device, "device", "", "Serial device, e.g. /dev/ttyUSB0")
	initCmd.Flags().BoolVar(&simulate, "simulate", false, "Use the built-in simulated controller")
	cmd.AddCommand(initCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long:  "Print the effective configuration after defaults, file and environment are merged. The API secret is never printed.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if !opts.jsonOutput {
				fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", mgr.Path())
			}
			return printJSON(cmd.OutOrStdout(), cfg)
		},
	})

	return cmd
}

// newVersionCmd prints build information.
func newVersionCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b := opts.build
			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, map[string]string{
					"version":       b.Version,
					"build_time":    b.BuildTime,
					"git_commit":    b.GitCommit,
					"go_version":    runtime.Version(),
					"build_profile": defaults.BuildProfile,
				})
			}
			fmt.Fprintf(out, "%s v%s\n", constants.AppName, b.Version)
			fmt.Fprintf(out, "Build Time: %s\n", b.BuildTime)
			fmt.Fprintf(out, "Git Commit: %s\n", b.GitCommit)
			fmt.Fprintf(out, "Profile: %s\n", defaults.BuildProfile)
			return nil
		},
	}
}
