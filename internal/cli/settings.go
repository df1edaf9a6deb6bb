package cli

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/professor93/grblctl/internal/database"
	"github.com/professor93/grblctl/internal/defaults"
	"github.com/professor93/grblctl/internal/grbl"
	"github.com/professor93/grblctl/internal/metrics"
)

// newDefaultsCmd prints a profile's settings as controller assignments.
func newDefaultsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "defaults [profile]",
		Short: "Print a defaults profile as $n=value lines",
		Long: `Print a defaults profile as the $n=value lines grbl accepts.

Without an argument the active profile is printed: the configured profile,
then $GRBLCTL_PROFILE, then the profile compiled into the binary.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var explicit string
			if len(args) == 1 {
				explicit = args[0]
			} else if _, cfg, err := opts.loadConfig(); err == nil {
				explicit = cfg.Profile
			}

			profile, err := defaults.Active(explicit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, profile.Settings())
			}
			for _, s := range profile.Settings() {
				fmt.Fprintf(out, "%s (%s)\n", s.Line(), s.Def.Description)
			}
			return nil
		},
	}
}

// newProfilesCmd lists the registered profiles.
func newProfilesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List the registered defaults profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var explicit string
			if _, cfg, err := opts.loadConfig(); err == nil {
				explicit = cfg.Profile
			}
			active := defaults.SelectedName(explicit)

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, map[string]interface{}{
					"profiles": defaults.Names(),
					"active":   active,
				})
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			for _, name := range defaults.Names() {
				p, err := defaults.Lookup(name)
				if err != nil {
					return err
				}
				marker := " "
				if name == active {
					marker = "*"
				}
				fmt.Fprintf(w, "%s %s\t%s\n", marker, name, p.Description)
			}
			return w.Flush()
		},
	}
}

// newSettingsCmd manages the stored settings directly in the local database.
func newSettingsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect and edit the stored machine settings",
		Long: `Inspect and edit the machine settings stored in the local database.

The database is seeded from the active profile the first time it is opened.
Changes are not sent to the controller; use 'grblctl remote push' for that.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all stored settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := opts.openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			stored, err := db.All()
			if err != nil {
				return err
			}
			return printSettings(cmd, opts, stored)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get <id>",
		Short: "Show one stored setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSettingID(args[0])
			if err != nil {
				return err
			}
			db, _, err := opts.openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			s, err := db.Get(id)
			if err != nil {
				return err
			}
			return printSettings(cmd, opts, []database.StoredSetting{s})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <id> <value>",
		Short: "Change one stored setting",
		Long: `Change one stored setting. Values are given in stored units; acceleration
is in mm/min^2.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSettingID(args[0])
			if err != nil {
				return err
			}
			value, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid value %q: %w", args[1], err)
			}
			db, _, err := opts.openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Set(id, value); err != nil {
				return err
			}
			metrics.IncSettingWrites("cli", 1)

			s, err := db.Get(id)
			if err != nil {
				return err
			}
			return printSettings(cmd, opts, []database.StoredSetting{s})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset [profile]",
		Short: "Restore every stored setting to a profile's defaults",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, cfg, err := opts.openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			explicit := cfg.Profile
			if len(args) == 1 {
				explicit = args[0]
			}
			profile, err := defaults.Active(explicit)
			if err != nil {
				return err
			}
			if err := db.Reset(profile); err != nil {
				return err
			}

			if !opts.jsonOutput {
				fmt.Fprintf(cmd.OutOrStdout(), "Settings restored to %s defaults\n", profile.Name)
				return nil
			}
			stored, err := db.All()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stored)
		},
	})

	return cmd
}

func parseSettingID(arg string) (grbl.SettingID, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("invalid setting id %q: must be a number such as 100", arg)
	}
	return grbl.SettingID(n), nil
}

func printSettings(cmd *cobra.Command, opts *options, stored []database.StoredSetting) error {
	out := cmd.OutOrStdout()
	if opts.jsonOutput {
		return printJSON(out, stored)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LINE\tKEY\tUNIT\tUPDATED")
	for _, s := range stored {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Line(), s.Key, s.Unit, s.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}
