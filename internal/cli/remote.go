package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/professor93/grblctl/internal/client"
	"github.com/professor93/grblctl/internal/scan"
	"github.com/professor93/grblctl/pkg/constants"
)

type remoteOptions struct {
	*options
	url     string
	token   string
	timeout time.Duration
}

// client builds an API client. The URL defaults to the configured local
// port and the token to $GRBLCTL_TOKEN.
func (r *remoteOptions) client() *client.Client {
	url := r.url
	if url == "" {
		port := constants.DefaultPort
		if _, cfg, err := r.loadConfig(); err == nil {
			port = cfg.API.Port
		}
		url = fmt.Sprintf("http://127.0.0.1:%d", port)
	}
	token := r.token
	if token == "" {
		token = os.Getenv(constants.EnvToken)
	}
	return client.New(client.Config{BaseURL: url, Token: token, Timeout: r.timeout, Retries: 1})
}

// newRemoteCmd talks to a running daemon over its HTTP API.
func newRemoteCmd(opts *options) *cobra.Command {
	r := &remoteOptions{options: opts}

	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Control a running daemon over its HTTP API",
		Long: `Control a running daemon over its HTTP API.

Mutating commands need a bearer token when the daemon has api.secret set;
create one with 'grblctl token' and pass it with --token or $` + constants.EnvToken + `.`,
	}
	cmd.PersistentFlags().StringVar(&r.url, "url", "", "Daemon base URL (default http://127.0.0.1:<api.port>)")
	cmd.PersistentFlags().StringVar(&r.token, "token", "", "Bearer token for mutating commands")
	cmd.PersistentFlags().DurationVar(&r.timeout, "timeout", 30*time.Second, "Request timeout")

	cmd.AddCommand(newRemoteStatusCmd(r))
	cmd.AddCommand(newRemoteSettingsCmd(r))
	cmd.AddCommand(newRemoteSetCmd(r))
	cmd.AddCommand(newRemoteResetCmd(r))
	cmd.AddCommand(newRemotePushCmd(r))
	cmd.AddCommand(newRemoteGcodeCmd(r))
	cmd.AddCommand(newRemoteScanCmd(r))
	cmd.AddCommand(newRemoteStopCmd(r))

	return cmd
}

func newRemoteStatusCmd(r *remoteOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show controller and scan status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := r.client().Status()
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}

			out := cmd.OutOrStdout()
			if r.jsonOutput {
				return printJSON(out, st)
			}

			if !st.Connected {
				fmt.Fprintln(out, "Controller: offline")
			} else {
				fmt.Fprintf(out, "Controller: Grbl %s\n", st.Firmware)
				if st.Alarm != "" {
					fmt.Fprintf(out, "Alarm: %s\n", st.Alarm)
				}
				if st.Report != nil {
					fmt.Fprintf(out, "State: %s\n", st.Report.State)
					if p := st.Report.MachinePos; p != nil {
						fmt.Fprintf(out, "MPos: %.3f,%.3f,%.3f\n", p.X, p.Y, p.Z)
					}
				}
			}
			printJob(cmd, st.Scan)
			return nil
		},
	}
}

func printJob(cmd *cobra.Command, job scan.Job) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Scan: %s", job.State)
	if job.ID != "" {
		fmt.Fprintf(out, " (%s, %d/%d points)", job.ID, job.Visited, job.Total)
	}
	fmt.Fprintln(out)
	if job.Error != "" {
		fmt.Fprintf(out, "Error: %s\n", job.Error)
	}
}

func newRemoteSettingsCmd(r *remoteOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "settings",
		Short: "List the daemon's stored settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := r.client().Settings()
			if err != nil {
				return fmt.Errorf("failed to list settings: %w", err)
			}
			if r.jsonOutput {
				return printJSON(cmd.OutOrStdout(), settings)
			}
			for _, s := range settings {
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", s.Line, s.Key)
			}
			return nil
		},
	}
}

func newRemoteSetCmd(r *remoteOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <id> <value>",
		Short: "Change one stored setting on the daemon",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSettingID(args[0])
			if err != nil {
				return err
			}
			value, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid value %q: %w", args[1], err)
			}

			s, err := r.client().SetSetting(id, value)
			if err != nil {
				return fmt.Errorf("failed to set $%d: %w", id, err)
			}
			if r.jsonOutput {
				return printJSON(cmd.OutOrStdout(), s)
			}
			fmt.Fprintln(cmd.OutOrStdout(), s.Line)
			return nil
		},
	}
}

func newRemoteResetCmd(r *remoteOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset [profile]",
		Short: "Restore the daemon's stored settings to a profile",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var profile string
			if len(args) == 1 {
				profile = args[0]
			}
			settings, err := r.client().Reset(profile)
			if err != nil {
				return fmt.Errorf("failed to reset settings: %w", err)
			}
			if r.jsonOutput {
				return printJSON(cmd.OutOrStdout(), settings)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d settings restored\n", len(settings))
			return nil
		},
	}
}

func newRemotePushCmd(r *remoteOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "push",
		Short: "Write the stored settings to the controller",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := r.client().Push()
			if err != nil {
				return fmt.Errorf("failed to push settings: %w", err)
			}
			if r.jsonOutput {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pushed %d of %d settings\n", res.Pushed, res.Total)
			return nil
		},
	}
}

func newRemoteGcodeCmd(r *remoteOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "gcode <line>...",
		Short: "Execute one line on the controller",
		Long: `Execute one line on the controller and print what it answered before ok.

Examples:
  grblctl remote gcode '$$'
  grblctl remote gcode G1 X10 F3600`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := r.client().Gcode(strings.Join(args, " "))
			if err != nil {
				return fmt.Errorf("command failed: %w", err)
			}
			if r.jsonOutput {
				return printJSON(cmd.OutOrStdout(), res)
			}
			for _, line := range res.Output {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func newRemoteScanCmd(r *remoteOptions) *cobra.Command {
	var (
		xRange, yRange float64
		ratioX, ratioY int
		quality        int
		order          string
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Start a raster scan",
		Long: `Start a raster scan. Flags left unset take the daemon's configured defaults.

Examples:
  grblctl remote scan
  grblctl remote scan --x-range 90 --ratio-x 1 --ratio-y 1 --quality 2 --order xy`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			plan := map[string]interface{}{}
			flags := cmd.Flags()
			if flags.Changed("x-range") {
				plan["x_range"] = xRange
			}
			if flags.Changed("y-range") {
				plan["y_range"] = yRange
				if !flags.Changed("x-range") {
					plan["x_range"] = 0 // derive x from y
				}
			}
			if flags.Changed("ratio-x") || flags.Changed("ratio-y") {
				plan["ratio"] = map[string]int{"x": ratioX, "y": ratioY}
			}
			if flags.Changed("quality") {
				plan["quality"] = quality
			}
			if flags.Changed("order") {
				plan["order"] = order
			}

			job, err := r.client().StartScan(plan)
			if err != nil {
				return fmt.Errorf("failed to start scan: %w", err)
			}
			if r.jsonOutput {
				return printJSON(cmd.OutOrStdout(), job)
			}
			printJob(cmd, *job)
			return nil
		},
	}

	cmd.Flags().Float64Var(&xRange, "x-range", 0, "X extent in mm")
	cmd.Flags().Float64Var(&yRange, "y-range", 0, "Y extent in mm")
	cmd.Flags().IntVar(&ratioX, "ratio-x", constants.DefaultScanRatioX, "Aspect ratio, X part")
	cmd.Flags().IntVar(&ratioY, "ratio-y", constants.DefaultScanRatioY, "Aspect ratio, Y part")
	cmd.Flags().IntVar(&quality, "quality", constants.DefaultScanQuality, "Divisions per ratio unit")
	cmd.Flags().StringVar(&order, "order", constants.DefaultScanOrder, "Axis order, xy or yx (primary axis first)")
	return cmd
}

func newRemoteStopCmd(r *remoteOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running scan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := r.client().StopScan()
			if err != nil {
				return fmt.Errorf("failed to stop scan: %w", err)
			}
			if r.jsonOutput {
				return printJSON(cmd.OutOrStdout(), job)
			}
			printJob(cmd, *job)
			return nil
		},
	}
}
