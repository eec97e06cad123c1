package capture

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/camhal/internal/capture"
	"github.com/tphakala/camhal/internal/conf"
)

// flags override the capture plan of the configuration file.
type flags struct {
	previews  int
	stills    int
	timeout   time.Duration
	outputDir string
	journal   string
	telemetry string
}

// Command creates the capture command.
func Command(settings *conf.Settings) *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Run a simulated capture session",
		Long: "Open metadata, preview and snapshot channels on the simulated camera, " +
			"issue the configured preview and still requests and wait for every delivery.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyFlags(cmd, f, settings)
			summary, err := capture.Run(cmd.Context(), settings, capture.Options{OutputDir: f.outputDir})
			if summary != nil {
				fmt.Fprintln(cmd.OutOrStdout(), summary.String())
				for _, path := range summary.Files {
					fmt.Fprintln(cmd.OutOrStdout(), "wrote", path)
				}
			}
			return err
		},
	}

	cmd.Flags().IntVarP(&f.previews, "previews", "p", 0, "Preview frames to request")
	cmd.Flags().IntVarP(&f.stills, "stills", "s", 0, "Still captures to request")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "Bound on waiting for deliveries")
	cmd.Flags().StringVarP(&f.outputDir, "output", "o", "", "Directory to write still captures to")
	cmd.Flags().StringVar(&f.journal, "journal", "", "Record deliveries in this sqlite journal")
	cmd.Flags().StringVar(&f.telemetry, "listen", "", "Serve Prometheus metrics on this address")

	return cmd
}

// applyFlags copies explicitly set flags over the loaded settings.
func applyFlags(cmd *cobra.Command, f *flags, settings *conf.Settings) {
	if cmd.Flags().Changed("previews") {
		settings.Capture.Previews = f.previews
	}
	if cmd.Flags().Changed("stills") {
		settings.Capture.Stills = f.stills
	}
	if cmd.Flags().Changed("timeout") {
		settings.Capture.Timeout = f.timeout
	}
	if f.journal != "" {
		settings.Journal.Enabled = true
		settings.Journal.Path = f.journal
	}
	if f.telemetry != "" {
		settings.Telemetry.Enabled = true
		settings.Telemetry.Listen = f.telemetry
	}
}
