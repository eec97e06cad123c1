// Package cmd assembles the camhal command line interface.
package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/camhal/cmd/capture"
	configcmd "github.com/tphakala/camhal/cmd/config"
	"github.com/tphakala/camhal/internal/buildinfo"
	"github.com/tphakala/camhal/internal/conf"
	"github.com/tphakala/camhal/internal/errors"
	"github.com/tphakala/camhal/internal/logging"
)

const sentryFlushTimeout = 2 * time.Second

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	configPath string
	debug      bool
	logLevel   string
}

// RootCommand creates and returns the root command. settings is filled in
// before any subcommand runs.
func RootCommand(build *buildinfo.Context, settings *conf.Settings) *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:           "camhal",
		Short:         "Camera HAL capture pipeline",
		Version:       build.GetVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	setupFlags(rootCmd, flags)

	rootCmd.AddCommand(
		capture.Command(settings),
		configcmd.Command(settings),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return initialize(cmd, flags, build, settings)
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if settings.Sentry.Enabled {
			errors.FlushSentry(sentryFlushTimeout)
		}
	}

	return rootCmd
}

// initialize loads configuration, applies flag overrides and sets up
// logging and error telemetry.
func initialize(cmd *cobra.Command, flags *globalFlags, build *buildinfo.Context, settings *conf.Settings) error {
	loaded, err := conf.Load(flags.configPath)
	if err != nil {
		return err
	}
	*settings = *loaded

	if cmd.Flags().Changed("debug") {
		settings.Debug = flags.debug
	}
	if cmd.Flags().Changed("log-level") {
		settings.Log.Level = flags.logLevel
	}
	if settings.Debug {
		settings.Log.Level = "debug"
	}

	level, err := logging.ParseLevel(settings.Log.Level)
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("flag", "log-level").
			Build()
	}
	logging.SetLevel(level)

	if settings.Sentry.Enabled {
		if err := errors.InitSentry(settings.Sentry.DSN, build.Release()); err != nil {
			return err
		}
	}
	return nil
}

// setupFlags defines flags that are global to the command line interface.
func setupFlags(rootCmd *cobra.Command, flags *globalFlags) {
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to camhal.yaml (default: search ., ~/.config/camhal, /etc/camhal)")
	rootCmd.PersistentFlags().BoolVarP(&flags.debug, "debug", "d", false, "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level: trace, debug, info, warn or error")
}
