package config

import (
	"github.com/spf13/cobra"

	"github.com/tphakala/camhal/internal/conf"
)

// Command creates the config command.
func Command(settings *conf.Settings) *cobra.Command {
	var initPath string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long:  "Print the configuration after defaults, camhal.yaml and CAMHAL_ environment variables are merged.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if initPath != "" {
				return conf.WriteDefaultConfig(initPath)
			}
			out, err := conf.Dump(settings)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().StringVar(&initPath, "init", "", "Write the default configuration file to this path instead")
	return cmd
}
