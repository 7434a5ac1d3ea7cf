// Package cli holds the whiteboard command tree.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/mattfrayser/whiteboard-backend/internal/config"
)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "whiteboard",
		Short:         "Collaborative whiteboard server",
		Long:          "whiteboard relays drawing events between clients in the same room and writes each room back to the store shortly after it goes quiet.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (default: search "+config.ConfigPathEnvVar+" and the standard locations)")

	load := func() (*config.Config, error) {
		if configPath != "" {
			return config.LoadFile(configPath)
		}
		return config.Load()
	}

	serve := newServeCmd(load)
	rootCmd.RunE = serve.RunE
	rootCmd.AddCommand(serve, newCheckCmd(load))

	return rootCmd
}
