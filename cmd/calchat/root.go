package main

import (
	"github.com/ent0n29/calchat/internal/config"
	"github.com/spf13/cobra"
)

type configLoader func() (config.Config, error)

func newRootCmd() *cobra.Command {
	var configPath string
	rootCmd := &cobra.Command{
		Use:           "calchat",
		Short:         "Conversational calendar assistant",
		Long:          "calchat runs a chat service that turns plain-language requests into calendar events, and a terminal client to talk to it.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (toml, yaml or json); environment variables take precedence")

	load := func() (config.Config, error) {
		return config.Load(configPath)
	}

	rootCmd.AddCommand(
		newServeCmd(load),
		newChatCmd(load),
		newConfigCmd(load),
		newImportCmd(load),
	)
	return rootCmd
}
