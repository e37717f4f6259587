// Package app provides the entry point for the localghostd command-line
// application.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/localghost/pkg/config"
	"github.com/stacklok/localghost/pkg/logger"
)

// NewRootCmd creates the root command for the localghostd CLI.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "localghostd",
		DisableAutoGenTag: true,
		Short:             "LocalGhost is a local authorization kernel for desktop AI agents",
		Long: `LocalGhost runs a small local HTTP service that brokers authorization
between untrusted local clients and the capabilities a set of registered
plugins expose, prompting the user for consent on first use and caching
the resulting grant.`,
		Run: func(cmd *cobra.Command, _ []string) {
			if err := cmd.Help(); err != nil {
				logger.Errorf("error displaying help: %v", err)
			}
		},
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger.Initialize()
		},
	}

	rootCmd.PersistentFlags().String("config", "", "Path to config file (default: <data-dir>/config.yaml)")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		logger.Errorf("error binding config flag: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.SilenceUsage = true
	return rootCmd
}

func loadSettings() (config.Settings, error) {
	path := viper.GetString("config")
	if path == "" {
		path = config.Defaults().DataDir + "/config.yaml"
	}
	return config.Load(viper.GetViper(), path)
}
