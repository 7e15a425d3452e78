// Package cmd assembles the floraguard command tree.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/floraguard/floraguard-go/cmd/classify"
	"github.com/floraguard/floraguard-go/cmd/serve"
	"github.com/floraguard/floraguard-go/internal/conf"
	"github.com/floraguard/floraguard-go/internal/logging"
)

// RootCommand creates and returns the root command.
func RootCommand(version, buildDate string) *cobra.Command {
	var configPath string
	var settings conf.Settings

	rootCmd := &cobra.Command{
		Use:           "floraguard",
		Short:         "FloraGuard plant disease classification service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		loaded, err := conf.Load(configPath)
		if err != nil {
			return err
		}
		loaded.Version = version
		loaded.BuildDate = buildDate
		settings = *loaded
		logging.Init(settings.LogLevel)

		if configPath == "" {
			if written, err := conf.EnsureDefault(loaded); err == nil && written != "" {
				logging.ForService("main").Info("wrote starter config", "path", written)
			}
		}
		return nil
	}

	rootCmd.AddCommand(
		serve.Command(&settings),
		classify.Command(&settings),
	)
	return rootCmd
}
