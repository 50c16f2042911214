package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "nexus",
		Short:         "Nexus - task-aware router for local and hosted LLM backends",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file (.yaml or .toml)")

	root.AddCommand(
		newServeCmd(&configPath),
		newRouteCmd(&configPath),
		newClassifyCmd(&configPath),
		newMetricsCmd(),
		newCacheCmd(),
		newHistoryCmd(&configPath),
		newBenchCmd(&configPath),
		newMCPCmd(&configPath),
		newConfigCmd(&configPath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
