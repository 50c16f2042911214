package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nexus-agent/nexus/pkg/config"
	"github.com/nexus-agent/nexus/pkg/models"
)

func newConfigCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check backends and routing for problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig(*configPath)
			var cfgErr *models.ConfigurationError
			if errors.As(err, &cfgErr) {
				fmt.Fprintln(cmd.ErrOrStderr(), "Configuration problems:")
				for _, p := range cfgErr.Problems {
					fmt.Fprintf(cmd.ErrOrStderr(), "  - %s\n", p)
				}
				return fmt.Errorf("%d problem(s) found", len(cfgErr.Problems))
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", *configPath)
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with defaults applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			redacted := *cfg
			redacted.Backends = make([]config.BackendConfig, len(cfg.Backends))
			for i, b := range cfg.Backends {
				if b.APIKey != "" {
					b.APIKey = strings.Repeat("*", 8)
				}
				redacted.Backends[i] = b
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(&redacted)
		},
	}

	cmd.AddCommand(validateCmd, showCmd)
	return cmd
}
