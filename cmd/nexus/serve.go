package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nexus-agent/nexus/pkg/metrics"
	"github.com/nexus-agent/nexus/pkg/models"
	"github.com/nexus-agent/nexus/pkg/server"
)

func newServeCmd(configPath *string) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the routing HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}

			a, err := newApp(cfg, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			var cacheStats func() models.CacheStats
			if a.cache != nil {
				cacheStats = a.cache.Stats
			}
			reg, err := metrics.NewRegistry(metrics.NewExporter(a.collector, cacheStats))
			if err != nil {
				return fmt.Errorf("init metrics: %w", err)
			}

			srv := server.New(cfg.Listen, a.dispatcher, a.router, reg, a.log)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a.log.Info().
				Str("config", *configPath).
				Int("backends", len(cfg.Backends)).
				Bool("cache", cfg.Cache.Enabled).
				Bool("history", cfg.History.Enabled).
				Msg("starting nexus")
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "override the listen address")
	return cmd
}
