package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nexus-agent/nexus/pkg/config"
	"github.com/nexus-agent/nexus/pkg/models"
	"github.com/nexus-agent/nexus/pkg/tracker"
)

func newHistoryCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Query and manage recorded routes",
	}

	cmd.AddCommand(
		newHistoryListCmd(configPath),
		newHistorySummaryCmd(configPath),
		newHistoryCleanupCmd(configPath),
	)
	return cmd
}

func withHistory(configPath string, fn func(ctx context.Context, cfg *config.Config, t *tracker.SQLiteTracker) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	t, err := openHistory(cfg)
	if err != nil {
		return err
	}
	defer t.Close()
	return fn(context.Background(), cfg, t)
}

func parseSince(since string) (time.Time, error) {
	if since == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", since)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
	}
	return t, nil
}

func newHistoryListCmd(configPath *string) *cobra.Command {
	var (
		backendName string
		category    string
		requestID   string
		since       string
		limit       int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent routes, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			sinceTime, err := parseSince(since)
			if err != nil {
				return err
			}
			return withHistory(*configPath, func(ctx context.Context, _ *config.Config, t *tracker.SQLiteTracker) error {
				recs, err := t.Query(ctx, tracker.QueryOpts{
					RequestID: requestID,
					Backend:   backendName,
					Category:  models.Category(category),
					Since:     sinceTime,
					Limit:     limit,
				})
				if err != nil {
					return err
				}
				if len(recs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No routes recorded.")
					return nil
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "TIME\tREQUEST ID\tCATEGORY\tBACKEND\tCACHE\tATTEMPTS\tLATENCY\tSTATUS")
				for _, r := range recs {
					backend, hit, status := r.Backend, "miss", "ok"
					if backend == "" {
						backend = "-"
					}
					if r.CacheHit {
						hit = "hit"
					}
					if !r.Success {
						status = "failed"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%dms\t%s\n",
						r.CreatedAt.Local().Format("2006-01-02T15:04:05"), r.RequestID, r.Category,
						backend, hit, r.Attempts, r.LatencyMs, status)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&backendName, "backend", "", "filter by backend name")
	cmd.Flags().StringVar(&category, "category", "", "filter by category")
	cmd.Flags().StringVar(&requestID, "request-id", "", "show a single request")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of routes")
	return cmd
}

func newHistorySummaryCmd(configPath *string) *cobra.Command {
	var since string

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Aggregate recorded routes by backend and category",
		RunE: func(cmd *cobra.Command, args []string) error {
			sinceTime, err := parseSince(since)
			if err != nil {
				return err
			}
			return withHistory(*configPath, func(ctx context.Context, _ *config.Config, t *tracker.SQLiteTracker) error {
				rows, err := t.Summary(ctx, sinceTime)
				if err != nil {
					return err
				}
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No routes recorded.")
					return nil
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "BACKEND\tCATEGORY\tREQUESTS\tCACHE HITS\tFAILURES\tAVG LATENCY")
				for _, s := range rows {
					backend := s.Backend
					if backend == "" {
						backend = "(exhausted)"
					}
					fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%.0fms\n",
						backend, s.Category, s.RequestCount, s.CacheHits, s.Failures, s.AvgLatencyMs)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	return cmd
}

func newHistoryCleanupCmd(configPath *string) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete routes older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(*configPath, func(ctx context.Context, cfg *config.Config, t *tracker.SQLiteTracker) error {
				retention := cfg.History.Retention
				if cmd.Flags().Changed("older-than") {
					retention = olderThan
				}
				if retention <= 0 {
					return errors.New("no retention period configured; pass --older-than")
				}

				n, err := t.Cleanup(ctx, time.Now().UTC().Add(-retention))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d route(s) older than %s.\n", n, retention)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "delete routes older than this (default: history.retention)")
	return cmd
}
