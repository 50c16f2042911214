package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nexus-agent/nexus/pkg/models"
	"github.com/nexus-agent/nexus/pkg/server"
)

const defaultServerURL = "http://127.0.0.1:8080"

// client talks to a running nexus server.
type client struct {
	base string
	http *http.Client
}

func newClient(base string) *client {
	return &client{base: strings.TrimRight(base, "/"), http: &http.Client{Timeout: 10 * time.Second}}
}

func (c *client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("contact nexus at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func newMetricsCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show per-backend metrics from a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			var summary map[string]models.BackendSummary
			if err := newClient(serverURL).do(cmd.Context(), http.MethodGet, "/v1/metrics", &summary); err != nil {
				return err
			}
			if len(summary) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No backends registered.")
				return nil
			}

			names := make([]string, 0, len(summary))
			for name := range summary {
				names = append(names, name)
			}
			sort.Strings(names)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "BACKEND\tCALLS\tAVG LATENCY\tSUCCESS RATE")
			for _, name := range names {
				s := summary[name]
				fmt.Fprintf(w, "%s\t%d\t%.1fms\t%.1f%%\n", name, s.CallCount, s.AvgLatencyMs, s.SuccessRate*100)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "base URL of the nexus server")
	return cmd
}

func newCacheCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the response cache of a running server",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			var status server.CacheStatus
			if err := newClient(serverURL).do(cmd.Context(), http.MethodGet, "/v1/cache", &status); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !status.Enabled {
				fmt.Fprintln(out, "Cache is disabled.")
				return nil
			}
			fmt.Fprintf(out, "Entries:   %d / %d\nHits:      %d\nMisses:    %d\nEvictions: %d\nExpired:   %d\nHit Rate:  %.1f%%\n",
				status.Entries, status.Capacity, status.Hits, status.Misses, status.Evictions, status.Expired, status.HitRate*100)
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached response",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient(serverURL).do(cmd.Context(), http.MethodDelete, "/v1/cache", nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All cache entries cleared.")
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&serverURL, "server", defaultServerURL, "base URL of the nexus server")
	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}
