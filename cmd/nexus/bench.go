package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nexus-agent/nexus/pkg/bench"
	"github.com/nexus-agent/nexus/pkg/models"
)

func newBenchCmd(configPath *string) *cobra.Command {
	var (
		backends    []string
		prompts     []string
		concurrency int
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Compare backend response times on a fixed prompt set",
		Long:  "Send the same prompts straight to each backend, bypassing the cache and fallback chain, and compare latency.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			a, err := newApp(cfg, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			var descs []models.BackendDescriptor
			if len(backends) == 0 {
				descs = a.router.Backends()
			}
			for _, name := range backends {
				d, ok := a.router.Backend(name)
				if !ok {
					return fmt.Errorf("unknown backend %q", name)
				}
				descs = append(descs, d)
			}

			report, err := bench.NewRunner(a.backends, a.log).Run(cmd.Context(), descs, bench.Options{
				Prompts:     prompts,
				Concurrency: concurrency,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "BACKEND\tOK\tAVG\tMIN\tMAX\tTOTAL")
			for _, r := range report.Backends {
				fmt.Fprintf(w, "%s\t%d/%d\t%s\t%s\t%s\t%s\n",
					r.Backend, r.Successes, len(r.Samples),
					r.Avg.Round(time.Millisecond), r.Min.Round(time.Millisecond),
					r.Max.Round(time.Millisecond), r.Total.Round(time.Millisecond))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if report.SpeedRatio > 0 {
				fmt.Fprintf(out, "\nFastest: %s (%.2fx faster than the slowest)\n", report.Fastest, report.SpeedRatio)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&backends, "backends", nil, "backends to compare (default: all)")
	cmd.Flags().StringArrayVar(&prompts, "prompt", nil, "prompt to send, repeatable (default: built-in set)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "maximum in-flight calls (default: one per backend)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full report as JSON")
	return cmd
}
