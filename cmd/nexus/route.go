package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nexus-agent/nexus/pkg/models"
)

func newRouteCmd(configPath *string) *cobra.Command {
	var (
		category    string
		backendName string
		system      string
		temperature float64
		maxTokens   int
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "route [text]",
		Short: "Route a single prompt and print the response",
		Long:  "Route a single prompt through the configured backends. With no argument the prompt is read from stdin.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := promptText(args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			a, err := newApp(cfg, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			req := models.Request{Text: text, Category: models.Category(category), Backend: backendName}
			req.Parameters.System = system
			if cmd.Flags().Changed("temperature") {
				req.Parameters.Temperature = &temperature
			}
			if cmd.Flags().Changed("max-tokens") {
				req.Parameters.MaxTokens = &maxTokens
			}

			res, err := a.dispatcher.Route(context.Background(), req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			fmt.Fprintln(out, res.Response.Content)
			fmt.Fprintf(cmd.ErrOrStderr(), "\n[%s -> %s, %d attempt(s), %s]\n",
				res.Category, res.Backend, res.Attempts, res.Latency.Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "declare the task category (coding, simple, complex, speed_test)")
	cmd.Flags().StringVar(&backendName, "backend", "", "send to this backend only, skipping the fallback chain")
	cmd.Flags().StringVar(&system, "system", "", "system prompt")
	cmd.Flags().Float64Var(&temperature, "temperature", 0.7, "sampling temperature")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "maximum tokens to generate")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full routing result as JSON")
	return cmd
}

func newClassifyCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "classify [text]",
		Short: "Show the category a prompt would be routed as",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := promptText(args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			a, err := newApp(cfg, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			d := a.dispatcher.Classify(text)
			chain, err := a.router.ResolveChain(d.Category)
			if err != nil {
				return err
			}
			names := make([]string, len(chain))
			for i, b := range chain {
				names[i] = b.Name
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "CATEGORY\t%s\n", d.Category)
			fmt.Fprintf(w, "REASON\t%s\n", d.Reason)
			if d.Keyword != "" {
				fmt.Fprintf(w, "KEYWORD\t%q\n", d.Keyword)
			}
			fmt.Fprintf(w, "CHAIN\t%s\n", strings.Join(names, " -> "))
			return w.Flush()
		},
	}
}

func promptText(args []string, stdin io.Reader) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
