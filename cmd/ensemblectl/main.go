package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"llm-ensemble/internal/api"
	"llm-ensemble/internal/app"
)

type buildFunc func() (app.Deps, error)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd(app.Build).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(build buildFunc) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ensemblectl",
		Short: "Query the model ensemble from the command line",
		Long: `ensemblectl runs ensembles in-process using the same environment configuration
as the ensemble service (backends file or *_MODEL_ENDPOINT variables, cache and
cancel mode settings).`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(askCmd(build))
	rootCmd.AddCommand(backendsCmd(build))
	return rootCmd
}

func askCmd(build buildFunc) *cobra.Command {
	var (
		strategy  string
		minModels int
		timeout   time.Duration
		noCache   bool
		output    string
	)

	cmd := &cobra.Command{
		Use:   "ask [query]",
		Short: "Send a query to every enabled backend and print the selected answer",
		Long: `Fans the query out to all enabled backends, scores each response and
selects one by strategy: quality (highest score), speed (fastest) or
consensus (longest response).

With --output text only the selected answer is printed; json and yaml print
the full result including every backend outcome.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			deps, err := build()
			if err != nil {
				return fmt.Errorf("failed to build dependencies: %w", err)
			}
			defer deps.Close()

			st, err := deps.ResolveStrategy(strategy)
			if err != nil {
				return err
			}
			useCache := !noCache
			req := api.EnsembleRequest{Query: args[0], TimeoutMS: int(timeout.Milliseconds()), MinModels: minModels, UseCache: &useCache}

			res, err := deps.Ensemble.Execute(cmd.Context(), req.Query, st, req.Options())
			if err != nil {
				return err
			}
			view := api.FromResult(res)
			if output == "text" {
				w := cmd.OutOrStdout()
				fmt.Fprintln(w, view.SelectedResponse)
				fmt.Fprintf(w, "\n[%s, confidence %.2f, %s, %.0fms]\n", view.SelectedBackend, view.Confidence, view.Strategy, view.TotalLatencyMS)
				return nil
			}
			return render(cmd.OutOrStdout(), output, view)
		},
	}

	cmd.Flags().StringVarP(&strategy, "strategy", "s", "", "selection strategy (quality, speed, consensus); defaults to ENSEMBLE_STRATEGY")
	cmd.Flags().IntVar(&minModels, "min-models", 0, "minimum usable responses required (0 uses ENSEMBLE_MIN_MODELS)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per-backend timeout override, e.g. 10s")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "bypass the result cache")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format (text, json, yaml)")
	return cmd
}

func backendsCmd(build buildFunc) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "backends",
		Short: "List configured backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			deps, err := build()
			if err != nil {
				return fmt.Errorf("failed to build dependencies: %w", err)
			}
			defer deps.Close()

			backends := api.FromDescriptors(deps.Registry.List())
			if output != "text" {
				return render(cmd.OutOrStdout(), output, backends)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tKIND\tENDPOINT\tWEIGHT\tTIMEOUT\tENABLED")
			for _, b := range backends {
				endpoint := b.Endpoint
				if b.Model != "" {
					endpoint = strings.TrimSpace(endpoint + " " + b.Model)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s\t%t\n", b.Name, b.Kind, endpoint, b.Weight, time.Duration(b.TimeoutMS)*time.Millisecond, b.Enabled)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format (text, json, yaml)")
	return cmd
}

func checkOutput(output string) error {
	switch output {
	case "text", "json", "yaml":
		return nil
	default:
		return fmt.Errorf("unknown output format %q (valid: text, json, yaml)", output)
	}
}

func render(w io.Writer, output string, v any) error {
	switch output {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}
