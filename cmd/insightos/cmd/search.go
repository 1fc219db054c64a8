package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rajasaid/InsightOS/internal/config"
	ierrors "github.com/rajasaid/InsightOS/internal/errors"
	"github.com/rajasaid/InsightOS/internal/output"
	"github.com/rajasaid/InsightOS/internal/retrieve"
	"github.com/rajasaid/InsightOS/internal/ui"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	format string // "text", "json"
	full   bool
}

// searchResult is the JSON form of a retrieval.
type searchResult struct {
	Query      string              `json:"query"`
	Threshold  float64             `json:"threshold"`
	Empty      bool                `json:"empty"`
	Context    string              `json:"context"`
	Citations  []retrieve.Citation `json:"citations"`
	Sources    []string            `json:"sources"`
	Dropped    int                 `json:"dropped"`
	OverBudget bool                `json:"over_budget"`
	Stats      retrieve.Stats      `json:"stats"`
}

func newSearchCmd(root *rootOptions) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Retrieve the passages most relevant to a question",
		Long: `Embed the query, find the most similar indexed chunks above the
similarity threshold and print them with numbered citations.

The index is opened read-only, so search works while 'insightos watch'
is running.`,
		Example: `  insightos search "quarterly revenue targets"
  insightos search "how do I rotate the API keys" --top-k 10 --full
  insightos search "onboarding checklist" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, cfg, query, opts, root.noColor)
		},
	}

	cmd.Flags().Int("top-k", 0, "Maximum number of passages (1-20, default from config)")
	cmd.Flags().Float64("threshold", 0, "Minimum cosine similarity (0-1, default from config)")
	cmd.Flags().Int("max-chars", 0, "Character budget for the assembled context (default from config)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.full, "full", false, "Print whole passages instead of excerpts")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, cfg *config.Config, query string, opts searchOptions, noColor bool) error {
	if opts.format != "text" && opts.format != "json" {
		return ierrors.New(ierrors.ErrCodeInvalidInput,
			fmt.Sprintf("unknown format %q", opts.format), nil).
			WithSuggestion("Use --format text or --format json")
	}

	eng, err := openEngine(ctx, cfg, engineOptions{readOnly: true})
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	r, err := eng.retriever(nil)
	if err != nil {
		return err
	}

	slog.Info("search_started", slog.Int("query_len", len(query)), slog.Int("top_k", cfg.Retrieval.TopK))
	b, err := r.Retrieve(ctx, query, 0, -1)
	if err != nil {
		return err
	}
	slog.Info("search_complete", slog.Int("spans", len(b.Spans)), slog.Int("dropped", b.Dropped),
		slog.Bool("over_budget", b.OverBudget))

	if opts.format == "json" {
		return writeSearchJSON(cmd, b)
	}

	out := output.New(cmd.OutOrStdout())
	if !noColor && ui.IsTTY(cmd.OutOrStdout()) && !ui.DetectNoColor() {
		out = output.NewColor(cmd.OutOrStdout())
	}
	out.Bundle(b, opts.full)
	return nil
}

func writeSearchJSON(cmd *cobra.Command, b *retrieve.Bundle) error {
	res := searchResult{
		Query:      b.Query,
		Threshold:  b.Threshold,
		Empty:      b.Empty(),
		Context:    b.Text,
		Citations:  b.Citations(),
		Sources:    b.Sources(),
		Dropped:    b.Dropped,
		OverBudget: b.OverBudget,
		Stats:      b.Stats(),
	}
	if res.Citations == nil {
		res.Citations = []retrieve.Citation{}
	}
	if res.Sources == nil {
		res.Sources = []string{}
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
