package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/docgraph/internal/model"
	"github.com/sells-group/docgraph/internal/pipeline"
)

var (
	batchConcurrency int
	batchUserID      string
)

// batchSummary is printed after a batch run.
type batchSummary struct {
	Documents int                       `json:"documents"`
	Succeeded int                       `json:"succeeded"`
	Cached    int                       `json:"cached"`
	Degraded  int                       `json:"degraded"`
	Failed    int                       `json:"failed"`
	CostUSD   float64                   `json:"cost_usd"`
	Results   []*model.ProcessingResult `json:"results"`
}

func summarize(results []*model.ProcessingResult) batchSummary {
	s := batchSummary{Documents: len(results), Results: results}
	for _, res := range results {
		if !res.Success {
			s.Failed++
			continue
		}
		s.Succeeded++
		if res.Cached {
			s.Cached++
		}
		if res.Degraded {
			s.Degraded++
		}
		if res.CostUSD != nil {
			s.CostUSD += *res.CostUSD
		}
	}
	return s
}

var batchCmd = &cobra.Command{
	Use:   "batch <files...>",
	Short: "Process several PDFs concurrently",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "batch")
		if err != nil {
			return err
		}
		defer env.Close()

		reqs := make([]pipeline.Request, len(args))
		for i, path := range args {
			reqs[i] = pipeline.Request{Path: path, UserID: batchUserID}
		}

		concurrency := batchConcurrency
		if concurrency <= 0 {
			concurrency = cfg.Batch.MaxConcurrentDocuments
		}
		summary := summarize(env.Pipeline.ProcessBatch(ctx, reqs, concurrency))
		if err := printJSON(cmd.OutOrStdout(), summary); err != nil {
			return err
		}
		if summary.Failed == summary.Documents {
			return eris.Errorf("batch: all %d documents failed", summary.Documents)
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "max concurrent documents (default from config)")
	batchCmd.Flags().StringVar(&batchUserID, "user", "", "user ID recorded in the cost ledger")
	rootCmd.AddCommand(batchCmd)
}
