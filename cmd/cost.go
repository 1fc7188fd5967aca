package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/docgraph/internal/cost"
	"github.com/sells-group/docgraph/internal/doctype"
	"github.com/sells-group/docgraph/internal/fingerprint"
	"github.com/sells-group/docgraph/internal/model"
)

var costDays int

var costCmd = &cobra.Command{
	Use:   "cost",
	Short: "Estimate and report processing cost",
}

// loadLedger builds a cost model seeded from the persisted ledger.
func loadLedger(ctx context.Context) (*cost.Model, func(), error) {
	st := initStore(ctx, cfg.Store)
	m := cost.NewModel(cost.RatesFromConfig(cfg.Pricing))
	entries, err := st.ListCostEntries(ctx, time.Time{})
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	m.Seed(entries)
	return m, func() { _ = st.Close() }, nil
}

var costSavingsCmd = &cobra.Command{
	Use:   "savings",
	Short: "Report cache savings over the last --days days",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, closeFn, err := loadLedger(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()
		return printJSON(cmd.OutOrStdout(), m.CalculateSavings(costDays))
	},
}

var costEstimateCmd = &cobra.Command{
	Use:   "estimate <file>",
	Short: "Estimate the cost of processing a PDF without processing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		fp, err := fingerprint.New(cfg.Fingerprint.ChunkSizeBytes).Fingerprint(ctx, args[0])
		if err != nil {
			return err
		}
		cls, err := doctype.New(cfg.DocType.MinTextChars).Classify(ctx, args[0])
		if err != nil {
			return err
		}

		c, err := initCache(ctx, cfg.Cache)
		if err != nil {
			return err
		}
		defer c.Close() //nolint:errcheck
		_, hit, err := c.Lookup(ctx, fp.Hash)
		if err != nil {
			hit = false
		}

		m := cost.NewModel(cost.RatesFromConfig(cfg.Pricing))
		return printJSON(cmd.OutOrStdout(), struct {
			Fingerprint    *model.DocumentFingerprint        `json:"fingerprint"`
			Classification *model.DocumentTypeClassification `json:"classification"`
			Estimate       model.CostEstimate                `json:"estimate"`
		}{fp, cls, m.Estimate(*cls, fp.PageCount, hit)})
	},
}

func init() {
	costSavingsCmd.Flags().IntVar(&costDays, "days", 30, "reporting period in days")
	costCmd.AddCommand(costSavingsCmd, costEstimateCmd)
	rootCmd.AddCommand(costCmd)
}
