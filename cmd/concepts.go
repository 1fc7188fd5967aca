package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/docgraph/internal/dedupe"
	"github.com/sells-group/docgraph/internal/model"
)

var conceptsThreshold float64

var conceptsCmd = &cobra.Command{
	Use:   "concepts",
	Short: "Inspect stored concepts and manage merges",
}

// documentGraph is the stored concept graph of one document.
type documentGraph struct {
	DocumentID    string               `json:"document_id"`
	Concepts      []model.Concept      `json:"concepts"`
	Relationships []model.Relationship `json:"relationships"`
}

var conceptsListCmd = &cobra.Command{
	Use:   "list <document-id>",
	Short: "Print the stored concepts and relationships of a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st := initStore(ctx, cfg.Store)
		defer st.Close() //nolint:errcheck

		concepts, err := st.GetConceptsByDocument(ctx, args[0])
		if err != nil {
			return err
		}
		rels, err := st.GetRelationshipsByDocument(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), documentGraph{DocumentID: args[0], Concepts: concepts, Relationships: rels})
	},
}

var conceptsDuplicatesCmd = &cobra.Command{
	Use:   "duplicates <document-id>",
	Short: "List likely duplicate concept pairs of a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st := initStore(ctx, cfg.Store)
		defer st.Close() //nolint:errcheck

		pairs, err := dedupe.New(st, cfg.Dedupe.Threshold).FindDuplicates(ctx, args[0], conceptsThreshold)
		if err != nil {
			return err
		}
		if pairs == nil {
			pairs = []dedupe.DuplicatePair{}
		}
		return printJSON(cmd.OutOrStdout(), pairs)
	},
}

var conceptsMergeCmd = &cobra.Command{
	Use:   "merge <primary-id> <duplicate-id>",
	Short: "Merge a duplicate concept into a primary",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st := initStore(ctx, cfg.Store)
		defer st.Close() //nolint:errcheck

		merged, err := dedupe.New(st, cfg.Dedupe.Threshold).MergeConcepts(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		zap.L().Info("concepts merged", zap.String("primary", args[0]), zap.String("duplicate", args[1]))
		return printJSON(cmd.OutOrStdout(), merged)
	},
}

var conceptsUndoCmd = &cobra.Command{
	Use:   "undo <concept-id>",
	Short: "Restore a merged concept",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st := initStore(ctx, cfg.Store)
		defer st.Close() //nolint:errcheck

		restored, err := dedupe.New(st, cfg.Dedupe.Threshold).UndoMerge(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), restored)
	},
}

func init() {
	conceptsDuplicatesCmd.Flags().Float64Var(&conceptsThreshold, "threshold", 0, "similarity threshold (default dedupe.threshold)")
	conceptsCmd.AddCommand(conceptsListCmd, conceptsDuplicatesCmd, conceptsMergeCmd, conceptsUndoCmd)
	rootCmd.AddCommand(conceptsCmd)
}
