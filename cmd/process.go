package main

import (
	"encoding/json"
	"io"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/docgraph/internal/pipeline"
)

var processUserID string

var processCmd = &cobra.Command{
	Use:   "process <file>",
	Short: "Process a single PDF and print the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "process")
		if err != nil {
			return err
		}
		defer env.Close()

		res := env.Pipeline.Process(ctx, pipeline.Request{Path: args[0], UserID: processUserID})
		if err := printJSON(cmd.OutOrStdout(), res); err != nil {
			return err
		}
		if !res.Success {
			return eris.Errorf("process %s: %s", args[0], res.Error)
		}

		fields := []zap.Field{
			zap.String("document", args[0]),
			zap.Bool("cached", res.Cached),
			zap.Bool("degraded", res.Degraded),
			zap.Int("concepts", len(res.Data.Concepts)),
			zap.Int("relationships", len(res.Data.Relationships)),
		}
		if res.CostUSD != nil {
			fields = append(fields, zap.Float64("cost_usd", *res.CostUSD))
		}
		zap.L().Info("document processed", fields...)
		return nil
	},
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	processCmd.Flags().StringVar(&processUserID, "user", "", "user ID recorded in the cost ledger")
	rootCmd.AddCommand(processCmd)
}
