package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/docgraph/internal/config"
)

var (
	cfg *config.Config

	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "docgraph",
	Short: "PDF document intelligence pipeline",
	Long:  "Fingerprints, parses and mines PDFs for concepts and the relationships between them, with result caching and cost tracking.",
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c, err := loadConfig(configPath, logLevel)
		if err != nil {
			return err
		}
		cfg = c
		zap.L().Debug("docgraph: config loaded",
			zap.String("command", cmd.Name()),
			zap.String("store", cfg.Store.Driver),
		)
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level")
}

// loadConfig reads the config, applies flag overrides and installs the
// global logger.
func loadConfig(path, level string) (*config.Config, error) {
	c, err := config.LoadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "docgraph: load config")
	}
	if level != "" {
		c.Log.Level = level
	}
	if err := config.InitLogger(c.Log); err != nil {
		return nil, eris.Wrap(err, "docgraph: init logger")
	}
	return c, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		zap.L().Error("docgraph: command failed", zap.Error(err))
		os.Exit(1)
	}
}
