package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cacheMaxAgeHours int
	cacheTargetBytes int64
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the result cache",
}

var cacheCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove expired entries and entries older than --max-age-hours",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c, err := initCache(ctx, cfg.Cache)
		if err != nil {
			return err
		}
		defer c.Close() //nolint:errcheck

		removed, err := c.CleanupExpired(ctx, time.Duration(cacheMaxAgeHours)*time.Hour)
		if err != nil {
			return err
		}
		zap.L().Info("cache cleanup complete", zap.Int("removed", removed))
		return printJSON(cmd.OutOrStdout(), map[string]int{"removed": removed})
	},
}

var cacheEvictCmd = &cobra.Command{
	Use:   "evict",
	Short: "Evict least recently used entries down to --target-bytes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c, err := initCache(ctx, cfg.Cache)
		if err != nil {
			return err
		}
		defer c.Close() //nolint:errcheck

		target := cacheTargetBytes
		if target <= 0 {
			target = cfg.Cache.MaxSizeBytes
		}
		evicted, err := c.EvictLRU(ctx, target)
		if err != nil {
			return err
		}
		zap.L().Info("cache eviction complete", zap.Int("evicted", evicted), zap.Int64("target_bytes", target))
		return printJSON(cmd.OutOrStdout(), map[string]int{"evicted": evicted})
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print cache size, hit and compression statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c, err := initCache(ctx, cfg.Cache)
		if err != nil {
			return err
		}
		defer c.Close() //nolint:errcheck

		stats, err := c.Stats(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), stats)
	},
}

func init() {
	cacheCleanupCmd.Flags().IntVar(&cacheMaxAgeHours, "max-age-hours", 0, "also remove entries created more than this many hours ago (0 = only expired)")
	cacheEvictCmd.Flags().Int64Var(&cacheTargetBytes, "target-bytes", 0, "target cache size in bytes (default cache.max_size_bytes)")
	cacheCmd.AddCommand(cacheCleanupCmd, cacheEvictCmd, cacheStatsCmd)
	rootCmd.AddCommand(cacheCmd)
}
