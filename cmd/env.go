package main

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/docgraph/internal/cache"
	"github.com/sells-group/docgraph/internal/config"
	"github.com/sells-group/docgraph/internal/cost"
	"github.com/sells-group/docgraph/internal/dedupe"
	"github.com/sells-group/docgraph/internal/doctype"
	"github.com/sells-group/docgraph/internal/extract"
	"github.com/sells-group/docgraph/internal/fingerprint"
	"github.com/sells-group/docgraph/internal/hierarchy"
	"github.com/sells-group/docgraph/internal/monitoring"
	"github.com/sells-group/docgraph/internal/ocr"
	"github.com/sells-group/docgraph/internal/parser"
	"github.com/sells-group/docgraph/internal/pipeline"
	"github.com/sells-group/docgraph/internal/relations"
	"github.com/sells-group/docgraph/internal/resilience"
	"github.com/sells-group/docgraph/internal/store"
	"github.com/sells-group/docgraph/pkg/anthropic"
	"github.com/sells-group/docgraph/pkg/embedding"
)

// docEnv holds the initialized collaborators and the pipeline used by the
// process, batch, cache, cost, concepts and serve commands.
type docEnv struct {
	Store     store.Store
	Cache     *cache.Store
	Cost      *cost.Model
	Dedupe    *dedupe.Deduplicator
	Collector *monitoring.Collector
	Alerter   *monitoring.Alerter
	Pipeline  *pipeline.Pipeline
}

// Close releases resources held by the environment.
func (e *docEnv) Close() {
	if e.Cost != nil {
		e.Cost.Wait()
	}
	if e.Cache != nil {
		_ = e.Cache.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured store. A database that cannot be opened
// is not fatal; the in-memory store takes over.
func initStore(ctx context.Context, c config.StoreConfig) store.Store {
	st, err := store.Open(ctx, c)
	if err != nil {
		zap.L().Warn("store unavailable, using in-memory store",
			zap.String("driver", c.Driver),
			zap.Error(err),
		)
		return store.NewMemory()
	}
	return st
}

// initCache builds the result cache with its SQLite tier when a path is set.
func initCache(ctx context.Context, c config.CacheConfig) (*cache.Store, error) {
	opts := []cache.Option{
		cache.WithMaxSize(c.MaxSizeBytes),
		cache.WithDefaultTTL(time.Duration(c.TTLHours) * time.Hour),
	}
	if c.Path != "" {
		tier, err := cache.NewSQLiteTier(ctx, c.Path)
		if err != nil {
			return nil, eris.Wrap(err, "init cache tier")
		}
		opts = append(opts, cache.WithTier(tier))
	}
	return cache.New(opts...)
}

// initEnv sets up the store, cache, cost ledger, monitoring and every
// pipeline collaborator. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*docEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	log := zap.L()

	env := &docEnv{Store: initStore(ctx, cfg.Store)}

	c, err := initCache(ctx, cfg.Cache)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Cache = c

	env.Alerter = monitoring.NewAlerter(cfg.Monitoring)
	env.Cost = cost.NewModel(cost.RatesFromConfig(cfg.Pricing),
		cost.WithSink(env.Store),
		cost.WithAlert(cfg.Pricing.DailyAlertThresholdUSD, env.Alerter.CostAlert),
	)
	if entries, err := env.Store.ListCostEntries(ctx, time.Time{}); err != nil {
		log.Warn("cost ledger not loaded", zap.Error(err))
	} else {
		env.Cost.Seed(entries)
	}
	env.Collector = monitoring.NewCollector(env.Cost)

	retry := resilience.RetryFromConfig(cfg.Retry)
	limiters := resilience.LimitersFromConfig(cfg.RateLimit)

	p := parser.New(parserOptions(retry, limiters)...)

	var embedder embedding.Client
	if cfg.Embedding.BaseURL != "" && cfg.Embedding.Model != "" {
		embedOpts := []embedding.Option{
			embedding.WithRetry(retry),
			embedding.WithConcurrency(cfg.Embedding.Concurrency),
			embedding.WithRateLimiters(limiters),
		}
		if cfg.Embedding.Key != "" {
			embedOpts = append(embedOpts, embedding.WithAPIKey(cfg.Embedding.Key))
		}
		embedder = embedding.NewClient(cfg.Embedding.BaseURL, cfg.Embedding.Model, embedOpts...)
	}

	var llm anthropic.Client
	if cfg.Anthropic.Key != "" {
		llm = anthropic.NewClient(cfg.Anthropic.Key)
	} else {
		log.Debug("DOCGRAPH_ANTHROPIC_KEY not set, definitions and validation use local fallbacks")
	}

	ensemble := extract.NewEnsemble(
		extract.NewStatisticalStrategy(cfg.Extract.MaxNgram),
		extract.NewGraphStrategy(cfg.Extract.MaxNgram),
		extract.NewEmbeddingStrategy(embedder, cfg.Extract.MaxNgram),
	)
	builderOpts := []extract.BuilderOption{extract.WithEmbedder(embedder)}
	if llm != nil && cfg.Extract.UseLLMDefiner {
		builderOpts = append(builderOpts, extract.WithDefiner(extract.NewDefiner(
			llm, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens, cfg.Extract.MaxPromptChars,
			extract.WithDefinerRetry(retry),
			extract.WithDefinerRateLimiters(limiters),
		)))
	}
	builder := extract.NewBuilder(ensemble, cfg.Extract.TopN, builderOpts...)

	classifier, err := initClassifier(llm, retry, limiters)
	if err != nil {
		env.Close()
		return nil, err
	}

	env.Dedupe = dedupe.New(env.Store, cfg.Dedupe.Threshold)

	env.Pipeline = pipeline.New(pipeline.Deps{
		Fingerprinter: fingerprint.New(cfg.Fingerprint.ChunkSizeBytes),
		Detector:      doctype.New(cfg.DocType.MinTextChars),
		Cache:         env.Cache,
		Cost:          env.Cost,
		Parser:        p,
		Hierarchy:     hierarchy.New(cfg.Hierarchy.PagesPerChapter),
		Builder:       builder,
		Dedupe:        env.Dedupe,
		Classifier:    classifier,
		Store:         env.Store,
		Recorder:      env.Collector,
	},
		pipeline.WithRetry(retry),
		pipeline.WithCacheTTL(time.Duration(cfg.Cache.TTLHours)*time.Hour),
		pipeline.WithAutoMerge(cfg.Dedupe.AutoMerge),
	)

	log.Info("pipeline initialized",
		zap.String("store", cfg.Store.Driver),
		zap.Strings("strategies", ensemble.Strategies()),
		zap.Bool("llm", llm != nil),
		zap.Bool("embeddings", embedder != nil),
	)
	return env, nil
}

func parserOptions(retry resilience.RetryConfig, limiters *resilience.RateLimiters) []parser.Option {
	opts := []parser.Option{
		parser.WithThresholds(cfg.Parser.PrimaryThreshold, cfg.Parser.SecondaryThreshold),
		parser.WithMethodTimeout(time.Duration(cfg.Parser.MethodTimeoutSecs) * time.Second),
		parser.WithRetry(retry),
		parser.WithRateLimiters(limiters),
		parser.WithCircuit(resilience.CircuitFromConfig(cfg.Circuit)),
	}
	if md, err := ocr.NewMarkdownExtractor(cfg.OCR); err == nil {
		opts = append(opts, parser.WithPrimary(md))
	} else if !errors.Is(err, resilience.ErrNotConfigured) {
		zap.L().Warn("markdown ocr unavailable", zap.Error(err))
	}
	if layout, err := ocr.NewLayoutExtractor(cfg.OCR); err == nil {
		opts = append(opts, parser.WithSecondary(layout))
	} else if !errors.Is(err, resilience.ErrNotConfigured) {
		zap.L().Warn("layout ocr unavailable", zap.Error(err))
	}
	return opts
}

func initClassifier(llm anthropic.Client, retry resilience.RetryConfig, limiters *resilience.RateLimiters) (*relations.Classifier, error) {
	opts := []relations.Option{
		relations.WithMaxPageGap(cfg.Relations.MaxPageGap),
		relations.WithMaxValidations(cfg.Relations.MaxValidations),
	}
	if cfg.Relations.PatternsFile != "" {
		families, err := relations.LoadFamilies(cfg.Relations.PatternsFile)
		if err != nil {
			return nil, eris.Wrap(err, "load relation patterns")
		}
		opts = append(opts, relations.WithFamilies(families))
	}
	if llm != nil && cfg.Relations.UseValidator {
		opts = append(opts, relations.WithValidator(
			relations.NewLLMValidator(llm, cfg.Anthropic.Model, retry, limiters),
		))
	}
	return relations.New(opts...), nil
}
