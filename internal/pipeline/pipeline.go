// Package pipeline orchestrates document processing from fingerprint to
// concept graph.
package pipeline

import (
	"context"
	"time"

	"github.com/sells-group/docgraph/internal/cache"
	"github.com/sells-group/docgraph/internal/cost"
	"github.com/sells-group/docgraph/internal/dedupe"
	"github.com/sells-group/docgraph/internal/extract"
	"github.com/sells-group/docgraph/internal/hierarchy"
	"github.com/sells-group/docgraph/internal/model"
	"github.com/sells-group/docgraph/internal/relations"
	"github.com/sells-group/docgraph/internal/resilience"
	"github.com/sells-group/docgraph/internal/store"
)

// Stage names, in execution order.
const (
	StageHash       = "hash"
	StageCacheCheck = "cache_check"
	StageTypeDetect = "type_detect"
	StageCost       = "cost_estimate"
	StageParse      = "parse"
	StageHierarchy  = "hierarchy"
	StageExtract    = "extract"
	StageDedupe     = "dedupe"
	StageClassify   = "classify"
	StagePersist    = "persist"
	StageCacheStore = "cache_store"
	StageDone       = "done"
)

var stageProgress = map[string]int{
	StageHash:       10,
	StageCacheCheck: 15,
	StageTypeDetect: 25,
	StageCost:       30,
	StageParse:      50,
	StageHierarchy:  60,
	StageExtract:    72,
	StageDedupe:     78,
	StageClassify:   85,
	StagePersist:    92,
	StageCacheStore: 97,
	StageDone:       100,
}

// Fingerprinter computes the content fingerprint of a file.
type Fingerprinter interface {
	Fingerprint(ctx context.Context, path string) (*model.DocumentFingerprint, error)
}

// TypeDetector classifies a document as digital, scanned, or hybrid.
type TypeDetector interface {
	Classify(ctx context.Context, path string) (*model.DocumentTypeClassification, error)
}

// ResultCache stores finished document graphs by fingerprint.
type ResultCache interface {
	Lookup(ctx context.Context, key string) (*cache.CachedResult, bool, error)
	Store(ctx context.Context, key string, value any, ttl time.Duration) error
}

// DocumentParser runs the parse fallback chain.
type DocumentParser interface {
	Parse(ctx context.Context, path string, cls *model.DocumentTypeClassification) (*model.ParseResult, error)
}

// ConceptBuilder extracts located, defined concepts from a parse.
type ConceptBuilder interface {
	Build(ctx context.Context, docID string, parse *model.ParseResult, nodes []model.HierarchyNode) (*extract.BuildResult, error)
}

// RelationClassifier classifies relationships between concepts.
type RelationClassifier interface {
	Classify(ctx context.Context, concepts []model.Concept) *relations.Result
}

// Recorder observes finished results.
type Recorder interface {
	Record(res *model.ProcessingResult)
}

// ProgressFunc reports a completed stage and overall percent. Batch runs
// call it from several goroutines.
type ProgressFunc func(stage string, pct int)

// Deps holds the pipeline collaborators. Fingerprinter, Parser, Hierarchy
// and Builder are required; the rest are optional.
type Deps struct {
	Fingerprinter Fingerprinter
	Detector      TypeDetector
	Cache         ResultCache
	Cost          *cost.Model
	Parser        DocumentParser
	Hierarchy     *hierarchy.Extractor
	Builder       ConceptBuilder
	Dedupe        *dedupe.Deduplicator
	Classifier    RelationClassifier
	Store         store.Store
	Recorder      Recorder
}

// Request is one document to process.
type Request struct {
	Path   string `json:"path"`
	UserID string `json:"user_id,omitempty"`
}

// Pipeline runs documents through the fixed stage order.
type Pipeline struct {
	deps      Deps
	retry     resilience.RetryConfig
	cacheTTL  time.Duration
	autoMerge bool
	progress  ProgressFunc
	fallback  *store.MemoryStore
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRetry sets the retry policy for the hash, type-detect and parse stages.
func WithRetry(cfg resilience.RetryConfig) Option { return func(p *Pipeline) { p.retry = cfg } }

// WithCacheTTL sets the TTL for stored results. Zero uses the cache default.
func WithCacheTTL(ttl time.Duration) Option { return func(p *Pipeline) { p.cacheTTL = ttl } }

// WithAutoMerge collapses duplicate concepts instead of only reporting them.
func WithAutoMerge(on bool) Option { return func(p *Pipeline) { p.autoMerge = on } }

// WithProgress sets the progress callback.
func WithProgress(fn ProgressFunc) Option { return func(p *Pipeline) { p.progress = fn } }

// New creates a Pipeline.
func New(deps Deps, opts ...Option) *Pipeline {
	if deps.Hierarchy == nil {
		deps.Hierarchy = hierarchy.New(0)
	}
	p := &Pipeline{
		deps:      deps,
		retry:     resilience.DefaultRetryConfig(),
		autoMerge: true,
		fallback:  store.NewMemory(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Fallback returns the in-memory store used when the configured store is
// unreachable.
func (p *Pipeline) Fallback() *store.MemoryStore { return p.fallback }

func (p *Pipeline) report(stage string) {
	if p.progress != nil {
		p.progress(stage, stageProgress[stage])
	}
}
