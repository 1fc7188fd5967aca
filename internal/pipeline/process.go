package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/docgraph/internal/dedupe"
	"github.com/sells-group/docgraph/internal/hierarchy"
	"github.com/sells-group/docgraph/internal/model"
	"github.com/sells-group/docgraph/internal/resilience"
	"github.com/sells-group/docgraph/internal/store"
)

// errStageSkipped marks a stage whose collaborator is not configured.
var errStageSkipped = errors.New("stage skipped")

// run carries the state of one Process call.
type run struct {
	p   *Pipeline
	log *zap.Logger
	res *model.ProcessingResult
}

// track runs one stage, records its outcome and reports progress. fn may
// return a StageResult with Status preset to degraded or skipped; a
// returned error marks the stage failed, except errStageSkipped.
func (r *run) track(name string, fn func() (*model.StageResult, error)) error {
	start := time.Now()
	sr, err := fn()
	duration := time.Since(start).Milliseconds()

	if sr == nil {
		sr = &model.StageResult{}
	}
	sr.Name = name
	sr.DurationMs = duration

	switch {
	case errors.Is(err, errStageSkipped):
		sr.Status = model.StageStatusSkipped
		err = nil
		r.log.Debug("pipeline: stage skipped", zap.String("stage", name))
	case err == nil && sr.Status == model.StageStatusSkipped:
		r.log.Warn("pipeline: stage skipped",
			zap.String("stage", name),
			zap.String("error", sr.Error),
		)
	case err != nil:
		sr.Status = model.StageStatusFailed
		sr.Error = err.Error()
		r.log.Error("pipeline: stage failed",
			zap.String("stage", name),
			zap.String("error_kind", resilience.Classify(err)),
			zap.Int64("duration_ms", duration),
			zap.Error(err),
		)
	case sr.Status == model.StageStatusDegraded:
		r.res.Degraded = true
		r.log.Warn("pipeline: stage degraded",
			zap.String("stage", name),
			zap.Int64("duration_ms", duration),
			zap.String("error", sr.Error),
		)
	default:
		sr.Status = model.StageStatusComplete
		r.log.Info("pipeline: stage complete",
			zap.String("stage", name),
			zap.Int64("duration_ms", duration),
		)
	}

	r.res.Stages = append(r.res.Stages, *sr)
	r.p.report(name)
	return err
}

func (r *run) fail(err error) *model.ProcessingResult {
	r.res.Success = false
	r.res.Error = err.Error()
	return r.res
}

func degraded(err error, meta map[string]any) *model.StageResult {
	sr := &model.StageResult{Status: model.StageStatusDegraded, Metadata: meta}
	if err != nil {
		sr.Error = err.Error()
	}
	return sr
}

// Process runs one document through every stage. It never returns an
// error: failures are reported in the result.
func (p *Pipeline) Process(ctx context.Context, req Request) *model.ProcessingResult {
	start := time.Now()
	r := &run{
		p:   p,
		log: zap.L().With(zap.String("document", req.Path)),
		res: &model.ProcessingResult{},
	}
	defer func() {
		if p.deps.Recorder != nil {
			p.deps.Recorder.Record(r.res)
		}
	}()

	if p.deps.Fingerprinter == nil || p.deps.Parser == nil || p.deps.Builder == nil {
		return r.fail(eris.Wrap(resilience.ErrNotConfigured, "pipeline: fingerprinter, parser and builder are required"))
	}

	// Hash
	var fp *model.DocumentFingerprint
	if err := r.track(StageHash, func() (*model.StageResult, error) {
		v, attempts, err := resilience.DoValAttempts(ctx, p.retry.WithLogger("fingerprint", "hash"),
			func(ctx context.Context) (*model.DocumentFingerprint, error) {
				return p.deps.Fingerprinter.Fingerprint(ctx, req.Path)
			})
		if err != nil {
			return &model.StageResult{Attempts: attempts}, err
		}
		fp = v
		return &model.StageResult{
			Attempts: attempts,
			Metadata: map[string]any{"hash": fp.Hash, "page_count": fp.PageCount},
		}, nil
	}); err != nil {
		return r.fail(err)
	}
	docID := fp.Hash
	r.log = r.log.With(zap.String("document_id", docID))

	// Cache check
	var hit *model.DocumentGraph
	_ = r.track(StageCacheCheck, func() (*model.StageResult, error) {
		if p.deps.Cache == nil {
			return nil, errStageSkipped
		}
		cached, ok, err := p.deps.Cache.Lookup(ctx, docID)
		if err != nil {
			return degraded(err, nil), nil
		}
		if !ok {
			return &model.StageResult{Metadata: map[string]any{"hit": false}}, nil
		}
		var g model.DocumentGraph
		if err := cached.Decode(&g); err != nil {
			return degraded(eris.Wrap(err, "pipeline: decode cached graph"), map[string]any{"hit": false}), nil
		}
		hit = &g
		return &model.StageResult{Metadata: map[string]any{"hit": true}}, nil
	})
	if hit != nil {
		zero := 0.0
		r.res.Success = true
		r.res.Cached = true
		r.res.Data = hit
		r.res.CostUSD = &zero
		if p.deps.Cost != nil {
			p.deps.Cost.LogProcessing(ctx, docID, req.UserID, 0, true, time.Since(start).Milliseconds())
		}
		p.report(StageDone)
		r.log.Info("pipeline: served from cache", zap.Int64("duration_ms", time.Since(start).Milliseconds()))
		return r.res
	}

	// Type detection
	cls := model.DocumentTypeClassification{Kind: model.DocumentKindHybrid}
	if err := r.track(StageTypeDetect, func() (*model.StageResult, error) {
		if p.deps.Detector == nil {
			return nil, errStageSkipped
		}
		v, attempts, err := resilience.DoValAttempts(ctx, p.retry.WithLogger("doctype", "classify"),
			func(ctx context.Context) (*model.DocumentTypeClassification, error) {
				return p.deps.Detector.Classify(ctx, req.Path)
			})
		if err != nil {
			if errors.Is(err, resilience.ErrNotFound) {
				return &model.StageResult{Attempts: attempts}, err
			}
			sr := degraded(err, map[string]any{"kind": string(cls.Kind)})
			sr.Attempts = attempts
			return sr, nil
		}
		cls = *v
		return &model.StageResult{
			Attempts: attempts,
			Metadata: map[string]any{
				"kind":       string(cls.Kind),
				"confidence": cls.Confidence,
			},
		}, nil
	}); err != nil {
		return r.fail(err)
	}

	// Cost estimate
	var est model.CostEstimate
	_ = r.track(StageCost, func() (*model.StageResult, error) {
		if p.deps.Cost == nil {
			return nil, errStageSkipped
		}
		est = p.deps.Cost.Estimate(cls, fp.PageCount, false)
		return &model.StageResult{Metadata: map[string]any{
			"total_usd":         est.Total,
			"pages_needing_ocr": est.PagesNeedingOCR,
		}}, nil
	})

	// Parse
	var parse *model.ParseResult
	if err := r.track(StageParse, func() (*model.StageResult, error) {
		v, attempts, err := resilience.DoValAttempts(ctx, p.retry.WithLogger("parser", "parse"),
			func(ctx context.Context) (*model.ParseResult, error) {
				return p.deps.Parser.Parse(ctx, req.Path, &cls)
			})
		if err != nil {
			return &model.StageResult{Attempts: attempts}, err
		}
		parse = v
		return &model.StageResult{
			Attempts: attempts,
			Metadata: map[string]any{
				"method":     string(parse.MethodUsed),
				"service":    parse.Method,
				"confidence": parse.Confidence,
			},
		}, nil
	}); err != nil {
		return r.fail(err)
	}

	// Hierarchy
	var nodes []model.HierarchyNode
	_ = r.track(StageHierarchy, func() (*model.StageResult, error) {
		var strategy hierarchy.Strategy
		nodes, strategy = p.deps.Hierarchy.Extract(parse)
		return &model.StageResult{Metadata: map[string]any{
			"strategy": string(strategy),
			"nodes":    model.CountNodes(nodes),
		}}, nil
	})

	// Concept extraction
	var concepts []model.Concept
	var llmCost float64
	_ = r.track(StageExtract, func() (*model.StageResult, error) {
		build, err := p.deps.Builder.Build(ctx, docID, parse, nodes)
		if err != nil {
			return degraded(err, map[string]any{"concepts": 0}), nil
		}
		concepts = build.Concepts
		llmCost += build.LLMCostUSD
		meta := map[string]any{"concepts": len(concepts)}
		if len(build.Degraded) > 0 {
			meta["degraded_steps"] = build.Degraded
			return degraded(nil, meta), nil
		}
		return &model.StageResult{Metadata: meta}, nil
	})

	// Deduplication
	_ = r.track(StageDedupe, func() (*model.StageResult, error) {
		if p.deps.Dedupe == nil || len(concepts) < 2 {
			return nil, errStageSkipped
		}
		if p.autoMerge {
			var merged []dedupe.DuplicatePair
			concepts, merged = p.deps.Dedupe.Collapse(concepts)
			return &model.StageResult{Metadata: map[string]any{"merged": len(merged)}}, nil
		}
		pairs := dedupe.FindInSet(concepts, p.deps.Dedupe.Threshold())
		return &model.StageResult{Metadata: map[string]any{"duplicates": len(pairs)}}, nil
	})

	// Relationship classification
	var rels []model.Relationship
	_ = r.track(StageClassify, func() (*model.StageResult, error) {
		if p.deps.Classifier == nil || activeCount(concepts) < 2 {
			return nil, errStageSkipped
		}
		out := p.deps.Classifier.Classify(ctx, concepts)
		rels = out.Relationships
		llmCost += out.CostUSD
		meta := map[string]any{
			"relationships": len(rels),
			"candidates":    out.Candidates,
			"validated":     out.Validated,
		}
		if out.Fallbacks > 0 {
			meta["fallbacks"] = out.Fallbacks
		}
		return &model.StageResult{Metadata: meta}, nil
	})

	// Persist
	_ = r.track(StagePersist, func() (*model.StageResult, error) {
		return p.persist(ctx, r.log, docID, concepts, rels), nil
	})

	actual := est.Total
	if llmCost > 0 {
		actual = est.Total - est.Extraction + llmCost
	}
	r.res.CostUSD = &actual

	graph := &model.DocumentGraph{
		Fingerprint:    *fp,
		Classification: cls,
		ParseMethod:    parse.MethodUsed,
		Hierarchy:      nodes,
		Concepts:       concepts,
		Relationships:  rels,
	}

	// Cache store
	_ = r.track(StageCacheStore, func() (*model.StageResult, error) {
		if p.deps.Cache == nil {
			return nil, errStageSkipped
		}
		if err := p.deps.Cache.Store(ctx, docID, graph, p.cacheTTL); err != nil {
			// A failed store only costs a cache miss next time.
			return &model.StageResult{Status: model.StageStatusSkipped, Error: err.Error()}, nil
		}
		return nil, nil
	})

	durationMs := time.Since(start).Milliseconds()
	if p.deps.Cost != nil {
		p.deps.Cost.LogProcessing(ctx, docID, req.UserID, actual, false, durationMs)
	}

	r.res.Success = true
	r.res.Data = graph
	p.report(StageDone)
	r.log.Info("pipeline: document processed",
		zap.Int("concepts", len(concepts)),
		zap.Int("relationships", len(rels)),
		zap.Float64("cost_usd", actual),
		zap.Bool("degraded", r.res.Degraded),
		zap.Int64("duration_ms", durationMs),
	)
	return r.res
}

// persist writes concepts and relationships to the configured store, or to
// the in-memory fallback when it is missing, unreachable or rejects the
// write.
func (p *Pipeline) persist(ctx context.Context, log *zap.Logger, docID string, concepts []model.Concept, rels []model.Relationship) *model.StageResult {
	meta := map[string]any{"concepts": len(concepts), "relationships": len(rels)}

	var cause error
	if p.deps.Store != nil {
		if err := p.deps.Store.Ping(ctx); err != nil {
			cause = eris.Wrap(err, "pipeline: store unreachable")
		} else if err := write(ctx, p.deps.Store, docID, concepts, rels); err != nil {
			cause = err
		} else {
			meta["backend"] = "primary"
			return &model.StageResult{Metadata: meta}
		}
		log.Warn("pipeline: falling back to in-memory store", zap.Error(cause))
	}

	meta["backend"] = "memory"
	if err := write(ctx, p.fallback, docID, concepts, rels); err != nil {
		return degraded(err, meta)
	}
	if cause != nil {
		return degraded(cause, meta)
	}
	return &model.StageResult{Metadata: meta}
}

func write(ctx context.Context, s store.Store, docID string, concepts []model.Concept, rels []model.Relationship) error {
	if err := s.UpsertConcepts(ctx, concepts); err != nil {
		return eris.Wrap(err, "pipeline: upsert concepts")
	}
	if err := s.UpsertRelationships(ctx, docID, rels); err != nil {
		return eris.Wrap(err, "pipeline: upsert relationships")
	}
	return nil
}

func activeCount(concepts []model.Concept) int {
	n := 0
	for i := range concepts {
		if !concepts[i].IsMerged() {
			n++
		}
	}
	return n
}
