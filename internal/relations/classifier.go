// Package relations classifies relationships between co-occurring concepts.
package relations

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/docgraph/internal/model"
)

// DefaultMaxValidations caps validator calls per Classify.
const DefaultMaxValidations = 50

const validateConcurrency = 4

// Stage is where a pair ended up in classification.
type Stage string

const (
	StagePatternOnly Stage = "pattern_only"
	StageValidated   Stage = "validated"
	StageFallback    Stage = "validation_failed"
)

// Result is the output of one Classify call.
type Result struct {
	Relationships []model.Relationship `json:"relationships"`
	Candidates    int                  `json:"candidates"`
	Validated     int                  `json:"validated"`
	Fallbacks     int                  `json:"fallbacks"`
	CostUSD       float64              `json:"cost_usd"`
}

// Classifier runs candidate gating, pattern scoring, and optional
// validation.
type Classifier struct {
	families       *Families
	validator      Validator
	maxPageGap     int
	maxValidations int
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithFamilies replaces the keyword families.
func WithFamilies(f *Families) Option { return func(c *Classifier) { c.families = f } }

// WithValidator enables validation of pattern results.
func WithValidator(v Validator) Option { return func(c *Classifier) { c.validator = v } }

// WithMaxPageGap sets the page distance for the nearby-pages gate.
func WithMaxPageGap(n int) Option { return func(c *Classifier) { c.maxPageGap = n } }

// WithMaxValidations caps validator calls per Classify.
func WithMaxValidations(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.maxValidations = n
		}
	}
}

// New creates a Classifier with the default families.
func New(opts ...Option) *Classifier {
	c := &Classifier{
		families:       DefaultFamilies(),
		maxPageGap:     DefaultMaxPageGap,
		maxValidations: DefaultMaxValidations,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type scored struct {
	pair    Pair
	pattern PatternResult
	verdict *Verdict
	stage   Stage
}

// Classify returns relationships for the candidate pairs of concepts. Pairs
// without any keyword match are dropped. Validator failures keep the pattern
// result.
func (c *Classifier) Classify(ctx context.Context, concepts []model.Concept) *Result {
	pairs := Candidates(concepts, c.maxPageGap)
	res := &Result{Candidates: len(pairs)}

	var items []*scored
	for _, p := range pairs {
		pr := c.families.PatternScore(p.Source, p.Target)
		if pr.Hits() == 0 {
			continue
		}
		items = append(items, &scored{pair: p, pattern: pr, stage: StagePatternOnly})
	}

	if c.validator != nil {
		c.validate(ctx, items, res)
	}

	for _, it := range items {
		rel, err := c.toRelationship(it)
		if err != nil {
			zap.L().Debug("relations: pair skipped", zap.Error(err))
			continue
		}
		res.Relationships = append(res.Relationships, *rel)
	}

	zap.L().Info("relations: classified",
		zap.Int("concepts", len(concepts)),
		zap.Int("candidates", res.Candidates),
		zap.Int("relationships", len(res.Relationships)),
		zap.Int("validated", res.Validated),
		zap.Int("fallbacks", res.Fallbacks),
	)
	return res
}

func (c *Classifier) validate(ctx context.Context, items []*scored, res *Result) {
	n := min(len(items), c.maxValidations)
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(validateConcurrency)
	for _, it := range items[:n] {
		g.Go(func() error {
			v, err := c.validator.Validate(gctx, it.pair.Source, it.pair.Target, it.pattern)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				it.stage = StageFallback
				res.Fallbacks++
				zap.L().Warn("relations: validation failed, using pattern result",
					zap.String("source", it.pair.Source.ID),
					zap.String("target", it.pair.Target.ID),
					zap.Error(err),
				)
				return nil
			}
			it.verdict = v
			it.stage = StageValidated
			res.Validated++
			res.CostUSD += v.CostUSD
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Classifier) toRelationship(it *scored) (*model.Relationship, error) {
	cat, typ, strength := it.pattern.Category, it.pattern.Type, it.pattern.Confidence
	if it.verdict != nil {
		cat, typ = it.verdict.Category, it.verdict.Type
		if it.verdict.Strength > 0 {
			strength = it.verdict.Strength
		}
	}
	rel, err := model.NewRelationship(it.pair.Source.ID, it.pair.Target.ID, cat, typ, strength)
	if err != nil {
		return nil, err
	}
	rel.Evidence = it.pattern.Evidence
	return rel, nil
}
