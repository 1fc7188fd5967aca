// Package extract finds concepts in document text by combining independent
// keyword strategies and attaching definitions.
package extract

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/docgraph/internal/model"
)

// MinMethodsForConfidence is the agreement needed for a term to be kept.
const MinMethodsForConfidence = 2

// candidatesPerTerm widens each strategy's list so their outputs overlap.
const candidatesPerTerm = 3

// ErrNoStrategies is returned when no strategy produced any output.
var ErrNoStrategies = eris.New("extract: every strategy failed or was unavailable")

// StrategyResult is one strategy's normalized output.
type StrategyResult struct {
	Strategy string
	Keywords []Keyword
	Err      error
}

// Voted is the combined verdict for one term.
type Voted struct {
	Term         string
	Key          string
	Confidence   float64
	MethodsFound int
	Methods      []string
	Scores       []float64
}

// HighConfidence reports whether enough strategies agreed on the term.
func (v Voted) HighConfidence() bool {
	return v.MethodsFound >= MinMethodsForConfidence
}

// Vote combines strategy outputs. Terms are joined by their case-folded key;
// confidence is mean(score) * methodsFound / totalMethods. Failed results
// contribute no votes. Output is sorted by confidence descending, then key.
func Vote(results []StrategyResult, totalMethods int) []Voted {
	if totalMethods <= 0 {
		totalMethods = len(results)
	}
	byKey := make(map[string]*Voted)
	var order []*Voted

	for _, r := range results {
		if r.Err != nil {
			continue
		}
		seen := make(map[string]int)
		for _, kw := range r.Keywords {
			key := Key(kw.Term)
			if key == "" {
				continue
			}
			v, ok := byKey[key]
			if !ok {
				v = &Voted{Term: kw.Term, Key: key}
				byKey[key] = v
				order = append(order, v)
			}
			if idx, dup := seen[key]; dup {
				if kw.Score > v.Scores[idx] {
					v.Scores[idx] = kw.Score
				}
				continue
			}
			seen[key] = len(v.Scores)
			v.Scores = append(v.Scores, kw.Score)
			v.Methods = append(v.Methods, r.Strategy)
			v.MethodsFound++
		}
	}

	out := make([]Voted, 0, len(order))
	for _, v := range order {
		var sum float64
		for _, s := range v.Scores {
			sum += s
		}
		mean := sum / float64(len(v.Scores))
		v.Confidence = mean * float64(v.MethodsFound) / float64(totalMethods)
		out = append(out, *v)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Ensemble runs strategies concurrently and votes on their output.
type Ensemble struct {
	strategies []Strategy
}

// NewEnsemble creates an Ensemble. Every strategy passed counts towards
// the vote denominator whether or not it is available.
func NewEnsemble(strategies ...Strategy) *Ensemble {
	return &Ensemble{strategies: strategies}
}

// Strategies returns the configured strategy names.
func (e *Ensemble) Strategies() []string {
	names := make([]string, len(e.strategies))
	for i, s := range e.strategies {
		names[i] = s.Name()
	}
	return names
}

// Extract returns up to topN high-confidence concepts. A failing or
// unavailable strategy contributes zero votes; ErrNoStrategies is returned
// only when none produced output.
func (e *Ensemble) Extract(ctx context.Context, text string, topN int) ([]model.Concept, error) {
	voted, err := e.Vote(ctx, text, topN)
	if err != nil {
		return nil, err
	}

	concepts := make([]model.Concept, 0, topN)
	for _, v := range voted {
		if !v.HighConfidence() {
			continue
		}
		concepts = append(concepts, model.Concept{
			Term:              v.Term,
			Confidence:        v.Confidence,
			MethodsFound:      v.MethodsFound,
			ExtractionMethods: v.Methods,
		})
		if topN > 0 && len(concepts) == topN {
			break
		}
	}
	return concepts, nil
}

// Vote runs every strategy and returns the full, unfiltered vote.
func (e *Ensemble) Vote(ctx context.Context, text string, topN int) ([]Voted, error) {
	results := make([]StrategyResult, len(e.strategies))
	perStrategy := max(topN, 1) * candidatesPerTerm

	g, gctx := errgroup.WithContext(ctx)
	for i, s := range e.strategies {
		results[i].Strategy = s.Name()
		if !s.Available() {
			results[i].Err = eris.Errorf("extract: strategy %s unavailable", s.Name())
			zap.L().Debug("extract: strategy unavailable", zap.String("strategy", s.Name()))
			continue
		}
		g.Go(func() error {
			start := time.Now()
			kws, err := s.Extract(gctx, text, perStrategy)
			if err != nil {
				results[i].Err = err
				zap.L().Warn("extract: strategy failed",
					zap.String("strategy", s.Name()),
					zap.Error(err),
				)
				return nil
			}
			results[i].Keywords = Normalize(kws)
			zap.L().Debug("extract: strategy complete",
				zap.String("strategy", s.Name()),
				zap.Int("keywords", len(kws)),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "extract: ensemble")
	}
	ok := 0
	for _, r := range results {
		if r.Err == nil {
			ok++
		}
	}
	if ok == 0 {
		return nil, ErrNoStrategies
	}
	return Vote(results, len(e.strategies)), nil
}
