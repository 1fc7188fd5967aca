// Package parser turns a PDF into text through an ordered fallback chain of
// extraction methods.
package parser

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/docgraph/internal/hierarchy"
	"github.com/sells-group/docgraph/internal/model"
	"github.com/sells-group/docgraph/internal/ocr"
	"github.com/sells-group/docgraph/internal/resilience"
)

// Default acceptance thresholds. A result is accepted when its confidence
// is strictly greater than the threshold.
const (
	DefaultPrimaryThreshold   = 0.8
	DefaultSecondaryThreshold = 0.6
	DefaultMethodTimeout      = 5 * time.Minute
)

// profile weights the confidence heuristic for one method.
type profile struct {
	base      float64
	density   float64
	structure float64
}

var (
	primaryProfile   = profile{base: 0.70, density: 0.15, structure: 0.15}
	secondaryProfile = profile{base: 0.55, density: 0.20, structure: 0.15}
	tertiaryProfile  = profile{base: 0.30, density: 0.30}
)

// densityTarget is the per-page character count treated as a full page.
const densityTarget = 500.0

var (
	mdHeadingRe = regexp.MustCompile(`(?m)^#{1,6}\s+\S`)
	mdMarkupRe  = regexp.MustCompile("(?m)^#{1,6}\\s+|[*`]+|^\\s*[-|]+\\s*$|\\|")

	// Underscores are emphasis only at a word edge; inner ones as in
	// max_tokens are text.
	mdOpenUnderRe  = regexp.MustCompile(`(?m)(^|[^\p{L}\p{N}_])_+`)
	mdCloseUnderRe = regexp.MustCompile(`(?m)_+([^\p{L}\p{N}_]|$)`)
)

// stripMarkdown reduces OCR markdown to plain text.
func stripMarkdown(md string) string {
	text := mdMarkupRe.ReplaceAllString(md, "")
	text = mdOpenUnderRe.ReplaceAllString(text, "${1}")
	return mdCloseUnderRe.ReplaceAllString(text, "${1}")
}

type step struct {
	method    model.ParseMethod
	extractor ocr.Extractor
	threshold float64
	profile   profile
}

// Parser runs the fallback chain A (markdown OCR) -> B (layout OCR) ->
// C (local text). A and B are optional; C is always present.
type Parser struct {
	primary   ocr.Extractor
	secondary ocr.Extractor
	tertiary  ocr.Extractor

	primaryThreshold   float64
	secondaryThreshold float64
	methodTimeout      time.Duration

	retry    resilience.RetryConfig
	limiters *resilience.RateLimiters
	circuit  resilience.CircuitBreakerConfig
	breakers map[string]*resilience.CircuitBreaker
}

// Option configures a Parser.
type Option func(*Parser)

// WithPrimary sets method A.
func WithPrimary(e ocr.Extractor) Option { return func(p *Parser) { p.primary = e } }

// WithSecondary sets method B.
func WithSecondary(e ocr.Extractor) Option { return func(p *Parser) { p.secondary = e } }

// WithTertiary replaces the local text method C.
func WithTertiary(e ocr.Extractor) Option { return func(p *Parser) { p.tertiary = e } }

// WithThresholds overrides the acceptance thresholds for A and B.
func WithThresholds(primary, secondary float64) Option {
	return func(p *Parser) {
		p.primaryThreshold = primary
		p.secondaryThreshold = secondary
	}
}

// WithMethodTimeout bounds each external method including its retries.
func WithMethodTimeout(d time.Duration) Option {
	return func(p *Parser) {
		if d > 0 {
			p.methodTimeout = d
		}
	}
}

// WithRetry sets the retry policy for external methods.
func WithRetry(cfg resilience.RetryConfig) Option { return func(p *Parser) { p.retry = cfg } }

// WithRateLimiters shares a rate limiter registry across parsers.
func WithRateLimiters(l *resilience.RateLimiters) Option {
	return func(p *Parser) { p.limiters = l }
}

// WithCircuit sets the circuit breaker policy for external methods.
func WithCircuit(cfg resilience.CircuitBreakerConfig) Option {
	return func(p *Parser) { p.circuit = cfg }
}

// New creates a Parser.
func New(opts ...Option) *Parser {
	p := &Parser{
		tertiary:           ocr.NewLocal(),
		primaryThreshold:   DefaultPrimaryThreshold,
		secondaryThreshold: DefaultSecondaryThreshold,
		methodTimeout:      DefaultMethodTimeout,
		retry:              resilience.DefaultRetryConfig(),
		circuit:            resilience.DefaultCircuitBreakerConfig(),
		breakers:           make(map[string]*resilience.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(p)
	}
	for _, e := range []ocr.Extractor{p.primary, p.secondary} {
		if e != nil {
			p.breakers[e.Name()] = resilience.NewCircuitBreaker(e.Name(), p.circuit)
		}
	}
	return p
}

// Parse extracts text from the PDF at path. External method failures are
// logged and skipped; only a failure of the local method with nothing else
// to fall back on returns ErrParseExhausted.
func (p *Parser) Parse(ctx context.Context, path string, cls *model.DocumentTypeClassification) (*model.ParseResult, error) {
	log := zap.L().With(zap.String("document", path))

	steps := []step{
		{method: model.ParseMethodPrimary, extractor: p.primary, threshold: p.primaryThreshold, profile: primaryProfile},
		{method: model.ParseMethodSecondary, extractor: p.secondary, threshold: p.secondaryThreshold, profile: secondaryProfile},
	}
	if cls != nil && cls.Kind == model.DocumentKindScanned {
		steps[0], steps[1] = steps[1], steps[0]
	}

	// best holds the highest-scoring external result that missed its
	// threshold; it is returned only if the local method fails too.
	var best *model.ParseResult
	for _, s := range steps {
		if s.extractor == nil {
			log.Debug("parser: method not configured, skipping", zap.String("method", string(s.method)))
			continue
		}
		res, attempts, err := p.runExternal(ctx, s.extractor, path)
		if err != nil {
			log.Warn("parser: method failed",
				zap.String("method", string(s.method)),
				zap.String("service", s.extractor.Name()),
				zap.String("error_kind", resilience.Classify(err)),
				zap.Error(err),
			)
			continue
		}
		pr := toParseResult(res, s.method, s.extractor.Name(), s.profile)
		pr.Metadata["attempts"] = attempts
		if pr.Confidence > s.threshold {
			log.Info("parser: accepted",
				zap.String("method", string(s.method)),
				zap.String("service", s.extractor.Name()),
				zap.Float64("confidence", pr.Confidence),
			)
			return pr, nil
		}
		log.Info("parser: confidence below threshold",
			zap.String("method", string(s.method)),
			zap.Float64("confidence", pr.Confidence),
			zap.Float64("threshold", s.threshold),
		)
		if best == nil || pr.Confidence > best.Confidence {
			best = pr
		}
	}

	res, err := p.tertiary.Extract(ctx, path)
	if err != nil {
		if best != nil {
			log.Warn("parser: local extraction failed, using below-threshold result",
				zap.String("method", string(best.MethodUsed)), zap.Error(err))
			return best, nil
		}
		return nil, eris.Wrapf(resilience.ErrParseExhausted, "parser: %s: %v", path, err)
	}
	pr := toParseResult(res, model.ParseMethodTertiary, p.tertiary.Name(), tertiaryProfile)
	log.Info("parser: accepted",
		zap.String("method", string(pr.MethodUsed)),
		zap.String("service", pr.Method),
		zap.Float64("confidence", pr.Confidence),
	)
	return pr, nil
}

// runExternal calls an external method behind the shared rate limiter, its
// circuit breaker and the retry policy, bounded by the method timeout.
func (p *Parser) runExternal(ctx context.Context, e ocr.Extractor, path string) (*ocr.Result, int, error) {
	ctx, cancel := context.WithTimeout(ctx, p.methodTimeout)
	defer cancel()

	cb := p.breakers[e.Name()]
	retry := p.retry.WithLogger(e.Name(), "extract")
	return resilience.DoValAttempts(ctx, retry, func(ctx context.Context) (*ocr.Result, error) {
		if err := p.limiters.Wait(ctx, e.Name()); err != nil {
			return nil, err
		}
		return resilience.ExecuteVal(ctx, cb, func(ctx context.Context) (*ocr.Result, error) {
			return e.Extract(ctx, path)
		})
	})
}

func toParseResult(res *ocr.Result, method model.ParseMethod, name string, prof profile) *model.ParseResult {
	joined := strings.Join(res.Pages, hierarchy.PageBreak)
	pr := &model.ParseResult{
		Text:       joined,
		MethodUsed: method,
		Method:     name,
		Layout:     res.Blocks,
		PageTexts:  res.Pages,
		Metadata: map[string]any{
			"pages":  len(res.Pages),
			"blocks": len(res.Blocks),
		},
	}
	if res.Markdown {
		pr.Markdown = joined
		pr.Text = stripMarkdown(joined)
	}
	pr.Confidence = confidence(res, prof)
	return pr
}

// confidence scores a method's output from text density and detected
// structure, weighted by the method's profile.
func confidence(res *ocr.Result, prof profile) float64 {
	if res == nil || len(res.Pages) == 0 {
		return 0
	}
	chars := 0
	for _, page := range res.Pages {
		chars += utf8.RuneCountInString(strings.TrimSpace(page))
	}
	if chars == 0 {
		return 0
	}
	density := min(1, float64(chars)/float64(len(res.Pages))/densityTarget)

	headings := 0
	if res.Markdown {
		for _, page := range res.Pages {
			headings += len(mdHeadingRe.FindAllStringIndex(page, -1))
		}
	}
	for _, b := range res.Blocks {
		if b.Role == model.LayoutRoleTitle || b.Role == model.LayoutRoleSectionHeader {
			headings++
		}
	}
	structure := min(1, float64(headings)/3)

	return min(1, prof.base+prof.density*density+prof.structure*structure)
}
