package extract

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/docgraph/internal/resilience"
	"github.com/sells-group/docgraph/pkg/anthropic"
)

const definerSystemPrompt = `You define concepts found in learning material.
For each requested term write a one or two sentence definition grounded in the text, and quote up to two source sentences verbatim.
Respond with JSON only: {"concepts":[{"term":"...","definition":"...","source_sentences":["..."]}]}
If you cannot produce JSON, respond with XML: <concepts><concept><term></term><definition></definition><source_sentences><sentence></sentence></source_sentences></concept></concepts>`

// DefaultMaxPromptChars bounds the document text sent with a prompt.
const DefaultMaxPromptChars = 60000

// Definer attaches definitions to terms with the LLM.
type Definer struct {
	client         anthropic.Client
	model          string
	maxTokens      int64
	maxPromptChars int
	retry          resilience.RetryConfig
	limiters       *resilience.RateLimiters
	parsers        []ResponseParser
}

// DefinerOption configures a Definer.
type DefinerOption func(*Definer)

// WithDefinerRetry sets the retry policy for model calls.
func WithDefinerRetry(cfg resilience.RetryConfig) DefinerOption {
	return func(d *Definer) { d.retry = cfg }
}

// WithDefinerRateLimiters gates model calls through the shared limiter.
func WithDefinerRateLimiters(l *resilience.RateLimiters) DefinerOption {
	return func(d *Definer) { d.limiters = l }
}

// NewDefiner creates a Definer.
func NewDefiner(client anthropic.Client, model string, maxTokens int64, maxPromptChars int, opts ...DefinerOption) *Definer {
	if maxPromptChars <= 0 {
		maxPromptChars = DefaultMaxPromptChars
	}
	d := &Definer{
		client:         client,
		model:          model,
		maxTokens:      maxTokens,
		maxPromptChars: maxPromptChars,
		retry:          resilience.DefaultRetryConfig(),
		parsers:        DefaultParsers,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Define asks the model for definitions of terms. Definitions are keyed by
// the case-folded term. An unparseable response yields an empty map, not an
// error. The returned cost is the estimated USD spent on the call.
func (d *Definer) Define(ctx context.Context, text string, terms []string) (map[string]Definition, float64, error) {
	if len(terms) == 0 {
		return map[string]Definition{}, 0, nil
	}

	resp, err := anthropic.Complete(ctx, d.client, anthropic.Prompt{
		Model:     d.model,
		MaxTokens: d.maxTokens,
		System:    definerSystemPrompt,
		User:      d.prompt(text, terms),
		Stage:     "define",
	}, d.retry, d.limiters)
	if err != nil {
		return nil, 0, eris.Wrap(err, "extract: define concepts")
	}
	cost := resp.CostUSD

	outcome := ParseResponse(resp.Text, d.parsers)
	if !outcome.Parsed() {
		zap.L().Warn("extract: definition response unparseable",
			zap.Int("response_chars", len(resp.Text)),
		)
		return map[string]Definition{}, cost, nil
	}

	defs := make(map[string]Definition, len(outcome.Definitions))
	for _, def := range outcome.Definitions {
		if def.Definition == "" {
			continue
		}
		defs[Key(def.Term)] = def
	}
	zap.L().Debug("extract: definitions parsed",
		zap.String("parser", outcome.Parser),
		zap.Int("requested", len(terms)),
		zap.Int("defined", len(defs)),
	)
	return defs, cost, nil
}

func (d *Definer) prompt(text string, terms []string) string {
	if r := []rune(text); len(r) > d.maxPromptChars {
		text = string(r[:d.maxPromptChars])
	}
	var b strings.Builder
	b.WriteString("Terms:\n")
	for _, t := range terms {
		b.WriteString("- ")
		b.WriteString(t)
		b.WriteByte('\n')
	}
	b.WriteString("\nText:\n")
	b.WriteString(text)
	return b.String()
}
