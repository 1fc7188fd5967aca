package relations

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docgraph/internal/model"
	"github.com/sells-group/docgraph/internal/resilience"
	"github.com/sells-group/docgraph/pkg/anthropic"
)

// Verdict is a validator's refined classification for a pair.
type Verdict struct {
	Category model.StructureCategory `json:"category"`
	Type     model.RelationshipType  `json:"type"`
	Strength float64                 `json:"strength"`
	CostUSD  float64                 `json:"-"`
}

// Validator refines a pattern result for a concept pair.
type Validator interface {
	Validate(ctx context.Context, source, target *model.Concept, prior PatternResult) (*Verdict, error)
}

const validatorSystemPrompt = `You classify the relationship between two concepts from learning material.
Categories: hierarchical (is_a, has_component, part_of, instance_of, contains), sequential (precedes, enables, causes, follows, leads_to), unclassified (related_to).
You receive a keyword-based prior. Confirm or correct it.
Respond with JSON only: {"category":"...","type":"...","strength":0.0}`

var (
	verdictObjectRe   = regexp.MustCompile(`(?s)\{.*\}`)
	verdictCategoryRe = regexp.MustCompile(`(?i)"?category"?\s*[:=]\s*"?([a-z_]+)`)
	verdictTypeRe     = regexp.MustCompile(`(?i)"?type"?\s*[:=]\s*"?([a-z_]+)`)
	verdictStrengthRe = regexp.MustCompile(`(?i)"?strength"?\s*[:=]\s*"?([0-9.]+)`)
)

// LLMValidator asks the model to confirm or correct the pattern prior.
type LLMValidator struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	retry     resilience.RetryConfig
	limiters  *resilience.RateLimiters
}

// NewLLMValidator creates an LLMValidator.
func NewLLMValidator(client anthropic.Client, model string, retry resilience.RetryConfig, limiters *resilience.RateLimiters) *LLMValidator {
	return &LLMValidator{
		client:    client,
		model:     model,
		maxTokens: 256,
		retry:     retry,
		limiters:  limiters,
	}
}

// Validate implements Validator. An unparseable or out-of-vocabulary reply
// is an error so the caller keeps the pattern result.
func (v *LLMValidator) Validate(ctx context.Context, source, target *model.Concept, prior PatternResult) (*Verdict, error) {
	resp, err := anthropic.Complete(ctx, v.client, anthropic.Prompt{
		Model:     v.model,
		MaxTokens: v.maxTokens,
		System:    validatorSystemPrompt,
		User:      validatorPrompt(source, target, prior),
		Stage:     "validate_relationship",
	}, v.retry, v.limiters)
	if err != nil {
		return nil, eris.Wrap(err, "relations: validate")
	}

	verdict, err := parseVerdict(resp.Text)
	if err != nil {
		return nil, err
	}
	verdict.CostUSD = resp.CostUSD
	return verdict, nil
}

func validatorPrompt(source, target *model.Concept, prior PatternResult) string {
	var b strings.Builder
	for _, c := range []*model.Concept{source, target} {
		fmt.Fprintf(&b, "Concept: %s\nDefinition: %s\n", c.Term, c.Definition)
		for _, s := range c.SourceSentences {
			fmt.Fprintf(&b, "Sentence: %s\n", s)
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "Prior: category=%s type=%s confidence=%.2f (hierarchical hits %d, sequential hits %d)\n",
		prior.Category, prior.Type, prior.Confidence, prior.HierarchicalHits, prior.SequentialHits)
	fmt.Fprintf(&b, "Direction: %s -> %s\n", source.Term, target.Term)
	return b.String()
}

// parseVerdict reads a strict JSON object first and falls back to
// key/value salvage.
func parseVerdict(text string) (*Verdict, error) {
	var v Verdict
	ok := false
	if obj := verdictObjectRe.FindString(text); obj != "" {
		ok = json.Unmarshal([]byte(obj), &v) == nil && v.Category != ""
	}
	if !ok {
		m := verdictCategoryRe.FindStringSubmatch(text)
		if m == nil {
			return nil, eris.New("relations: validator response unparseable")
		}
		v = Verdict{Category: model.StructureCategory(strings.ToLower(m[1]))}
		if t := verdictTypeRe.FindStringSubmatch(text); t != nil {
			v.Type = model.RelationshipType(strings.ToLower(t[1]))
		}
		if s := verdictStrengthRe.FindStringSubmatch(text); s != nil {
			v.Strength, _ = strconv.ParseFloat(s[1], 64)
		}
	}

	switch v.Category {
	case model.CategoryHierarchical, model.CategorySequential, model.CategoryUnclassified:
	default:
		return nil, eris.Errorf("relations: validator returned unknown category %q", v.Category)
	}
	if !model.ValidType(v.Category, v.Type) {
		v.Type = model.DefaultType(v.Category)
	}
	v.Strength = min(1, max(0, v.Strength))
	return &v, nil
}
