package anthropic

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docgraph/internal/resilience"
)

// Prompt is a single-turn request whose system prompt is shared across
// documents and therefore cached.
type Prompt struct {
	Model     string
	MaxTokens int64
	System    string
	User      string
	// Stage names the caller in retry and cost logs.
	Stage string
}

// Completion is the reply to a Prompt.
type Completion struct {
	Text    string
	Usage   TokenUsage
	CostUSD float64
}

// Complete sends p at temperature 0 behind the shared rate limiter and the
// retry policy. limiters may be nil.
func Complete(ctx context.Context, c Client, p Prompt, retry resilience.RetryConfig, limiters *resilience.RateLimiters) (*Completion, error) {
	temp := 0.0
	req := MessageRequest{
		Model:       p.Model,
		MaxTokens:   p.MaxTokens,
		System:      BuildCachedSystemBlocks(p.System),
		Messages:    []Message{{Role: "user", Content: p.User}},
		Temperature: &temp,
	}

	resp, err := resilience.DoVal(ctx, retry.WithLogger(resilience.ServiceAnthropic, p.Stage), func(ctx context.Context) (*MessageResponse, error) {
		if err := limiters.Wait(ctx, resilience.ServiceAnthropic); err != nil {
			return nil, err
		}
		return c.CreateMessage(ctx, req)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "anthropic: complete %s", p.Stage)
	}

	resp.Usage.LogCost(p.Model, p.Stage)
	return &Completion{
		Text:    resp.Text(),
		Usage:   resp.Usage,
		CostUSD: resp.Usage.EstimateCost(p.Model),
	}, nil
}
