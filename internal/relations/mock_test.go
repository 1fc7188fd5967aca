package relations

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/docgraph/internal/model"
	"github.com/sells-group/docgraph/pkg/anthropic"
)

// --- Anthropic Mock ---

type mockAnthropicClient struct {
	mock.Mock
}

func (m *mockAnthropicClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: 500, OutputTokens: 20},
	}
}

// --- Validator Mock ---

type mockValidator struct {
	mock.Mock
}

func (m *mockValidator) Validate(ctx context.Context, source, target *model.Concept, prior PatternResult) (*Verdict, error) {
	args := m.Called(ctx, source, target, prior)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Verdict), args.Error(1)
}
