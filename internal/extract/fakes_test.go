package extract

import (
	"context"
	"strings"

	"github.com/sells-group/docgraph/pkg/anthropic"
)

type fakeStrategy struct {
	name        string
	kws         []Keyword
	err         error
	unavailable bool
}

func (f *fakeStrategy) Name() string    { return f.name }
func (f *fakeStrategy) Available() bool { return !f.unavailable }

func (f *fakeStrategy) Extract(context.Context, string, int) ([]Keyword, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]Keyword, len(f.kws))
	copy(out, f.kws)
	return out, nil
}

// fakeEmbedder maps any text mentioning "machine" onto the document axis.
type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) vec(text string) []float32 {
	if strings.Contains(strings.ToLower(text), "machine") {
		return []float32{1, 0}
	}
	return []float32{0, 1}
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if strings.Contains(text, ".") {
		return []float32{1, 0}, nil
	}
	return f.vec(text), nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	if f.err != nil {
		return out
	}
	for i, t := range texts {
		out[i] = f.vec(t)
	}
	return out
}

type fakeLLM struct {
	resp *anthropic.MessageResponse
	err  error
	reqs []anthropic.MessageRequest
}

func (f *fakeLLM) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.reqs = append(f.reqs, req)
	return f.resp, f.err
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: 1000, OutputTokens: 200},
	}
}
