package ocr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docgraph/internal/config"
	"github.com/sells-group/docgraph/internal/model"
	"github.com/sells-group/docgraph/internal/pdfdoc/pdftest"
	"github.com/sells-group/docgraph/internal/resilience"
)

func writeFakePDF(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 test content"), 0o644))
	return path
}

func TestNewMarkdownExtractor_MissingKey(t *testing.T) {
	_, err := NewMarkdownExtractor(config.OCRConfig{})
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrNotConfigured)
}

func TestNewMarkdownExtractor_WithKey(t *testing.T) {
	ext, err := NewMarkdownExtractor(config.OCRConfig{MistralKey: "test-key", MistralURL: "http://ocr.local"})
	require.NoError(t, err)
	require.IsType(t, &MistralOCR{}, ext)
	assert.Equal(t, "http://ocr.local", ext.(*MistralOCR).endpoint)
}

func TestNewLayoutExtractor(t *testing.T) {
	_, err := NewLayoutExtractor(config.OCRConfig{})
	assert.ErrorIs(t, err, resilience.ErrNotConfigured)

	ext, err := NewLayoutExtractor(config.OCRConfig{LayoutURL: "http://layout.local"})
	require.NoError(t, err)
	assert.IsType(t, &LayoutClient{}, ext)
}

func TestMistralOCR_DefaultModel(t *testing.T) {
	m := NewMistralOCR("key", "")
	assert.Equal(t, defaultMistralModel, m.model)
	assert.Equal(t, mistralOCREndpoint, m.endpoint)
}

func TestMistralOCR_Extract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req mistralOCRRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Equal(t, "document_url", req.Document.Type)
		assert.Contains(t, req.Document.DocumentURL, "data:application/pdf;base64,")

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(mistralOCRResponse{
			Pages: []mistralOCRPage{
				{Index: 1, Markdown: "## Section 1.1\nPage two content"},
				{Index: 0, Markdown: "# Chapter 1\nPage one content"},
			},
		})
	}))
	defer srv.Close()

	m := NewMistralOCR("test-key", "test-model", WithEndpoint(srv.URL))
	res, err := m.Extract(context.Background(), writeFakePDF(t))
	require.NoError(t, err)
	assert.True(t, res.Markdown)
	require.Len(t, res.Pages, 2)
	assert.Contains(t, res.Pages[0], "Chapter 1")
	assert.Contains(t, res.Pages[1], "Section 1.1")
}

func TestMistralOCR_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusUnauthorized, false},
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tt.status)
			_, _ = w.Write([]byte(`{"error":"nope"}`))
		}))

		m := NewMistralOCR("key", "model", WithEndpoint(srv.URL))
		_, err := m.Extract(context.Background(), writeFakePDF(t))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mistral API returned")
		assert.Equal(t, tt.transient, resilience.IsTransient(err), "status %d", tt.status)
		srv.Close()
	}
}

func TestMistralOCR_FileNotFound(t *testing.T) {
	m := NewMistralOCR("key", "model")
	_, err := m.Extract(context.Background(), "/nonexistent/file.pdf")
	require.Error(t, err)
	assert.True(t, errors.Is(err, resilience.ErrIO))
}

func TestLayoutClient_Extract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req layoutRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test.pdf", req.Filename)
		assert.NotEmpty(t, req.Content)

		_, _ = w.Write([]byte(`{
			"page_count": 2,
			"blocks": [
				{"type": "title", "text": "Networking Basics", "page": 1},
				{"type": "section-header", "text": "Chapter 1 Protocols", "page": 1, "level": 1},
				{"type": "text", "text": "A protocol is a set of rules.", "page": 1},
				{"type": "line", "text": "   ", "page": 2},
				{"type": "line", "text": "TCP is a type of protocol.", "page": 2}
			]
		}`))
	}))
	defer srv.Close()

	c := NewLayoutClient(srv.URL, "")
	res, err := c.Extract(context.Background(), writeFakePDF(t))
	require.NoError(t, err)

	require.Len(t, res.Blocks, 4)
	assert.Equal(t, model.LayoutRoleTitle, res.Blocks[0].Role)
	assert.Equal(t, model.LayoutRoleSectionHeader, res.Blocks[1].Role)
	assert.Equal(t, model.LayoutRoleLine, res.Blocks[2].Role)
	require.Len(t, res.Pages, 2)
	assert.Contains(t, res.Pages[0], "A protocol is a set of rules.")
	assert.Equal(t, "TCP is a type of protocol.", res.Pages[1])
	assert.False(t, res.Markdown)
}

func TestLayoutClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewLayoutClient(srv.URL, "k").Extract(context.Background(), writeFakePDF(t))
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestLocal_Extract(t *testing.T) {
	path := pdftest.Write(t, t.TempDir(), "doc.pdf", []pdftest.Page{
		pdftest.TextPage("Processes and threads"),
		pdftest.TextPage("A thread is part of a process."),
	}, pdftest.Options{})

	res, err := NewLocal().Extract(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, res.Pages, 2)
	assert.Contains(t, res.Pages[1], "thread is part of a process")
}

func TestLocal_ExtractCorrupt(t *testing.T) {
	_, err := NewLocal().Extract(context.Background(), writeFakePDF(t))
	assert.ErrorIs(t, err, resilience.ErrIO)
}
