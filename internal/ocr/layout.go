package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docgraph/internal/model"
	"github.com/sells-group/docgraph/internal/resilience"
)

// LayoutClient calls a layout analysis service that returns typed blocks
// (title, section header, line) for every page.
type LayoutClient struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewLayoutClient creates a LayoutClient posting to endpoint.
func NewLayoutClient(endpoint, apiKey string, opts ...Option) *LayoutClient {
	o := applyOptions(endpoint, opts)
	return &LayoutClient{apiKey: apiKey, endpoint: o.endpoint, client: o.client}
}

type layoutRequest struct {
	Filename string `json:"filename"`
	Content  string `json:"content"` // base64 PDF bytes
}

type layoutResponse struct {
	PageCount int           `json:"page_count"`
	Blocks    []layoutBlock `json:"blocks"`
}

type layoutBlock struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Page  int    `json:"page"`
	Level int    `json:"level"`
}

// Name implements Extractor.
func (c *LayoutClient) Name() string { return "layout_ocr" }

// Extract uploads the PDF and returns blocks plus per-page text assembled
// from them.
func (c *LayoutClient) Extract(ctx context.Context, pdfPath string) (*Result, error) {
	data, err := os.ReadFile(pdfPath)
	if err != nil {
		return nil, eris.Wrapf(resilience.ErrIO, "ocr: read PDF %s: %v", pdfPath, err)
	}

	body, err := json.Marshal(layoutRequest{
		Filename: filepath.Base(pdfPath),
		Content:  base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return nil, eris.Wrap(err, "ocr: marshal layout request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "ocr: create layout request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "ocr: layout API call"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "ocr: read layout response"), 0)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resilience.FromHTTPStatus(
			eris.Errorf("ocr: layout API returned %d: %s", resp.StatusCode, truncate(respBody, 300)),
			resp.StatusCode,
		)
	}

	var lr layoutResponse
	if err := json.Unmarshal(respBody, &lr); err != nil {
		return nil, eris.Wrap(err, "ocr: unmarshal layout response")
	}

	return assembleLayout(lr), nil
}

func assembleLayout(lr layoutResponse) *Result {
	blocks := make([]model.LayoutBlock, 0, len(lr.Blocks))
	pageCount := lr.PageCount
	for _, b := range lr.Blocks {
		text := strings.TrimSpace(b.Text)
		if text == "" {
			continue
		}
		page := b.Page
		if page < 1 {
			page = 1
		}
		if page > pageCount {
			pageCount = page
		}
		blocks = append(blocks, model.LayoutBlock{
			Role:  normalizeRole(b.Type),
			Text:  text,
			Page:  page,
			Level: b.Level,
		})
	}
	sort.SliceStable(blocks, func(i, j int) bool { return blocks[i].Page < blocks[j].Page })

	pages := make([]string, pageCount)
	for _, b := range blocks {
		if pages[b.Page-1] != "" {
			pages[b.Page-1] += "\n"
		}
		pages[b.Page-1] += b.Text
	}
	return &Result{Pages: pages, Blocks: blocks}
}

func normalizeRole(t string) model.LayoutRole {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "title", "document_title":
		return model.LayoutRoleTitle
	case "section_header", "section-header", "header", "heading":
		return model.LayoutRoleSectionHeader
	default:
		return model.LayoutRoleLine
	}
}
