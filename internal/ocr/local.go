package ocr

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docgraph/internal/pdfdoc"
)

// Local extracts embedded text from PDFs in-process. It has no external
// dependency and is the terminal method of the parse chain.
type Local struct{}

// NewLocal creates a Local extractor.
func NewLocal() *Local {
	return &Local{}
}

// Name implements Extractor.
func (l *Local) Name() string { return "local_text" }

// Extract returns the plain text of every page.
func (l *Local) Extract(ctx context.Context, pdfPath string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "ocr: local extract")
	}

	doc, err := pdfdoc.Open(pdfPath)
	if err != nil {
		return nil, eris.Wrap(err, "ocr: local extract")
	}
	defer doc.Close() //nolint:errcheck

	return &Result{Pages: doc.Pages()}, nil
}
