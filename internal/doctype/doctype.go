// Package doctype classifies documents as digital, scanned or hybrid from a
// bounded page sample.
package doctype

import (
	"context"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/docgraph/internal/model"
	"github.com/sells-group/docgraph/internal/pdfdoc"
	"github.com/sells-group/docgraph/internal/resilience"
)

const (
	// DefaultMinTextChars is the text length below which an image-bearing
	// page counts as likely scanned.
	DefaultMinTextChars = 50

	digitalThreshold = 0.8
	scannedThreshold = 0.2
	epsilon          = 1e-9
)

// PageSource exposes per-page measurements of an open document.
type PageSource interface {
	NumPages() int
	PageStats(page int) (textLen, images int, err error)
	Close() error
}

// Opener opens a PageSource for a path.
type Opener func(path string) (PageSource, error)

// Detector samples pages and classifies documents.
type Detector struct {
	open         Opener
	minTextChars int
}

// Option configures a Detector.
type Option func(*Detector)

// WithOpener replaces the default PDF page source.
func WithOpener(o Opener) Option {
	return func(d *Detector) { d.open = o }
}

// New creates a Detector. A non-positive minTextChars uses the default.
func New(minTextChars int, opts ...Option) *Detector {
	if minTextChars <= 0 {
		minTextChars = DefaultMinTextChars
	}
	d := &Detector{open: OpenPDF, minTextChars: minTextChars}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Classify samples the document at path. Unreadable or corrupt files fail
// with resilience.ErrIO; callers must not retry them.
func (d *Detector) Classify(ctx context.Context, path string) (*model.DocumentTypeClassification, error) {
	src, err := d.open(path)
	if err != nil {
		return nil, eris.Wrap(err, "doctype: open")
	}
	defer src.Close() //nolint:errcheck

	n := src.NumPages()
	if n <= 0 {
		return nil, eris.Wrapf(resilience.ErrIO, "doctype: %s has no pages", path)
	}

	sample := SamplePages(n)
	scanned := 0
	for _, page := range sample {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "doctype: cancelled")
		}
		textLen, images, err := src.PageStats(page)
		if err != nil {
			return nil, eris.Wrapf(err, "doctype: page %d", page)
		}
		if textLen < d.minTextChars && images > 0 {
			scanned++
		}
	}

	kind, confidence, ratio := Decide(len(sample)-scanned, len(sample))

	zap.L().Debug("doctype: classified",
		zap.String("path", path),
		zap.String("kind", string(kind)),
		zap.Float64("confidence", confidence),
		zap.Int("sampled", len(sample)),
		zap.Int("scanned_pages", scanned),
	)

	return &model.DocumentTypeClassification{
		Kind:             kind,
		Confidence:       confidence,
		SampledPageCount: len(sample),
		TextPageRatio:    ratio,
		ImagePages:       scanned,
	}, nil
}

// SamplePages returns the sorted, 1-based pages to inspect: all pages when
// n <= 9, otherwise the first five, the middle two and the last two.
func SamplePages(n int) []int {
	if n <= 0 {
		return nil
	}
	if n <= 9 {
		out := make([]int, n)
		for i := range out {
			out[i] = i + 1
		}
		return out
	}

	seen := make(map[int]bool, 9)
	var out []int
	add := func(p int) {
		if p >= 1 && p <= n && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for p := 1; p <= 5; p++ {
		add(p)
	}
	mid := n / 2
	add(mid)
	add(mid + 1)
	add(n - 1)
	add(n)
	sort.Ints(out)
	return out
}

// Decide maps the count of text pages in a sample to a kind and confidence.
// Confidence grows with the distance from the ambiguous band: digital scores
// the text ratio, scanned its complement, and hybrid stays within [0.5, 0.7).
func Decide(textPages, sampled int) (model.DocumentKind, float64, float64) {
	if sampled <= 0 {
		return model.DocumentKindHybrid, 0, 0
	}
	ratio := float64(textPages) / float64(sampled)

	switch {
	case ratio >= digitalThreshold-epsilon:
		return model.DocumentKindDigital, ratio, ratio
	case ratio <= scannedThreshold+epsilon:
		return model.DocumentKindScanned, 1 - ratio, ratio
	default:
		conf := 0.5 + 0.2*math.Abs(ratio-0.5)/0.3
		return model.DocumentKindHybrid, conf, ratio
	}
}

type pdfSource struct {
	doc *pdfdoc.Document
}

// OpenPDF is the default Opener backed by pdfdoc.
func OpenPDF(path string) (PageSource, error) {
	doc, err := pdfdoc.Open(path)
	if err != nil {
		return nil, err
	}
	return &pdfSource{doc: doc}, nil
}

func (s *pdfSource) NumPages() int { return s.doc.NumPages() }

func (s *pdfSource) Close() error { return s.doc.Close() }

// PageStats counts text runes and image objects. A page whose text cannot
// be decoded is measured as text-less.
func (s *pdfSource) PageStats(page int) (int, int, error) {
	images, err := s.doc.PageImages(page)
	if err != nil {
		return 0, 0, err
	}
	text, err := s.doc.PageText(page)
	if err != nil {
		zap.L().Debug("doctype: page text unavailable", zap.Int("page", page), zap.Error(err))
		return 0, images, nil
	}
	return utf8.RuneCountInString(strings.TrimSpace(text)), images, nil
}
