package doctype

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docgraph/internal/model"
	"github.com/sells-group/docgraph/internal/pdfdoc/pdftest"
	"github.com/sells-group/docgraph/internal/resilience"
)

type fakePage struct {
	text   int
	images int
}

type fakeSource struct {
	pages  []fakePage
	seen   []int
	closed bool
}

func (f *fakeSource) NumPages() int { return len(f.pages) }

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

func (f *fakeSource) PageStats(page int) (int, int, error) {
	f.seen = append(f.seen, page)
	p := f.pages[page-1]
	return p.text, p.images, nil
}

func syntheticDoc(textPages, scannedPages int) *fakeSource {
	src := &fakeSource{}
	for i := 0; i < textPages; i++ {
		src.pages = append(src.pages, fakePage{text: 400})
	}
	for i := 0; i < scannedPages; i++ {
		src.pages = append(src.pages, fakePage{text: 0, images: 1})
	}
	return src
}

func detectorFor(src *fakeSource) *Detector {
	return New(0, WithOpener(func(string) (PageSource, error) { return src, nil }))
}

func TestClassify_Boundaries(t *testing.T) {
	tests := []struct {
		name     string
		text     int
		scanned  int
		wantKind model.DocumentKind
		wantConf float64
	}{
		{"exactly 80 percent text", 4, 1, model.DocumentKindDigital, 0.8},
		{"exactly 20 percent text", 1, 4, model.DocumentKindScanned, 0.8},
		{"50 percent text", 2, 2, model.DocumentKindHybrid, 0.5},
		{"all text", 9, 0, model.DocumentKindDigital, 1.0},
		{"all scanned", 0, 3, model.DocumentKindScanned, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := syntheticDoc(tt.text, tt.scanned)
			got, err := detectorFor(src).Classify(context.Background(), "doc.pdf")
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.InDelta(t, tt.wantConf, got.Confidence, 1e-9)
			assert.Equal(t, tt.text+tt.scanned, got.SampledPageCount)
			assert.Equal(t, tt.scanned, got.ImagePages)
			assert.True(t, src.closed)
		})
	}
}

func TestClassify_HybridConfidenceBelowOuterClasses(t *testing.T) {
	for text := 1; text < 10; text++ {
		kind, conf, _ := Decide(text, 10)
		if kind != model.DocumentKindHybrid {
			continue
		}
		assert.GreaterOrEqual(t, conf, 0.5)
		assert.Less(t, conf, 0.7)
	}
}

func TestClassify_ShortTextWithoutImagesIsNotScanned(t *testing.T) {
	src := &fakeSource{pages: []fakePage{{text: 3}, {text: 3}, {text: 3}}}
	got, err := detectorFor(src).Classify(context.Background(), "doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, model.DocumentKindDigital, got.Kind)
}

func TestClassify_SamplesBoundedPages(t *testing.T) {
	src := syntheticDoc(100, 0)
	_, err := detectorFor(src).Classify(context.Background(), "doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 50, 51, 99, 100}, src.seen)
}

func TestSamplePages(t *testing.T) {
	assert.Nil(t, SamplePages(0))
	assert.Equal(t, []int{1, 2, 3}, SamplePages(3))
	assert.Len(t, SamplePages(9), 9)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 9, 10}, SamplePages(10))
	assert.Equal(t, []int{1, 2, 3, 4, 5, 10, 11, 19, 20}, SamplePages(20))
}

func TestClassify_RealPDF(t *testing.T) {
	dir := t.TempDir()
	path := pdftest.Write(t, dir, "mixed.pdf", []pdftest.Page{
		pdftest.TextPage("Chapter 1 Memory management", "Virtual memory is a technique that maps addresses to physical frames."),
		pdftest.ScannedPage(),
	}, pdftest.Options{})

	got, err := New(0).Classify(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentKindHybrid, got.Kind)
	assert.Equal(t, 2, got.SampledPageCount)
	assert.Equal(t, 1, got.ImagePages)
	assert.InDelta(t, 0.5, got.TextPageRatio, 1e-9)
}

func TestClassify_MissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()

	_, err := New(0).Classify(context.Background(), filepath.Join(dir, "missing.pdf"))
	assert.ErrorIs(t, err, resilience.ErrNotFound)

	corrupt := filepath.Join(dir, "corrupt.pdf")
	require.NoError(t, os.WriteFile(corrupt, []byte("%PDF-1.4 garbage"), 0o644))
	_, err = New(0).Classify(context.Background(), corrupt)
	assert.ErrorIs(t, err, resilience.ErrIO)
	assert.False(t, resilience.IsTransient(err))
}

func TestClassify_NoPages(t *testing.T) {
	_, err := detectorFor(&fakeSource{}).Classify(context.Background(), "empty.pdf")
	assert.ErrorIs(t, err, resilience.ErrIO)
}
