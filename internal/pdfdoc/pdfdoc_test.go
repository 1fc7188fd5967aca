package pdfdoc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docgraph/internal/pdfdoc/pdftest"
	"github.com/sells-group/docgraph/internal/resilience"
)

func TestOpen_ReadsPagesImagesAndInfo(t *testing.T) {
	dir := t.TempDir()
	path := pdftest.Write(t, dir, "doc.pdf", []pdftest.Page{
		pdftest.TextPage("Chapter 1 Introduction", "A virtual machine is a type of computer."),
		pdftest.ScannedPage(),
		{Lines: []string{"caption"}, Images: 2},
	}, pdftest.Options{Title: "Systems Primer", Author: "Jordan Lee"})

	doc, err := Open(path)
	require.NoError(t, err)
	defer doc.Close() //nolint:errcheck

	assert.Equal(t, 3, doc.NumPages())

	text, err := doc.PageText(1)
	require.NoError(t, err)
	assert.Contains(t, text, "virtual machine")

	images, err := doc.PageImages(1)
	require.NoError(t, err)
	assert.Zero(t, images)

	images, err = doc.PageImages(2)
	require.NoError(t, err)
	assert.Equal(t, 1, images)

	images, err = doc.PageImages(3)
	require.NoError(t, err)
	assert.Equal(t, 2, images)

	info := doc.Info()
	assert.Equal(t, "Systems Primer", info.Title)
	assert.Equal(t, "Jordan Lee", info.Author)

	pages := doc.Pages()
	require.Len(t, pages, 3)
	assert.Contains(t, pages[0], "Introduction")
	assert.Empty(t, pages[1])
}

func TestOpen_Missing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.pdf"))
	assert.ErrorIs(t, err, resilience.ErrNotFound)
}

func TestOpen_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pdf")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a pdf"), 0o644))

	_, err := Open(path)
	assert.ErrorIs(t, err, resilience.ErrIO)
}
