// Package pdftest builds small, valid PDF files for tests.
package pdftest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Page describes one generated page.
type Page struct {
	Lines  []string
	Images int
}

// Options sets document properties.
type Options struct {
	Title  string
	Author string
}

// TextPage returns a page with the given lines and no images.
func TextPage(lines ...string) Page {
	return Page{Lines: lines}
}

// ScannedPage returns an image-only page.
func ScannedPage() Page {
	return Page{Images: 1}
}

// Build renders pages into PDF bytes with a correct xref table.
func Build(pages []Page, opts Options) []byte {
	var buf bytes.Buffer
	var offsets []int

	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")

	// Objects 1-5 are fixed; page i uses objects 6+2i (page) and 7+2i (content).
	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 6+2*i)
	}
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)))
	obj("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")
	obj("<< /Type /XObject /Subtype /Image /Width 1 /Height 1 /ColorSpace /DeviceGray /BitsPerComponent 8 /Length 1 >>\nstream\n\x00\nendstream")
	obj(fmt.Sprintf("<< /Title (%s) /Author (%s) >>", escape(opts.Title), escape(opts.Author)))

	for i, p := range pages {
		var xobjects []string
		for j := 0; j < p.Images; j++ {
			xobjects = append(xobjects, fmt.Sprintf("/Im%d 4 0 R", j+1))
		}
		resources := "/Font << /F1 3 0 R >>"
		if len(xobjects) > 0 {
			resources += " /XObject << " + strings.Join(xobjects, " ") + " >>"
		}
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << %s >> /Contents %d 0 R >>", resources, 7+2*i))

		content := contentStream(p)
		obj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R /Info 5 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

// Write builds a PDF into dir/name and returns its path.
func Write(t testing.TB, dir, name string, pages []Page, opts Options) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, Build(pages, opts), 0o644); err != nil {
		t.Fatalf("pdftest: write %s: %v", path, err)
	}
	return path
}

func contentStream(p Page) string {
	var sb strings.Builder
	if len(p.Lines) > 0 {
		sb.WriteString("BT /F1 12 Tf 14 TL 72 720 Td")
		for i, line := range p.Lines {
			if i > 0 {
				sb.WriteString(" T*")
			}
			fmt.Fprintf(&sb, " (%s) Tj", escape(line))
		}
		sb.WriteString(" ET")
	}
	for j := 0; j < p.Images; j++ {
		fmt.Fprintf(&sb, " q 100 0 0 100 72 72 cm /Im%d Do Q", j+1)
	}
	return strings.TrimSpace(sb.String())
}

func escape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return r.Replace(s)
}
