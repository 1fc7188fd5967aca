// Package pdfdoc reads pages, images and document info from local PDF files.
// The underlying parser panics on some malformed inputs; every exported
// method converts such panics into resilience.ErrIO.
package pdfdoc

import (
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rotisserie/eris"

	"github.com/sells-group/docgraph/internal/resilience"
)

// Document is an open PDF file.
type Document struct {
	path string
	f    *os.File
	r    *pdf.Reader
}

// Info holds document properties from the trailer's Info dictionary.
type Info struct {
	Title  string
	Author string
}

// Open opens path. A missing file yields resilience.ErrNotFound and an
// unreadable or corrupt file yields resilience.ErrIO.
func Open(path string) (doc *Document, err error) {
	if _, statErr := os.Stat(path); statErr != nil {
		if os.IsNotExist(statErr) {
			return nil, eris.Wrapf(resilience.ErrNotFound, "pdfdoc: %s", path)
		}
		return nil, eris.Wrapf(resilience.ErrIO, "pdfdoc: stat %s: %v", path, statErr)
	}

	defer func() {
		if r := recover(); r != nil {
			doc = nil
			err = eris.Wrapf(resilience.ErrIO, "pdfdoc: open %s: %v", path, r)
		}
	}()

	f, r, openErr := pdf.Open(path)
	if openErr != nil {
		return nil, eris.Wrapf(resilience.ErrIO, "pdfdoc: open %s: %v", path, openErr)
	}
	return &Document{path: path, f: f, r: r}, nil
}

// Close releases the underlying file.
func (d *Document) Close() error {
	if d == nil || d.f == nil {
		return nil
	}
	return d.f.Close()
}

// NumPages returns the page count.
func (d *Document) NumPages() (n int) {
	defer func() {
		if recover() != nil {
			n = 0
		}
	}()
	return d.r.NumPage()
}

// PageText returns the plain text of 1-based page i.
func (d *Document) PageText(i int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Wrapf(resilience.ErrIO, "pdfdoc: page %d text: %v", i, r)
		}
	}()

	p := d.r.Page(i)
	if p.V.IsNull() {
		return "", nil
	}
	text, err = p.GetPlainText(nil)
	if err != nil {
		return "", eris.Wrapf(resilience.ErrIO, "pdfdoc: page %d text: %v", i, err)
	}
	return text, nil
}

// PageImages counts image XObjects referenced by 1-based page i.
func (d *Document) PageImages(i int) (count int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Wrapf(resilience.ErrIO, "pdfdoc: page %d images: %v", i, r)
		}
	}()

	p := d.r.Page(i)
	if p.V.IsNull() {
		return 0, nil
	}
	xobjects := p.Resources().Key("XObject")
	for _, name := range xobjects.Keys() {
		if xobjects.Key(name).Key("Subtype").Name() == "Image" {
			count++
		}
	}
	return count, nil
}

// Info reads the Title and Author document properties. Missing properties
// are returned empty.
func (d *Document) Info() (info Info) {
	defer func() {
		if recover() != nil {
			info = Info{}
		}
	}()

	dict := d.r.Trailer().Key("Info")
	if dict.IsNull() {
		return Info{}
	}
	return Info{
		Title:  strings.TrimSpace(dict.Key("Title").Text()),
		Author: strings.TrimSpace(dict.Key("Author").Text()),
	}
}

// Pages returns the text of every page, 1-based page i at index i-1.
// Pages whose text cannot be extracted are returned empty.
func (d *Document) Pages() []string {
	n := d.NumPages()
	out := make([]string, n)
	for i := 1; i <= n; i++ {
		text, err := d.PageText(i)
		if err != nil {
			continue
		}
		out[i-1] = text
	}
	return out
}
