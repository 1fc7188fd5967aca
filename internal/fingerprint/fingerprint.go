// Package fingerprint computes content-addressed identifiers for documents.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/docgraph/internal/model"
	"github.com/sells-group/docgraph/internal/pdfdoc"
	"github.com/sells-group/docgraph/internal/resilience"
)

// DefaultChunkSize is the streaming read size.
const DefaultChunkSize = 64 * 1024

// Service hashes documents and reads lightweight metadata.
type Service struct {
	chunkSize int
}

// New creates a Service. A non-positive chunkSize uses DefaultChunkSize.
func New(chunkSize int) *Service {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Service{chunkSize: chunkSize}
}

// Fingerprint hashes the file at path and reads page count, title and
// author. Metadata failures are not fatal: the fingerprint is returned with
// zero pages and empty properties.
func (s *Service) Fingerprint(ctx context.Context, path string) (*model.DocumentFingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, eris.Wrapf(resilience.ErrNotFound, "fingerprint: %s", path)
		}
		return nil, eris.Wrapf(resilience.ErrIO, "fingerprint: open %s: %v", path, err)
	}
	defer f.Close() //nolint:errcheck

	hash, size, err := s.FingerprintReader(ctx, f)
	if err != nil {
		return nil, eris.Wrapf(err, "fingerprint: hash %s", path)
	}

	fp := &model.DocumentFingerprint{Hash: hash, FileSizeBytes: size}

	doc, err := pdfdoc.Open(path)
	if err != nil {
		zap.L().Debug("fingerprint: metadata unavailable",
			zap.String("path", path),
			zap.Error(err),
		)
		return fp, nil
	}
	defer doc.Close() //nolint:errcheck

	fp.PageCount = doc.NumPages()
	info := doc.Info()
	fp.Title = info.Title
	fp.Author = info.Author
	return fp, nil
}

// FingerprintReader streams r through sha256 in fixed-size chunks and
// returns the hex digest and byte count.
func (s *Service) FingerprintReader(ctx context.Context, r io.Reader) (string, int64, error) {
	h := sha256.New()
	buf := make([]byte, s.chunkSize)
	var total int64

	for {
		if err := ctx.Err(); err != nil {
			return "", 0, eris.Wrap(err, "fingerprint: cancelled")
		}
		n, err := r.Read(buf)
		if n > 0 {
			_, _ = h.Write(buf[:n])
			total += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", 0, eris.Wrapf(resilience.ErrIO, "fingerprint: read: %v", err)
		}
	}

	return hex.EncodeToString(h.Sum(nil)), total, nil
}
