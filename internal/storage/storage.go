// Package storage persists uploaded case documents. Files are stored under
// generated names that are independent of the case id; the case row is the
// only link between a case and its files.
package storage

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/settlementops/internal/model"
)

// ErrNotFound is returned by Open when the stored document no longer exists.
var ErrNotFound = errors.New("document not found")

// DocumentStore is implemented by the local directory and MinIO backends.
type DocumentStore interface {
	// Save writes r under a fresh name and returns the reference to persist.
	Save(ctx context.Context, filename string, r io.Reader) (model.DocumentRef, error)
	Open(ctx context.Context, path string) (io.ReadSeekCloser, error)
	// Remove deletes the document. Removing a missing document is not an error.
	Remove(ctx context.Context, path string) error
}

// StoredName returns a collision-resistant file name that keeps the original
// extension, or "pdf" when the upload has none.
func StoredName(filename string) string {
	ext := strings.TrimPrefix(filepath.Ext(filename), ".")
	if ext == "" {
		ext = "pdf"
	}
	return strings.ReplaceAll(uuid.NewString(), "-", "") + "." + ext
}

// MediaType infers a media type from the file extension. The content itself
// is never inspected.
func MediaType(filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	switch ext {
	case "pdf":
		return "application/pdf"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png", "gif", "webp":
		return "image/" + ext
	}
	return "application/octet-stream"
}

// ReadAll drains a stored document.
func ReadAll(ctx context.Context, store DocumentStore, path string) ([]byte, error) {
	rc, err := store.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
