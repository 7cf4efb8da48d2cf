package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dharsanguruparan/settlementops/internal/model"
)

// Local keeps documents in a directory on disk.
type Local struct {
	dir string
}

// NewLocal creates dir if needed and returns a store rooted there.
func NewLocal(dir string) (*Local, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve upload dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Local{dir: abs}, nil
}

// Dir returns the absolute upload directory.
func (l *Local) Dir() string {
	return l.dir
}

// Save streams r to a new file. A partially written file is removed on error.
func (l *Local) Save(_ context.Context, filename string, r io.Reader) (model.DocumentRef, error) {
	path := filepath.Join(l.dir, StoredName(filename))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return model.DocumentRef{}, fmt.Errorf("create document: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return model.DocumentRef{}, fmt.Errorf("write document: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return model.DocumentRef{}, fmt.Errorf("close document: %w", err)
	}
	return model.DocumentRef{
		Filename:  filename,
		Path:      path,
		MediaType: MediaType(filename),
	}, nil
}

func (l *Local) Open(_ context.Context, path string) (io.ReadSeekCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open document: %w", err)
	}
	return f, nil
}

func (l *Local) Remove(_ context.Context, path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove document: %w", err)
	}
	return nil
}
