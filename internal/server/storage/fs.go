package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FSArchiver stores completed attachments under a local directory. It keeps
// the dev loop free of an object store dependency.
type FSArchiver struct {
	root string
}

// NewFSArchiver creates the archive root if needed.
func NewFSArchiver(root string) (*FSArchiver, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &FSArchiver{root: root}, nil
}

// Store writes the object to root/key.
func (a *FSArchiver) Store(ctx context.Context, key string, body io.Reader, size int64) error {
	if strings.Contains(key, "..") {
		return fmt.Errorf("unsafe archive key %q", key)
	}
	path := filepath.Join(a.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create archive subdir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, body); err != nil {
		return fmt.Errorf("write archive file: %w", err)
	}
	return nil
}
