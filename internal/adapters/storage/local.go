// Package storage renders invoice documents and persists them to the local
// filesystem or S3.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kevin07696/subscription-service/internal/domain/ports"
)

// ErrInvalidKey rejects keys that would escape the store's root
var ErrInvalidKey = errors.New("invalid document key")

// LocalDocumentStore writes documents under a base directory. Used in
// development and single-node deployments.
type LocalDocumentStore struct {
	baseDir string
	baseURL string
}

var _ ports.DocumentStore = (*LocalDocumentStore)(nil)

// NewLocalDocumentStore creates the base directory if needed. When baseURL is
// set, references are URLs under it; otherwise they are file paths.
func NewLocalDocumentStore(baseDir, baseURL string) (*LocalDocumentStore, error) {
	if baseDir == "" {
		return nil, errors.New("document base directory is required")
	}
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("create document directory: %w", err)
	}
	return &LocalDocumentStore{
		baseDir: baseDir,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// Put writes body to baseDir/key
func (s *LocalDocumentStore) Put(ctx context.Context, key, contentType string, body []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	path := filepath.Join(s.baseDir, clean)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("create document directory: %w", err)
	}
	if err := os.WriteFile(path, body, 0o640); err != nil {
		return "", fmt.Errorf("write document %s: %w", key, err)
	}

	if s.baseURL != "" {
		return s.baseURL + "/" + filepath.ToSlash(clean), nil
	}
	return path, nil
}
