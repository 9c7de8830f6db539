package statestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var _ Store = (*FileStore)(nil)

// FileStore stores each handle as <key>.txt in a directory.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create state directory %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) Put(_ context.Context, key string, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := os.WriteFile(f.path(key), []byte(value), 0644); err != nil {
		return fmt.Errorf("write handle %s: %w", key, err)
	}
	return nil
}

func (f *FileStore) Get(_ context.Context, key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return "", notFound(key)
	} else if err != nil {
		return "", fmt.Errorf("read handle %s: %w", key, err)
	}
	value := strings.TrimSpace(string(data))
	if value == "" {
		return "", notFound(key)
	}
	return value, nil
}

func (f *FileStore) Close() error {
	return nil
}

func (f *FileStore) path(key string) string {
	return filepath.Join(f.dir, key+".txt")
}
