package partstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/danthegoodman1/strata/utils"
)

type (
	DiskPartStore struct {
		rootPath string
	}
)

func NewDiskPartStore(rootPath string) (*DiskPartStore, error) {
	if err := os.MkdirAll(rootPath, 0o755); err != nil {
		return nil, fmt.Errorf("error in os.MkdirAll: %w", err)
	}
	return &DiskPartStore{rootPath: rootPath}, nil
}

func (ds *DiskPartStore) WriteFile(_ context.Context, path, name string, r io.Reader) error {
	dir := filepath.Join(ds.rootPath, path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error in os.MkdirAll: %w", err)
	}
	// write to a temp name then rename for atomic commit semantics
	tmpPath := filepath.Join(dir, utils.GenRandomID(name+".tmp-"))
	tmp, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("error in os.Create: %w", err)
	}
	defer os.Remove(tmpPath)
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("error in io.Copy: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("error in tmp.Close: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("error in os.Rename: %w", err)
	}
	return nil
}

func (ds *DiskPartStore) ReadFile(_ context.Context, path, name string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(ds.rootPath, path, name))
	if err != nil {
		return nil, fmt.Errorf("error in os.Open: %w", err)
	}
	return f, nil
}

func (ds *DiskPartStore) List(_ context.Context, path string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(ds.rootPath, path))
	if err != nil {
		return nil, fmt.Errorf("error in os.ReadDir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func (ds *DiskPartStore) Shutdown(_ context.Context) error {
	return nil
}
