// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-hsm.
//
// go-hsm is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package keystore

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

const (
	dirPerm  = 0700
	filePerm = 0600
)

// FileBackend stores vault artifacts as individual files in a single
// directory. The filesystem is injected so tests can run against
// afero.NewMemMapFs without touching disk.
type FileBackend struct {
	mu     sync.RWMutex
	fs     afero.Fs
	dir    string
	closed bool
}

var _ Backend = (*FileBackend)(nil)

// NewFileBackend creates a file-backed store rooted at dir, creating the
// directory with owner-only permissions if it does not exist.
func NewFileBackend(fs afero.Fs, dir string) (*FileBackend, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: empty directory", ErrInvalidName)
	}
	if err := fs.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create key store directory %s: %w", dir, err)
	}
	return &FileBackend{
		fs:  fs,
		dir: dir,
	}, nil
}

// validateName rejects names that are empty or would resolve outside the
// store directory.
func validateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return ErrInvalidName
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func (b *FileBackend) path(name string) string {
	return b.dir + string(os.PathSeparator) + name
}

// Get retrieves the blob stored under name
func (b *FileBackend) Get(name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrClosed
	}
	data, err := afero.ReadFile(b.fs, b.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}

// Put stores the blob under name with owner-only permissions
func (b *FileBackend) Put(name string, data []byte) error {
	if err := validateName(name); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if err := afero.WriteFile(b.fs, b.path(name), data, filePerm); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// Delete removes the entry stored under name
func (b *FileBackend) Delete(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if err := b.fs.Remove(b.path(name)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("failed to delete %s: %w", name, err)
	}
	return nil
}

// List returns the names of all stored entries
func (b *FileBackend) List() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrClosed
	}
	infos, err := afero.ReadDir(b.fs, b.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", b.dir, err)
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		names = append(names, info.Name())
	}
	return names, nil
}

// Exists reports whether an entry is stored under name
func (b *FileBackend) Exists(name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false, ErrClosed
	}
	ok, err := afero.Exists(b.fs, b.path(name))
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	return ok, nil
}

// Close marks the backend closed; subsequent calls fail with ErrClosed
func (b *FileBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
