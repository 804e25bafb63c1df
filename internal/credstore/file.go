package credstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	apperrors "github.com/alexjbarnes/authgate/internal/errors"
)

// File is a Store backed by a JSON file of string pairs, the shape an
// out-of-process login flow typically writes (a token cache file). The
// whole map is rewritten atomically on every mutation.
//
// Run Watch in a background goroutine to pick up external rewrites of
// the file (a re-login performed by another process) without a restart.
type File struct {
	path string

	mu     sync.RWMutex
	values map[string]string
}

// OpenFile opens a file-backed store at path. A missing file is treated
// as an empty store; it is created on the first Set.
func OpenFile(path string) (*File, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving store path: %w", err)
	}

	f := &File{
		path:   absPath,
		values: make(map[string]string),
	}

	if err := f.reload(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading credential file: %w", err)
	}

	return f, nil
}

// Get returns the value for key, or ErrKeyNotFound.
func (f *File) Get(key string) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	v, ok := f.values[key]
	if !ok {
		return "", apperrors.ErrKeyNotFound
	}

	return v, nil
}

// Set stores the value for key and rewrites the file.
func (f *File) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.values[key] = value

	return f.persist()
}

// Remove deletes the value for key and rewrites the file.
func (f *File) Remove(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.values[key]; !ok {
		return nil
	}

	delete(f.values, key)

	return f.persist()
}

// persist writes the current map to a temp file and renames it over the
// store path, so readers never observe a partial write. Caller holds mu.
func (f *File) persist() error {
	data, err := json.MarshalIndent(f.values, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding credential file: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing credential file: %w", err)
	}

	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replacing credential file: %w", err)
	}

	return nil
}

// reload re-reads the file into the in-memory map.
func (f *File) reload() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return err
	}

	values := make(map[string]string)
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("decoding credential file: %w", err)
	}

	f.mu.Lock()
	f.values = values
	f.mu.Unlock()

	return nil
}

// Watch monitors the credential file for external changes and reloads it.
// It blocks until the context is cancelled. The parent directory is
// watched rather than the file itself because login tools replace the
// file with a rename, which drops a watch placed on the file directly.
func (f *File) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("watching credential directory: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed")
			}

			if event.Name != f.path {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				// A malformed intermediate write is skipped; the next
				// complete rewrite will be picked up.
				_ = f.reload()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed")
			}
			// fsnotify errors are non-fatal (e.g. too many watches).
			// The store just won't see external edits until restart.
			_ = err
		}
	}
}
