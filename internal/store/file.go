package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"assetauth/pkg/logging"
)

const (
	dirPermissions  = 0700
	filePermissions = 0600
)

// FileBackend stores one JSON document per asset in a directory. Documents
// contain tokens, so the directory is created 0700 and files are written 0600.
type FileBackend struct {
	dir string
}

// NewFileBackend creates a file backend rooted at dir. The directory is
// created on first write.
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{dir: dir}
}

// Dir returns the directory holding the documents.
func (b *FileBackend) Dir() string {
	return b.dir
}

// ForAsset returns the store for assetID.
func (b *FileBackend) ForAsset(assetID string) AssetStore {
	path := b.pathFor(assetID)
	return &cachedStore{
		load: func(context.Context) (Document, error) { return b.read(path) },
		save: func(_ context.Context, doc Document) error { return b.write(path, doc) },
	}
}

// pathFor escapes the asset id so it can never leave the directory.
func (b *FileBackend) pathFor(assetID string) string {
	return filepath.Join(b.dir, url.PathEscape(assetID)+".json")
}

func (b *FileBackend) read(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Document{}, nil
		}
		return nil, fmt.Errorf("failed to read document %s: %w", path, err)
	}
	logging.Debug("Store", "Loaded document from %s", path)
	return decodeDocument(data)
}

// write replaces the document atomically via a temp file and rename.
func (b *FileBackend) write(path string, doc Document) error {
	data, err := encodeDocument(doc)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(b.dir, dirPermissions); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	tmp, err := os.CreateTemp(b.dir, ".doc-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if err := tmp.Chmod(filePermissions); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set document permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write document: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close document: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace document: %w", err)
	}

	logging.Debug("Store", "Wrote document %s", path)
	return nil
}

// Watch signals changes of the asset's document file until ctx is done.
// Changes made by other processes are observed as well.
func (b *FileBackend) Watch(ctx context.Context, assetID string) (<-chan struct{}, error) {
	if err := os.MkdirAll(b.dir, dirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	// Watch the directory: the atomic rename replaces the file's inode.
	if err := watcher.Add(b.dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", b.dir, err)
	}

	target := filepath.Clean(b.pathFor(assetID))
	out := make(chan struct{}, 1)

	go func() {
		defer close(out)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Error("Store", err, "Filesystem watcher error")
			}
		}
	}()

	logging.Debug("Store", "Watching %s for changes", target)
	return out, nil
}
