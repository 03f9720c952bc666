// Package store persists the per-asset document that connector actions share.
//
// A document is a JSON object. Callers own individual top-level keys and must
// leave every other key untouched, which is why values are kept as raw JSON.
//
// The memory and file backends perform plain read-modify-write: two writers
// that read the same version both succeed and the later write wins. The Redis
// backend detects that case and returns ErrConflict instead.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrConflict is returned by PutAll when the stored document changed after it
// was last read through the same AssetStore.
var ErrConflict = errors.New("document was modified concurrently")

// Document is the opaque per-asset document.
type Document map[string]json.RawMessage

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return Document{}
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// AssetStore reads and writes the whole document of a single asset.
type AssetStore interface {
	// GetAll returns the document. Implementations may serve a cached copy
	// unless forceReload is set.
	GetAll(ctx context.Context, forceReload bool) (Document, error)
	// PutAll replaces the document.
	PutAll(ctx context.Context, doc Document) error
}

// Backend hands out per-asset stores.
type Backend interface {
	ForAsset(assetID string) AssetStore
}

// Watcher is implemented by backends that can signal document changes.
// The returned channel receives a value after each change of the asset's
// document and is closed when ctx is done.
type Watcher interface {
	Watch(ctx context.Context, assetID string) (<-chan struct{}, error)
}

func decodeDocument(data []byte) (Document, error) {
	doc := Document{}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}

// encodeDocument writes the object by hand so that every value keeps its
// exact bytes. json.Marshal would compact values and escape <, > and &.
func encodeDocument(doc Document) ([]byte, error) {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := enc.Encode(k); err != nil {
			return nil, fmt.Errorf("failed to encode document key %q: %w", k, err)
		}
		// Encode terminates each value with a newline.
		buf.Truncate(buf.Len() - 1)
		buf.WriteByte(':')

		v := doc[k]
		if len(bytes.TrimSpace(v)) == 0 {
			buf.WriteString("null")
			continue
		}
		if !json.Valid(v) {
			return nil, fmt.Errorf("failed to encode document: value of %q is not valid JSON", k)
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// cachedStore serves GetAll from the last loaded or written document unless a
// reload is forced.
type cachedStore struct {
	mu     sync.Mutex
	load   func(ctx context.Context) (Document, error)
	save   func(ctx context.Context, doc Document) error
	cache  Document
	loaded bool
}

func (c *cachedStore) GetAll(ctx context.Context, forceReload bool) (Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loaded && !forceReload {
		return c.cache.Clone(), nil
	}
	doc, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	c.cache = doc
	c.loaded = true
	return doc.Clone(), nil
}

func (c *cachedStore) PutAll(ctx context.Context, doc Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.save(ctx, doc); err != nil {
		return err
	}
	c.cache = doc.Clone()
	c.loaded = true
	return nil
}

// Broadcaster fans change signals out to in-process subscribers. The zero
// value is ready to use.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

// Subscribe returns a channel signalled on each Notify for key. It is closed
// once ctx is done.
func (b *Broadcaster) Subscribe(ctx context.Context, key string) <-chan struct{} {
	ch := make(chan struct{}, 1)

	b.mu.Lock()
	if b.subs == nil {
		b.subs = make(map[string]map[chan struct{}]struct{})
	}
	if b.subs[key] == nil {
		b.subs[key] = make(map[chan struct{}]struct{})
	}
	b.subs[key][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[key], ch)
		if len(b.subs[key]) == 0 {
			delete(b.subs, key)
		}
		close(ch)
		b.mu.Unlock()
	}()
	return ch
}

// Notify never blocks; a subscriber that has not drained its last signal
// keeps just that one.
func (b *Broadcaster) Notify(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[key] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
