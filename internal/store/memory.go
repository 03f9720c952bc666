package store

import (
	"context"
	"sync"
)

// MemoryBackend keeps documents in process memory. Documents are stored in
// their encoded form so callers never share maps with the backend.
type MemoryBackend struct {
	mu   sync.RWMutex
	docs map[string][]byte

	changes Broadcaster
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{docs: make(map[string][]byte)}
}

// ForAsset returns the store for assetID.
func (b *MemoryBackend) ForAsset(assetID string) AssetStore {
	return &memoryStore{backend: b, assetID: assetID}
}

// Watch signals every PutAll for assetID until ctx is done.
func (b *MemoryBackend) Watch(ctx context.Context, assetID string) (<-chan struct{}, error) {
	return b.changes.Subscribe(ctx, assetID), nil
}

type memoryStore struct {
	backend *MemoryBackend
	assetID string
}

func (s *memoryStore) GetAll(_ context.Context, _ bool) (Document, error) {
	s.backend.mu.RLock()
	data := s.backend.docs[s.assetID]
	s.backend.mu.RUnlock()
	return decodeDocument(data)
}

func (s *memoryStore) PutAll(_ context.Context, doc Document) error {
	data, err := encodeDocument(doc)
	if err != nil {
		return err
	}

	s.backend.mu.Lock()
	s.backend.docs[s.assetID] = data
	s.backend.mu.Unlock()

	s.backend.changes.Notify(s.assetID)
	return nil
}
