// Package blobstore abstracts the envelope file storage. Keys embed the
// envelope id and a content hash so re-renders never collide with old blobs.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"tariffpub/pkg/platform/sentinel"
)

// Store is the blob storage surface consumed by the envelope service.
type Store interface {
	Save(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Key builds the storage key for an envelope body.
func Key(envelopeID string, body []byte) string {
	sum := sha256.Sum256(body)
	return fmt.Sprintf("envelope/DIT%s-%s.xml", envelopeID, hex.EncodeToString(sum[:8]))
}

// Memory keeps blobs in a map for tests and dev mode.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemory constructs an empty in-memory blob store.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

func (m *Memory) Save(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.blobs[key] = cp
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[key]; !ok {
		return fmt.Errorf("blob %s: %w", key, sentinel.ErrNotFound)
	}
	delete(m.blobs, key)
	return nil
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[key]
	return ok, nil
}

func (m *Memory) Open(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", key, sentinel.ErrNotFound)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return io.NopCloser(bytes.NewReader(cp)), nil
}
