package contentstore

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"decertify/internal/domain"
)

type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

func (m *Memory) Put(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("content is empty")
	}
	id := digestKey(data)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[id]; !ok {
		m.objects[id] = bytes.Clone(data)
	}
	return id, nil
}

func (m *Memory) Get(ctx context.Context, contentID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[contentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return bytes.Clone(data), nil
}
