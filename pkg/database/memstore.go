package database

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// MemStore é uma NVRAM em memória com contagem de escritas por registro.
type MemStore struct {
	mu      sync.Mutex
	records map[string][]byte
	writes  map[string]int
}

// NewMemStore cria uma NVRAM vazia.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string][]byte), writes: make(map[string]int)}
}

func (m *MemStore) Get(_ context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.records[id]
	if !ok {
		return nil, errors.Wrap(ErrNotFound, id)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemStore) Put(_ context.Context, id string, data []byte) error {
	m.mu.Lock()
	m.records[id] = append([]byte(nil), data...)
	m.writes[id]++
	m.mu.Unlock()
	return nil
}

// Writes devolve quantas vezes o registro foi gravado.
func (m *MemStore) Writes(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes[id]
}

func (m *MemStore) LocalIRK(ctx context.Context) ([]byte, error) { return m.Get(ctx, IDLocalIRK) }

func (m *MemStore) UpdateLocalIRK(ctx context.Context, key []byte) error {
	return m.Put(ctx, IDLocalIRK, key)
}
