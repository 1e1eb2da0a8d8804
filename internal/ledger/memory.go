package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/tillsync/tillsync/internal/domain"
)

// Memory is an in-process record client used in development mode and tests.
// It enforces the same 64-byte value limit as the real ledger.
type Memory struct {
	mu     sync.RWMutex
	scopes map[string]map[string]string
}

func NewMemory() *Memory {
	return &Memory{scopes: map[string]map[string]string{}}
}

func (m *Memory) PutRecord(_ context.Context, scope, key, value string) error {
	if len(value) > domain.MaxRecordBytes {
		return domain.ErrRecordTooLarge
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	records, ok := m.scopes[scope]
	if !ok {
		records = map[string]string{}
		m.scopes[scope] = records
	}
	records[key] = value
	return nil
}

func (m *Memory) GetRecord(_ context.Context, scope, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.scopes[scope][key]
	if !ok {
		return "", domain.ErrRecordNotFound
	}
	return value, nil
}

func (m *Memory) DeleteRecord(_ context.Context, scope, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.scopes[scope], key)
	return nil
}

func (m *Memory) ListRecords(_ context.Context, scope, prefix string) ([]domain.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var records []domain.Record
	for key, value := range m.scopes[scope] {
		if strings.HasPrefix(key, prefix) {
			records = append(records, domain.Record{Key: key, Value: value})
		}
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	return records, nil
}

func (m *Memory) Ping(_ context.Context) error {
	return nil
}

// Len reports the number of records in a scope, handy for leak assertions
// in tests.
func (m *Memory) Len(scope string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.scopes[scope])
}

var _ domain.RecordClient = (*Memory)(nil)
