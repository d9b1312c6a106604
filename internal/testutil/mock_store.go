// mock_store.go - Mock handle store for testing
package testutil

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segment-viewer/backend/internal/models"
	"github.com/segment-viewer/backend/internal/storage"
)

// MockStore implements storage.Store and records every release so tests can
// assert that each handle is released exactly once.
type MockStore struct {
	handles  map[string]*models.Handle
	data     map[string][]byte
	created  []string
	releases map[string]int
	mu       sync.RWMutex

	// CreateErr, when set, is returned by Create
	CreateErr error
}

// NewMockStore creates an empty mock store
func NewMockStore() *MockStore {
	return &MockStore{
		handles:  make(map[string]*models.Handle),
		data:     make(map[string][]byte),
		releases: make(map[string]int),
	}
}

func (m *MockStore) Create(name, contentType string, data []byte) (*models.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CreateErr != nil {
		return nil, m.CreateErr
	}

	h := &models.Handle{
		ID:          generateTestID(),
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(data)),
		CreatedAt:   time.Now(),
	}
	m.handles[h.ID] = h
	m.data[h.ID] = data
	m.created = append(m.created, h.ID)
	return h, nil
}

func (m *MockStore) Get(id string) (*models.Handle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.handles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrHandleNotFound, id)
	}
	return h, nil
}

func (m *MockStore) Open(id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.data[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrHandleNotFound, id)
	}
	return data, nil
}

func (m *MockStore) Release(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.releases[id]++
	if _, ok := m.handles[id]; !ok {
		return fmt.Errorf("%w: %s", storage.ErrHandleNotFound, id)
	}
	delete(m.handles, id)
	delete(m.data, id)
	return nil
}

func (m *MockStore) List(limit int) ([]*models.Handle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var list []*models.Handle
	for _, h := range m.handles {
		list = append(list, h)
		if limit > 0 && len(list) >= limit {
			break
		}
	}
	return list, nil
}

func (m *MockStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handles)
}

// Ensure MockStore implements storage.Store
var _ storage.Store = (*MockStore)(nil)

// Test Helper Methods

// Created returns the ids of every handle ever created
func (m *MockStore) Created() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.created))
	copy(out, m.created)
	return out
}

// ReleaseCount returns how many times Release was called for id
func (m *MockStore) ReleaseCount(id string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.releases[id]
}

// CheckBalanced reports an error unless every created handle was released
// exactly once and nothing else was released.
func (m *MockStore) CheckBalanced() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	known := make(map[string]bool, len(m.created))
	for _, id := range m.created {
		known[id] = true
		if n := m.releases[id]; n != 1 {
			errs = append(errs, fmt.Errorf("handle %s released %d times", id, n))
		}
	}
	for id := range m.releases {
		if !known[id] {
			errs = append(errs, fmt.Errorf("unknown handle %s released", id))
		}
	}
	return errors.Join(errs...)
}

// generateTestID generates a simple test ID
var testIDCounter int
var testIDMutex sync.Mutex

func generateTestID() string {
	testIDMutex.Lock()
	defer testIDMutex.Unlock()
	testIDCounter++
	return fmt.Sprintf("test-id-%d", testIDCounter)
}
