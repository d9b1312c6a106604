package storage

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segment-viewer/backend/internal/metrics"
	"github.com/segment-viewer/backend/internal/models"
)

// ErrHandleNotFound is returned for unknown or already released handles.
var ErrHandleNotFound = errors.New("handle not found")

// Store defines the interface for preview handle storage.
type Store interface {
	Create(name, contentType string, data []byte) (*models.Handle, error)
	Get(id string) (*models.Handle, error)
	Open(id string) ([]byte, error)
	Release(id string) error
	List(limit int) ([]*models.Handle, error)
	Len() int
}

type entry struct {
	handle *models.Handle
	data   []byte
}

// MemoryStore implements Store in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*entry),
	}
}

// Create registers data under a fresh handle.
func (s *MemoryStore) Create(name, contentType string, data []byte) (*models.Handle, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("creating handle for %q: empty data", name)
	}

	h := &models.Handle{
		ID:          uuid.New().String(),
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(data)),
		CreatedAt:   time.Now(),
	}

	s.mu.Lock()
	s.entries[h.ID] = &entry{handle: h, data: data}
	s.mu.Unlock()

	metrics.LiveHandles.Inc()
	return h, nil
}

// Get retrieves handle metadata by ID.
func (s *MemoryStore) Get(id string) (*models.Handle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandleNotFound, id)
	}
	return e.handle, nil
}

// Open returns the bytes behind a handle. Callers must not modify them.
func (s *MemoryStore) Open(id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandleNotFound, id)
	}
	return e.data, nil
}

// Release revokes a handle. Releasing twice is an error.
func (s *MemoryStore) Release(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; !ok {
		return fmt.Errorf("%w: %s", ErrHandleNotFound, id)
	}
	delete(s.entries, id)
	metrics.LiveHandles.Dec()
	return nil
}

// List returns the most recently created handles.
func (s *MemoryStore) List(limit int) ([]*models.Handle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*models.Handle, 0, len(s.entries))
	for _, e := range s.entries {
		list = append(list, e.handle)
	}

	// Sort by CreatedAt desc
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})

	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}

	return list, nil
}

// Len reports how many handles are live.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
