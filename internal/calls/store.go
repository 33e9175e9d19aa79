package calls

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when neither index resolves a record.
	ErrNotFound = errors.New("calls: not found")

	// ErrProviderCallIDConflict is returned when a Put would index a
	// provider call id already owned by a different record. Two live calls
	// never share a provider id; hitting this signals a bug or a hostile
	// duplicate.
	ErrProviderCallIDConflict = errors.New("calls: provider call id conflict")
)

// Store holds call records with two consistent lookup paths: by internal
// call id and by the provider's current call id.
//
// Implementations must be safe for concurrent use. Per-call write ordering
// is the lifecycle manager's job; the store only guarantees that each
// operation is atomic with respect to both indices.

type Store interface {
	// Put inserts or replaces the record under its CallID and (re)indexes
	// its current ProviderCallID.
	Put(ctx context.Context, c Call) error

	GetByCallID(ctx context.Context, callID string) (Call, error)
	GetByProviderCallID(ctx context.Context, providerCallID string) (Call, error)

	// ReindexProviderCallID atomically removes the old provider-id index
	// entry and installs newProviderCallID, leaving the CallID index
	// untouched. After it returns, the old id resolves to ErrNotFound.
	ReindexProviderCallID(ctx context.Context, callID, newProviderCallID string) error
}

// MemoryStore is an in-memory Store for tests and single-node development.
// Records are copied in and out, so callers can't mutate stored state
// behind the store's back.

type MemoryStore struct {
	mu         sync.RWMutex
	byCallID   map[string]Call
	byProvider map[string]string // provider call id -> call id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byCallID:   map[string]Call{},
		byProvider: map[string]string{},
	}
}

func (s *MemoryStore) Put(ctx context.Context, c Call) error {
	if c.CallID == "" {
		return errors.New("calls: call_id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ProviderCallID != "" {
		if owner, ok := s.byProvider[c.ProviderCallID]; ok && owner != c.CallID {
			return ErrProviderCallIDConflict
		}
	}

	if prev, ok := s.byCallID[c.CallID]; ok && prev.ProviderCallID != "" && prev.ProviderCallID != c.ProviderCallID {
		delete(s.byProvider, prev.ProviderCallID)
	}
	s.byCallID[c.CallID] = c
	if c.ProviderCallID != "" {
		s.byProvider[c.ProviderCallID] = c.CallID
	}
	return nil
}

func (s *MemoryStore) GetByCallID(ctx context.Context, callID string) (Call, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byCallID[callID]
	if !ok {
		return Call{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) GetByProviderCallID(ctx context.Context, providerCallID string) (Call, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	callID, ok := s.byProvider[providerCallID]
	if !ok {
		return Call{}, ErrNotFound
	}
	c, ok := s.byCallID[callID]
	if !ok {
		return Call{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) ReindexProviderCallID(ctx context.Context, callID, newProviderCallID string) error {
	if newProviderCallID == "" {
		return errors.New("calls: new provider call id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byCallID[callID]
	if !ok {
		return ErrNotFound
	}
	if owner, ok := s.byProvider[newProviderCallID]; ok && owner != callID {
		return ErrProviderCallIDConflict
	}
	if c.ProviderCallID != "" {
		delete(s.byProvider, c.ProviderCallID)
	}
	c.ProviderCallID = newProviderCallID
	s.byCallID[callID] = c
	s.byProvider[newProviderCallID] = callID
	return nil
}

// ListCalls returns records created within [from, to), most recent last.
// It backs internal/reporting; the lifecycle manager never iterates.
func (s *MemoryStore) ListCalls(ctx context.Context, from, to time.Time) ([]Call, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Call, 0)
	for _, c := range s.byCallID {
		if !c.CreatedAt.IsZero() {
			if c.CreatedAt.Before(from) || !c.CreatedAt.Before(to) {
				continue
			}
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
