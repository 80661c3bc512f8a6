package listing

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	listings map[string]*Listing
}

// NewMemoryStore creates a new in-memory listing store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{listings: make(map[string]*Listing)}
}

func (s *MemoryStore) Create(ctx context.Context, l *Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *l
	s.listings[l.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.listings[id]
	if !ok {
		return nil, ErrListingNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *MemoryStore) Update(ctx context.Context, l *Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.listings[l.ID]; !ok {
		return ErrListingNotFound
	}
	cp := *l
	s.listings[l.ID] = &cp
	return nil
}

func (s *MemoryStore) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter(limit, func(l *Listing) bool { return l.SellerID == sellerID }), nil
}

func (s *MemoryStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter(limit, func(l *Listing) bool { return l.Status == status }), nil
}

// filter assumes the read lock is held.
func (s *MemoryStore) filter(limit int, keep func(*Listing) bool) []*Listing {
	var out []*Listing
	for _, l := range s.listings {
		if keep(l) {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
