package order

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	orders   map[string]*Order
	disputes map[string]*Dispute // keyed by order ID
}

// NewMemoryStore creates a new in-memory order store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:   make(map[string]*Order),
		disputes: make(map[string]*Dispute),
	}
}

func (s *MemoryStore) CreateOrder(ctx context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *MemoryStore) GetOrder(ctx context.Context, id string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) UpdateOrder(ctx context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; !ok {
		return ErrOrderNotFound
	}
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

// UpdateOrderIf writes o only if the stored order is still in one of
// the from statuses.
func (s *MemoryStore) UpdateOrderIf(ctx context.Context, o *Order, from ...Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.orders[o.ID]
	if !ok {
		return ErrOrderNotFound
	}
	if !statusIn(cur.Status, from) {
		return ErrInvalidState
	}
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *MemoryStore) ListByBuyer(ctx context.Context, buyerID string, limit int) ([]*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter(limit, func(o *Order) bool { return o.BuyerID == buyerID }), nil
}

func (s *MemoryStore) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter(limit, func(o *Order) bool { return o.SellerID == sellerID }), nil
}

func (s *MemoryStore) ListDueForRelease(ctx context.Context, now time.Time, limit int) ([]*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Order
	for _, o := range s.orders {
		if o.Status == StatusDelivered && o.AutoReleaseAt != nil && !o.AutoReleaseAt.After(now) {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AutoReleaseAt.Before(*out[j].AutoReleaseAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CreateDispute(ctx context.Context, d *Dispute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.disputes[d.OrderID] = &cp
	return nil
}

func (s *MemoryStore) GetDisputeByOrder(ctx context.Context, orderID string) (*Dispute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.disputes[orderID]
	if !ok {
		return nil, ErrDisputeNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryStore) UpdateDispute(ctx context.Context, d *Dispute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.disputes[d.OrderID]; !ok {
		return ErrDisputeNotFound
	}
	cp := *d
	s.disputes[d.OrderID] = &cp
	return nil
}

// filter assumes the read lock is held.
func (s *MemoryStore) filter(limit int, keep func(*Order) bool) []*Order {
	var out []*Order
	for _, o := range s.orders {
		if keep(o) {
			cp := *o
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
