package wallet

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/playstash/playstash/internal/idgen"
)

// MemoryStore is an in-memory wallet store for demo/development mode.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]*Account
	entries  []*Entry
	seq      int64
}

// NewMemoryStore creates a new in-memory wallet store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*Account),
	}
}

func (m *MemoryStore) GetOrCreate(ctx context.Context, userID string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct := m.getOrCreateLocked(userID)
	cp := *acct
	return &cp, nil
}

func (m *MemoryStore) Get(ctx context.Context, userID string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[userID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	cp := *acct
	return &cp, nil
}

// ApplyEntries applies the whole batch under one lock: balances are
// verified against every intermediate state before anything is committed.
func (m *MemoryStore) ApplyEntries(ctx context.Context, reqs []EntryRequest) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Dry-run against scratch copies first.
	scratch := make(map[string]*Account, len(reqs))
	for i := range reqs {
		req := &reqs[i]
		acct, ok := scratch[req.UserID]
		if !ok {
			cp := *m.getOrCreateLocked(req.UserID)
			acct = &cp
			scratch[req.UserID] = acct
		}
		acct.Available = acct.Available.Add(req.AvailableDelta)
		acct.Held = acct.Held.Add(req.HeldDelta)
		if acct.Available.IsNegative() {
			return nil, ErrInsufficientFunds
		}
		if acct.Held.IsNegative() {
			return nil, ErrInsufficientHeldFunds
		}
	}

	// Commit: replay deltas against the real accounts and record entries.
	now := time.Now()
	entries := make([]*Entry, 0, len(reqs))
	for i := range reqs {
		req := &reqs[i]
		acct := m.accounts[req.UserID]
		acct.Available = acct.Available.Add(req.AvailableDelta)
		acct.Held = acct.Held.Add(req.HeldDelta)
		acct.UpdatedAt = now

		m.seq++
		e := &Entry{
			ID:             idgen.WithPrefix("led_"),
			UserID:         req.UserID,
			Type:           req.Type,
			Direction:      req.Direction,
			Amount:         req.Amount,
			AvailableDelta: req.AvailableDelta,
			HeldDelta:      req.HeldDelta,
			AvailableAfter: acct.Available,
			HeldAfter:      acct.Held,
			Note:           req.Note,
			ReferenceType:  req.ReferenceType,
			ReferenceID:    req.ReferenceID,
			Actor:          req.Actor,
			Seq:            m.seq,
			CreatedAt:      now,
		}
		m.entries = append(m.entries, e)
		cp := *e
		entries = append(entries, &cp)
	}
	return entries, nil
}

func (m *MemoryStore) History(ctx context.Context, userID string, limit int) ([]*Entry, error) {
	return m.history(userID, limit, func(e *Entry) bool { return true })
}

func (m *MemoryStore) HistoryBefore(ctx context.Context, userID string, before time.Time, beforeSeq int64, limit int) ([]*Entry, error) {
	return m.history(userID, limit, func(e *Entry) bool {
		if e.CreatedAt.Equal(before) {
			return e.Seq < beforeSeq
		}
		return e.CreatedAt.Before(before)
	})
}

func (m *MemoryStore) history(userID string, limit int, keep func(*Entry) bool) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*Entry
	for _, e := range m.entries {
		if e.UserID == userID && keep(e) {
			cp := *e
			result = append(result, &cp)
		}
	}
	// Newest first; ties broken by insertion sequence.
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].Seq > result[j].Seq
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) getOrCreateLocked(userID string) *Account {
	if acct, ok := m.accounts[userID]; ok {
		return acct
	}
	now := time.Now()
	acct := &Account{
		UserID:    userID,
		Available: decimal.Zero,
		Held:      decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.accounts[userID] = acct
	return acct
}
