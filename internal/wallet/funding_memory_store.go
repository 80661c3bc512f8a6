package wallet

import (
	"context"
	"sort"
	"sync"
)

// FundingMemoryStore is an in-memory funding store for demo/development mode.
type FundingMemoryStore struct {
	mu          sync.RWMutex
	deposits    map[string]*DepositTicket
	withdrawals map[string]*WithdrawalRequest
}

// NewFundingMemoryStore creates a new in-memory funding store.
func NewFundingMemoryStore() *FundingMemoryStore {
	return &FundingMemoryStore{
		deposits:    make(map[string]*DepositTicket),
		withdrawals: make(map[string]*WithdrawalRequest),
	}
}

func (m *FundingMemoryStore) CreateDeposit(ctx context.Context, t *DepositTicket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.deposits[t.ID] = &cp
	return nil
}

func (m *FundingMemoryStore) GetDeposit(ctx context.Context, id string) (*DepositTicket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.deposits[id]
	if !ok {
		return nil, ErrDepositNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *FundingMemoryStore) UpdateDeposit(ctx context.Context, t *DepositTicket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deposits[t.ID]; !ok {
		return ErrDepositNotFound
	}
	cp := *t
	m.deposits[t.ID] = &cp
	return nil
}

func (m *FundingMemoryStore) ListDepositsByStatus(ctx context.Context, status DepositStatus, limit int) ([]*DepositTicket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*DepositTicket
	for _, t := range m.deposits {
		if t.Status == status {
			cp := *t
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *FundingMemoryStore) CreateWithdrawal(ctx context.Context, w *WithdrawalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *w
	m.withdrawals[w.ID] = &cp
	return nil
}

func (m *FundingMemoryStore) GetWithdrawal(ctx context.Context, id string) (*WithdrawalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.withdrawals[id]
	if !ok {
		return nil, ErrWithdrawalNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *FundingMemoryStore) UpdateWithdrawal(ctx context.Context, w *WithdrawalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.withdrawals[w.ID]; !ok {
		return ErrWithdrawalNotFound
	}
	cp := *w
	m.withdrawals[w.ID] = &cp
	return nil
}

func (m *FundingMemoryStore) ListWithdrawalsByStatus(ctx context.Context, status WithdrawalStatus, limit int) ([]*WithdrawalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*WithdrawalRequest
	for _, w := range m.withdrawals {
		if w.Status == status {
			cp := *w
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
