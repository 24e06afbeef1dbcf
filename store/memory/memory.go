/*
Package memory provides an in-memory implementation of the storage
interfaces (affiliate.Directory, commission.Ledger, commission.Catalog)
for tests and development.

Semantics mirror the SQLite store exactly: unique affiliate codes, unique
(order, beneficiary, level) ledger keys, atomic multi-field balance
updates, and deterministic DirectReferrals ordering (joined_at, then
code). Reads return copies so callers can never mutate stored state.
*/
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/netweave/affiliate-engine/affiliate"
	"github.com/netweave/affiliate-engine/commission"
)

// =============================================================================
// STORE
// =============================================================================

type Store struct {
	mu sync.RWMutex

	affiliates map[affiliate.Code]*affiliate.Affiliate
	bySponsor  map[affiliate.Code][]affiliate.Code // reverse referral index

	entries    map[string]commission.Commission // by entry id
	entryByKey map[entryKey]string              // (order, code, level) -> id

	products     map[string]*commission.Product
	productOrder []string
}

type entryKey struct {
	OrderID string
	Code    affiliate.Code
	Level   int
}

func New() *Store {
	return &Store{
		affiliates: make(map[affiliate.Code]*affiliate.Affiliate),
		bySponsor:  make(map[affiliate.Code][]affiliate.Code),
		entries:    make(map[string]commission.Commission),
		entryByKey: make(map[entryKey]string),
		products:   make(map[string]*commission.Product),
	}
}

// =============================================================================
// AFFILIATE DIRECTORY
// =============================================================================

func (s *Store) ByCode(_ context.Context, code affiliate.Code) (*affiliate.Affiliate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.affiliates[code]
	if !ok {
		return nil, affiliate.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) DirectReferrals(_ context.Context, code affiliate.Code) ([]*affiliate.Affiliate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	codes := s.bySponsor[code]
	result := make([]*affiliate.Affiliate, 0, len(codes))
	for _, c := range codes {
		if a, ok := s.affiliates[c]; ok {
			cp := *a
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].JoinedAt.Equal(result[j].JoinedAt) {
			return result[i].JoinedAt.Before(result[j].JoinedAt)
		}
		return result[i].Code < result[j].Code
	})
	return result, nil
}

func (s *Store) Insert(_ context.Context, a *affiliate.Affiliate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.affiliates[a.Code]; exists {
		return affiliate.ErrDuplicateCode
	}
	cp := *a
	s.affiliates[a.Code] = &cp
	if a.HasSponsor() {
		s.bySponsor[a.SponsorCode] = append(s.bySponsor[a.SponsorCode], a.Code)
	}
	return nil
}

func (s *Store) IncrementCounters(_ context.Context, code affiliate.Code, directDelta, downlineDelta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.affiliates[code]
	if !ok {
		return affiliate.ErrNotFound
	}
	a.DirectReferralCount += directDelta
	a.DownlineCount += downlineDelta
	return nil
}

// UpdateBalances applies all deltas or none. The store lock serializes
// concurrent read-modify-writes to the same affiliate.
func (s *Store) UpdateBalances(_ context.Context, code affiliate.Code, deltas map[affiliate.BalanceField]affiliate.Money) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.affiliates[code]
	if !ok {
		return affiliate.ErrNotFound
	}

	pending, available, earnings := a.BalancePending, a.BalanceAvailable, a.TotalEarnings
	for field, delta := range deltas {
		switch field {
		case affiliate.FieldPending:
			pending = pending.Add(delta)
		case affiliate.FieldAvailable:
			available = available.Add(delta)
		case affiliate.FieldEarnings:
			earnings = earnings.Add(delta)
		default:
			return affiliate.ErrUnknownField
		}
	}
	if pending.IsNegative() || available.IsNegative() {
		return affiliate.ErrInsufficientBalance
	}

	a.BalancePending, a.BalanceAvailable, a.TotalEarnings = pending, available, earnings
	return nil
}

// =============================================================================
// COMMISSION LEDGER
// =============================================================================

func (s *Store) Append(_ context.Context, c commission.Commission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := entryKey{OrderID: c.OrderID, Code: c.BeneficiaryCode, Level: c.Level}
	if _, exists := s.entryByKey[k]; exists {
		return commission.ErrDuplicateEntry
	}
	s.entries[c.ID] = c
	s.entryByKey[k] = c.ID
	return nil
}

func (s *Store) Remove(_ context.Context, orderID string, code affiliate.Code, level int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := entryKey{OrderID: orderID, Code: code, Level: level}
	id, exists := s.entryByKey[k]
	if !exists {
		return commission.ErrEntryNotFound
	}
	delete(s.entryByKey, k)
	delete(s.entries, id)
	return nil
}

func (s *Store) Entry(_ context.Context, id string) (commission.Commission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.entries[id]
	if !ok {
		return commission.Commission{}, commission.ErrEntryNotFound
	}
	return c, nil
}

func (s *Store) ByOrder(_ context.Context, orderID string) ([]commission.Commission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []commission.Commission
	for _, c := range s.entries {
		if c.OrderID == orderID {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Level < result[j].Level })
	return result, nil
}

func (s *Store) ByBeneficiary(_ context.Context, code affiliate.Code, status commission.Status) ([]commission.Commission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []commission.Commission
	for _, c := range s.entries {
		if c.BeneficiaryCode != code {
			continue
		}
		if status != "" && c.Status != status {
			continue
		}
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *Store) SetStatus(_ context.Context, id string, from, to commission.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.entries[id]
	if !ok {
		return commission.ErrEntryNotFound
	}
	if c.Status != from || !to.Valid() {
		return commission.ErrInvalidStatus
	}
	c.Status = to
	s.entries[id] = c
	return nil
}

// =============================================================================
// PRODUCT CATALOG
// =============================================================================

func (s *Store) Product(_ context.Context, id string) (*commission.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, commission.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) SaveProduct(_ context.Context, p *commission.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[p.ID]; !exists {
		s.productOrder = append(s.productOrder, p.ID)
	}
	cp := *p
	s.products[p.ID] = &cp
	return nil
}

func (s *Store) Products(_ context.Context) ([]*commission.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*commission.Product, 0, len(s.productOrder))
	for i := len(s.productOrder) - 1; i >= 0; i-- {
		if p, ok := s.products[s.productOrder[i]]; ok {
			cp := *p
			result = append(result, &cp)
		}
	}
	return result, nil
}
