// Package store provides an in-memory hierarchy.Store implementation
// (for testing and demos).
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/skycast/reseller-engine/hierarchy"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory implements hierarchy.Store with mutex-guarded maps. All compound
// operations (ApplyTransfer, ApplyReversal) run under the write lock, which
// gives them the same all-or-nothing observable behavior as a database
// transaction.
type Memory struct {
	mu          sync.RWMutex
	accounts    map[string]hierarchy.Account
	subscribers map[string]hierarchy.Subscriber
	entries     []entryRec
	capping     *hierarchy.CappingSettings
	seq         int
}

type entryRec struct {
	seq   int
	entry hierarchy.LedgerEntry
}

func NewMemory() *Memory {
	return &Memory{
		accounts:    make(map[string]hierarchy.Account),
		subscribers: make(map[string]hierarchy.Subscriber),
	}
}

// Reset clears everything. Demo/dev only.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = make(map[string]hierarchy.Account)
	m.subscribers = make(map[string]hierarchy.Subscriber)
	m.entries = nil
	m.capping = nil
	m.seq = 0
	return nil
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (m *Memory) SaveAccount(_ context.Context, a hierarchy.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.ID] = a
	return nil
}

func (m *Memory) GetAccount(_ context.Context, id string) (*hierarchy.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *Memory) ListAccounts(_ context.Context) ([]hierarchy.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]hierarchy.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListAccountsByParent(_ context.Context, parentID string) ([]hierarchy.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []hierarchy.Account
	for _, a := range m.accounts {
		if a.ParentID == parentID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) DeleteAccount(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.accounts, id)
	return nil
}

// =============================================================================
// SUBSCRIBERS
// =============================================================================

func (m *Memory) SaveSubscriber(_ context.Context, s hierarchy.Subscriber) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.PackageIDs = append([]string(nil), s.PackageIDs...)
	m.subscribers[s.ID] = s
	return nil
}

func (m *Memory) GetSubscriber(_ context.Context, id string) (*hierarchy.Subscriber, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subscribers[id]
	if !ok {
		return nil, nil
	}
	s.PackageIDs = append([]string(nil), s.PackageIDs...)
	return &s, nil
}

func (m *Memory) ListSubscribersByReseller(_ context.Context, resellerID string) ([]hierarchy.Subscriber, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []hierarchy.Subscriber
	for _, s := range m.subscribers {
		if s.ResellerID == resellerID {
			s.PackageIDs = append([]string(nil), s.PackageIDs...)
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CountSubscribersByReseller(_ context.Context, resellerID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.subscribers {
		if s.ResellerID == resellerID {
			count++
		}
	}
	return count, nil
}

func (m *Memory) DeleteSubscriber(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscribers, id)
	return nil
}

// =============================================================================
// CAPPING SETTINGS
// =============================================================================

func (m *Memory) GetCappingSettings(_ context.Context) (*hierarchy.CappingSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.capping == nil {
		return nil, nil
	}
	s := *m.capping
	return &s, nil
}

func (m *Memory) SaveCappingSettings(_ context.Context, s hierarchy.CappingSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capping = &s
	return nil
}

// =============================================================================
// LEDGER READS
// =============================================================================

func (m *Memory) GetEntry(_ context.Context, id string) (*hierarchy.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.entries {
		if rec.entry.ID == id {
			e := rec.entry
			return &e, nil
		}
	}
	return nil, nil
}

func (m *Memory) EntriesByParticipants(_ context.Context, accountIDs []string, typeFilter hierarchy.EntryType) ([]hierarchy.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	allowed := func(e hierarchy.LedgerEntry) bool {
		if typeFilter != "" && e.Type != typeFilter {
			return false
		}
		if accountIDs == nil {
			return true
		}
		for _, id := range accountIDs {
			if e.SenderID == id || e.TargetID == id {
				return true
			}
		}
		return false
	}

	var recs []entryRec
	for _, rec := range m.entries {
		if allowed(rec.entry) {
			recs = append(recs, rec)
		}
	}
	// Newest first; insertion order breaks created-at ties.
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].entry.CreatedAt.Equal(recs[j].entry.CreatedAt) {
			return recs[i].entry.CreatedAt.After(recs[j].entry.CreatedAt)
		}
		return recs[i].seq > recs[j].seq
	})

	out := make([]hierarchy.LedgerEntry, len(recs))
	for i, rec := range recs {
		out[i] = rec.entry
	}
	return out, nil
}

// =============================================================================
// TRANSFERS
// =============================================================================

func (m *Memory) ApplyTransfer(_ context.Context, op hierarchy.TransferOp) (*hierarchy.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sender, ok := m.accounts[op.Entry.SenderID]
	if !ok {
		return nil, &hierarchy.BalancePredicateError{AccountID: op.Entry.SenderID}
	}
	senderAfter := sender.Balance.Add(op.SenderDelta)
	if op.SenderFloor != nil && senderAfter.LessThan(*op.SenderFloor) {
		return nil, &hierarchy.BalancePredicateError{AccountID: sender.ID}
	}

	entry := op.Entry
	entry.SenderBalanceAfter = senderAfter

	if entry.HasTarget() {
		target, ok := m.accounts[entry.TargetID]
		if !ok {
			return nil, &hierarchy.BalancePredicateError{AccountID: entry.TargetID}
		}
		targetAfter := target.Balance.Add(op.TargetDelta)
		if op.TargetFloor != nil && targetAfter.LessThan(*op.TargetFloor) {
			return nil, &hierarchy.BalancePredicateError{AccountID: target.ID}
		}
		target.Balance = targetAfter
		m.accounts[target.ID] = target
		entry.TargetBalanceAfter = targetAfter
	}

	sender.Balance = senderAfter
	m.accounts[sender.ID] = sender

	m.seq++
	m.entries = append(m.entries, entryRec{seq: m.seq, entry: entry})
	return &entry, nil
}

func (m *Memory) ApplyReversal(_ context.Context, entryID string, deltas []hierarchy.BalanceDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := -1
	for i, rec := range m.entries {
		if rec.entry.ID == entryID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("entry %s: %w", entryID, hierarchy.ErrEntryNotFound)
	}

	// Stage every new balance before touching the map: a missing
	// participant must leave the other side and the entry untouched.
	staged := make(map[string]hierarchy.Account, len(deltas))
	for _, d := range deltas {
		a, ok := staged[d.AccountID]
		if !ok {
			if a, ok = m.accounts[d.AccountID]; !ok {
				return fmt.Errorf("account %s: %w", d.AccountID, hierarchy.ErrAccountNotFound)
			}
		}
		a.Balance = a.Balance.Add(d.Delta)
		staged[d.AccountID] = a
	}
	for id, a := range staged {
		m.accounts[id] = a
	}

	m.entries = append(m.entries[:idx], m.entries[idx+1:]...)
	return nil
}

func (m *Memory) ChargeAccount(_ context.Context, accountID string, amount, floor decimal.Decimal) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[accountID]
	if !ok {
		return decimal.Zero, &hierarchy.BalancePredicateError{AccountID: accountID}
	}
	after := a.Balance.Sub(amount)
	if after.LessThan(floor) {
		return decimal.Zero, &hierarchy.BalancePredicateError{AccountID: accountID}
	}
	a.Balance = after
	m.accounts[accountID] = a
	return after, nil
}

// =============================================================================
// CASCADE
// =============================================================================

func (m *Memory) DeactivateAccount(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok || a.Status != hierarchy.StatusActive {
		return false, nil
	}
	a.Status = hierarchy.StatusInactive
	m.accounts[id] = a
	return true, nil
}

func (m *Memory) DeactivateResellers(_ context.Context, distributorID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for id, a := range m.accounts {
		if a.ParentID == distributorID && a.Tier == hierarchy.TierReseller {
			a.Status = hierarchy.StatusInactive
			m.accounts[id] = a
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *Memory) DeactivateSubscribers(_ context.Context, resellerIDs []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	owned := make(map[string]bool, len(resellerIDs))
	for _, id := range resellerIDs {
		owned[id] = true
	}

	var changed int64
	for id, s := range m.subscribers {
		if owned[s.ResellerID] && s.Status != hierarchy.SubscriberInactive {
			s.Status = hierarchy.SubscriberInactive
			m.subscribers[id] = s
			changed++
		}
	}
	return changed, nil
}
