/*
ledger.go - Balance transfers and the transaction log

PURPOSE:
  LedgerService performs exactly one balance-affecting operation per call
  and records it durably, or rejects the whole operation with no partial
  effect.

SEMANTICS BY TYPE:
  Credit        sender → target. Fails with a capping violation if the
                sender would drop below its tier floor.
  Debit /
  ReverseCredit target → sender (the sender reclaims funds). Fails with
                insufficient funds if the target cannot cover the amount,
                or a capping violation if it would drop below its floor.
  SelfCredit    admin only, no target; increases the admin balance. The
                admin floor is unbounded so no capping check applies.

CONCURRENCY:
  Transfer reads both balances, validates in memory, then hands the store a
  conditional operation ("apply delta where the resulting balance still
  satisfies the floor"). Losing the race never silently loses an update:
  the store reports a predicate failure, and the service re-reads and
  retries a bounded number of times before surfacing ErrConflict. Two
  concurrent debits that would jointly breach a balance therefore resolve
  to exactly one success.

REVERSAL:
  Reverse applies the exact inverse delta the entry recorded and deletes
  the entry, atomically. Capping floors are deliberately NOT re-checked:
  reversal is a corrective operation trusted to the admin, which means it
  may legally push a balance below its floor. Reversing a reversal is not
  supported; operators issue a fresh compensating transaction instead.
*/
package hierarchy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// maxTransferAttempts bounds internal retries on concurrency conflicts.
const maxTransferAttempts = 3

// LedgerService executes transfers, reversals and history queries.
type LedgerService struct {
	store   Store
	capping *CappingPolicy

	// Now is the clock; overridable in tests.
	Now func() time.Time
}

func NewLedgerService(store Store, capping *CappingPolicy) *LedgerService {
	return &LedgerService{store: store, capping: capping, Now: time.Now}
}

// TransferRequest is one requested balance movement.
type TransferRequest struct {
	Type     EntryType
	Amount   decimal.Decimal
	SenderID string
	// TargetID must be empty for self credits, set otherwise.
	TargetID string
}

// =============================================================================
// TRANSFER
// =============================================================================

// Transfer validates, authorizes and applies one transfer, returning the
// recorded entry with its balance-after snapshots. Failure is total: no
// entry is written and no balance changes if any precondition fails.
func (s *LedgerService) Transfer(ctx context.Context, caller Caller, req TransferRequest) (*LedgerEntry, error) {
	if err := validateTransferRequest(req); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < maxTransferAttempts; attempt++ {
		entry, err := s.attemptTransfer(ctx, caller, req)
		if err == nil {
			return entry, nil
		}
		if IsRetryable(err) {
			lastErr = err
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("transfer did not settle after %d attempts: %w", maxTransferAttempts, lastErr)
}

func validateTransferRequest(req TransferRequest) error {
	if !req.Amount.IsPositive() {
		return &InvalidInputError{Field: "amount", Reason: "must be greater than zero"}
	}
	if req.SenderID == "" {
		return &InvalidInputError{Field: "sender_id", Reason: "required"}
	}
	switch req.Type {
	case EntrySelfCredit:
		if req.TargetID != "" {
			return &InvalidInputError{Field: "target_id", Reason: "self credit takes no target"}
		}
	case EntryCredit, EntryDebit, EntryReverseCredit:
		if req.TargetID == "" {
			return &InvalidInputError{Field: "target_id", Reason: "required"}
		}
		if req.TargetID == req.SenderID {
			return &InvalidInputError{Field: "target_id", Reason: "sender and target must differ"}
		}
	default:
		return &InvalidInputError{Field: "type", Reason: "unknown transaction type"}
	}
	return nil
}

// attemptTransfer runs one validate-and-apply pass against fresh balances.
// A *BalancePredicateError from the store means the state moved between our
// read and the conditional write; the caller retries and the next pass
// re-validates, converting a persistent violation into its typed error.
func (s *LedgerService) attemptTransfer(ctx context.Context, caller Caller, req TransferRequest) (*LedgerEntry, error) {
	floors, err := s.capping.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	sender, err := s.loadAccount(ctx, req.SenderID)
	if err != nil {
		return nil, err
	}

	op := TransferOp{Entry: LedgerEntry{
		ID:        uuid.NewString(),
		Type:      req.Type,
		Amount:    req.Amount,
		SenderID:  sender.ID,
		CreatedAt: s.Now().UTC(),
	}}

	switch req.Type {
	case EntrySelfCredit:
		if caller.Tier != TierAdmin || sender.Tier != TierAdmin {
			return nil, fmt.Errorf("self credit is admin-only: %w", ErrUnauthorized)
		}
		op.SenderDelta = req.Amount

	case EntryCredit:
		target, err := s.loadAccount(ctx, req.TargetID)
		if err != nil {
			return nil, err
		}
		if err := authorizeTransfer(caller, sender, target); err != nil {
			return nil, err
		}
		floor := floors.For(sender.Tier)
		after := sender.Balance.Sub(req.Amount)
		if after.LessThan(floor) {
			return nil, &CappingViolationError{AccountID: sender.ID, Tier: sender.Tier, Floor: floor, Resulting: after}
		}
		op.Entry.TargetID = target.ID
		op.SenderDelta = req.Amount.Neg()
		op.TargetDelta = req.Amount
		op.SenderFloor = &floor

	case EntryDebit, EntryReverseCredit:
		target, err := s.loadAccount(ctx, req.TargetID)
		if err != nil {
			return nil, err
		}
		if err := authorizeTransfer(caller, sender, target); err != nil {
			return nil, err
		}
		if target.Balance.LessThan(req.Amount) {
			return nil, &InsufficientFundsError{AccountID: target.ID, Available: target.Balance, Requested: req.Amount}
		}
		floor := floors.For(target.Tier)
		after := target.Balance.Sub(req.Amount)
		if after.LessThan(floor) {
			return nil, &CappingViolationError{AccountID: target.ID, Tier: target.Tier, Floor: floor, Resulting: after}
		}
		op.Entry.TargetID = target.ID
		op.SenderDelta = req.Amount
		op.TargetDelta = req.Amount.Neg()
		op.TargetFloor = &floor
	}

	return s.store.ApplyTransfer(ctx, op)
}

// authorizeTransfer enforces the hierarchy rule: the caller acts on behalf
// of the sender, and the target is a direct subordinate of the sender
// (admin may act on any distributor or reseller).
func authorizeTransfer(caller Caller, sender, target *Account) error {
	if caller.Tier != TierAdmin && caller.AccountID != sender.ID {
		return fmt.Errorf("caller may not act for account %s: %w", sender.ID, ErrUnauthorized)
	}

	switch sender.Tier {
	case TierAdmin:
		if target.Tier == TierAdmin {
			return fmt.Errorf("admin account cannot be a transfer target: %w", ErrUnauthorized)
		}
		return nil
	case TierDistributor:
		if target.Tier != TierReseller || target.ParentID != sender.ID {
			return fmt.Errorf("target %s is not a reseller of %s: %w", target.ID, sender.ID, ErrUnauthorized)
		}
		return nil
	case TierReseller:
		return fmt.Errorf("resellers have no subordinate accounts: %w", ErrUnauthorized)
	}
	return fmt.Errorf("unknown sender tier %q: %w", sender.Tier, ErrUnauthorized)
}

// =============================================================================
// REVERSAL
// =============================================================================

// Reverse undoes a recorded entry: it applies the exact inverse of the
// delta the entry recorded and deletes the entry. Admin only. Floors are
// not re-checked (see the file header).
func (s *LedgerService) Reverse(ctx context.Context, caller Caller, entryID string) error {
	if caller.Tier != TierAdmin {
		return fmt.Errorf("reversal is admin-only: %w", ErrUnauthorized)
	}

	entry, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("entry %s: %w", entryID, ErrEntryNotFound)
	}

	var deltas []BalanceDelta
	switch entry.Type {
	case EntryCredit:
		deltas = []BalanceDelta{
			{AccountID: entry.SenderID, Delta: entry.Amount},
			{AccountID: entry.TargetID, Delta: entry.Amount.Neg()},
		}
	case EntryDebit, EntryReverseCredit:
		deltas = []BalanceDelta{
			{AccountID: entry.SenderID, Delta: entry.Amount.Neg()},
			{AccountID: entry.TargetID, Delta: entry.Amount},
		}
	case EntrySelfCredit:
		deltas = []BalanceDelta{
			{AccountID: entry.SenderID, Delta: entry.Amount.Neg()},
		}
	default:
		return &InvalidInputError{Field: "type", Reason: "unknown entry type " + string(entry.Type)}
	}

	var lastErr error
	for attempt := 0; attempt < maxTransferAttempts; attempt++ {
		err := s.store.ApplyReversal(ctx, entry.ID, deltas)
		if err == nil || !IsRetryable(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("reversal did not settle after %d attempts: %w", maxTransferAttempts, lastErr)
}

// =============================================================================
// HISTORY
// =============================================================================

// HistoryFilter narrows a history query.
type HistoryFilter struct {
	// AccountID restricts to entries where this account participates.
	AccountID string
	// Type restricts by entry type when non-empty.
	Type EntryType
}

// History returns ledger entries visible to the caller, newest first.
// Visibility is a hierarchy-scoped filter: admin sees everything, a
// distributor its own entries plus all entries of its resellers, a
// reseller only its own.
func (s *LedgerService) History(ctx context.Context, caller Caller, f HistoryFilter) ([]LedgerEntry, error) {
	var scope []string // nil = unrestricted

	switch caller.Tier {
	case TierAdmin:
		scope = nil
	case TierDistributor:
		children, err := s.store.ListAccountsByParent(ctx, caller.AccountID)
		if err != nil {
			return nil, err
		}
		scope = make([]string, 0, len(children)+1)
		scope = append(scope, caller.AccountID)
		for _, c := range children {
			scope = append(scope, c.ID)
		}
	case TierReseller:
		scope = []string{caller.AccountID}
	default:
		return nil, fmt.Errorf("unknown caller tier %q: %w", caller.Tier, ErrUnauthorized)
	}

	if f.AccountID != "" {
		if scope != nil && !containsID(scope, f.AccountID) {
			return nil, fmt.Errorf("account %s is outside the caller's scope: %w", f.AccountID, ErrUnauthorized)
		}
		scope = []string{f.AccountID}
	}

	return s.store.EntriesByParticipants(ctx, scope, f.Type)
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *LedgerService) loadAccount(ctx context.Context, id string) (*Account, error) {
	a, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("account %s: %w", id, ErrAccountNotFound)
	}
	return a, nil
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
