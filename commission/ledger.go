/*
ledger.go - Commission ledger persistence contract

PURPOSE:
  The ledger is the single source of truth for commission events. Any
  order-side summary of commissions is a derived cache and must be
  recomputable from here.

APPEND-MOSTLY CONTRACT:
  - Append is the normal write path. It rejects a duplicate
    (order, beneficiary, level) key with ErrDuplicateEntry, which is what
    makes order-event re-delivery a no-op.
  - Remove exists ONLY as the compensating action for the calculator's
    write-ledger-then-credit-balance protocol: if the balance credit fails
    after the ledger write, the orphan entry is deleted so ledger and
    balances never diverge. Nothing else deletes ledger entries.
  - SetStatus is a compare-and-set used by the payout path. Entries move
    from pending to paid or cancelled exactly once.

SEE ALSO:
  - calculator.go: the only caller of Remove
  - store/memory, store/sqlite: implementations
*/
package commission

import (
	"context"

	"github.com/netweave/affiliate-engine/affiliate"
)

// =============================================================================
// LEDGER - Interface for commission persistence
// =============================================================================

type Ledger interface {
	// Append persists a new entry. Returns ErrDuplicateEntry if an entry
	// with the same (OrderID, BeneficiaryCode, Level) already exists.
	Append(ctx context.Context, c Commission) error

	// Remove deletes the entry keyed by (orderID, code, level).
	// Compensating action only - see the package comment above.
	Remove(ctx context.Context, orderID string, code affiliate.Code, level int) error

	// Entry resolves a ledger entry by id. Returns ErrEntryNotFound.
	Entry(ctx context.Context, id string) (Commission, error)

	// ByOrder returns all entries for an order, ascending by level.
	ByOrder(ctx context.Context, orderID string) ([]Commission, error)

	// ByBeneficiary returns entries credited to an affiliate, newest
	// first, optionally filtered by status ("" = all).
	ByBeneficiary(ctx context.Context, code affiliate.Code, status Status) ([]Commission, error)

	// SetStatus transitions one entry from the expected current status to
	// a new one. Returns ErrInvalidStatus when the entry is not currently
	// in `from`, so a payout confirmation cannot apply twice.
	SetStatus(ctx context.Context, id string, from, to Status) error
}
