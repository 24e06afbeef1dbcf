/*
guard.go - Balance Ledger Guard

PURPOSE:
  The Guard is the sole authorized mutator of the three balance fields on
  an affiliate record (balance_pending, balance_available, total_earnings).
  Every other component - calculator, payout handler, admin tooling -
  requests balance changes through it.

GUARANTEES:
  1. A credit either fully applies or is reported as failed. No partial
     update is observable to concurrent readers (the Directory's
     UpdateBalances contract).
  2. Credits to the same affiliate are serialized by the store, so two
     orders crediting a shared upline sponsor concurrently never lose an
     update.
  3. Every successful credit is attributable to exactly one commission
     ledger entry; the calculator compensates (deletes the orphan entry)
     when a credit fails after the ledger write.

TRANSITIONS:
  Transition moves a confirmed payout amount from pending to available and
  records it in total earnings, as one atomic multi-field update. The only
  legal transition is pending -> available. Cancellations are a plain
  negative Credit against pending.
*/
package affiliate

import (
	"context"

	"github.com/rs/zerolog"
)

// =============================================================================
// GUARD - Sole balance mutator
// =============================================================================

type Guard struct {
	dir Directory
	log zerolog.Logger
}

func NewGuard(dir Directory, log zerolog.Logger) *Guard {
	return &Guard{dir: dir, log: log}
}

// Credit applies delta to one balance field. Negative deltas are debits
// and fail with ErrInsufficientBalance rather than driving the balance
// below zero.
func (g *Guard) Credit(ctx context.Context, code Code, field BalanceField, delta Money) error {
	if !field.Valid() {
		return ErrUnknownField
	}
	if delta.IsZero() {
		return nil
	}

	err := g.dir.UpdateBalances(ctx, code, map[BalanceField]Money{field: delta})
	if err != nil {
		return &CreditError{Code: code, Field: field, Delta: delta, Cause: err}
	}

	g.log.Debug().Str("code", string(code)).Str("field", string(field)).
		Stringer("delta", delta.Value).Msg("balance credited")
	return nil
}

// Transition moves amount from pending to available on payout
// confirmation, bumping total earnings in the same atomic update.
func (g *Guard) Transition(ctx context.Context, code Code, from, to BalanceField, amount Money) error {
	if from != FieldPending || to != FieldAvailable {
		return ErrInvalidTransition
	}
	if amount.IsNegative() || amount.IsZero() {
		return ErrInvalidTransition
	}

	deltas := map[BalanceField]Money{
		FieldPending:   amount.Neg(),
		FieldAvailable: amount,
		FieldEarnings:  amount,
	}
	if err := g.dir.UpdateBalances(ctx, code, deltas); err != nil {
		return &CreditError{Code: code, Field: to, Delta: amount, Cause: err}
	}

	g.log.Debug().Str("code", string(code)).Stringer("amount", amount.Value).
		Msg("pending balance released to available")
	return nil
}
