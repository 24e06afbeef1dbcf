/*
calculator.go - Commission Calculator: the upward sponsor-chain walk

PURPOSE:
  Called once per completed order. Walks the sponsor chain upward from the
  buyer, applies the product's per-level rate table, writes ledger entries
  in pending state, and credits upline pending balances through the Guard.

WALK RULES (each one is load-bearing):
  - The walk is ITERATIVE and depth-capped. The sponsor relation is
    supposed to be a forest, but the cap is the only defense against a
    corrupted (cyclic) graph and is never removed.
  - A missing RATE at a level skips crediting that level and CONTINUES the
    walk using the current affiliate's own sponsor.
  - A missing AFFILIATE record stops the walk entirely. The chain is
    unrecoverable above a broken link; later levels are not paid even if
    rates are defined for them.
  - Each level's amount is computed independently from the order total
    with fixed-point arithmetic. No compounding, no float accumulation.

IDEMPOTENCY:
  Order events arrive at-least-once. An existing (order, beneficiary,
  level) entry means this level was already processed: the append is
  skipped, the balance is NOT credited again, and the entry is not
  reported as newly written.

CONSISTENCY:
  write ledger -> credit balance -> on credit failure, retry once, then
  delete the orphan ledger entry and log a failed-commission alert. The
  ledger and balances never diverge under partial failure.

FAILURE POSTURE:
  Unresolved product or buyer is a data-integrity event: logged, zero
  commissions, nil error - the purchase itself still completes. Only
  store-level failures surface as errors, alongside whatever entries were
  already committed (partial writes stay valid; there is no whole-order
  rollback).
*/
package commission

import (
	"context"
	"errors"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"github.com/netweave/affiliate-engine/affiliate"
)

// DefaultMaxLevels is the default cap on the upward walk.
const DefaultMaxLevels = 5

// =============================================================================
// CALCULATOR
// =============================================================================

type Calculator struct {
	Directory affiliate.Directory // reads only
	Catalog   Catalog
	Ledger    Ledger
	Guard     *affiliate.Guard

	// MaxLevels caps the walk. Defaults to DefaultMaxLevels when <= 0.
	MaxLevels int

	Log zerolog.Logger
}

func NewCalculator(dir affiliate.Directory, catalog Catalog, ledger Ledger, guard *affiliate.Guard, maxLevels int, log zerolog.Logger) *Calculator {
	if maxLevels <= 0 {
		maxLevels = DefaultMaxLevels
	}
	return &Calculator{
		Directory: dir,
		Catalog:   catalog,
		Ledger:    ledger,
		Guard:     guard,
		MaxLevels: maxLevels,
		Log:       log,
	}
}

// Compute runs the walk for one completed order and returns the ledger
// entries written by THIS run. Entries skipped because they already exist
// (re-delivered event) are not returned. The returned slice is a
// denormalized summary for the caller's convenience; the ledger remains
// the single source of truth.
func (c *Calculator) Compute(ctx context.Context, ev OrderEvent) ([]Commission, error) {
	product, err := c.Catalog.Product(ctx, ev.ProductID)
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			c.Log.Warn().Str("order_id", ev.OrderID).Str("product_id", ev.ProductID).
				Msg("data integrity: product unresolved, order completes without commissions")
			return nil, nil
		}
		return nil, err
	}

	buyer, err := c.Directory.ByCode(ctx, ev.BuyerCode)
	if err != nil {
		if affiliate.IsNotFound(err) {
			c.Log.Warn().Str("order_id", ev.OrderID).Str("buyer_code", string(ev.BuyerCode)).
				Msg("data integrity: buyer unresolved, order completes without commissions")
			return nil, nil
		}
		return nil, err
	}

	if !buyer.HasSponsor() {
		return nil, nil
	}

	written := make([]Commission, 0, c.MaxLevels)
	current := buyer.SponsorCode

	for level := 1; level <= c.MaxLevels && !current.IsZero(); level++ {
		upline, err := c.Directory.ByCode(ctx, current)
		if err != nil {
			if affiliate.IsNotFound(err) {
				// Broken chain: the graph is unrecoverable above this
				// point. Stop entirely - do not skip and continue.
				c.Log.Warn().Str("order_id", ev.OrderID).Str("code", string(current)).
					Int("level", level).Msg("data integrity: sponsor chain broken, walk stopped")
				return written, nil
			}
			return written, err
		}

		rate, defined := product.Levels.RateFor(level)
		if defined {
			entry := Commission{
				ID:              xid.New().String(),
				OrderID:         ev.OrderID,
				BeneficiaryCode: upline.Code,
				Level:           level,
				Amount:          ev.TotalAmount.Percent(rate),
				Status:          StatusPending,
				CreatedAt:       time.Now().UTC(),
			}

			switch err := c.Ledger.Append(ctx, entry); {
			case errors.Is(err, ErrDuplicateEntry):
				// Re-delivered event; this level was already credited.
			case err != nil:
				return written, err
			default:
				if ok := c.creditOrCompensate(ctx, entry); ok {
					written = append(written, entry)
				}
			}
		}
		// A missing rate skips the level but never breaks the chain: the
		// walk advances via the current affiliate's own sponsor.
		current = upline.SponsorCode
	}

	return written, nil
}

// creditOrCompensate applies the pending-balance credit for a freshly
// written ledger entry. On failure it retries once, then deletes the
// orphan entry so ledger and balances stay consistent.
func (c *Calculator) creditOrCompensate(ctx context.Context, entry Commission) bool {
	err := c.Guard.Credit(ctx, entry.BeneficiaryCode, affiliate.FieldPending, entry.Amount)
	if err != nil {
		err = c.Guard.Credit(ctx, entry.BeneficiaryCode, affiliate.FieldPending, entry.Amount)
	}
	if err == nil {
		return true
	}

	c.Log.Error().Err(err).Str("order_id", entry.OrderID).
		Str("beneficiary", string(entry.BeneficiaryCode)).Int("level", entry.Level).
		Msg("failed commission: balance credit failed, compensating ledger delete")

	if rmErr := c.Ledger.Remove(ctx, entry.OrderID, entry.BeneficiaryCode, entry.Level); rmErr != nil {
		// Worst case: orphan ledger entry with no matching balance.
		// Loud alert; reconciliation has to pick this up.
		c.Log.Error().Err(rmErr).Str("order_id", entry.OrderID).
			Str("beneficiary", string(entry.BeneficiaryCode)).Int("level", entry.Level).
			Msg("compensating delete failed, ledger and balance diverged")
	}
	return false
}
