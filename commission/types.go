/*
Package commission implements tiered referral commissions.

PURPOSE:
  On order completion the Calculator walks the buyer's sponsor chain
  upward, applies the product's per-level rate table, writes commission
  ledger entries, and credits upline pending balances through the
  Balance Ledger Guard.

KEY CONCEPTS IN THIS FILE (types.go):
  - Commission: one ledger entry, unique per (order, beneficiary, level)
  - RateTable: per-level percentage rates, fixed at product creation
  - Product / Catalog: rate table lookup keyed by product id
  - OrderEvent: the input from the external order service

SEE ALSO:
  - calculator.go: the upward walk
  - ledger.go: ledger persistence contract
*/
package commission

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/netweave/affiliate-engine/affiliate"
)

// =============================================================================
// COMMISSION - Ledger entry
// =============================================================================

type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusCancelled:
		return true
	}
	return false
}

// Commission is one entry in the commission ledger, the authoritative
// record of what an order owes an upline affiliate at a given level.
// At most one entry exists per (OrderID, BeneficiaryCode, Level).
type Commission struct {
	ID              string
	OrderID         string
	BeneficiaryCode affiliate.Code
	Level           int
	Amount          affiliate.Money
	Status          Status
	CreatedAt       time.Time
}

// =============================================================================
// RATE TABLE - Per-level commission percentages
// =============================================================================

// RateTable maps level (1..N) to a percentage rate. Attached to a product
// at creation and immutable for already-placed orders: a later table
// change must never retroactively alter historical ledger entries, which
// is why the calculator resolves the table once per order event and the
// ledger stores computed amounts, not rates.
type RateTable struct {
	rates map[int]decimal.Decimal
}

type LevelRate struct {
	Level int
	Rate  decimal.Decimal
}

// NewRateTable validates and builds a table. Levels must be >= 1 and
// unique; rates must be non-negative. An empty table is legal - it means
// the product pays no commissions at any level.
func NewRateTable(pairs []LevelRate) (RateTable, error) {
	rates := make(map[int]decimal.Decimal, len(pairs))
	for _, p := range pairs {
		if p.Level < 1 {
			return RateTable{}, ErrInvalidRateTable
		}
		if p.Rate.IsNegative() {
			return RateTable{}, ErrInvalidRateTable
		}
		if _, dup := rates[p.Level]; dup {
			return RateTable{}, ErrInvalidRateTable
		}
		rates[p.Level] = p.Rate
	}
	return RateTable{rates: rates}, nil
}

// RateFor returns the rate for a level and whether one is defined.
// A missing level is "no commission at this level", never an error.
func (t RateTable) RateFor(level int) (decimal.Decimal, bool) {
	r, ok := t.rates[level]
	return r, ok
}

func (t RateTable) IsEmpty() bool { return len(t.rates) == 0 }

// Levels returns the defined levels in ascending order.
func (t RateTable) Levels() []LevelRate {
	out := make([]LevelRate, 0, len(t.rates))
	for l, r := range t.rates {
		out = append(out, LevelRate{Level: l, Rate: r})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out
}

// =============================================================================
// PRODUCT - Rate table owner
// =============================================================================

type Product struct {
	ID        string
	Name      string
	Price     affiliate.Money
	Active    bool
	Levels    RateTable
	CreatedAt time.Time
}

// Catalog resolves products for rate table lookup.
type Catalog interface {
	// Product returns the product or ErrProductNotFound.
	Product(ctx context.Context, id string) (*Product, error)

	// SaveProduct persists a new product with its rate table.
	SaveProduct(ctx context.Context, p *Product) error

	// Products lists all products, newest first.
	Products(ctx context.Context) ([]*Product, error)
}

// =============================================================================
// ORDER EVENT - Input from the order service
// =============================================================================

// OrderEvent is the completion signal from the external order service.
// Delivery is at-least-once; the ledger's (order, beneficiary, level)
// uniqueness makes re-processing a no-op.
type OrderEvent struct {
	OrderID     string
	BuyerCode   affiliate.Code
	ProductID   string
	TotalAmount affiliate.Money
}
