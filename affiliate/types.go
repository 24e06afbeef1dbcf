/*
Package affiliate provides the core affiliate domain model.

PURPOSE:
  This package contains the affiliate record, the Money fixed-point type,
  the Directory persistence interface, and the Balance Ledger Guard - the
  only component permitted to mutate balance fields.

KEY CONCEPTS IN THIS FILE (types.go):
  - Code: A unique human-readable affiliate code. Sponsor links reference
    codes, not internal ids. The sponsor relation on codes must form a
    forest, but nothing in this package TRUSTS that - graph walks elsewhere
    carry a hard depth cap.
  - Money: A fixed-point monetary amount backed by decimal.Decimal.
    No floating point anywhere near balances.
  - Affiliate: The persisted record. Balance fields are mutated ONLY
    through the Guard (guard.go).

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for all monetary values
  2. Type safety: Code is a distinct type, never a bare string
  3. Immutability: the sponsor link is fixed at registration

SEE ALSO:
  - directory.go: Persistence interface and registration
  - guard.go: Balance Ledger Guard
*/
package affiliate

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CODE - Affiliate relationship key
// =============================================================================

// Code is the unique, human-readable affiliate code. The sponsor relation
// is keyed on Code, not on the internal id.
type Code string

func (c Code) IsZero() bool { return c == "" }

// =============================================================================
// MONEY - Fixed-point monetary amount
// =============================================================================

// Money wraps decimal.Decimal so monetary arithmetic never touches floats.
// Commission amounts are rounded to 2 decimal places at computation time;
// each level is computed independently from the order total, so rounding
// never compounds across levels.
type Money struct {
	Value decimal.Decimal
}

func NewMoney(value decimal.Decimal) Money { return Money{Value: value} }

func MoneyFromString(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, err
	}
	return Money{Value: d}, nil
}

func MoneyFromFloat(f float64) Money { return Money{Value: decimal.NewFromFloat(f)} }

func Zero() Money { return Money{Value: decimal.Zero} }

func (m Money) Add(b Money) Money   { return Money{Value: m.Value.Add(b.Value)} }
func (m Money) Sub(b Money) Money   { return Money{Value: m.Value.Sub(b.Value)} }
func (m Money) Neg() Money          { return Money{Value: m.Value.Neg()} }
func (m Money) IsZero() bool        { return m.Value.IsZero() }
func (m Money) IsNegative() bool    { return m.Value.IsNegative() }
func (m Money) IsPositive() bool    { return m.Value.IsPositive() }
func (m Money) Equal(b Money) bool  { return m.Value.Equal(b.Value) }
func (m Money) String() string      { return m.Value.StringFixed(2) }

// Percent returns rate% of m, rounded to 2 decimal places.
// This is THE commission arithmetic: amount = total * rate / 100.
func (m Money) Percent(rate decimal.Decimal) Money {
	return Money{Value: m.Value.Mul(rate).Div(decimal.NewFromInt(100)).Round(2)}
}

// =============================================================================
// BALANCE FIELDS
// =============================================================================

// BalanceField names one of the three guarded monetary fields on an
// affiliate record.
type BalanceField string

const (
	FieldPending   BalanceField = "balance_pending"
	FieldAvailable BalanceField = "balance_available"
	FieldEarnings  BalanceField = "total_earnings"
)

func (f BalanceField) Valid() bool {
	switch f {
	case FieldPending, FieldAvailable, FieldEarnings:
		return true
	}
	return false
}

// =============================================================================
// AFFILIATE - Persisted record
// =============================================================================

type Affiliate struct {
	ID          string
	Code        Code
	SponsorCode Code // zero value = no sponsor (root of a referral tree)
	Name        string
	Email       string

	// Balance fields. Mutated ONLY via the Guard.
	BalancePending   Money
	BalanceAvailable Money
	TotalEarnings    Money

	// Stored counters, maintained at registration time. These are the
	// reported values - not live recounts - and may diverge from the graph
	// if the update path misbehaves. That divergence is testable.
	DirectReferralCount int
	DownlineCount       int

	Active   bool
	JoinedAt time.Time
}

func (a *Affiliate) HasSponsor() bool { return !a.SponsorCode.IsZero() }
