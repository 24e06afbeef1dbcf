/*
errors.go - Centralized error types for the affiliate package

PURPOSE:
  All affiliate-level errors in one place. Other packages wrap these with
  additional context and test them with errors.Is / errors.As.

ERROR CATEGORIES:
  1. Lookup errors - missing affiliates / sponsors
  2. Registration errors - duplicate codes, invalid sponsor links
  3. Balance errors - guarded mutations that cannot apply

USAGE:
    if errors.Is(err, affiliate.ErrNotFound) { ... }

    var credErr *affiliate.CreditError
    if errors.As(err, &credErr) { ... }
*/
package affiliate

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when an affiliate code does not resolve.
	ErrNotFound = errors.New("affiliate not found")

	// ErrSponsorNotFound is returned at registration when the sponsor code
	// references no existing affiliate.
	ErrSponsorNotFound = errors.New("sponsor not found")

	// ErrDuplicateCode is returned when registering an affiliate whose code
	// is already taken. Codes are the relationship key and must be unique.
	ErrDuplicateCode = errors.New("affiliate code already registered")

	// ErrUnknownField is returned for a balance mutation naming a field
	// that is not one of the three guarded balance fields.
	ErrUnknownField = errors.New("unknown balance field")

	// ErrInsufficientBalance is returned when a debit would take a balance
	// below zero. Balances never go negative.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidTransition is returned for a balance transition that is not
	// pending -> available.
	ErrInvalidTransition = errors.New("invalid balance transition")

	// ErrCreditFailed wraps store-level failures of a guarded credit.
	ErrCreditFailed = errors.New("balance credit failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// CreditError reports a guarded balance mutation that could not apply.
// The mutation either fully applied or did not apply at all; there is no
// partially-applied state to clean up beyond what the caller initiated.
type CreditError struct {
	Code  Code
	Field BalanceField
	Delta Money
	Cause error
}

func (e *CreditError) Error() string {
	return fmt.Sprintf("credit %s to %s/%s failed: %v", e.Delta, e.Code, e.Field, e.Cause)
}

func (e *CreditError) Unwrap() error { return ErrCreditFailed }

// IsNotFound returns true if the error indicates a missing affiliate record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrSponsorNotFound)
}
