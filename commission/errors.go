// errors.go - Sentinel errors for the commission package.
//
// Integrity errors (unresolved product/buyer) degrade the calculation to
// zero commissions and never abort the calling order flow; they surface
// here so callers and tests can distinguish them.
package commission

import "errors"

var (
	// ErrProductNotFound is returned when a product id does not resolve.
	ErrProductNotFound = errors.New("product not found")

	// ErrDuplicateEntry is returned when appending a commission whose
	// (order, beneficiary, level) key already exists. Expected on
	// re-delivery of an order event; the calculator treats it as a skip.
	ErrDuplicateEntry = errors.New("duplicate commission entry")

	// ErrEntryNotFound is returned when a ledger entry id does not resolve.
	ErrEntryNotFound = errors.New("commission entry not found")

	// ErrInvalidRateTable is returned for malformed rate tables:
	// level < 1, duplicate level, or negative rate.
	ErrInvalidRateTable = errors.New("invalid rate table")

	// ErrInvalidStatus is returned for a status transition the ledger does
	// not permit (only pending entries move, to paid or cancelled).
	ErrInvalidStatus = errors.New("invalid status transition")
)
