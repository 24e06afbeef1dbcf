/*
directory.go - Persistence interface and registration for affiliates

PURPOSE:
  Defines the Directory interface between the domain logic and the
  database, plus the Registrar that orchestrates affiliate creation.

DIRECTORY CONTRACT:
  - ByCode / DirectReferrals are plain reads. DirectReferrals is backed by
    a reverse index on sponsor_code and MUST return children in a stable
    order (joined_at, then code) so downline trees render deterministically.
  - UpdateBalances applies a set of balance deltas to one affiliate
    atomically: all deltas apply or none do, and concurrent updates to the
    same affiliate are serialized by the implementation (single UPDATE
    statement, row lock, or store-level mutex). ONLY the Guard calls this.
  - Insert / IncrementCounters are registration-time writes.

REGISTRATION:
  The sponsor link is validated and fixed at creation; it is never updated
  afterwards. Registration bumps the direct sponsor's referral counter and
  walks the ancestor chain bumping downline counters. The walk carries the
  same hard depth cap as the commission walk - a corrupted (cyclic) sponsor
  graph must not hang registration.

SEE ALSO:
  - guard.go: the only caller of UpdateBalances
  - store/memory, store/sqlite: implementations
*/
package affiliate

import (
	"context"
	"strings"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
)

// =============================================================================
// DIRECTORY - Interface for affiliate persistence
// =============================================================================

type Directory interface {
	// ByCode resolves an affiliate. Returns ErrNotFound if absent.
	ByCode(ctx context.Context, code Code) (*Affiliate, error)

	// DirectReferrals returns the affiliates whose sponsor is code,
	// ordered by joined_at then code. Returns an empty slice (not an
	// error) when the affiliate has no referrals.
	DirectReferrals(ctx context.Context, code Code) ([]*Affiliate, error)

	// Insert persists a new affiliate. Returns ErrDuplicateCode if the
	// code is taken. The sponsor link is immutable after this call.
	Insert(ctx context.Context, a *Affiliate) error

	// IncrementCounters adds the given deltas to the stored referral
	// counters of one affiliate.
	IncrementCounters(ctx context.Context, code Code, directDelta, downlineDelta int) error

	// UpdateBalances atomically applies deltas to the named balance
	// fields of one affiliate. Implementations must serialize concurrent
	// calls for the same affiliate and must reject any delta that would
	// take balance_pending or balance_available below zero
	// (ErrInsufficientBalance). Callers outside guard.go must not use
	// this; all balance mutation goes through the Guard.
	UpdateBalances(ctx context.Context, code Code, deltas map[BalanceField]Money) error
}

// =============================================================================
// REGISTRAR - Affiliate creation with counter maintenance
// =============================================================================

// Registrar creates affiliates and keeps the stored referral counters in
// step with the graph.
type Registrar struct {
	Dir Directory

	// MaxLevels bounds the ancestor walk that bumps downline counters.
	// Shared with the commission walk cap so both defenses agree on how
	// deep a chain is trusted.
	MaxLevels int

	Log zerolog.Logger
}

func NewRegistrar(dir Directory, maxLevels int, log zerolog.Logger) *Registrar {
	return &Registrar{Dir: dir, MaxLevels: maxLevels, Log: log}
}

// Register validates the sponsor link, fills in generated fields, inserts
// the record, and updates ancestor counters.
//
// Counter semantics: the direct sponsor gains one direct referral; every
// resolvable ancestor (sponsor included) within MaxLevels gains one
// downline member. A broken chain stops the counter walk silently - the
// new affiliate is already committed and counters are best-effort stored
// values, not authoritative recounts.
func (r *Registrar) Register(ctx context.Context, a *Affiliate) error {
	if a.Code.IsZero() {
		a.Code = GenerateCode()
	}
	if a.ID == "" {
		a.ID = xid.New().String()
	}
	if a.JoinedAt.IsZero() {
		a.JoinedAt = time.Now().UTC()
	}
	a.Active = true
	a.BalancePending = Zero()
	a.BalanceAvailable = Zero()
	a.TotalEarnings = Zero()

	if a.HasSponsor() {
		if _, err := r.Dir.ByCode(ctx, a.SponsorCode); err != nil {
			if IsNotFound(err) {
				return ErrSponsorNotFound
			}
			return err
		}
	}

	if err := r.Dir.Insert(ctx, a); err != nil {
		return err
	}

	if a.HasSponsor() {
		r.bumpAncestors(ctx, a)
	}
	return nil
}

func (r *Registrar) bumpAncestors(ctx context.Context, a *Affiliate) {
	current := a.SponsorCode
	for level := 1; level <= r.MaxLevels && !current.IsZero(); level++ {
		ancestor, err := r.Dir.ByCode(ctx, current)
		if err != nil {
			// Broken chain above this point. The affiliate is committed;
			// counters upstream of the break stay as they were.
			r.Log.Warn().Str("code", string(a.Code)).Str("ancestor", string(current)).
				Int("level", level).Msg("counter walk hit unresolvable ancestor")
			return
		}

		directDelta := 0
		if level == 1 {
			directDelta = 1
		}
		if err := r.Dir.IncrementCounters(ctx, ancestor.Code, directDelta, 1); err != nil {
			r.Log.Error().Err(err).Str("ancestor", string(ancestor.Code)).
				Msg("failed to update referral counters")
			return
		}
		current = ancestor.SponsorCode
	}
}

// GenerateCode mints a fresh affiliate code. Upper-cased xid keeps codes
// short, unique, and safe to hand out in referral links.
func GenerateCode() Code {
	return Code("AF" + strings.ToUpper(xid.New().String()))
}
