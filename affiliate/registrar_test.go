package affiliate_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netweave/affiliate-engine/affiliate"
	"github.com/netweave/affiliate-engine/store/memory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newRegistrar(store *memory.Store) *affiliate.Registrar {
	return affiliate.NewRegistrar(store, 5, zerolog.Nop())
}

func registered(t *testing.T, r *affiliate.Registrar, code, sponsor string) *affiliate.Affiliate {
	t.Helper()
	a := &affiliate.Affiliate{
		Code:        affiliate.Code(code),
		SponsorCode: affiliate.Code(sponsor),
		Name:        code,
		Email:       code + "@example.com",
	}
	require.NoError(t, r.Register(context.Background(), a))
	return a
}

// =============================================================================
// REGISTRATION TESTS
// =============================================================================

func TestRegistrar_FillsGeneratedFields(t *testing.T) {
	store := memory.New()
	r := newRegistrar(store)

	a := &affiliate.Affiliate{Name: "Nora", Email: "nora@example.com"}
	require.NoError(t, r.Register(context.Background(), a))

	assert.NotEmpty(t, a.ID)
	assert.True(t, strings.HasPrefix(string(a.Code), "AF"))
	assert.True(t, a.Active)
	assert.False(t, a.JoinedAt.IsZero())
	assert.Equal(t, "0.00", a.BalancePending.String())
	assert.Equal(t, "0.00", a.BalanceAvailable.String())
	assert.Equal(t, "0.00", a.TotalEarnings.String())
}

func TestRegistrar_GeneratedCodesAreUnique(t *testing.T) {
	seen := make(map[affiliate.Code]bool)
	for i := 0; i < 100; i++ {
		code := affiliate.GenerateCode()
		assert.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
}

func TestRegistrar_UnknownSponsor_Rejected(t *testing.T) {
	store := memory.New()
	r := newRegistrar(store)

	a := &affiliate.Affiliate{Name: "Orphan", Email: "o@example.com", SponsorCode: "ghost"}
	err := r.Register(context.Background(), a)
	assert.ErrorIs(t, err, affiliate.ErrSponsorNotFound)

	// The record must not be half-committed.
	_, err = store.ByCode(context.Background(), a.Code)
	assert.ErrorIs(t, err, affiliate.ErrNotFound)
}

func TestRegistrar_DuplicateCode_Rejected(t *testing.T) {
	store := memory.New()
	r := newRegistrar(store)
	registered(t, r, "taken", "")

	a := &affiliate.Affiliate{Code: "taken", Name: "Copycat", Email: "c@example.com"}
	err := r.Register(context.Background(), a)
	assert.ErrorIs(t, err, affiliate.ErrDuplicateCode)
}

// =============================================================================
// COUNTER MAINTENANCE TESTS
// =============================================================================

func TestRegistrar_CountersPropagateUpTheChain(t *testing.T) {
	// GIVEN: A chain a <- b <- c
	// WHEN: d registers under c
	// THEN: c gains a direct referral; a, b, and c each gain one downline
	//       member

	store := memory.New()
	r := newRegistrar(store)
	registered(t, r, "a", "")
	registered(t, r, "b", "a")
	registered(t, r, "c", "b")

	registered(t, r, "d", "c")

	ctx := context.Background()
	c, err := store.ByCode(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 1, c.DirectReferralCount)
	assert.Equal(t, 1, c.DownlineCount)

	b, err := store.ByCode(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 1, b.DirectReferralCount) // from c's registration
	assert.Equal(t, 2, b.DownlineCount)       // c and d

	a, err := store.ByCode(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, a.DirectReferralCount) // from b's registration
	assert.Equal(t, 3, a.DownlineCount)       // b, c and d
}

func TestRegistrar_CounterWalkBoundedByMaxLevels(t *testing.T) {
	// GIVEN: A chain deeper than the configured cap
	// WHEN: A new affiliate registers at the bottom
	// THEN: Only the capped ancestors gain a downline member

	store := memory.New()
	r := affiliate.NewRegistrar(store, 2, zerolog.Nop())
	registered(t, r, "top", "")
	registered(t, r, "mid", "top")
	registered(t, r, "low", "mid")

	registered(t, r, "leaf", "low")

	ctx := context.Background()
	top, err := store.ByCode(ctx, "top")
	require.NoError(t, err)
	// top is 3 levels above leaf, beyond the cap of 2.
	assert.Equal(t, 2, top.DownlineCount) // mid and low only
}

func TestRegistrar_BrokenChain_RegistrationStillCommits(t *testing.T) {
	// GIVEN: A sponsor whose own sponsor link points at a missing record
	// WHEN: A new affiliate registers under that sponsor
	// THEN: Registration succeeds, the direct sponsor's counters update,
	//       and the walk stops at the break

	store := memory.New()
	require.NoError(t, store.Insert(context.Background(), &affiliate.Affiliate{
		ID:          "id-dangling",
		Code:        "dangling",
		SponsorCode: "vanished",
		Name:        "Dangling",
		Email:       "d@example.com",
		Active:      true,
		JoinedAt:    time.Now().UTC(),
	}))
	r := newRegistrar(store)

	registered(t, r, "leaf", "dangling")

	sponsor, err := store.ByCode(context.Background(), "dangling")
	require.NoError(t, err)
	assert.Equal(t, 1, sponsor.DirectReferralCount)
	assert.Equal(t, 1, sponsor.DownlineCount)
}
