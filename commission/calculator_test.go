package commission_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netweave/affiliate-engine/affiliate"
	"github.com/netweave/affiliate-engine/commission"
	"github.com/netweave/affiliate-engine/store/memory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newCalculator(t *testing.T, store *memory.Store, maxLevels int) *commission.Calculator {
	t.Helper()
	guard := affiliate.NewGuard(store, zerolog.Nop())
	return commission.NewCalculator(store, store, store, guard, maxLevels, zerolog.Nop())
}

// seedChain inserts affiliates root-first: codes[0] has no sponsor, each
// later code is sponsored by the one before it. Returns the last code.
func seedChain(t *testing.T, store *memory.Store, codes ...string) affiliate.Code {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)

	for i, code := range codes {
		a := &affiliate.Affiliate{
			ID:       "id-" + code,
			Code:     affiliate.Code(code),
			Name:     code,
			Email:    code + "@example.com",
			Active:   true,
			JoinedAt: base.Add(time.Duration(i) * time.Hour),
		}
		if i > 0 {
			a.SponsorCode = affiliate.Code(codes[i-1])
		}
		require.NoError(t, store.Insert(ctx, a))
	}
	return affiliate.Code(codes[len(codes)-1])
}

func seedProduct(t *testing.T, store *memory.Store, id string, rates map[int]int64) {
	t.Helper()
	pairs := make([]commission.LevelRate, 0, len(rates))
	for level, rate := range rates {
		pairs = append(pairs, commission.LevelRate{Level: level, Rate: decimal.NewFromInt(rate)})
	}
	table, err := commission.NewRateTable(pairs)
	require.NoError(t, err)

	require.NoError(t, store.SaveProduct(context.Background(), &commission.Product{
		ID:        id,
		Name:      "test product",
		Price:     affiliate.MoneyFromFloat(100),
		Active:    true,
		Levels:    table,
		CreatedAt: time.Now().UTC(),
	}))
}

func money(t *testing.T, s string) affiliate.Money {
	t.Helper()
	m, err := affiliate.MoneyFromString(s)
	require.NoError(t, err)
	return m
}

func fullRateTable() map[int]int64 {
	return map[int]int64{1: 20, 2: 10, 3: 5, 4: 3, 5: 2}
}

func orderEvent(t *testing.T, orderID string, buyer affiliate.Code, total string) commission.OrderEvent {
	t.Helper()
	return commission.OrderEvent{
		OrderID:     orderID,
		BuyerCode:   buyer,
		ProductID:   "prod-1",
		TotalAmount: money(t, total),
	}
}

// =============================================================================
// WALK TESTS
// =============================================================================

func TestCalculator_FiveResolvableAncestors_FullTable(t *testing.T) {
	// GIVEN: Rate table [20,10,5,3,2] and a buyer with 5 ancestors
	// WHEN: Computing commissions for a 100.00 order
	// THEN: Levels 1..5 get 20,10,5,3,2 - all pending

	store := memory.New()
	seedProduct(t, store, "prod-1", fullRateTable())
	buyer := seedChain(t, store, "a5", "a4", "a3", "a2", "a1", "buyer")
	calc := newCalculator(t, store, 5)

	written, err := calc.Compute(context.Background(), orderEvent(t, "ord-1", buyer, "100"))
	require.NoError(t, err)
	require.Len(t, written, 5)

	wantAmounts := []string{"20.00", "10.00", "5.00", "3.00", "2.00"}
	wantCodes := []affiliate.Code{"a1", "a2", "a3", "a4", "a5"}
	for i, c := range written {
		assert.Equal(t, i+1, c.Level)
		assert.Equal(t, wantCodes[i], c.BeneficiaryCode)
		assert.Equal(t, wantAmounts[i], c.Amount.String())
		assert.Equal(t, commission.StatusPending, c.Status)
		assert.Equal(t, "ord-1", c.OrderID)
	}

	// Upline pending balances were credited through the guard
	a1, err := store.ByCode(context.Background(), "a1")
	require.NoError(t, err)
	assert.True(t, a1.BalancePending.Equal(money(t, "20.00")))
}

func TestCalculator_Rerun_IsIdempotent(t *testing.T) {
	// GIVEN: An order already processed once
	// WHEN: The same order event is delivered again
	// THEN: No additional ledger entries, no additional balance credits

	store := memory.New()
	seedProduct(t, store, "prod-1", fullRateTable())
	buyer := seedChain(t, store, "a2", "a1", "buyer")
	calc := newCalculator(t, store, 5)
	ctx := context.Background()

	first, err := calc.Compute(ctx, orderEvent(t, "ord-1", buyer, "100"))
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := calc.Compute(ctx, orderEvent(t, "ord-1", buyer, "100"))
	require.NoError(t, err)
	assert.Empty(t, second, "re-run must write nothing new")

	entries, err := store.ByOrder(ctx, "ord-1")
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	a1, err := store.ByCode(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, a1.BalancePending.Equal(money(t, "20.00")), "balance must not be credited twice")
}

func TestCalculator_BuyerWithoutSponsor_NoCommissions(t *testing.T) {
	// GIVEN: A buyer with no sponsor
	// WHEN: Computing commissions
	// THEN: Empty result, no error

	store := memory.New()
	seedProduct(t, store, "prod-1", fullRateTable())
	buyer := seedChain(t, store, "loner")
	calc := newCalculator(t, store, 5)

	written, err := calc.Compute(context.Background(), orderEvent(t, "ord-1", buyer, "100"))
	require.NoError(t, err)
	assert.Empty(t, written)
}

func TestCalculator_BrokenChain_StopsWalkEntirely(t *testing.T) {
	// GIVEN: The level-3 ancestor is missing while levels 4-5 have rates
	// WHEN: Computing commissions
	// THEN: Only levels 1-2 are paid; the walk does not skip and continue

	store := memory.New()
	seedProduct(t, store, "prod-1", fullRateTable())
	ctx := context.Background()
	base := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)

	// a2's sponsor code points at a record that was never created.
	records := []*affiliate.Affiliate{
		{ID: "id-a2", Code: "a2", SponsorCode: "ghost", Name: "a2", Email: "a2@example.com", Active: true, JoinedAt: base},
		{ID: "id-a1", Code: "a1", SponsorCode: "a2", Name: "a1", Email: "a1@example.com", Active: true, JoinedAt: base},
		{ID: "id-buyer", Code: "buyer", SponsorCode: "a1", Name: "buyer", Email: "b@example.com", Active: true, JoinedAt: base},
	}
	for _, a := range records {
		require.NoError(t, store.Insert(ctx, a))
	}

	calc := newCalculator(t, store, 5)
	written, err := calc.Compute(ctx, orderEvent(t, "ord-1", "buyer", "100"))
	require.NoError(t, err)

	require.Len(t, written, 2)
	assert.Equal(t, 1, written[0].Level)
	assert.Equal(t, 2, written[1].Level)
}

func TestCalculator_MissingRateLevel_SkipsLevelButContinues(t *testing.T) {
	// GIVEN: Rates defined for levels 1 and 3 only
	// WHEN: Computing with 3 resolvable ancestors
	// THEN: Levels 1 and 3 are paid; level 2 is skipped; level 2's
	//       affiliate still advances the chain

	store := memory.New()
	seedProduct(t, store, "prod-1", map[int]int64{1: 20, 3: 5})
	buyer := seedChain(t, store, "a3", "a2", "a1", "buyer")
	calc := newCalculator(t, store, 5)

	written, err := calc.Compute(context.Background(), orderEvent(t, "ord-1", buyer, "100"))
	require.NoError(t, err)

	require.Len(t, written, 2)
	assert.Equal(t, 1, written[0].Level)
	assert.Equal(t, affiliate.Code("a1"), written[0].BeneficiaryCode)
	assert.Equal(t, 3, written[1].Level)
	assert.Equal(t, affiliate.Code("a3"), written[1].BeneficiaryCode)

	a2, err := store.ByCode(context.Background(), "a2")
	require.NoError(t, err)
	assert.True(t, a2.BalancePending.IsZero(), "skipped level must not be credited")
}

func TestCalculator_DepthCap_BoundsLongChains(t *testing.T) {
	// GIVEN: 7 real ancestors, full rate table, cap of 5
	// WHEN: Computing commissions
	// THEN: At most 5 entries

	store := memory.New()
	seedProduct(t, store, "prod-1", fullRateTable())
	buyer := seedChain(t, store, "a7", "a6", "a5", "a4", "a3", "a2", "a1", "buyer")
	calc := newCalculator(t, store, 5)

	written, err := calc.Compute(context.Background(), orderEvent(t, "ord-1", buyer, "100"))
	require.NoError(t, err)
	assert.Len(t, written, 5)
	assert.Equal(t, 5, written[len(written)-1].Level)
}

func TestCalculator_DepthCap_IsOnlyCycleDefense(t *testing.T) {
	// GIVEN: A corrupted sponsor graph containing a cycle (a1 <-> a2)
	// WHEN: Computing commissions
	// THEN: The walk terminates at the cap instead of looping forever

	store := memory.New()
	seedProduct(t, store, "prod-1", fullRateTable())
	ctx := context.Background()
	base := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)

	records := []*affiliate.Affiliate{
		{ID: "id-a2", Code: "a2", SponsorCode: "a1", Name: "a2", Email: "a2@example.com", Active: true, JoinedAt: base},
		{ID: "id-a1", Code: "a1", SponsorCode: "a2", Name: "a1", Email: "a1@example.com", Active: true, JoinedAt: base},
		{ID: "id-buyer", Code: "buyer", SponsorCode: "a1", Name: "buyer", Email: "b@example.com", Active: true, JoinedAt: base},
	}
	for _, a := range records {
		require.NoError(t, store.Insert(ctx, a))
	}

	calc := newCalculator(t, store, 5)
	written, err := calc.Compute(ctx, orderEvent(t, "ord-1", "buyer", "100"))
	require.NoError(t, err)
	assert.Len(t, written, 5, "cycle must be cut by the depth cap")
}

// =============================================================================
// INTEGRITY DEGRADATION TESTS
// =============================================================================

func TestCalculator_UnresolvedProduct_ZeroCommissionsNoError(t *testing.T) {
	// GIVEN: An order referencing a product that does not exist
	// WHEN: Computing commissions
	// THEN: Zero commissions, nil error - the order still completes

	store := memory.New()
	buyer := seedChain(t, store, "a1", "buyer")
	calc := newCalculator(t, store, 5)

	written, err := calc.Compute(context.Background(), orderEvent(t, "ord-1", buyer, "100"))
	require.NoError(t, err)
	assert.Empty(t, written)
}

func TestCalculator_UnresolvedBuyer_ZeroCommissionsNoError(t *testing.T) {
	// GIVEN: An order whose buyer code resolves to nothing
	// WHEN: Computing commissions
	// THEN: Zero commissions, nil error

	store := memory.New()
	seedProduct(t, store, "prod-1", fullRateTable())
	calc := newCalculator(t, store, 5)

	written, err := calc.Compute(context.Background(), orderEvent(t, "ord-1", "nobody", "100"))
	require.NoError(t, err)
	assert.Empty(t, written)
}

func TestCalculator_EmptyRateTable_NoCommissions(t *testing.T) {
	// GIVEN: A product with a zero-length rate table
	// WHEN: Computing commissions with resolvable ancestors
	// THEN: No entries at any level, walk completes without error

	store := memory.New()
	seedProduct(t, store, "prod-1", map[int]int64{})
	buyer := seedChain(t, store, "a2", "a1", "buyer")
	calc := newCalculator(t, store, 5)

	written, err := calc.Compute(context.Background(), orderEvent(t, "ord-1", buyer, "100"))
	require.NoError(t, err)
	assert.Empty(t, written)
}

// =============================================================================
// FIXED-POINT ARITHMETIC TESTS
// =============================================================================

func TestCalculator_AmountsComputedIndependentlyAndRounded(t *testing.T) {
	// GIVEN: A total of 99.99 and rates 33 and 7
	// WHEN: Computing commissions
	// THEN: Each level is total*rate/100 rounded to cents, from the
	//       original total - never compounded across levels

	store := memory.New()
	seedProduct(t, store, "prod-1", map[int]int64{1: 33, 2: 7})
	buyer := seedChain(t, store, "a2", "a1", "buyer")
	calc := newCalculator(t, store, 5)

	written, err := calc.Compute(context.Background(), orderEvent(t, "ord-1", buyer, "99.99"))
	require.NoError(t, err)
	require.Len(t, written, 2)

	assert.Equal(t, "33.00", written[0].Amount.String()) // 99.99 * 33 / 100 = 32.9967
	assert.Equal(t, "7.00", written[1].Amount.String())  // 99.99 * 7 / 100 = 6.9993
}

// =============================================================================
// CONSISTENCY (COMPENSATING DELETE) TESTS
// =============================================================================

// brokenBalanceDir fails every balance mutation while leaving reads and
// ledger writes intact.
type brokenBalanceDir struct {
	*memory.Store
	calls int
}

func (d *brokenBalanceDir) UpdateBalances(context.Context, affiliate.Code, map[affiliate.BalanceField]affiliate.Money) error {
	d.calls++
	return errors.New("balance store unavailable")
}

func TestCalculator_CreditFailure_CompensatesLedgerWrite(t *testing.T) {
	// GIVEN: Balance credits fail persistently
	// WHEN: Computing commissions
	// THEN: The orphan ledger entry is deleted (retry once, then
	//       compensate) so ledger and balances never diverge

	store := memory.New()
	seedProduct(t, store, "prod-1", map[int]int64{1: 20})
	buyer := seedChain(t, store, "a1", "buyer")

	broken := &brokenBalanceDir{Store: store}
	guard := affiliate.NewGuard(broken, zerolog.Nop())
	calc := commission.NewCalculator(store, store, store, guard, 5, zerolog.Nop())

	written, err := calc.Compute(context.Background(), orderEvent(t, "ord-1", buyer, "100"))
	require.NoError(t, err)
	assert.Empty(t, written, "a failed credit must not report a written entry")
	assert.Equal(t, 2, broken.calls, "credit is retried exactly once")

	entries, err := store.ByOrder(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Empty(t, entries, "orphan ledger entry must be compensated away")
}
