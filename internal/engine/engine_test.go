package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendly/promo-engine/internal/domain/cart"
	"github.com/vendly/promo-engine/internal/domain/instrument"
	"github.com/vendly/promo-engine/internal/domain/stacking"
	"github.com/vendly/promo-engine/internal/ledger"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type mockInstrumentRepo struct {
	deals      []instrument.Deal
	coupons    []instrument.Coupon
	promotions []instrument.Promotion
}

func (m *mockInstrumentRepo) ActiveDeals(_ context.Context, _ time.Time) ([]instrument.Deal, error) {
	return m.deals, nil
}

func (m *mockInstrumentRepo) ActiveCoupons(_ context.Context, _ time.Time) ([]instrument.Coupon, error) {
	return m.coupons, nil
}

func (m *mockInstrumentRepo) CouponByCode(_ context.Context, code string) (*instrument.Coupon, error) {
	for i := range m.coupons {
		if instrument.NormalizeCode(m.coupons[i].Code) == code {
			return &m.coupons[i], nil
		}
	}
	return nil, instrument.ErrCouponNotFound
}

func (m *mockInstrumentRepo) ActivePromotions(_ context.Context, _ time.Time) ([]instrument.Promotion, error) {
	return m.promotions, nil
}

type mockCatalog struct {
	scopes map[string]cart.ProductScope
}

func (m *mockCatalog) LookupScope(_ context.Context, ids []string) (map[string]cart.ProductScope, error) {
	out := make(map[string]cart.ProductScope, len(ids))
	for _, id := range ids {
		if s, ok := m.scopes[id]; ok {
			out[id] = s
		}
	}
	return out, nil
}

type recordedEvent struct {
	kind    string
	orderID string
}

type mockEvents struct {
	events []recordedEvent
}

func (m *mockEvents) RedemptionCommitted(_ context.Context, _ *stacking.Decision, _, orderID string) {
	m.events = append(m.events, recordedEvent{kind: "committed", orderID: orderID})
}

func (m *mockEvents) RedemptionReleased(_ context.Context, orderID string) {
	m.events = append(m.events, recordedEvent{kind: "released", orderID: orderID})
}

func fixedEngine(repo *mockInstrumentRepo, catalog *mockCatalog, ldg *ledger.Memory, events Events) *Engine {
	e := New(repo, catalog, ldg, ldg, events, nil)
	e.now = func() time.Time {
		return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	}
	return e
}

func testBasket() cart.Cart {
	return cart.Cart{
		Lines: []cart.Line{
			{ProductID: "p1", CategoryID: "kitchen", UnitPrice: dec("40"), Quantity: 2},
			{ProductID: "p2", CategoryID: "sportswear", UnitPrice: dec("20"), Quantity: 1},
		},
		ShippingCost: dec("5"),
	}
}

func activeDeal(id, percent string) instrument.Deal {
	return instrument.Deal{
		ID:       id,
		Scope:    instrument.ScopeAll(),
		Spec:     instrument.PercentOff{Percent: dec(percent)},
		IsActive: true,
		StartAt:  time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		EndAt:    time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
	}
}

func activeCoupon(id, code string, spec instrument.Spec) instrument.Coupon {
	return instrument.Coupon{
		ID: id, Code: code, Scope: instrument.ScopeAll(), Spec: spec, IsActive: true,
	}
}

func TestEngine_QuoteEmptyCart(t *testing.T) {
	e := fixedEngine(&mockInstrumentRepo{}, &mockCatalog{}, ledger.NewMemory(), nil)

	_, err := e.Quote(context.Background(), cart.Cart{}, "shopper-1", "")

	require.ErrorIs(t, err, ErrEmptyCart)
}

func TestEngine_QuoteAppliesDealAndCoupon(t *testing.T) {
	repo := &mockInstrumentRepo{
		deals:   []instrument.Deal{activeDeal("deal-1", "10")},
		coupons: []instrument.Coupon{activeCoupon("coupon-1", "SAVE5", instrument.FixedAmountOff{Amount: dec("5")})},
	}
	e := fixedEngine(repo, &mockCatalog{}, ledger.NewMemory(), nil)

	decision, err := e.Quote(context.Background(), testBasket(), "shopper-1", "save5")

	require.NoError(t, err)
	require.Len(t, decision.Applied, 2)
	assert.Equal(t, "deal-1", decision.Applied[0].InstrumentID)
	assert.Equal(t, "coupon-1", decision.Applied[1].InstrumentID)
	// 100 merch + 5 shipping - 10 - 5 = 90.
	assert.True(t, dec("90.00").Equal(decision.FinalTotal), "final %s", decision.FinalTotal)
}

func TestEngine_QuoteUnknownCode(t *testing.T) {
	repo := &mockInstrumentRepo{deals: []instrument.Deal{activeDeal("deal-1", "10")}}
	e := fixedEngine(repo, &mockCatalog{}, ledger.NewMemory(), nil)

	decision, err := e.Quote(context.Background(), testBasket(), "shopper-1", "BOGUS123")

	require.NoError(t, err)
	require.Len(t, decision.Applied, 1)
	require.Len(t, decision.Rejected, 1)
	assert.Equal(t, "BOGUS123", decision.Rejected[0].InstrumentID)
	assert.Equal(t, stacking.ReasonNotFound, decision.Rejected[0].Reason)
}

func TestEngine_QuoteAutoAppliesBestCoupon(t *testing.T) {
	repo := &mockInstrumentRepo{
		coupons: []instrument.Coupon{
			activeCoupon("coupon-small", "SMALL", instrument.FixedAmountOff{Amount: dec("2")}),
			activeCoupon("coupon-big", "BIG", instrument.FixedAmountOff{Amount: dec("8")}),
		},
	}
	e := fixedEngine(repo, &mockCatalog{}, ledger.NewMemory(), nil)

	decision, err := e.Quote(context.Background(), testBasket(), "shopper-1", "")

	require.NoError(t, err)
	require.Len(t, decision.Applied, 1)
	assert.Equal(t, "coupon-big", decision.Applied[0].InstrumentID)
	require.Len(t, decision.Rejected, 1)
	assert.Equal(t, "coupon-small", decision.Rejected[0].InstrumentID)
	assert.Equal(t, stacking.ReasonNotSelected, decision.Rejected[0].Reason)
}

func TestEngine_QuoteResolvesScopesFromCatalog(t *testing.T) {
	repo := &mockInstrumentRepo{
		deals: []instrument.Deal{
			{
				ID:       "deal-kitchen",
				Scope:    instrument.ScopeCategories("kitchen"),
				Spec:     instrument.PercentOff{Percent: dec("10")},
				IsActive: true,
				StartAt:  time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
				EndAt:    time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
			},
		},
	}
	catalog := &mockCatalog{scopes: map[string]cart.ProductScope{
		"p1": {CategoryID: "kitchen", VendorID: "v1"},
	}}
	e := fixedEngine(repo, catalog, ledger.NewMemory(), nil)

	// The line arrives without a category; the engine must fill it in.
	basket := cart.Cart{
		Lines: []cart.Line{{ProductID: "p1", UnitPrice: dec("40"), Quantity: 1}},
	}

	decision, err := e.Quote(context.Background(), basket, "shopper-1", "")

	require.NoError(t, err)
	require.Len(t, decision.Applied, 1)
	assert.Equal(t, "deal-kitchen", decision.Applied[0].InstrumentID)
}

// The same cart quoted twice with no intervening commits yields the same
// decision.
func TestEngine_QuoteIsRepeatable(t *testing.T) {
	repo := &mockInstrumentRepo{
		deals: []instrument.Deal{activeDeal("deal-a", "10"), activeDeal("deal-b", "10")},
		coupons: []instrument.Coupon{
			activeCoupon("coupon-1", "SAVE5", instrument.FixedAmountOff{Amount: dec("5")}),
		},
	}
	e := fixedEngine(repo, &mockCatalog{}, ledger.NewMemory(), nil)

	first, err := e.Quote(context.Background(), testBasket(), "shopper-1", "")
	require.NoError(t, err)

	second, err := e.Quote(context.Background(), testBasket(), "shopper-1", "")
	require.NoError(t, err)

	require.Equal(t, len(first.Applied), len(second.Applied))
	for i := range first.Applied {
		assert.Equal(t, first.Applied[i].InstrumentID, second.Applied[i].InstrumentID)
		assert.True(t, first.Applied[i].AmountOff.Equal(second.Applied[i].AmountOff))
	}
	assert.True(t, first.FinalTotal.Equal(second.FinalTotal))
}

func TestEngine_QuoteReflectsCommittedUsage(t *testing.T) {
	oneUse := activeCoupon("coupon-1", "ONCE", instrument.FixedAmountOff{Amount: dec("5")})
	oneUse.Limits = instrument.Limits{PerUser: 1}

	repo := &mockInstrumentRepo{coupons: []instrument.Coupon{oneUse}}
	ldg := ledger.NewMemory()
	ldg.Register(&oneUse)
	e := fixedEngine(repo, &mockCatalog{}, ldg, nil)

	ctx := context.Background()

	decision, err := e.Quote(ctx, testBasket(), "shopper-1", "ONCE")
	require.NoError(t, err)
	require.Len(t, decision.Applied, 1)

	require.NoError(t, e.Commit(ctx, decision, "shopper-1", "order-1"))

	// Same shopper, second quote: the per-user limit is now spent.
	again, err := e.Quote(ctx, testBasket(), "shopper-1", "ONCE")
	require.NoError(t, err)
	assert.Empty(t, again.Applied)
	require.Len(t, again.Rejected, 1)
	assert.Equal(t, "USER_LIMIT_REACHED", string(again.Rejected[0].Reason))

	// A different shopper is not affected.
	other, err := e.Quote(ctx, testBasket(), "shopper-2", "ONCE")
	require.NoError(t, err)
	assert.Len(t, other.Applied, 1)
}

func TestEngine_CommitConflictSurfaces(t *testing.T) {
	limited := activeCoupon("coupon-1", "LAST1", instrument.FixedAmountOff{Amount: dec("5")})
	limited.Limits = instrument.Limits{Total: 1}

	repo := &mockInstrumentRepo{coupons: []instrument.Coupon{limited}}
	ldg := ledger.NewMemory()
	ldg.Register(&limited)
	e := fixedEngine(repo, &mockCatalog{}, ldg, nil)

	ctx := context.Background()

	// Both shoppers quote the same last slot.
	first, err := e.Quote(ctx, testBasket(), "shopper-1", "LAST1")
	require.NoError(t, err)
	second, err := e.Quote(ctx, testBasket(), "shopper-2", "LAST1")
	require.NoError(t, err)

	require.NoError(t, e.Commit(ctx, first, "shopper-1", "order-1"))

	err = e.Commit(ctx, second, "shopper-2", "order-2")

	var conflict *ledger.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "coupon-1", conflict.InstrumentID)
}

func TestEngine_CommitAndReleasePublishEvents(t *testing.T) {
	coupon := activeCoupon("coupon-1", "SAVE5", instrument.FixedAmountOff{Amount: dec("5")})

	repo := &mockInstrumentRepo{coupons: []instrument.Coupon{coupon}}
	ldg := ledger.NewMemory()
	ldg.Register(&coupon)
	sink := &mockEvents{}
	e := fixedEngine(repo, &mockCatalog{}, ldg, sink)

	ctx := context.Background()

	decision, err := e.Quote(ctx, testBasket(), "shopper-1", "SAVE5")
	require.NoError(t, err)

	require.NoError(t, e.Commit(ctx, decision, "shopper-1", "order-1"))
	require.NoError(t, e.Release(ctx, "order-1"))

	require.Len(t, sink.events, 2)
	assert.Equal(t, recordedEvent{kind: "committed", orderID: "order-1"}, sink.events[0])
	assert.Equal(t, recordedEvent{kind: "released", orderID: "order-1"}, sink.events[1])
}

func TestEngine_EventsNotPublishedOnConflict(t *testing.T) {
	limited := activeCoupon("coupon-1", "LAST1", instrument.FixedAmountOff{Amount: dec("5")})
	limited.Limits = instrument.Limits{Total: 1}

	repo := &mockInstrumentRepo{coupons: []instrument.Coupon{limited}}
	ldg := ledger.NewMemory()
	ldg.Register(&limited)
	sink := &mockEvents{}
	e := fixedEngine(repo, &mockCatalog{}, ldg, sink)

	ctx := context.Background()

	decision, err := e.Quote(ctx, testBasket(), "shopper-1", "LAST1")
	require.NoError(t, err)

	require.NoError(t, e.Commit(ctx, decision, "shopper-1", "order-1"))
	require.Error(t, e.Commit(ctx, decision, "shopper-2", "order-2"))

	require.Len(t, sink.events, 1)
}
