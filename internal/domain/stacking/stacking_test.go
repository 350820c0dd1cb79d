package stacking

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendly/promo-engine/internal/domain/cart"
	"github.com/vendly/promo-engine/internal/domain/instrument"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func percentDeal(id string, percent string, endAt time.Time) *instrument.Deal {
	return &instrument.Deal{
		ID:       id,
		Scope:    instrument.ScopeAll(),
		Spec:     instrument.PercentOff{Percent: dec(percent)},
		IsActive: true,
		EndAt:    endAt,
	}
}

func fixedCoupon(id string, amount string) *instrument.Coupon {
	return &instrument.Coupon{
		ID:       id,
		Scope:    instrument.ScopeAll(),
		Spec:     instrument.FixedAmountOff{Amount: dec(amount)},
		IsActive: true,
	}
}

func shippingCoupon(id string) *instrument.Coupon {
	return &instrument.Coupon{
		ID:       id,
		Scope:    instrument.ScopeAll(),
		Spec:     instrument.FreeShipping{},
		IsActive: true,
	}
}

func TestResolve_OneDealOneCouponOneWaiver(t *testing.T) {
	basket := cart.Cart{
		Lines: []cart.Line{
			{ProductID: "p1", UnitPrice: dec("50"), Quantity: 2},
		},
		ShippingCost: dec("6.50"),
	}
	endAt := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	decision, err := Resolve([]instrument.Instrument{
		percentDeal("deal-1", "10", endAt),
		fixedCoupon("coupon-1", "5"),
		shippingCoupon("coupon-ship"),
	}, basket, nil)

	require.NoError(t, err)
	require.Len(t, decision.Applied, 3)

	// Application order: deal, coupon, shipping waiver.
	assert.Equal(t, "deal-1", decision.Applied[0].InstrumentID)
	assert.Equal(t, instrument.KindDeal, decision.Applied[0].Kind)
	assert.Equal(t, "coupon-1", decision.Applied[1].InstrumentID)
	assert.Equal(t, "coupon-ship", decision.Applied[2].InstrumentID)
	assert.True(t, decision.Applied[2].ShippingWaiver)

	// 100 + 6.50 - 10 - 5 - 6.50 = 85.00
	assert.True(t, dec("106.50").Equal(decision.OriginalTotal), "original %s", decision.OriginalTotal)
	assert.True(t, dec("21.50").Equal(decision.TotalOff()), "total off %s", decision.TotalOff())
	assert.True(t, dec("85.00").Equal(decision.FinalTotal), "final %s", decision.FinalTotal)
	assert.Empty(t, decision.Rejected)
}

// Amounts are computed against the original totals, never against an
// already-discounted running total.
func TestResolve_AmountsAreIndependent(t *testing.T) {
	basket := cart.Cart{
		Lines: []cart.Line{{ProductID: "p1", UnitPrice: dec("100"), Quantity: 1}},
	}
	endAt := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	decision, err := Resolve([]instrument.Instrument{
		percentDeal("deal-1", "20", endAt),
		&instrument.Coupon{
			ID:       "coupon-1",
			Scope:    instrument.ScopeAll(),
			Spec:     instrument.PercentOff{Percent: dec("10")},
			IsActive: true,
		},
	}, basket, nil)

	require.NoError(t, err)
	require.Len(t, decision.Applied, 2)

	// 20% and 10% of the original 100, not 10% of the discounted 80.
	assert.True(t, dec("20.00").Equal(decision.Applied[0].AmountOff))
	assert.True(t, dec("10.00").Equal(decision.Applied[1].AmountOff))
	assert.True(t, dec("70.00").Equal(decision.FinalTotal))
}

func TestResolve_BestAmountWinsSlot(t *testing.T) {
	basket := cart.Cart{
		Lines: []cart.Line{{ProductID: "p1", UnitPrice: dec("100"), Quantity: 1}},
	}
	endAt := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	decision, err := Resolve([]instrument.Instrument{
		percentDeal("deal-small", "5", endAt),
		percentDeal("deal-big", "15", endAt),
	}, basket, nil)

	require.NoError(t, err)
	require.Len(t, decision.Applied, 1)
	assert.Equal(t, "deal-big", decision.Applied[0].InstrumentID)

	require.Len(t, decision.Rejected, 1)
	assert.Equal(t, "deal-small", decision.Rejected[0].InstrumentID)
	assert.Equal(t, ReasonNotSelected, decision.Rejected[0].Reason)
}

func TestResolve_TieBreaks(t *testing.T) {
	basket := cart.Cart{
		Lines: []cart.Line{{ProductID: "p1", UnitPrice: dec("100"), Quantity: 1}},
	}
	soon := time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC)
	later := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)

	t.Run("equal amounts prefer the earlier window end", func(t *testing.T) {
		decision, err := Resolve([]instrument.Instrument{
			percentDeal("deal-later", "10", later),
			percentDeal("deal-soon", "10", soon),
		}, basket, nil)

		require.NoError(t, err)
		require.Len(t, decision.Applied, 1)
		assert.Equal(t, "deal-soon", decision.Applied[0].InstrumentID)
	})

	t.Run("bounded window beats unbounded on ties", func(t *testing.T) {
		bounded := &instrument.Coupon{
			ID: "coupon-bounded", Scope: instrument.ScopeAll(),
			Spec: instrument.FixedAmountOff{Amount: dec("5")}, IsActive: true,
			ValidUntil: &later,
		}
		unbounded := fixedCoupon("coupon-aaaa", "5")

		decision, err := Resolve([]instrument.Instrument{unbounded, bounded}, basket, nil)

		require.NoError(t, err)
		require.Len(t, decision.Applied, 1)
		assert.Equal(t, "coupon-bounded", decision.Applied[0].InstrumentID)
	})

	t.Run("identical amount and window fall back to id order", func(t *testing.T) {
		decision, err := Resolve([]instrument.Instrument{
			percentDeal("deal-b", "10", soon),
			percentDeal("deal-a", "10", soon),
		}, basket, nil)

		require.NoError(t, err)
		require.Len(t, decision.Applied, 1)
		assert.Equal(t, "deal-a", decision.Applied[0].InstrumentID)
	})

	t.Run("selection is input-order independent", func(t *testing.T) {
		forward, err := Resolve([]instrument.Instrument{
			percentDeal("deal-a", "10", soon),
			percentDeal("deal-b", "10", soon),
			fixedCoupon("coupon-a", "3"),
			fixedCoupon("coupon-b", "3"),
		}, basket, nil)
		require.NoError(t, err)

		reversed, err := Resolve([]instrument.Instrument{
			fixedCoupon("coupon-b", "3"),
			fixedCoupon("coupon-a", "3"),
			percentDeal("deal-b", "10", soon),
			percentDeal("deal-a", "10", soon),
		}, basket, nil)
		require.NoError(t, err)

		require.Equal(t, len(forward.Applied), len(reversed.Applied))
		for i := range forward.Applied {
			assert.Equal(t, forward.Applied[i].InstrumentID, reversed.Applied[i].InstrumentID)
		}
		assert.True(t, forward.FinalTotal.Equal(reversed.FinalTotal))
	})
}

func TestResolve_FinalTotalNeverNegative(t *testing.T) {
	basket := cart.Cart{
		Lines: []cart.Line{{ProductID: "p1", UnitPrice: dec("10"), Quantity: 1}},
	}

	decision, err := Resolve([]instrument.Instrument{
		fixedCoupon("coupon-1", "10"),
		percentDeal("deal-1", "100", time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)),
	}, basket, nil)

	require.NoError(t, err)
	assert.True(t, decision.FinalTotal.GreaterThanOrEqual(decimal.Zero))
	assert.True(t, decimal.Zero.Equal(decision.FinalTotal), "final %s", decision.FinalTotal)
}

func TestResolve_CarriesPreRejected(t *testing.T) {
	basket := cart.Cart{
		Lines: []cart.Line{{ProductID: "p1", UnitPrice: dec("10"), Quantity: 1}},
	}
	pre := []Rejected{
		{InstrumentID: "BOGUSCODE", Kind: instrument.KindCoupon, Reason: ReasonNotFound},
	}

	decision, err := Resolve(nil, basket, pre)

	require.NoError(t, err)
	assert.Empty(t, decision.Applied)
	require.Len(t, decision.Rejected, 1)
	assert.Equal(t, ReasonNotFound, decision.Rejected[0].Reason)
	assert.True(t, decision.OriginalTotal.Equal(decision.FinalTotal))
}

func TestResolve_ShippingWaiverFillsOwnSlot(t *testing.T) {
	// A free-shipping coupon must not consume the merchandise coupon slot.
	basket := cart.Cart{
		Lines:        []cart.Line{{ProductID: "p1", UnitPrice: dec("40"), Quantity: 1}},
		ShippingCost: dec("5"),
	}

	decision, err := Resolve([]instrument.Instrument{
		fixedCoupon("coupon-merch", "4"),
		shippingCoupon("coupon-ship"),
	}, basket, nil)

	require.NoError(t, err)
	require.Len(t, decision.Applied, 2)
	assert.Empty(t, decision.Rejected)
}
