package eligibility

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendly/promo-engine/internal/domain/cart"
	"github.com/vendly/promo-engine/internal/domain/instrument"
)

func TestEvaluate(t *testing.T) {
	fixedNow := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	pastTime := fixedNow.Add(-24 * time.Hour)
	futureTime := fixedNow.Add(24 * time.Hour)

	basket := cart.Cart{
		Lines: []cart.Line{
			{ProductID: "p1", CategoryID: "kitchen", UnitPrice: decimal.NewFromInt(40), Quantity: 2},
			{ProductID: "p2", CategoryID: "sportswear", UnitPrice: decimal.NewFromInt(25), Quantity: 1},
		},
	}

	tenPercent := instrument.PercentOff{Percent: decimal.NewFromInt(10)}

	tests := []struct {
		name        string
		inst        instrument.Instrument
		c           cart.Cart
		shopperUses int
		wantResult  Result
	}{
		{
			name: "active unbounded coupon is eligible",
			inst: &instrument.Coupon{
				ID: "c1", Code: "SAVE10", Scope: instrument.ScopeAll(),
				Spec: tenPercent, IsActive: true,
			},
			c:          basket,
			wantResult: Result{Eligible: true},
		},
		{
			name: "deactivated instrument",
			inst: &instrument.Coupon{
				ID: "c1", Code: "SAVE10", Scope: instrument.ScopeAll(),
				Spec: tenPercent, IsActive: false,
			},
			c:          basket,
			wantResult: Result{Reason: ReasonInactive},
		},
		{
			name: "window not yet open",
			inst: &instrument.Coupon{
				ID: "c1", Scope: instrument.ScopeAll(), Spec: tenPercent,
				IsActive: true, ValidFrom: &futureTime,
			},
			c:          basket,
			wantResult: Result{Reason: ReasonNotStarted},
		},
		{
			name: "window already closed",
			inst: &instrument.Coupon{
				ID: "c1", Scope: instrument.ScopeAll(), Spec: tenPercent,
				IsActive: true, ValidUntil: &pastTime,
			},
			c:          basket,
			wantResult: Result{Reason: ReasonExpired},
		},
		{
			name: "window end is exclusive",
			inst: &instrument.Coupon{
				ID: "c1", Scope: instrument.ScopeAll(), Spec: tenPercent,
				IsActive: true, ValidUntil: &fixedNow,
			},
			c:          basket,
			wantResult: Result{Reason: ReasonExpired},
		},
		{
			name: "window start is inclusive",
			inst: &instrument.Coupon{
				ID: "c1", Scope: instrument.ScopeAll(), Spec: tenPercent,
				IsActive: true, ValidFrom: &fixedNow,
			},
			c:          basket,
			wantResult: Result{Eligible: true},
		},
		{
			name: "no line in scope",
			inst: &instrument.Coupon{
				ID: "c1", Scope: instrument.ScopeCategories("electronics"),
				Spec: tenPercent, IsActive: true,
			},
			c:          basket,
			wantResult: Result{Reason: ReasonScopeMismatch},
		},
		{
			name: "minimum checked against matching subtotal only",
			inst: &instrument.Coupon{
				// Only the sportswear line (25) matches; the cart total 105
				// must not satisfy the floor.
				ID: "c1", Scope: instrument.ScopeCategories("sportswear"),
				Spec: tenPercent, IsActive: true,
				MinOrderValue: decimal.NewFromInt(50),
			},
			c:          basket,
			wantResult: Result{Reason: ReasonBelowMinimum},
		},
		{
			name: "order value above coupon ceiling",
			inst: &instrument.Coupon{
				ID: "c1", Scope: instrument.ScopeAll(), Spec: tenPercent,
				IsActive:      true,
				MaxOrderValue: decimal.NewFromInt(100),
			},
			c:          basket,
			wantResult: Result{Reason: ReasonAboveMaximum},
		},
		{
			name: "global limit exhausted",
			inst: &instrument.Coupon{
				ID: "c1", Scope: instrument.ScopeAll(), Spec: tenPercent,
				IsActive: true,
				Limits:   instrument.Limits{Total: 100, Redeemed: 100},
			},
			c:          basket,
			wantResult: Result{Reason: ReasonGlobalLimitReached},
		},
		{
			name: "per-user limit reached",
			inst: &instrument.Coupon{
				ID: "c1", Scope: instrument.ScopeAll(), Spec: tenPercent,
				IsActive: true,
				Limits:   instrument.Limits{PerUser: 1},
			},
			c:           basket,
			shopperUses: 1,
			wantResult:  Result{Reason: ReasonUserLimitReached},
		},
		{
			name: "zero limits mean unlimited",
			inst: &instrument.Coupon{
				ID: "c1", Scope: instrument.ScopeAll(), Spec: tenPercent,
				IsActive: true,
			},
			c:           basket,
			shopperUses: 5000,
			wantResult:  Result{Eligible: true},
		},
		{
			name: "deal window from start and end times",
			inst: &instrument.Deal{
				ID: "d1", Scope: instrument.ScopeCategories("kitchen"),
				Spec: tenPercent, IsActive: true,
				StartAt: pastTime, EndAt: futureTime,
			},
			c:          basket,
			wantResult: Result{Eligible: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(tt.inst, tt.c, tt.shopperUses, fixedNow)

			require.NoError(t, err)
			assert.Equal(t, tt.wantResult, got)
		})
	}
}

func TestEvaluate_MalformedSpec(t *testing.T) {
	fixedNow := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	basket := cart.Cart{
		Lines: []cart.Line{{ProductID: "p1", UnitPrice: decimal.NewFromInt(10), Quantity: 1}},
	}

	tests := []struct {
		name string
		inst instrument.Instrument
	}{
		{
			name: "missing spec",
			inst: &instrument.Coupon{ID: "c1", Scope: instrument.ScopeAll(), IsActive: true},
		},
		{
			name: "percent above 100",
			inst: &instrument.Coupon{
				ID: "c1", Scope: instrument.ScopeAll(), IsActive: true,
				Spec: instrument.PercentOff{Percent: decimal.NewFromInt(150)},
			},
		},
		{
			name: "buy x get y with zero buy quantity",
			inst: &instrument.Deal{
				ID: "d1", Scope: instrument.ScopeAll(), IsActive: true,
				Spec: instrument.BuyXGetY{BuyQty: 0, GetQty: 1, GetDiscountPercent: decimal.NewFromInt(100)},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Evaluate(tt.inst, basket, 0, fixedNow)

			require.ErrorIs(t, err, instrument.ErrMalformedSpec)
		})
	}
}

// Ordering matters for the surfaced reason: an inactive expired instrument
// must report INACTIVE, not EXPIRED.
func TestEvaluate_ReasonOrder(t *testing.T) {
	fixedNow := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	pastTime := fixedNow.Add(-time.Hour)

	inst := &instrument.Coupon{
		ID: "c1", Scope: instrument.ScopeAll(),
		Spec:       instrument.PercentOff{Percent: decimal.NewFromInt(10)},
		IsActive:   false,
		ValidUntil: &pastTime,
		Limits:     instrument.Limits{Total: 1, Redeemed: 1},
	}
	basket := cart.Cart{
		Lines: []cart.Line{{ProductID: "p1", UnitPrice: decimal.NewFromInt(10), Quantity: 1}},
	}

	got, err := Evaluate(inst, basket, 0, fixedNow)

	require.NoError(t, err)
	assert.Equal(t, ReasonInactive, got.Reason)
}
