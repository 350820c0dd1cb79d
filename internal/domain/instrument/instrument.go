// Package instrument defines the discount instruments the engine resolves:
// Deals (vendor or platform promotions tied to a product/category scope) and
// Coupons (shopper-entered codes). Both share eligibility plumbing through
// the Instrument interface.
package instrument

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Kind discriminates deals from coupons in decisions and ledger records.
type Kind string

const (
	KindDeal   Kind = "deal"
	KindCoupon Kind = "coupon"
)

// DealType categorizes a deal for surfaces and ranking. It has no effect on
// discount arithmetic; the Spec variant carries that.
type DealType string

const (
	DealFlashSale    DealType = "flash_sale"
	DealDailyDeal    DealType = "daily_deal"
	DealBulkDiscount DealType = "bulk_discount"
	DealSeasonalSale DealType = "seasonal_sale"
)

var (
	// ErrCouponNotFound is returned when a coupon code does not resolve to an
	// active coupon.
	ErrCouponNotFound = errors.New("coupon not found")
	// ErrInstrumentNotFound is returned when an instrument id does not exist.
	ErrInstrumentNotFound = errors.New("instrument not found")
	// ErrMalformedSpec indicates an instrument whose discount spec is missing
	// or internally inconsistent. This is a data-integrity fault, not an
	// eligibility outcome.
	ErrMalformedSpec = errors.New("malformed discount spec")
)

// Limits holds usage-limit state shared by deals and coupons. Zero means
// unlimited for both PerUser and Total.
type Limits struct {
	PerUser  int
	Total    int
	Redeemed int
}

// GlobalExhausted reports whether the total redemption limit has been
// reached. Advisory at quote time; the ledger re-checks at commit.
func (l Limits) GlobalExhausted() bool {
	return l.Total > 0 && l.Redeemed >= l.Total
}

// Instrument is either a Deal or a Coupon, viewed generically by the
// eligibility evaluator and the stacking resolver.
type Instrument interface {
	InstrumentID() string
	InstrumentKind() Kind
	DiscountSpec() Spec
	EligibleScope() Scope
	// Window returns the validity interval. Nil bounds are unbounded; the
	// interval is half-open: from <= now < until.
	Window() (from, until *time.Time)
	Active() bool
	UsageLimits() Limits
}

// Deal is a time-boxed platform or vendor discount.
type Deal struct {
	ID         string
	Title      string
	Type       DealType
	Scope      Scope
	Spec       Spec
	StartAt    time.Time
	EndAt      time.Time
	IsActive   bool
	IsFeatured bool
	Limits     Limits
	CreatedAt  time.Time
}

func (d *Deal) InstrumentID() string   { return d.ID }
func (d *Deal) InstrumentKind() Kind   { return KindDeal }
func (d *Deal) DiscountSpec() Spec     { return d.Spec }
func (d *Deal) EligibleScope() Scope   { return d.Scope }
func (d *Deal) Active() bool           { return d.IsActive }
func (d *Deal) UsageLimits() Limits    { return d.Limits }
func (d *Deal) Window() (from, until *time.Time) {
	return &d.StartAt, &d.EndAt
}

// Coupon is a shopper-entered code. Codes are unique case-insensitively
// among active coupons; NormalizeCode is applied at every lookup boundary.
type Coupon struct {
	ID            string
	Code          string
	Scope         Scope
	Spec          Spec
	MinOrderValue decimal.Decimal // zero = no floor
	MaxOrderValue decimal.Decimal // zero = no ceiling
	ValidFrom     *time.Time
	ValidUntil    *time.Time
	IsActive      bool
	Limits        Limits
}

func (c *Coupon) InstrumentID() string { return c.ID }
func (c *Coupon) InstrumentKind() Kind { return KindCoupon }
func (c *Coupon) DiscountSpec() Spec   { return c.Spec }
func (c *Coupon) EligibleScope() Scope { return c.Scope }
func (c *Coupon) Active() bool         { return c.IsActive }
func (c *Coupon) UsageLimits() Limits  { return c.Limits }
func (c *Coupon) Window() (from, until *time.Time) {
	return c.ValidFrom, c.ValidUntil
}

// NormalizeCode canonicalizes a coupon code for case-insensitive matching.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Promotion is a marketing campaign referencing deals or coupons for
// attribution. It carries no discount logic; only the ranking service reads
// its objective and channel.
type Promotion struct {
	ID            string
	Name          string
	Objective     string
	Channel       string
	InstrumentIDs []string
	StartAt       time.Time
	EndAt         time.Time
	IsActive      bool
}

// Repository provides read access to active instruments. Implementations may
// serve from a read replica or cache; staleness only weakens advisory limit
// checks (the ledger is authoritative at commit).
type Repository interface {
	ActiveDeals(ctx context.Context, now time.Time) ([]Deal, error)
	ActiveCoupons(ctx context.Context, now time.Time) ([]Coupon, error)
	// CouponByCode resolves a code case-insensitively among active coupons.
	// Returns ErrCouponNotFound when no match exists.
	CouponByCode(ctx context.Context, code string) (*Coupon, error)
	ActivePromotions(ctx context.Context, now time.Time) ([]Promotion, error)
}
