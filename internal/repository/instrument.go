package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vendly/promo-engine/internal/domain/instrument"
)

const (
	activeDealsSQL = `SELECT id, title, deal_type,
		scope_all, scope_product_ids, scope_category_ids,
		discount_type, percent, max_discount, fixed_amount,
		buy_qty, get_qty, get_discount_percent, tiers,
		start_at, end_at, is_active, is_featured,
		per_user_limit, total_limit, redeemed_count, created_at
		FROM deals
		WHERE is_active AND start_at <= $1 AND $1 < end_at`

	activeCouponsSQL = `SELECT id, code,
		scope_all, scope_product_ids, scope_category_ids,
		discount_type, percent, max_discount, fixed_amount,
		buy_qty, get_qty, get_discount_percent, tiers,
		min_order_value, max_order_value, valid_from, valid_until,
		is_active, per_user_limit, total_limit, redeemed_count
		FROM coupons
		WHERE is_active
		  AND (valid_from IS NULL OR valid_from <= $1)
		  AND (valid_until IS NULL OR $1 < valid_until)`

	couponByCodeSQL = `SELECT id, code,
		scope_all, scope_product_ids, scope_category_ids,
		discount_type, percent, max_discount, fixed_amount,
		buy_qty, get_qty, get_discount_percent, tiers,
		min_order_value, max_order_value, valid_from, valid_until,
		is_active, per_user_limit, total_limit, redeemed_count
		FROM coupons
		WHERE is_active AND UPPER(code) = UPPER($1)`

	activePromotionsSQL = `SELECT id, name, objective, channel, instrument_ids,
		start_at, end_at, is_active
		FROM promotions
		WHERE is_active AND start_at <= $1 AND $1 < end_at`

	deactivateDealSQL   = `UPDATE deals SET is_active = FALSE WHERE id = $1`
	deactivateCouponSQL = `UPDATE coupons SET is_active = FALSE WHERE id = $1`
)

// Discount type discriminators stored in the discount_type column.
const (
	specPercent  = "percent_off"
	specFixed    = "fixed_amount_off"
	specShipping = "free_shipping"
	specBuyXGetY = "buy_x_get_y"
	specTiered   = "tiered_quantity"
)

var _ instrument.Repository = (*InstrumentRepository)(nil)

// InstrumentRepository implements instrument.Repository backed by PostgreSQL.
type InstrumentRepository struct {
	pool *pgxpool.Pool
}

// NewInstrumentRepository returns an InstrumentRepository using the given pool.
func NewInstrumentRepository(pool *pgxpool.Pool) *InstrumentRepository {
	return &InstrumentRepository{pool: pool}
}

// ActiveDeals returns deals whose kill switch is on and whose half-open
// window contains now.
func (r *InstrumentRepository) ActiveDeals(ctx context.Context, now time.Time) ([]instrument.Deal, error) {
	rows, err := r.pool.Query(ctx, activeDealsSQL, now)
	if err != nil {
		return nil, fmt.Errorf("querying active deals: %w", err)
	}

	deals, err := pgx.CollectRows(rows, scanDeal)
	if err != nil {
		return nil, fmt.Errorf("scanning active deals: %w", err)
	}
	return deals, nil
}

// ActiveCoupons returns coupons currently inside their validity window.
func (r *InstrumentRepository) ActiveCoupons(ctx context.Context, now time.Time) ([]instrument.Coupon, error) {
	rows, err := r.pool.Query(ctx, activeCouponsSQL, now)
	if err != nil {
		return nil, fmt.Errorf("querying active coupons: %w", err)
	}

	coupons, err := pgx.CollectRows(rows, scanCoupon)
	if err != nil {
		return nil, fmt.Errorf("scanning active coupons: %w", err)
	}
	return coupons, nil
}

// CouponByCode looks up an active coupon case-insensitively. Returns
// instrument.ErrCouponNotFound when no matching active coupon exists.
func (r *InstrumentRepository) CouponByCode(ctx context.Context, code string) (*instrument.Coupon, error) {
	rows, err := r.pool.Query(ctx, couponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	coupon, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, instrument.ErrCouponNotFound
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &coupon, nil
}

// ActivePromotions returns campaigns whose window contains now.
func (r *InstrumentRepository) ActivePromotions(ctx context.Context, now time.Time) ([]instrument.Promotion, error) {
	rows, err := r.pool.Query(ctx, activePromotionsSQL, now)
	if err != nil {
		return nil, fmt.Errorf("querying active promotions: %w", err)
	}

	promos, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (instrument.Promotion, error) {
		var p instrument.Promotion
		err := row.Scan(&p.ID, &p.Name, &p.Objective, &p.Channel, &p.InstrumentIDs,
			&p.StartAt, &p.EndAt, &p.IsActive)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning active promotions: %w", err)
	}
	return promos, nil
}

// Deactivate flips the kill switch on a deal or coupon. Instruments are
// never deleted once they have redemptions; the ledger records keep pointing
// at them.
func (r *InstrumentRepository) Deactivate(ctx context.Context, kind instrument.Kind, id string) error {
	sql := deactivateCouponSQL
	if kind == instrument.KindDeal {
		sql = deactivateDealSQL
	}
	tag, err := r.pool.Exec(ctx, sql, id)
	if err != nil {
		return fmt.Errorf("deactivating %s %s: %w", kind, id, err)
	}
	if tag.RowsAffected() == 0 {
		return instrument.ErrInstrumentNotFound
	}
	return nil
}

// specColumns is the flattened storage form of an instrument.Spec.
type specColumns struct {
	discountType       string
	percent            decimal.Decimal
	maxDiscount        decimal.Decimal
	fixedAmount        decimal.Decimal
	buyQty             int32
	getQty             int32
	getDiscountPercent decimal.Decimal
	tiers              []byte
}

// buildSpec reconstructs the closed spec variant from its columns. An
// unknown discriminator surfaces as a malformed-spec error so a bad row can
// never grant a silent default discount.
func (c specColumns) buildSpec() (instrument.Spec, error) {
	switch c.discountType {
	case specPercent:
		return instrument.PercentOff{Percent: c.percent, MaxDiscount: c.maxDiscount}, nil
	case specFixed:
		return instrument.FixedAmountOff{Amount: c.fixedAmount}, nil
	case specShipping:
		return instrument.FreeShipping{}, nil
	case specBuyXGetY:
		return instrument.BuyXGetY{
			BuyQty:             int(c.buyQty),
			GetQty:             int(c.getQty),
			GetDiscountPercent: c.getDiscountPercent,
		}, nil
	case specTiered:
		var tiers []tierJSON
		if err := json.Unmarshal(c.tiers, &tiers); err != nil {
			return nil, errors.Wrap(err, "decode quantity tiers")
		}
		spec := instrument.TieredQuantity{Tiers: make([]instrument.QuantityTier, len(tiers))}
		for i, t := range tiers {
			spec.Tiers[i] = instrument.QuantityTier{MinQuantity: t.MinQuantity, Percent: t.Percent}
		}
		return spec, nil
	default:
		return nil, errors.Wrapf(instrument.ErrMalformedSpec, "unknown discount type %q", c.discountType)
	}
}

// tierJSON is the JSONB representation of one quantity breakpoint.
type tierJSON struct {
	MinQuantity int             `json:"min_quantity"`
	Percent     decimal.Decimal `json:"percent"`
}

func scanDeal(row pgx.CollectableRow) (instrument.Deal, error) {
	var (
		d        instrument.Deal
		cols     specColumns
		perUser  int32
		total    int32
		redeemed int32
		dealType string
	)
	err := row.Scan(
		&d.ID, &d.Title, &dealType,
		&d.Scope.All, &d.Scope.ProductIDs, &d.Scope.CategoryIDs,
		&cols.discountType, &cols.percent, &cols.maxDiscount, &cols.fixedAmount,
		&cols.buyQty, &cols.getQty, &cols.getDiscountPercent, &cols.tiers,
		&d.StartAt, &d.EndAt, &d.IsActive, &d.IsFeatured,
		&perUser, &total, &redeemed, &d.CreatedAt,
	)
	if err != nil {
		return instrument.Deal{}, err
	}

	d.Type = instrument.DealType(dealType)
	d.Limits = instrument.Limits{PerUser: int(perUser), Total: int(total), Redeemed: int(redeemed)}
	d.Spec, err = cols.buildSpec()
	if err != nil {
		return instrument.Deal{}, errors.Wrapf(err, "deal %s", d.ID)
	}
	return d, nil
}

func scanCoupon(row pgx.CollectableRow) (instrument.Coupon, error) {
	var (
		c        instrument.Coupon
		cols     specColumns
		perUser  int32
		total    int32
		redeemed int32
	)
	err := row.Scan(
		&c.ID, &c.Code,
		&c.Scope.All, &c.Scope.ProductIDs, &c.Scope.CategoryIDs,
		&cols.discountType, &cols.percent, &cols.maxDiscount, &cols.fixedAmount,
		&cols.buyQty, &cols.getQty, &cols.getDiscountPercent, &cols.tiers,
		&c.MinOrderValue, &c.MaxOrderValue, &c.ValidFrom, &c.ValidUntil,
		&c.IsActive, &perUser, &total, &redeemed,
	)
	if err != nil {
		return instrument.Coupon{}, err
	}

	c.Limits = instrument.Limits{PerUser: int(perUser), Total: int(total), Redeemed: int(redeemed)}
	c.Spec, err = cols.buildSpec()
	if err != nil {
		return instrument.Coupon{}, errors.Wrapf(err, "coupon %s", c.ID)
	}
	return c, nil
}
