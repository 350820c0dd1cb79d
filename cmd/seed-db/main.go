// Command seed-db creates the schema and loads a small demo data set: a
// catalog snapshot plus a few deals, coupons, and campaigns to exercise the
// quote and trending endpoints locally.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vendly/promo-engine/internal/repository"
)

type productJSON struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	CategoryID string          `json:"category_id"`
	VendorID   string          `json:"vendor_id"`
}

func main() {
	var (
		databaseURL  string
		productsFile string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, pool, productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := seedDeals(ctx, pool); err != nil {
		return errors.Wrap(err, "seed deals")
	}
	if err := seedCoupons(ctx, pool); err != nil {
		return errors.Wrap(err, "seed coupons")
	}
	if err := seedPromotions(ctx, pool); err != nil {
		return errors.Wrap(err, "seed promotions")
	}

	return nil
}

const upsertProductSQL = `
INSERT INTO products (id, name, category_id, vendor_id, price)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
    name        = EXCLUDED.name,
    category_id = EXCLUDED.category_id,
    vendor_id   = EXCLUDED.vendor_id,
    price       = EXCLUDED.price
`

func seedProducts(ctx context.Context, pool *pgxpool.Pool, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		if _, err := pool.Exec(ctx, upsertProductSQL,
			p.ID, p.Name, p.CategoryID, p.VendorID, p.Price,
		); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
	}

	return nil
}

const upsertDealSQL = `
INSERT INTO deals (
    id, title, deal_type, scope_all, scope_product_ids, scope_category_ids,
    discount_type, percent, max_discount, fixed_amount,
    buy_qty, get_qty, get_discount_percent, tiers,
    start_at, end_at, is_active, is_featured, per_user_limit, total_limit
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
    $11, $12, $13, $14, $15, $16, TRUE, $17, $18, $19
)
ON CONFLICT (id) DO UPDATE SET
    title       = EXCLUDED.title,
    start_at    = EXCLUDED.start_at,
    end_at      = EXCLUDED.end_at,
    is_active   = TRUE,
    is_featured = EXCLUDED.is_featured
`

func seedDeals(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding deals")

	now := time.Now().UTC().Truncate(time.Hour)
	weekOut := now.Add(7 * 24 * time.Hour)

	type dealRow struct {
		id, title, dealType string
		scopeAll            bool
		productIDs          []string
		categoryIDs         []string
		discountType        string
		percent             decimal.Decimal
		maxDiscount         decimal.Decimal
		fixedAmount         decimal.Decimal
		buyQty, getQty      int
		getDiscountPercent  decimal.Decimal
		tiers               string
		startAt, endAt      time.Time
		featured            bool
		perUserLimit        int
		totalLimit          int
	}

	deals := []dealRow{
		{
			id: "deal-flash-kitchen", title: "Kitchen Flash Sale 20% Off", dealType: "flash_sale",
			categoryIDs:  []string{"kitchen"},
			discountType: "percent_off", percent: decimal.NewFromInt(20), maxDiscount: decimal.NewFromInt(40),
			tiers: "[]", startAt: now, endAt: now.Add(6 * time.Hour), featured: true, totalLimit: 500,
		},
		{
			id: "deal-daily-bottle", title: "Daily Deal: Buy 2 Get 1 Free Bottles", dealType: "daily_deal",
			productIDs:   []string{"prod-water-bottle"},
			discountType: "buy_x_get_y", buyQty: 2, getQty: 1, getDiscountPercent: decimal.NewFromInt(100),
			tiers: "[]", startAt: now, endAt: now.Add(24 * time.Hour), perUserLimit: 2,
		},
		{
			id: "deal-bulk-office", title: "Office Bulk Discount", dealType: "bulk_discount",
			categoryIDs:  []string{"home-office"},
			discountType: "tiered_quantity",
			tiers:        `[{"min_quantity":3,"percent":"5"},{"min_quantity":5,"percent":"10"},{"min_quantity":10,"percent":"15"}]`,
			startAt:      now, endAt: weekOut,
		},
		{
			id: "deal-seasonal-all", title: "Season Opener 5% Storewide", dealType: "seasonal_sale",
			scopeAll:     true,
			discountType: "percent_off", percent: decimal.NewFromInt(5),
			tiers: "[]", startAt: now, endAt: weekOut.Add(21 * 24 * time.Hour),
		},
	}

	for _, d := range deals {
		if _, err := pool.Exec(ctx, upsertDealSQL,
			d.id, d.title, d.dealType, d.scopeAll, d.productIDs, d.categoryIDs,
			d.discountType, d.percent, d.maxDiscount, d.fixedAmount,
			d.buyQty, d.getQty, d.getDiscountPercent, d.tiers,
			d.startAt, d.endAt, d.featured, d.perUserLimit, d.totalLimit,
		); err != nil {
			return errors.Wrapf(err, "upsert deal %s", d.id)
		}

		slog.Info("upserted deal", slog.String("id", d.id), slog.String("title", d.title))
	}

	return nil
}

const upsertSeedCouponSQL = `
INSERT INTO coupons (
    id, code, scope_all, scope_category_ids, discount_type, percent,
    max_discount, fixed_amount, min_order_value, max_order_value,
    valid_from, valid_until, is_active, per_user_limit, total_limit
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, TRUE, $13, $14)
ON CONFLICT (UPPER(code)) WHERE is_active DO UPDATE SET
    percent         = EXCLUDED.percent,
    max_discount    = EXCLUDED.max_discount,
    fixed_amount    = EXCLUDED.fixed_amount,
    min_order_value = EXCLUDED.min_order_value,
    max_order_value = EXCLUDED.max_order_value,
    valid_from      = EXCLUDED.valid_from,
    valid_until     = EXCLUDED.valid_until
`

func seedCoupons(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding coupons")

	now := time.Now().UTC().Truncate(time.Hour)
	monthOut := now.Add(30 * 24 * time.Hour)

	type couponRow struct {
		id, code     string
		scopeAll     bool
		categoryIDs  []string
		discountType string
		percent      decimal.Decimal
		maxDiscount  decimal.Decimal
		fixedAmount  decimal.Decimal
		minOrder     decimal.Decimal
		maxOrder     decimal.Decimal
		validFrom    *time.Time
		validUntil   *time.Time
		perUserLimit int
		totalLimit   int
	}

	coupons := []couponRow{
		{
			id: "coupon-welcome10", code: "WELCOME10", scopeAll: true,
			discountType: "percent_off", percent: decimal.NewFromInt(10), maxDiscount: decimal.NewFromInt(25),
			perUserLimit: 1,
		},
		{
			id: "coupon-save15", code: "SAVE15", scopeAll: true,
			discountType: "fixed_amount_off", fixedAmount: decimal.NewFromInt(15),
			minOrder: decimal.NewFromInt(75), validFrom: &now, validUntil: &monthOut, totalLimit: 1000,
		},
		{
			id: "coupon-freeship", code: "FREESHIP", scopeAll: true,
			discountType: "free_shipping", minOrder: decimal.NewFromInt(25),
		},
		{
			id: "coupon-sport20", code: "SPORT20",
			categoryIDs:  []string{"sportswear"},
			discountType: "percent_off", percent: decimal.NewFromInt(20),
			maxOrder: decimal.NewFromInt(300), validUntil: &monthOut,
		},
	}

	for _, c := range coupons {
		if _, err := pool.Exec(ctx, upsertSeedCouponSQL,
			c.id, c.code, c.scopeAll, c.categoryIDs, c.discountType, c.percent,
			c.maxDiscount, c.fixedAmount, c.minOrder, c.maxOrder,
			c.validFrom, c.validUntil, c.perUserLimit, c.totalLimit,
		); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.code)
		}

		slog.Info("upserted coupon", slog.String("code", c.code))
	}

	return nil
}

const upsertPromotionSQL = `
INSERT INTO promotions (id, name, objective, channel, instrument_ids, start_at, end_at, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
ON CONFLICT (id) DO UPDATE SET
    name           = EXCLUDED.name,
    objective      = EXCLUDED.objective,
    channel        = EXCLUDED.channel,
    instrument_ids = EXCLUDED.instrument_ids,
    start_at       = EXCLUDED.start_at,
    end_at         = EXCLUDED.end_at,
    is_active      = TRUE
`

func seedPromotions(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding promotions")

	now := time.Now().UTC().Truncate(time.Hour)
	weekOut := now.Add(7 * 24 * time.Hour)

	type promoRow struct {
		id, name, objective, channel string
		instrumentIDs                []string
		startAt, endAt               time.Time
	}

	promos := []promoRow{
		{
			id: "promo-flash-email", name: "Flash Sale Email Blast",
			objective: "conversion", channel: "email",
			instrumentIDs: []string{"deal-flash-kitchen"},
			startAt:       now, endAt: now.Add(6 * time.Hour),
		},
		{
			id: "promo-season-social", name: "Season Opener Social Push",
			objective: "awareness", channel: "social",
			instrumentIDs: []string{"deal-seasonal-all", "deal-bulk-office"},
			startAt:       now, endAt: weekOut,
		},
	}

	for _, p := range promos {
		if _, err := pool.Exec(ctx, upsertPromotionSQL,
			p.id, p.name, p.objective, p.channel, p.instrumentIDs, p.startAt, p.endAt,
		); err != nil {
			return errors.Wrapf(err, "upsert promotion %s", p.id)
		}

		slog.Info("upserted promotion", slog.String("id", p.id), slog.String("name", p.name))
	}

	return nil
}
