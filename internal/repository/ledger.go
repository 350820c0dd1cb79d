package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vendly/promo-engine/internal/domain/instrument"
	"github.com/vendly/promo-engine/internal/domain/stacking"
	"github.com/vendly/promo-engine/internal/ledger"
)

const (
	// Guarded compare-and-increment: zero rows affected means the last slot
	// was taken by a concurrent committer.
	incrementDealSQL = `UPDATE deals
		SET redeemed_count = redeemed_count + 1
		WHERE id = $1 AND (total_limit = 0 OR redeemed_count < total_limit)`

	incrementCouponSQL = `UPDATE coupons
		SET redeemed_count = redeemed_count + 1
		WHERE id = $1 AND (total_limit = 0 OR redeemed_count < total_limit)`

	decrementDealSQL = `UPDATE deals
		SET redeemed_count = GREATEST(redeemed_count - 1, 0)
		WHERE id = $1`

	decrementCouponSQL = `UPDATE coupons
		SET redeemed_count = GREATEST(redeemed_count - 1, 0)
		WHERE id = $1`

	perUserLimitSQL = `SELECT per_user_limit FROM %s WHERE id = $1`

	countShopperUsesSQL = `SELECT COUNT(*) FROM redemptions
		WHERE instrument_id = $1 AND shopper_id = $2 AND NOT released`

	insertRedemptionSQL = `INSERT INTO redemptions
		(instrument_id, kind, shopper_id, order_id, amount_off)
		VALUES ($1, $2, $3, $4, $5)`

	orderCommittedSQL = `SELECT EXISTS (
		SELECT 1 FROM redemptions WHERE order_id = $1)`

	releaseRedemptionsSQL = `UPDATE redemptions
		SET released = TRUE
		WHERE order_id = $1 AND NOT released
		RETURNING instrument_id, kind`

	shopperUsesSQL = `SELECT instrument_id, COUNT(*) FROM redemptions
		WHERE shopper_id = $1 AND instrument_id = ANY($2) AND NOT released
		GROUP BY instrument_id`

	// Serializes commits per (instrument, shopper) without blocking other
	// shoppers. Transaction-scoped, released automatically.
	advisoryLockSQL = `SELECT pg_advisory_xact_lock(hashtext($1 || ':' || $2))`
)

var (
	_ ledger.Ledger      = (*LedgerRepository)(nil)
	_ ledger.UsageReader = (*LedgerRepository)(nil)
)

// LedgerRepository implements the redemption ledger on PostgreSQL. A single
// transaction covers the guarded counter increments, the per-user limit
// check, and the record appends, so either the whole decision commits or
// none of it does.
type LedgerRepository struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository returns a LedgerRepository using the given pool.
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

// errAlreadyCommitted aborts the commit transaction when the order's
// records are already in the table, rolling back any increments made so
// far. The caller translates it into a no-op success.
var errAlreadyCommitted = errors.New("order already committed")

// Commit consumes one redemption slot per applied instrument. Limit
// exhaustion surfaces as *ledger.ConflictError; repository timeouts surface
// as a conflict with reason TRANSIENT so the caller knows a full retry is
// safe. A retried commit for an order that already landed returns nil
// without consuming slots: a TRANSIENT conflict can mean the first
// transaction committed but its acknowledgment was lost.
func (r *LedgerRepository) Commit(ctx context.Context, decision *stacking.Decision, shopperID, orderID string) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var committed bool
		if err := tx.QueryRow(ctx, orderCommittedSQL, orderID).Scan(&committed); err != nil {
			return errors.Wrap(err, "check order commit state")
		}
		if committed {
			return errAlreadyCommitted
		}

		for _, a := range decision.Applied {
			if err := r.commitOne(ctx, tx, a, shopperID, orderID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errAlreadyCommitted) {
			return nil
		}
		var conflict *ledger.ConflictError
		if errors.As(err, &conflict) {
			return conflict
		}
		if isTransient(ctx, err) {
			return &ledger.ConflictError{Reason: ledger.ReasonTransient}
		}
		return fmt.Errorf("committing redemption for order %s: %w", orderID, err)
	}
	return nil
}

func (r *LedgerRepository) commitOne(ctx context.Context, tx pgx.Tx, a stacking.Applied, shopperID, orderID string) error {
	// Per-user checks only need per-(instrument, shopper) serialization.
	if _, err := tx.Exec(ctx, advisoryLockSQL, a.InstrumentID, shopperID); err != nil {
		return errors.Wrap(err, "acquire advisory lock")
	}

	incrementSQL, table := incrementCouponSQL, "coupons"
	if a.Kind == instrument.KindDeal {
		incrementSQL, table = incrementDealSQL, "deals"
	}

	tag, err := tx.Exec(ctx, incrementSQL, a.InstrumentID)
	if err != nil {
		return errors.Wrapf(err, "increment redeemed count for %s", a.InstrumentID)
	}
	if tag.RowsAffected() == 0 {
		return &ledger.ConflictError{InstrumentID: a.InstrumentID, Reason: "GLOBAL_LIMIT_REACHED"}
	}

	var perUser int32
	if err := tx.QueryRow(ctx, fmt.Sprintf(perUserLimitSQL, table), a.InstrumentID).Scan(&perUser); err != nil {
		return errors.Wrapf(err, "load per-user limit for %s", a.InstrumentID)
	}
	if perUser > 0 {
		var uses int64
		if err := tx.QueryRow(ctx, countShopperUsesSQL, a.InstrumentID, shopperID).Scan(&uses); err != nil {
			return errors.Wrapf(err, "count shopper uses for %s", a.InstrumentID)
		}
		if uses >= int64(perUser) {
			return &ledger.ConflictError{InstrumentID: a.InstrumentID, Reason: "USER_LIMIT_REACHED"}
		}
	}

	if _, err := tx.Exec(ctx, insertRedemptionSQL,
		a.InstrumentID, string(a.Kind), shopperID, orderID, a.AmountOff,
	); err != nil {
		// Unique violation on (order_id, instrument_id): a concurrent retry
		// of the same order got past the commit-state check first.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return errAlreadyCommitted
		}
		return errors.Wrapf(err, "append redemption record for %s", a.InstrumentID)
	}
	return nil
}

// Release marks the order's records released and decrements the counters
// they incremented. The NOT released guard makes a retry a no-op: the second
// call matches zero rows and decrements nothing.
func (r *LedgerRepository) Release(ctx context.Context, orderID string) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, releaseRedemptionsSQL, orderID)
		if err != nil {
			return errors.Wrap(err, "mark redemptions released")
		}

		type released struct {
			instrumentID string
			kind         string
		}
		items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (released, error) {
			var it released
			err := row.Scan(&it.instrumentID, &it.kind)
			return it, err
		})
		if err != nil {
			return errors.Wrap(err, "collect released redemptions")
		}

		for _, it := range items {
			decrementSQL := decrementCouponSQL
			if instrument.Kind(it.kind) == instrument.KindDeal {
				decrementSQL = decrementDealSQL
			}
			if _, err := tx.Exec(ctx, decrementSQL, it.instrumentID); err != nil {
				return errors.Wrapf(err, "decrement redeemed count for %s", it.instrumentID)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("releasing order %s: %w", orderID, err)
	}
	return nil
}

// ShopperUses returns unreleased redemption counts per instrument for one
// shopper.
func (r *LedgerRepository) ShopperUses(ctx context.Context, shopperID string, instrumentIDs []string) (map[string]int, error) {
	uses := make(map[string]int, len(instrumentIDs))
	if len(instrumentIDs) == 0 {
		return uses, nil
	}

	rows, err := r.pool.Query(ctx, shopperUsesSQL, shopperID, instrumentIDs)
	if err != nil {
		return nil, fmt.Errorf("querying shopper uses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id    string
			count int64
		)
		if err := rows.Scan(&id, &count); err != nil {
			return nil, fmt.Errorf("scanning shopper uses: %w", err)
		}
		uses[id] = int(count)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading shopper uses: %w", err)
	}
	return uses, nil
}

// isTransient classifies infrastructure faults that make the whole commit
// retryable: context deadlines and connection-level failures, as opposed to
// constraint or data errors.
func isTransient(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		// Class 08 - connection exceptions, 57 - operator intervention
		// (shutdown, cancellation).
		return pgErr.Code[:2] == "08" || pgErr.Code[:2] == "57"
	}
	return pgconn.Timeout(err)
}
