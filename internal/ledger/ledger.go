// Package ledger enforces redemption-limit invariants at commit time. It is
// the only part of the engine with write side effects: quotes are advisory,
// the ledger is authoritative.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vendly/promo-engine/internal/domain/eligibility"
	"github.com/vendly/promo-engine/internal/domain/instrument"
	"github.com/vendly/promo-engine/internal/domain/stacking"
)

// ReasonTransient marks a conflict caused by infrastructure (repository
// timeout or unavailability) rather than a lost race. Retrying the whole
// commit is safe; the caller decides whether to.
const ReasonTransient = eligibility.Reason("TRANSIENT")

// ConflictError is returned by Commit when limits were exhausted between
// quote and commit, or a concurrent shopper won the race for the last
// redemption slot. It is a normal outcome, not a system fault: the caller
// must re-quote.
type ConflictError struct {
	InstrumentID string
	Reason       eligibility.Reason
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("redemption conflict on instrument %s: %s", e.InstrumentID, e.Reason)
}

// Record is one committed redemption, append-only. Per-user limits are
// enforced by counting a shopper's unreleased records.
type Record struct {
	InstrumentID string
	Kind         instrument.Kind
	ShopperID    string
	OrderID      string
	AmountOff    decimal.Decimal
	CommittedAt  time.Time
}

// Ledger re-validates usage limits and consumes redemption slots atomically.
type Ledger interface {
	// Commit re-runs the global and per-user limit checks inside the same
	// atomic unit that increments redeemed counters and appends records for
	// every applied instrument in the decision. Either every instrument
	// commits or none does. Returns *ConflictError when a limit check fails.
	//
	// An order id that already has records is never committed again: the
	// call returns nil without consuming slots. A caller that saw a
	// TRANSIENT conflict can therefore retry the identical commit without
	// risking a double redemption when the first attempt actually landed.
	Commit(ctx context.Context, decision *stacking.Decision, shopperID, orderID string) error

	// Release compensates a committed order: decrements the counters its
	// records incremented and marks them released. Idempotent under retry;
	// releasing an unknown order is a no-op.
	Release(ctx context.Context, orderID string) error
}

// UsageReader reports a shopper's committed (unreleased) redemption counts,
// keyed by instrument id. Quote-time eligibility uses it for per-user limit
// checks; it may lag the ledger by a bounded interval.
type UsageReader interface {
	ShopperUses(ctx context.Context, shopperID string, instrumentIDs []string) (map[string]int, error)
}
