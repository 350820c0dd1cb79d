// Package engine is the promotion resolution façade: side-effect-free quotes
// any number of times, one atomic commit per checkout, idempotent release.
package engine

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/vendly/promo-engine/internal/domain/cart"
	"github.com/vendly/promo-engine/internal/domain/eligibility"
	"github.com/vendly/promo-engine/internal/domain/instrument"
	"github.com/vendly/promo-engine/internal/domain/stacking"
	"github.com/vendly/promo-engine/internal/ledger"
)

// ErrEmptyCart is returned when a quote is requested for a cart without lines.
var ErrEmptyCart = errors.New("cart has no lines")

// Events receives notifications after ledger writes succeed. Publishing is
// best-effort: a failed publish never rolls back a commit.
type Events interface {
	RedemptionCommitted(ctx context.Context, decision *stacking.Decision, shopperID, orderID string)
	RedemptionReleased(ctx context.Context, orderID string)
}

// Engine wires the evaluator, calculator, resolver, and ledger behind the
// three inbound operations. All state lives behind the injected
// dependencies; the engine itself is stateless and safe for unbounded
// concurrent quoting.
type Engine struct {
	instruments instrument.Repository
	catalog     cart.CatalogProvider
	ledger      ledger.Ledger
	usage       ledger.UsageReader
	events      Events // nil disables publishing
	lg          *zap.Logger
	now         func() time.Time
}

// New constructs an Engine. events may be nil.
func New(
	instruments instrument.Repository,
	catalog cart.CatalogProvider,
	ldg ledger.Ledger,
	usage ledger.UsageReader,
	events Events,
	lg *zap.Logger,
) *Engine {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Engine{
		instruments: instruments,
		catalog:     catalog,
		ledger:      ldg,
		usage:       usage,
		events:      events,
		lg:          lg,
		now:         time.Now,
	}
}

// Quote computes the discount decision for a cart without side effects.
// When couponCode is empty the best eligible coupon is auto-applied; when it
// is set, only that coupon competes for the coupon slot. Identical inputs at
// the same instant yield identical decisions.
func (e *Engine) Quote(ctx context.Context, c cart.Cart, shopperID, couponCode string) (*stacking.Decision, error) {
	if len(c.Lines) == 0 {
		return nil, ErrEmptyCart
	}
	now := e.now()

	c, err := e.resolveScopes(ctx, c)
	if err != nil {
		return nil, errors.Wrap(err, "resolve catalog scopes")
	}

	deals, err := e.instruments.ActiveDeals(ctx, now)
	if err != nil {
		return nil, errors.Wrap(err, "load active deals")
	}

	candidates := make([]instrument.Instrument, 0, len(deals)+1)
	for i := range deals {
		candidates = append(candidates, &deals[i])
	}

	var preRejected []stacking.Rejected
	if couponCode != "" {
		coupon, err := e.instruments.CouponByCode(ctx, instrument.NormalizeCode(couponCode))
		switch {
		case errors.Is(err, instrument.ErrCouponNotFound):
			preRejected = append(preRejected, stacking.Rejected{
				InstrumentID: instrument.NormalizeCode(couponCode),
				Kind:         instrument.KindCoupon,
				Reason:       stacking.ReasonNotFound,
			})
		case err != nil:
			return nil, errors.Wrap(err, "lookup coupon")
		default:
			candidates = append(candidates, coupon)
		}
	} else {
		coupons, err := e.instruments.ActiveCoupons(ctx, now)
		if err != nil {
			return nil, errors.Wrap(err, "load active coupons")
		}
		for i := range coupons {
			candidates = append(candidates, &coupons[i])
		}
	}

	ids := make([]string, len(candidates))
	for i, inst := range candidates {
		ids[i] = inst.InstrumentID()
	}
	uses, err := e.usage.ShopperUses(ctx, shopperID, ids)
	if err != nil {
		return nil, errors.Wrap(err, "load shopper usage")
	}

	var eligibleInstruments []instrument.Instrument
	for _, inst := range candidates {
		result, err := eligibility.Evaluate(inst, c, uses[inst.InstrumentID()], now)
		if err != nil {
			// Data-integrity fault: fail the request, never default.
			e.lg.Error("malformed instrument",
				zap.String("instrument_id", inst.InstrumentID()),
				zap.Error(err),
			)
			return nil, errors.Wrapf(err, "evaluate instrument %s", inst.InstrumentID())
		}
		if result.Eligible {
			eligibleInstruments = append(eligibleInstruments, inst)
			continue
		}
		preRejected = append(preRejected, stacking.Rejected{
			InstrumentID: inst.InstrumentID(),
			Kind:         inst.InstrumentKind(),
			Reason:       result.Reason,
		})
	}

	decision, err := stacking.Resolve(eligibleInstruments, c, preRejected)
	if err != nil {
		return nil, errors.Wrap(err, "resolve stacking")
	}
	return decision, nil
}

// Commit consumes redemption slots for every instrument the decision
// applied. Limit checks re-run inside the ledger's atomic unit; on
// *ledger.ConflictError the caller must re-quote.
func (e *Engine) Commit(ctx context.Context, decision *stacking.Decision, shopperID, orderID string) error {
	if err := e.ledger.Commit(ctx, decision, shopperID, orderID); err != nil {
		return err
	}
	if e.events != nil {
		e.events.RedemptionCommitted(ctx, decision, shopperID, orderID)
	}
	return nil
}

// Release compensates a committed order. Idempotent: releasing twice, or
// releasing an order that never committed, is a no-op.
func (e *Engine) Release(ctx context.Context, orderID string) error {
	if err := e.ledger.Release(ctx, orderID); err != nil {
		return err
	}
	if e.events != nil {
		e.events.RedemptionReleased(ctx, orderID)
	}
	return nil
}

// resolveScopes fills missing category and vendor ids from the catalog
// snapshot. Lines that already carry both are not looked up.
func (e *Engine) resolveScopes(ctx context.Context, c cart.Cart) (cart.Cart, error) {
	var missing []string
	for _, l := range c.Lines {
		if l.CategoryID == "" || l.VendorID == "" {
			missing = append(missing, l.ProductID)
		}
	}
	if len(missing) == 0 {
		return c, nil
	}

	scopes, err := e.catalog.LookupScope(ctx, missing)
	if err != nil {
		return cart.Cart{}, err
	}

	lines := append([]cart.Line(nil), c.Lines...)
	for i, l := range lines {
		if s, ok := scopes[l.ProductID]; ok {
			if l.CategoryID == "" {
				lines[i].CategoryID = s.CategoryID
			}
			if l.VendorID == "" {
				lines[i].VendorID = s.VendorID
			}
		}
	}
	c.Lines = lines
	return c, nil
}
