package api

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/vendly/promo-engine/internal/domain/cart"
	"github.com/vendly/promo-engine/internal/domain/instrument"
	"github.com/vendly/promo-engine/internal/domain/stacking"
	"github.com/vendly/promo-engine/internal/engine"
	"github.com/vendly/promo-engine/internal/ledger"
)

type lineJSON struct {
	ProductID  string          `json:"product_id"`
	CategoryID string          `json:"category_id,omitempty"`
	VendorID   string          `json:"vendor_id,omitempty"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Quantity   int             `json:"quantity"`
}

type quoteRequest struct {
	ShopperID    string          `json:"shopper_id"`
	CouponCode   string          `json:"coupon_code,omitempty"`
	ShippingCost decimal.Decimal `json:"shipping_cost"`
	Lines        []lineJSON      `json:"lines"`
}

type appliedJSON struct {
	InstrumentID   string          `json:"instrument_id"`
	Kind           string          `json:"kind"`
	AmountOff      decimal.Decimal `json:"amount_off"`
	ShippingWaiver bool            `json:"shipping_waiver,omitempty"`
}

type rejectedJSON struct {
	InstrumentID string `json:"instrument_id"`
	Kind         string `json:"kind"`
	Reason       string `json:"reason"`
}

type decisionJSON struct {
	Applied       []appliedJSON   `json:"applied"`
	Rejected      []rejectedJSON  `json:"rejected"`
	OriginalTotal decimal.Decimal `json:"original_total"`
	TotalOff      decimal.Decimal `json:"total_off"`
	FinalTotal    decimal.Decimal `json:"final_total"`
}

func toDecisionJSON(d *stacking.Decision) decisionJSON {
	out := decisionJSON{
		Applied:       make([]appliedJSON, 0, len(d.Applied)),
		Rejected:      make([]rejectedJSON, 0, len(d.Rejected)),
		OriginalTotal: d.OriginalTotal,
		TotalOff:      d.TotalOff(),
		FinalTotal:    d.FinalTotal,
	}
	for _, a := range d.Applied {
		out.Applied = append(out.Applied, appliedJSON{
			InstrumentID:   a.InstrumentID,
			Kind:           string(a.Kind),
			AmountOff:      a.AmountOff,
			ShippingWaiver: a.ShippingWaiver,
		})
	}
	for _, rej := range d.Rejected {
		out.Rejected = append(out.Rejected, rejectedJSON{
			InstrumentID: rej.InstrumentID,
			Kind:         string(rej.Kind),
			Reason:       string(rej.Reason),
		})
	}
	return out
}

func fromDecisionJSON(d decisionJSON) *stacking.Decision {
	dec := &stacking.Decision{
		OriginalTotal: d.OriginalTotal,
		FinalTotal:    d.FinalTotal,
	}
	for _, a := range d.Applied {
		dec.Applied = append(dec.Applied, stacking.Applied{
			InstrumentID:   a.InstrumentID,
			Kind:           instrument.Kind(a.Kind),
			AmountOff:      a.AmountOff,
			ShippingWaiver: a.ShippingWaiver,
		})
	}
	return dec
}

// Quote computes a discount decision without side effects.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ShopperID == "" {
		writeError(w, http.StatusBadRequest, "shopper_id required", "")
		return
	}

	c := cart.Cart{ShippingCost: req.ShippingCost, Lines: make([]cart.Line, len(req.Lines))}
	for i, l := range req.Lines {
		if l.Quantity <= 0 {
			writeError(w, http.StatusUnprocessableEntity, "quantity must be greater than 0 for product "+l.ProductID, "")
			return
		}
		c.Lines[i] = cart.Line{
			ProductID:  l.ProductID,
			CategoryID: l.CategoryID,
			VendorID:   l.VendorID,
			UnitPrice:  l.UnitPrice,
			Quantity:   l.Quantity,
		}
	}

	decision, err := h.engine.Quote(r.Context(), c, req.ShopperID, req.CouponCode)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrEmptyCart):
			writeError(w, http.StatusBadRequest, "cart has no lines", "")
		case errors.Is(err, instrument.ErrMalformedSpec):
			serverError(w, r, err, "malformed instrument")
		default:
			serverError(w, r, err, "quote failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, toDecisionJSON(decision))
}

type commitRequest struct {
	ShopperID string       `json:"shopper_id"`
	OrderID   string       `json:"order_id"`
	Decision  decisionJSON `json:"decision"`
}

// Commit consumes redemption slots for a previously quoted decision.
// Conflicts are 409 with the reason; transient repository faults are 503 so
// the checkout pipeline retries the identical commit.
func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ShopperID == "" || req.OrderID == "" {
		writeError(w, http.StatusBadRequest, "shopper_id and order_id required", "")
		return
	}

	err := h.engine.Commit(r.Context(), fromDecisionJSON(req.Decision), req.ShopperID, req.OrderID)
	if err != nil {
		var conflict *ledger.ConflictError
		if errors.As(err, &conflict) {
			if conflict.Reason == ledger.ReasonTransient {
				writeError(w, http.StatusServiceUnavailable, "repository unavailable, retry commit", string(conflict.Reason))
				return
			}
			writeError(w, http.StatusConflict, "redemption conflict, re-quote required", string(conflict.Reason))
			return
		}
		serverError(w, r, err, "commit failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "committed", "order_id": req.OrderID})
}

type releaseRequest struct {
	OrderID string `json:"order_id"`
}

// Release compensates a committed order. Idempotent.
func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.OrderID == "" {
		writeError(w, http.StatusBadRequest, "order_id required", "")
		return
	}

	if err := h.engine.Release(r.Context(), req.OrderID); err != nil {
		serverError(w, r, err, "release failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "released", "order_id": req.OrderID})
}
