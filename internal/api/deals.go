package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/vendly/promo-engine/internal/domain/instrument"
	"github.com/vendly/promo-engine/internal/domain/ranking"
)

type trendingDealJSON struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Type       string  `json:"type"`
	EndAt      string  `json:"end_at"`
	IsFeatured bool    `json:"is_featured"`
	Score      float64 `json:"score"`
}

// TrendingDeals ranks the currently active deals by engagement signals.
// Served from possibly stale counters; no transactional guarantees.
func (h *Handler) TrendingDeals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := time.Now()

	deals, err := h.instruments.ActiveDeals(ctx, now)
	if err != nil {
		serverError(w, r, err, "load active deals")
		return
	}
	promos, err := h.instruments.ActivePromotions(ctx, now)
	if err != nil {
		serverError(w, r, err, "load active promotions")
		return
	}

	ids := make([]string, len(deals))
	for i, d := range deals {
		ids[i] = d.ID
	}
	sig, err := h.signals.Snapshot(ctx, ids)
	if err != nil {
		// Ranking tolerates missing signals; score on the rest.
		sig = map[string]ranking.Signals{}
	}

	ranked := ranking.Rank(deals, sig, promos, now, h.weights)

	// Serving a deal counts as an impression. Best effort, per deal: one
	// failed increment must not starve the rest, or relative CTR would skew
	// toward whatever happened to sort first.
	for _, rd := range ranked {
		if err := h.signals.TrackImpression(ctx, rd.Deal.ID); err != nil {
			zctx.From(ctx).Debug("track impression",
				zap.String("deal_id", rd.Deal.ID), zap.Error(err))
		}
	}

	out := make([]trendingDealJSON, 0, len(ranked))
	for _, rd := range ranked {
		out = append(out, trendingDealJSON{
			ID:         rd.Deal.ID,
			Title:      rd.Deal.Title,
			Type:       string(rd.Deal.Type),
			EndAt:      rd.Deal.EndAt.Format(time.RFC3339),
			IsFeatured: rd.Deal.IsFeatured,
			Score:      rd.Score,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// TrackDealClick increments the click counter feeding the ranking signals.
func (h *Handler) TrackDealClick(w http.ResponseWriter, r *http.Request) {
	dealID := r.PathValue("id")
	if dealID == "" {
		writeError(w, http.StatusBadRequest, "deal id required", "")
		return
	}

	if err := h.signals.TrackClick(r.Context(), dealID); err != nil {
		serverError(w, r, err, "track click")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "tracked"})
}

// deactivator is the optional write surface of the instrument repository.
type deactivator interface {
	Deactivate(ctx context.Context, kind instrument.Kind, id string) error
}

// DeactivateInstrument flips an instrument's kill switch. Instruments with
// redemption history are deactivated, never deleted, so ledger records stay
// resolvable.
func (h *Handler) DeactivateInstrument(w http.ResponseWriter, r *http.Request) {
	kind := instrument.Kind(r.PathValue("kind"))
	if kind != instrument.KindDeal && kind != instrument.KindCoupon {
		writeError(w, http.StatusBadRequest, "kind must be deal or coupon", "")
		return
	}

	d, ok := h.instruments.(deactivator)
	if !ok {
		writeError(w, http.StatusNotImplemented, "repository is read-only", "")
		return
	}

	id := r.PathValue("id")
	if err := d.Deactivate(r.Context(), kind, id); err != nil {
		if errors.Is(err, instrument.ErrInstrumentNotFound) {
			writeError(w, http.StatusNotFound, "no such instrument", "")
			return
		}
		serverError(w, r, err, "deactivate instrument")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated", "id": id})
}
