// Package api exposes the engine over a thin JSON boundary. It is an
// internal service surface for the checkout pipeline and deal pages, not a
// public protocol.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/vendly/promo-engine/internal/domain/instrument"
	"github.com/vendly/promo-engine/internal/domain/ranking"
	"github.com/vendly/promo-engine/internal/engine"
)

// Handler wires the engine and ranking dependencies to HTTP routes.
type Handler struct {
	engine      *engine.Engine
	instruments instrument.Repository
	signals     ranking.SignalSource
	weights     ranking.Weights
}

// NewHandler constructs a Handler with the required dependencies.
func NewHandler(
	eng *engine.Engine,
	instruments instrument.Repository,
	signals ranking.SignalSource,
) *Handler {
	return &Handler{
		engine:      eng,
		instruments: instruments,
		signals:     signals,
		weights:     ranking.DefaultWeights(),
	}
}

// Register mounts all routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/quote", h.Quote)
	mux.HandleFunc("POST /api/commit", h.Commit)
	mux.HandleFunc("POST /api/release", h.Release)
	mux.HandleFunc("GET /api/deals/trending", h.TrendingDeals)
	mux.HandleFunc("POST /api/deals/{id}/click", h.TrackDealClick)
	mux.HandleFunc("POST /api/instruments/{kind}/{id}/deactivate", h.DeactivateInstrument)
}

// errorBody is the uniform JSON error envelope.
type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, reason string) {
	writeJSON(w, status, errorBody{Code: status, Message: message, Reason: reason})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body", "")
		return false
	}
	return true
}

// serverError logs the underlying failure and hides it from the client.
func serverError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	zctx.From(r.Context()).Error(msg, zap.Error(err))
	writeError(w, http.StatusInternalServerError, msg, "")
}
