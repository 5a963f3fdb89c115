package handler

import (
	"log/slog"
	"net/http"

	"github.com/signaldeck/signaldeck/internal/domain"
)

// MarketView exposes the read side of the live market state.
type MarketView interface {
	Prices() map[string]float64
	Summary() domain.Summary
}

// MarketHandler serves the live price map and account summary derived from
// the reconciled state.
type MarketHandler struct {
	view   MarketView
	logger *slog.Logger
}

func NewMarketHandler(view MarketView, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{view: view, logger: logger}
}

// ListPrices returns the latest known mark price per symbol.
// GET /api/prices
func (h *MarketHandler) ListPrices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"prices": h.view.Prices()})
}

// GetSummary returns the derived account aggregates.
// GET /api/summary
func (h *MarketHandler) GetSummary(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.view.Summary())
}
