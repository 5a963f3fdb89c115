package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/signaldeck/signaldeck/internal/domain"
	"github.com/signaldeck/signaldeck/internal/server/middleware"
)

// PositionView is the reconciler surface the position handler reads from.
type PositionView interface {
	Positions() []domain.Position
	ActivePositions() []domain.Position
	Price(symbol string) (float64, bool)
	Summary() domain.Summary
}

// PositionHandler serves position endpoints over the reconciler's canonical
// state. Mutations go to the datastore only; the reconciler observes the
// result through its own sources.
type PositionHandler struct {
	view     PositionView
	store    domain.DataStore
	profiles domain.ProfileStore
	logger   *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(view PositionView, store domain.DataStore, profiles domain.ProfileStore, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		view:     view,
		store:    store,
		profiles: profiles,
		logger:   logger,
	}
}

// viewerVIP resolves the request viewer's tier. Any resolution failure,
// including no session at all, is treated as the free tier.
func (h *PositionHandler) viewerVIP(r *http.Request) bool {
	uid, ok := middleware.UserID(r.Context())
	if !ok {
		return false
	}
	profile, err := h.profiles.GetProfile(r.Context(), uid)
	if err != nil {
		return false
	}
	return profile.VIP()
}

// positionDTO augments a position with its live mark price and unrealized
// pnl, computed at read time.
type positionDTO struct {
	domain.Position
	MarkPrice     *float64 `json:"mark_price,omitempty"`
	UnrealizedPnL *float64 `json:"unrealized_pnl,omitempty"`
}

// ListPositions returns every known position. Bot levels (take profit,
// stop loss, liquidation) are redacted for viewers without the VIP tier.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.view.Positions())
}

// ListActive returns only the open positions.
// GET /api/positions/active
func (h *PositionHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.view.ActivePositions())
}

func (h *PositionHandler) list(w http.ResponseWriter, r *http.Request, positions []domain.Position) {
	vip := h.viewerVIP(r)

	out := make([]positionDTO, 0, len(positions))
	for _, p := range positions {
		if !vip {
			p.TakeProfit = nil
			p.StopLoss = nil
			p.LiquidationPrice = nil
		}
		dto := positionDTO{Position: p}
		if p.Status == domain.PositionStatusOpen {
			if mark, ok := h.view.Price(p.Symbol); ok {
				pnl := p.UnrealizedPnL(mark)
				dto.MarkPrice = &mark
				dto.UnrealizedPnL = &pnl
			}
		}
		out = append(out, dto)
	}

	writeJSON(w, http.StatusOK, map[string]any{"positions": out})
}

// closeRequest optionally overrides the exit price used for realized pnl.
type closeRequest struct {
	ExitPrice *float64 `json:"exit_price,omitempty"`
}

// ClosePosition issues the close mutation for an open position. Requires a
// session. The realized pnl is computed from the requested exit price, or
// the latest mark price when absent.
// POST /api/positions/{id}/close
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.UserID(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, "session required")
		return
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid position id")
		return
	}

	// An empty body is fine; only malformed JSON is rejected.
	var req closeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var target *domain.Position
	for _, p := range h.view.ActivePositions() {
		if p.ID == id {
			target = &p
			break
		}
	}
	if target == nil {
		writeError(w, http.StatusNotFound, "no open position with that id")
		return
	}

	exit := 0.0
	switch {
	case req.ExitPrice != nil:
		exit = *req.ExitPrice
	default:
		mark, ok := h.view.Price(target.Symbol)
		if !ok {
			writeError(w, http.StatusConflict, "no mark price available; supply exit_price")
			return
		}
		exit = mark
	}

	pnl := target.UnrealizedPnL(exit)
	if err := h.store.ClosePosition(r.Context(), id, pnl); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no open position with that id")
			return
		}
		h.logger.ErrorContext(r.Context(), "close position failed",
			slog.Int64("id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to close position")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":  id,
		"pnl": pnl,
	})
}
