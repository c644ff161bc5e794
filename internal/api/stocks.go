package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/omahaaigc/agent-chat/internal/domain"
)

// StockSearcher looks up stocks by name or code.
type StockSearcher interface {
	Search(ctx context.Context, query string) ([]domain.StockItem, error)
}

// StockHandler serves immediate stock searches.
type StockHandler struct {
	search StockSearcher
}

// NewStockHandler creates a stock handler.
func NewStockHandler(search StockSearcher) *StockHandler {
	return &StockHandler{search: search}
}

// RegisterRoutes registers the stock routes.
func (h *StockHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/stocks/search", h.Search)
}

// Search returns the normalized matches for the key query parameter.
func (h *StockHandler) Search(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	items, err := h.search.Search(r.Context(), key)
	if err != nil {
		slog.Warn("Stock search failed", "key", key, "error", err)
		Error(w, http.StatusBadGateway, err.Error())
		return
	}
	if items == nil {
		items = []domain.StockItem{}
	}
	JSON(w, http.StatusOK, map[string]any{"items": items})
}
