package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// StylesheetSource provides the code highlighting stylesheet.
type StylesheetSource interface {
	CSS() (string, error)
}

// MarkdownHandler serves assets the rendered HTML depends on.
type MarkdownHandler struct {
	src StylesheetSource
}

// NewMarkdownHandler creates a markdown handler.
func NewMarkdownHandler(src StylesheetSource) *MarkdownHandler {
	return &MarkdownHandler{src: src}
}

// RegisterRoutes registers the markdown routes.
func (h *MarkdownHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/markdown/highlight.css", h.HighlightCSS)
}

// HighlightCSS writes the chroma stylesheet for code blocks.
func (h *MarkdownHandler) HighlightCSS(w http.ResponseWriter, _ *http.Request) {
	css, err := h.src.CSS()
	if err != nil {
		slog.Error("Failed to build highlight stylesheet", "error", err)
		Error(w, http.StatusInternalServerError, "stylesheet unavailable")
		return
	}
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(css))
}
