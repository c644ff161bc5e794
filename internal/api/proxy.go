package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/omahaaigc/agent-chat/internal/agent"
	"github.com/omahaaigc/agent-chat/internal/config"
	"github.com/omahaaigc/agent-chat/internal/prompt"
)

const msgRequestFailed = "请求异常"

// ProxyHandler forwards the agent endpoints the browser calls directly.
type ProxyHandler struct {
	src     agent.Source
	prompts *prompt.Catalog
	maxBody int64
}

// NewProxyHandler creates a proxy handler.
func NewProxyHandler(src agent.Source, prompts *prompt.Catalog, cfg *config.Config) *ProxyHandler {
	maxBody := int64(1 << 20)
	if cfg != nil {
		maxBody = cfg.SSE.MaxRequestBodySize
	}
	return &ProxyHandler{src: src, prompts: prompts, maxBody: maxBody}
}

// RegisterRoutes registers the proxy routes.
func (h *ProxyHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/get-agent", h.GetAgent)
	r.Post("/api/create-agent-prompt", h.CreateAgentPrompt)
	r.Post("/api/generate-agent", h.GenerateAgent)
}

// GetAgent passes the upstream agent response through unchanged.
func (h *ProxyHandler) GetAgent(w http.ResponseWriter, r *http.Request) {
	raw, err := h.src.GetAgent(r.Context())
	if err != nil {
		slog.Warn("Get agent proxy failed", "error", err)
		requestFailed(w, err)
		return
	}
	RawJSON(w, http.StatusOK, raw)
}

// CreateAgentPrompt forwards the JSON body to upstream and passes the reply
// through unchanged.
func (h *ProxyHandler) CreateAgentPrompt(w http.ResponseWriter, r *http.Request) {
	var body json.RawMessage
	if err := decodeJSON(w, r, h.maxBody, &body); err != nil {
		requestFailed(w, err)
		return
	}
	raw, err := h.src.CreateAgentPrompt(r.Context(), body)
	if err != nil {
		slog.Warn("Create agent prompt proxy failed", "error", err)
		requestFailed(w, err)
		return
	}
	RawJSON(w, http.StatusOK, raw)
}

type generateRequest struct {
	Name   string            `json:"name"`
	Values map[string]string `json:"values"`
}

// GenerateAgent returns a persona prompt template. The body is optional; it
// may select a template by name and fill its placeholders.
func (h *ProxyHandler) GenerateAgent(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeJSON(w, r, h.maxBody, &req); err != nil && !errors.Is(err, errEmptyBody) {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	tmpl, ok := h.prompts.Get(req.Name)
	if !ok {
		Error(w, http.StatusNotFound, "unknown template: "+req.Name)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"data": tmpl.Fill(req.Values)})
}

func requestFailed(w http.ResponseWriter, err error) {
	JSON(w, http.StatusInternalServerError, map[string]string{
		"error":   msgRequestFailed,
		"message": err.Error(),
	})
}

// drain discards the rest of a body so the connection can be reused.
func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	_ = body.Close()
}
