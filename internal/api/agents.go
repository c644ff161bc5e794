package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/omahaaigc/agent-chat/internal/agent"
	"github.com/omahaaigc/agent-chat/internal/chat"
	"github.com/omahaaigc/agent-chat/internal/domain"
)

// AgentService is the agent behaviour the handlers depend on.
type AgentService interface {
	Welcome(ctx context.Context) (agent.Welcome, error)
	CreateFromFile(ctx context.Context, filename string) (*domain.AgentState, error)
	BuildWelcome(state *domain.AgentState) agent.Welcome
}

var _ AgentService = (*agent.Service)(nil)

// SessionRefresher updates a chat session after its agent changed.
type SessionRefresher interface {
	RefreshAgent(ctx context.Context, sessionID string) (*domain.ChatSession, error)
}

// AgentHandler serves the welcome panel and server-side agent creation.
type AgentHandler struct {
	svc      AgentService
	uploads  *UploadHandler
	sessions SessionRefresher
}

// NewAgentHandler creates an agent handler. sessions may be nil.
func NewAgentHandler(svc AgentService, uploads *UploadHandler, sessions SessionRefresher) *AgentHandler {
	return &AgentHandler{svc: svc, uploads: uploads, sessions: sessions}
}

// RegisterRoutes registers the agent routes.
func (h *AgentHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/welcome", h.Welcome)
	r.Post("/api/agents", h.Create)
}

// Welcome returns the panel for the current agent. Upstream failures fall
// back to the create-agent panel.
func (h *AgentHandler) Welcome(w http.ResponseWriter, r *http.Request) {
	welcome, err := h.svc.Welcome(r.Context())
	if err != nil {
		slog.Warn("Failed to fetch agent for welcome panel", "error", err)
	}
	JSON(w, http.StatusOK, welcome)
}

type createAgentResponse struct {
	Welcome   agent.Welcome       `json:"welcome"`
	Filenames []string            `json:"filenames"`
	Status    []string            `json:"status"`
	Session   *domain.ChatSession `json:"session,omitempty"`
}

// Create uploads the files, asks upstream to build an agent from the last
// one and returns the refreshed panel.
func (h *AgentHandler) Create(w http.ResponseWriter, r *http.Request) {
	res, uerr := h.uploads.forward(r)
	if uerr != nil {
		Error(w, uerr.status, agent.MsgUploadFailed+uerr.message())
		return
	}
	filename := res.filenames[len(res.filenames)-1]

	state, err := h.svc.CreateFromFile(r.Context(), filename)
	if err == nil && state == nil {
		err = errors.New("agent not available after creation")
	}
	if err != nil {
		slog.Warn("Agent creation failed", "filename", filename, "error", err)
		Error(w, http.StatusBadGateway, agent.MsgUploadAborted+err.Error())
		return
	}

	resp := createAgentResponse{
		Welcome:   h.svc.BuildWelcome(state),
		Filenames: res.filenames,
		Status:    []string{agent.MsgUploading, agent.MsgGenerating},
	}

	if sessionID := r.URL.Query().Get("session_id"); sessionID != "" && h.sessions != nil {
		session, err := h.sessions.RefreshAgent(r.Context(), sessionID)
		switch {
		case errors.Is(err, chat.ErrSessionNotFound):
			slog.Debug("Agent created for unknown session", "session_id", sessionID)
		case err != nil:
			slog.Warn("Failed to refresh session agent", "session_id", sessionID, "error", err)
		default:
			resp.Session = session
		}
	}

	slog.Info("Agent created", "agent_name", state.AgentName, "filename", filename)
	JSON(w, http.StatusOK, resp)
}
