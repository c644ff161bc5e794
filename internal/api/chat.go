package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/omahaaigc/agent-chat/internal/chat"
	"github.com/omahaaigc/agent-chat/internal/config"
	"github.com/omahaaigc/agent-chat/internal/domain"
	"github.com/omahaaigc/agent-chat/internal/middleware"
	"github.com/omahaaigc/agent-chat/internal/stream"
)

// ChatController is the session behaviour the chat routes depend on.
type ChatController interface {
	Create(ctx context.Context) (*domain.ChatSession, error)
	Get(ctx context.Context, sessionID string) (*domain.ChatSession, error)
	SelectStock(ctx context.Context, sessionID string, stock domain.StockItem) (*domain.ChatSession, error)
	Submit(ctx context.Context, sessionID, prompt string) (*chat.Submission, error)
	Cancel(ctx context.Context, sessionID string) (*domain.ChatSession, error)
	Forget(ctx context.Context, sessionID string) error
}

var _ ChatController = (*chat.Controller)(nil)

// Subscriber attaches to a session's event stream.
type Subscriber interface {
	Subscribe(sessionID string, afterEventID int64) (*stream.Subscription, []stream.Event)
}

// ChatHandler serves chat sessions over HTTP and SSE.
type ChatHandler struct {
	ctrl      ChatController
	events    Subscriber
	limiter   *middleware.RateLimiter
	keepalive time.Duration
	retry     time.Duration
	maxBody   int64
}

// NewChatHandler creates a chat handler.
func NewChatHandler(ctrl ChatController, events Subscriber, limiter *middleware.RateLimiter, cfg *config.Config) *ChatHandler {
	h := &ChatHandler{
		ctrl:      ctrl,
		events:    events,
		limiter:   limiter,
		keepalive: 10 * time.Second,
		retry:     5 * time.Second,
		maxBody:   1 << 20,
	}
	if cfg != nil {
		h.keepalive = cfg.SSE.KeepaliveInterval
		h.retry = cfg.SSE.RetryDelay
		h.maxBody = cfg.SSE.MaxRequestBodySize
	}
	return h
}

// RegisterRoutes registers the chat session routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/chat/sessions", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Delete("/", h.Delete)
			r.Put("/stock", h.SelectStock)
			if h.limiter != nil {
				r.With(middleware.RateLimit(h.limiter, sessionKey)).Post("/messages", h.Submit)
			} else {
				r.Post("/messages", h.Submit)
			}
			r.Post("/cancel", h.Cancel)
			r.Get("/events", h.Events)
		})
	})
}

func sessionKey(r *http.Request) string {
	return chi.URLParam(r, "id")
}

// Create starts a new chat session.
func (h *ChatHandler) Create(w http.ResponseWriter, r *http.Request) {
	session, err := h.ctrl.Create(r.Context())
	if err != nil {
		writeChatError(w, err)
		return
	}
	JSON(w, http.StatusCreated, session)
}

// Get returns the session transcript.
func (h *ChatHandler) Get(w http.ResponseWriter, r *http.Request) {
	session, err := h.ctrl.Get(r.Context(), sessionKey(r))
	if err != nil {
		writeChatError(w, err)
		return
	}
	JSON(w, http.StatusOK, session)
}

// Delete forgets the session.
func (h *ChatHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.Forget(r.Context(), sessionKey(r)); err != nil {
		writeChatError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SelectStock records the selected stock.
func (h *ChatHandler) SelectStock(w http.ResponseWriter, r *http.Request) {
	var stock domain.StockItem
	if err := decodeJSON(w, r, h.maxBody, &stock); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	session, err := h.ctrl.SelectStock(r.Context(), sessionKey(r), stock)
	if err != nil {
		writeChatError(w, err)
		return
	}
	JSON(w, http.StatusOK, session)
}

type submitRequest struct {
	Prompt string `json:"prompt"`
}

// Submit sends a question about the selected stock. Accepted submissions
// answer 202 and settle asynchronously; a rejection answers 200 with the
// validation message.
func (h *ChatHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(w, r, h.maxBody, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sub, err := h.ctrl.Submit(r.Context(), sessionKey(r), req.Prompt)
	if err != nil {
		writeChatError(w, err)
		return
	}
	status := http.StatusOK
	if sub.Accepted {
		status = http.StatusAccepted
	}
	JSON(w, status, sub)
}

// Cancel aborts the pending submission.
func (h *ChatHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	session, err := h.ctrl.Cancel(r.Context(), sessionKey(r))
	if err != nil {
		writeChatError(w, err)
		return
	}
	JSON(w, http.StatusOK, session)
}

// Events streams session events as SSE. Clients reconnecting with
// Last-Event-ID receive the events they missed.
func (h *ChatHandler) Events(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionKey(r)

	lastEventID := int64(0)
	idHeader := r.Header.Get("Last-Event-ID")
	if idHeader == "" {
		idHeader = r.URL.Query().Get("lastEventId")
	}
	if idHeader != "" {
		if parsed, err := strconv.ParseInt(idHeader, 10, 64); err == nil {
			lastEventID = parsed
			slog.Info("SSE client reconnecting with Last-Event-ID",
				"session_id", sessionID,
				"last_event_id", lastEventID)
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Subscribe before reading the snapshot so nothing published in between
	// is lost. Events already reflected in the snapshot may arrive again;
	// clients apply them by item ID.
	sub, missed := h.events.Subscribe(sessionID, lastEventID)
	defer sub.Close()

	session, err := h.ctrl.Get(r.Context(), sessionID)
	if err != nil {
		writeChatError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if _, err := fmt.Fprintf(w, "retry: %d\n\n", h.retry.Milliseconds()); err != nil {
		slog.Warn("failed to write SSE retry header", "error", err, "session_id", sessionID)
		return
	}

	lastSent := lastEventID
	if lastEventID == 0 {
		if err := writeSSE(w, 0, "snapshot", session); err != nil {
			slog.Warn("failed to write SSE snapshot", "error", err, "session_id", sessionID)
			return
		}
	}
	for _, ev := range missed {
		if err := writeSSE(w, ev.ID, ev.Type, ev.Data); err != nil {
			return
		}
		lastSent = ev.ID
	}
	flusher.Flush()

	slog.Info("SSE connection established",
		"session_id", sessionID,
		"sub_id", sub.ID,
		"replayed", len(missed),
		"reconnect", lastEventID > 0)

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			slog.Info("SSE client disconnected", "session_id", sessionID, "sub_id", sub.ID)
			return
		case ev, ok := <-sub.C:
			if !ok {
				slog.Info("SSE session closed", "session_id", sessionID)
				return
			}
			// Replay and live delivery can overlap right after subscribing.
			if ev.ID != 0 && ev.ID <= lastSent {
				continue
			}
			if err := writeSSE(w, ev.ID, ev.Type, ev.Data); err != nil {
				slog.Warn("failed to write SSE event", "error", err, "session_id", sessionID)
				return
			}
			if ev.ID != 0 {
				lastSent = ev.ID
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := io.WriteString(w, "event: ping\ndata: {\"status\":\"alive\"}\n\n"); err != nil {
				slog.Warn("failed to write SSE keepalive ping", "error", err, "session_id", sessionID)
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSE writes one event; id 0 omits the id field so the client's
// resume position is unchanged.
func writeSSE(w io.Writer, id int64, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode SSE data: %w", err)
	}
	if id > 0 {
		_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, payload)
	} else {
		_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	}
	return err
}

func writeChatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrSessionNotFound):
		Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chat.ErrSubmissionInProgress), errors.Is(err, chat.ErrNoPendingSubmission):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, chat.ErrEmptyPrompt), errors.Is(err, chat.ErrInvalidStock):
		Error(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("Chat request failed", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}
