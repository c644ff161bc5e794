package live

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/omahaaigc/agent-chat/internal/chat"
	"github.com/omahaaigc/agent-chat/internal/domain"
	"github.com/omahaaigc/agent-chat/internal/middleware"
	"github.com/omahaaigc/agent-chat/internal/stock"
	"github.com/omahaaigc/agent-chat/internal/stream"
)

const writeTimeout = 5 * time.Second

// Controller is the session behaviour the websocket commands drive.
type Controller interface {
	Get(ctx context.Context, sessionID string) (*domain.ChatSession, error)
	SelectStock(ctx context.Context, sessionID string, stock domain.StockItem) (*domain.ChatSession, error)
	Submit(ctx context.Context, sessionID, prompt string) (*chat.Submission, error)
	Cancel(ctx context.Context, sessionID string) (*domain.ChatSession, error)
}

var _ Controller = (*chat.Controller)(nil)

// Subscriber attaches to a session's event stream.
type Subscriber interface {
	Subscribe(sessionID string, afterEventID int64) (*stream.Subscription, []stream.Event)
}

// Options configures a Handler.
type Options struct {
	// AllowedOrigins are full origins or "*".
	AllowedOrigins []string
	// Debounce is the quiet period before a search command runs.
	Debounce time.Duration
	// Limiter throttles submit commands per chat session. May be nil.
	Limiter *middleware.RateLimiter
}

// Handler upgrades /ws/chat requests and runs the command loop.
type Handler struct {
	ctrl     Controller
	events   Subscriber
	search   stock.SearchFunc
	sm       *SessionManager
	origins  []string
	debounce time.Duration
	limiter  *middleware.RateLimiter
}

// NewHandler creates a websocket handler.
func NewHandler(ctrl Controller, events Subscriber, search stock.SearchFunc, sm *SessionManager, opts Options) *Handler {
	return &Handler{
		ctrl:     ctrl,
		events:   events,
		search:   search,
		sm:       sm,
		origins:  originPatterns(opts.AllowedOrigins),
		debounce: opts.Debounce,
		limiter:  opts.Limiter,
	}
}

// inMessage is a client command.
type inMessage struct {
	Type   string            `json:"type"`
	Query  string            `json:"query,omitempty"`
	Stock  *domain.StockItem `json:"stock,omitempty"`
	Prompt string            `json:"prompt,omitempty"`
}

// outMessage is a server frame. Session events carry their broker ID so a
// client can resume with last_event_id.
type outMessage struct {
	Type    string `json:"type"`
	ID      int64  `json:"id,omitempty"`
	Command string `json:"command,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ServeHTTP implements http.Handler for the websocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")

	var lastEventID int64
	if v := r.URL.Query().Get("last_event_id"); v != "" {
		lastEventID, _ = strconv.ParseInt(v, 10, 64)
	}

	// Subscribe before reading the snapshot so nothing published in between
	// is lost.
	sub, missed := h.events.Subscribe(sessionID, lastEventID)
	defer sub.Close()

	session, err := h.ctrl.Get(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, chat.ErrSessionNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		slog.Error("Failed to load session for websocket", "session_id", sessionID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.Warn("Failed to accept websocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	clientID := uuid.NewString()
	h.sm.Register(sessionID, clientID, ws)
	defer h.sm.Unregister(sessionID, clientID, ws)
	slog.Info("Live session started", "session_id", sessionID, "client_id", clientID, "connections", h.sm.Count(sessionID))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if lastEventID == 0 {
		if err := writeJSON(ctx, ws, outMessage{Type: "snapshot", Data: session}); err != nil {
			return
		}
	}
	lastSent := lastEventID
	for _, ev := range missed {
		if err := writeJSON(ctx, ws, eventMessage(ev)); err != nil {
			return
		}
		lastSent = ev.ID
	}

	debouncer := stock.NewDebouncer(h.debounce, h.search, func(res stock.Result) {
		msg := outMessage{Type: "search_results", Data: res}
		if res.Err != nil {
			msg.Error = res.Err.Error()
		}
		if err := writeJSON(ctx, ws, msg); err != nil {
			slog.Debug("Failed to send search results", "error", err, "session_id", sessionID)
		}
	})
	defer debouncer.Stop()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer cancel()
		h.inputLoop(ctx, ws, sessionID, debouncer)
	}()

	go func() {
		defer wg.Done()
		defer cancel()
		h.outputLoop(ctx, ws, sub, lastSent)
	}()

	wg.Wait()
	slog.Info("Live session ended", "session_id", sessionID, "client_id", clientID)
}

func (h *Handler) inputLoop(ctx context.Context, ws *websocket.Conn, sessionID string, debouncer *stock.Debouncer) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				slog.Debug("Websocket closed", "session_id", sessionID)
			} else {
				slog.Warn("Websocket read error", "error", err, "session_id", sessionID)
			}
			return
		}

		var msg inMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reply(ctx, ws, outMessage{Type: "error", Error: "invalid message"})
			continue
		}

		switch msg.Type {
		case "search":
			debouncer.Submit(msg.Query)
		case "select_stock":
			var item domain.StockItem
			if msg.Stock != nil {
				item = *msg.Stock
			}
			session, err := h.ctrl.SelectStock(ctx, sessionID, item)
			h.replyResult(ctx, ws, msg.Type, session, err)
		case "submit":
			if h.limiter != nil && !h.limiter.Allow(sessionID) {
				h.reply(ctx, ws, outMessage{Type: "error", Command: msg.Type, Error: "rate limit exceeded"})
				continue
			}
			sub, err := h.ctrl.Submit(ctx, sessionID, msg.Prompt)
			h.replyResult(ctx, ws, msg.Type, sub, err)
		case "cancel":
			session, err := h.ctrl.Cancel(ctx, sessionID)
			h.replyResult(ctx, ws, msg.Type, session, err)
		case "ping":
			h.reply(ctx, ws, outMessage{Type: "pong"})
		default:
			h.reply(ctx, ws, outMessage{Type: "error", Command: msg.Type, Error: "unknown command"})
		}
	}
}

func (h *Handler) outputLoop(ctx context.Context, ws *websocket.Conn, sub *stream.Subscription, lastSent int64) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if ev.ID != 0 && ev.ID <= lastSent {
				continue
			}
			if err := writeJSON(ctx, ws, eventMessage(ev)); err != nil {
				slog.Debug("Failed to push session event", "error", err, "session_id", sub.SessionID)
				return
			}
			if ev.ID != 0 {
				lastSent = ev.ID
			}
		}
	}
}

func (h *Handler) replyResult(ctx context.Context, ws *websocket.Conn, command string, data any, err error) {
	if err != nil {
		h.reply(ctx, ws, outMessage{Type: "error", Command: command, Error: err.Error()})
		return
	}
	h.reply(ctx, ws, outMessage{Type: "ack", Command: command, Data: data})
}

func (h *Handler) reply(ctx context.Context, ws *websocket.Conn, msg outMessage) {
	if err := writeJSON(ctx, ws, msg); err != nil {
		slog.Debug("Failed to send websocket reply", "error", err, "type", msg.Type)
	}
}

func eventMessage(ev stream.Event) outMessage {
	return outMessage{Type: ev.Type, ID: ev.ID, Data: ev.Data}
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}

// originPatterns converts allowed origins to the host patterns the websocket
// library matches against.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			patterns = append(patterns, o)
			continue
		}
		patterns = append(patterns, u.Host)
	}
	return patterns
}
