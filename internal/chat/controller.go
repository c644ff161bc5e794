// Package chat drives chat sessions: stock selection, submission of analysis
// runs, result polling and cancellation.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/omahaaigc/agent-chat/internal/config"
	"github.com/omahaaigc/agent-chat/internal/domain"
	"github.com/omahaaigc/agent-chat/internal/shared"
	"github.com/omahaaigc/agent-chat/internal/store"
	"github.com/omahaaigc/agent-chat/internal/stream"
	"github.com/omahaaigc/agent-chat/internal/upstream"
)

// Upstream runs analyses for a stock.
type Upstream interface {
	ExecuteAgent(ctx context.Context, req upstream.ExecuteRequest) (json.RawMessage, error)
	GetResult(ctx context.Context) (*upstream.Envelope, error)
}

// AgentNamer resolves the current agent name.
type AgentNamer interface {
	AgentName(ctx context.Context) (string, error)
}

// Renderer turns markdown into display HTML.
type Renderer interface {
	RenderString(text string) string
}

// Publisher fans session events out to subscribers.
type Publisher interface {
	Publish(sessionID, eventType string, data any) stream.Event
	Emit(sessionID, eventType string, data any)
	Forget(sessionID string)
}

var (
	_ Upstream  = (*upstream.Client)(nil)
	_ Publisher = (*stream.Broker)(nil)
)

// Options tunes the controller.
type Options struct {
	Poll             config.PollConfig
	Retry            config.RetryConfig
	StoreTimeout     time.Duration
	TypingSimulation bool
}

// maxErrorDetail caps how much of an upstream error is shown in a bubble.
const maxErrorDetail = 200

// Submission is the outcome of Submit. A rejected submission carries the
// validation message instead of a placeholder and is already done.
type Submission struct {
	ID       string                    `json:"submission_id,omitempty"`
	Accepted bool                      `json:"accepted"`
	Items    []domain.ConversationItem `json:"items"`

	done chan struct{}
}

// Done is closed once the submission has settled or been discarded.
func (s *Submission) Done() <-chan struct{} {
	return s.done
}

// Controller owns chat session state transitions.
type Controller struct {
	repo    store.Repository
	up      Upstream
	agents  AgentNamer
	render  Renderer
	events  Publisher
	convLog ConversationLogger
	opts    Options

	locks sync.Map // sessionID -> *sync.Mutex

	runsMu sync.Mutex
	runs   map[string]context.CancelCauseFunc // submissionID -> cancel

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewController creates a controller. agents and convLog may be nil.
func NewController(repo store.Repository, up Upstream, agents AgentNamer, render Renderer, events Publisher, convLog ConversationLogger, opts Options) *Controller {
	if convLog == nil {
		convLog = noopConversationLogger{}
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	if opts.Poll.MaxAttempts <= 0 {
		opts.Poll.MaxAttempts = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		repo:    repo,
		up:      up,
		agents:  agents,
		render:  render,
		events:  events,
		convLog: convLog,
		opts:    opts,
		runs:    make(map[string]context.CancelCauseFunc),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Close cancels in-flight runs and waits for them to settle.
func (c *Controller) Close() {
	c.cancel()
	c.wg.Wait()
}

func (c *Controller) lock(sessionID string) func() {
	v, _ := c.locks.LoadOrStore(sessionID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Create starts an empty session bound to the current agent.
func (c *Controller) Create(ctx context.Context) (*domain.ChatSession, error) {
	now := time.Now().UTC()
	session := &domain.ChatSession{
		ID:        uuid.NewString(),
		Items:     []domain.ConversationItem{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if c.agents != nil {
		name, err := c.agents.AgentName(ctx)
		if err != nil {
			slog.Warn("Failed to resolve agent name for new session", "error", err)
		}
		session.AgentName = name
	}
	if err := c.save(ctx, session); err != nil {
		return nil, err
	}
	slog.Info("Chat session created", "session_id", session.ID, "agent_name", session.AgentName)
	return session, nil
}

// Get returns a snapshot of a session.
func (c *Controller) Get(ctx context.Context, sessionID string) (*domain.ChatSession, error) {
	return c.load(ctx, sessionID)
}

// SelectStock records the stock later submissions analyse.
func (c *Controller) SelectStock(ctx context.Context, sessionID string, stock domain.StockItem) (*domain.ChatSession, error) {
	stock.Code = strings.TrimSpace(stock.Code)
	if stock.Code == "" {
		return nil, ErrInvalidStock
	}

	unlock := c.lock(sessionID)
	defer unlock()

	session, err := c.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	session.Stock = &stock
	if err := c.save(ctx, session); err != nil {
		return nil, err
	}
	c.events.Publish(sessionID, stream.EventStockSelected, StockEvent{Stock: stock})
	slog.Debug("Stock selected", "session_id", sessionID, "code", stock.Code)
	return session, nil
}

// RefreshAgent re-reads the agent name, typically after a new agent was
// generated from an uploaded file.
func (c *Controller) RefreshAgent(ctx context.Context, sessionID string) (*domain.ChatSession, error) {
	if c.agents == nil {
		return c.load(ctx, sessionID)
	}
	name, err := c.agents.AgentName(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve agent name: %w", err)
	}

	unlock := c.lock(sessionID)
	defer unlock()

	session, err := c.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	session.AgentName = name
	if err := c.save(ctx, session); err != nil {
		return nil, err
	}
	c.events.Publish(sessionID, stream.EventAgentUpdated, AgentEvent{AgentName: name})
	return session, nil
}

// Submit appends the user's message and a loading placeholder, then starts
// an analysis run in the background. Without a selected stock it appends a
// validation message and starts nothing.
func (c *Controller) Submit(ctx context.Context, sessionID, prompt string) (*Submission, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}

	unlock := c.lock(sessionID)
	defer unlock()

	session, err := c.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Loading {
		return nil, ErrSubmissionInProgress
	}

	if session.Stock == nil {
		item := c.aiItem(MsgSelectStockFirst)
		session.Append(item)
		if err := c.save(ctx, session); err != nil {
			return nil, err
		}
		c.events.Publish(sessionID, stream.EventItemAppended, ItemEvent{Item: item})
		done := make(chan struct{})
		close(done)
		return &Submission{Items: []domain.ConversationItem{item}, done: done}, nil
	}

	if session.AgentName == "" && c.agents != nil {
		if name, err := c.agents.AgentName(ctx); err == nil {
			session.AgentName = name
		}
	}

	subID := uuid.NewString()
	userItem := domain.NewItem(domain.RoleUser, userPromptPrefix+session.Stock.Label()+userPromptSeparator+prompt)
	pending := domain.NewItem(domain.RoleAI, "")
	pending.Loading = true
	pending.Typing = domain.PendingTyping
	pending.SubmissionID = subID

	session.Append(userItem, pending)
	session.Loading = true
	session.PendingSubmission = subID
	if err := c.save(ctx, session); err != nil {
		return nil, err
	}

	c.events.Publish(sessionID, stream.EventItemAppended, ItemEvent{Item: userItem})
	c.events.Publish(sessionID, stream.EventItemAppended, ItemEvent{Item: pending})
	c.events.Publish(sessionID, stream.EventLoading, LoadingEvent{Loading: true, SubmissionID: subID})

	c.convLog.Log(ConversationLogEvent{
		SessionID:  sessionID,
		Channel:    "chat",
		Direction:  "inbound",
		EventType:  "chat_user_message",
		ContentRaw: prompt,
		Meta: map[string]any{
			"submission_id": subID,
			"stock_code":    session.Stock.Code,
			"agent_name":    session.AgentName,
		},
	})

	runCtx, cancel := context.WithCancelCause(c.ctx)
	c.runsMu.Lock()
	c.runs[subID] = cancel
	c.runsMu.Unlock()

	sub := &Submission{
		ID:       subID,
		Accepted: true,
		Items:    []domain.ConversationItem{userItem, pending},
		done:     make(chan struct{}),
	}
	req := upstream.ExecuteRequest{TSCode: session.Stock.Code, AgentName: session.AgentName}

	c.wg.Add(1)
	go c.run(runCtx, sessionID, sub, req)

	slog.Info("Analysis submitted",
		"session_id", sessionID,
		"submission_id", subID,
		"tscode", req.TSCode,
		"agent_name", req.AgentName)
	return sub, nil
}

// Cancel settles the pending submission with a cancellation notice. A result
// arriving afterwards is discarded.
func (c *Controller) Cancel(ctx context.Context, sessionID string) (*domain.ChatSession, error) {
	unlock := c.lock(sessionID)
	defer unlock()

	session, err := c.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.Loading {
		return nil, ErrNoPendingSubmission
	}

	subID := session.PendingSubmission
	c.stopRun(subID, errCancelled)

	if err := c.settleLocked(ctx, session, c.aiItem(MsgCancelled)); err != nil {
		return nil, err
	}
	slog.Info("Analysis cancelled", "session_id", sessionID, "submission_id", subID)
	return session, nil
}

// Forget deletes a session and drops its subscribers.
func (c *Controller) Forget(ctx context.Context, sessionID string) error {
	unlock := c.lock(sessionID)
	session, err := c.repo.GetSession(ctx, sessionID)
	if err == nil && session != nil && session.PendingSubmission != "" {
		c.stopRun(session.PendingSubmission, errCancelled)
	}
	err = c.deleteWithRetry(ctx, sessionID)
	unlock()

	c.events.Forget(sessionID)
	c.locks.Delete(sessionID)
	return err
}

// ExpireIdle forgets sessions idle for longer than ttl and calls onExpired
// for each one. It returns the number of sessions removed.
func (c *Controller) ExpireIdle(ctx context.Context, ttl time.Duration, onExpired func(sessionID string)) (int, error) {
	ids, err := c.repo.GetExpiredSessions(ctx, ttl)
	if err != nil {
		return 0, fmt.Errorf("list expired sessions: %w", err)
	}
	removed := 0
	for _, id := range ids {
		if err := c.Forget(ctx, id); err != nil {
			slog.Warn("Failed to expire chat session", "session_id", id, "error", err)
			continue
		}
		if onExpired != nil {
			onExpired(id)
		}
		removed++
	}
	return removed, nil
}

func (c *Controller) run(ctx context.Context, sessionID string, sub *Submission, req upstream.ExecuteRequest) {
	defer c.wg.Done()
	defer close(sub.done)
	defer c.stopRun(sub.ID, nil)

	started := time.Now()
	text, err := c.analyse(ctx, req)
	if ctx.Err() != nil && errors.Is(context.Cause(ctx), errCancelled) {
		slog.Debug("Discarding cancelled analysis", "session_id", sessionID, "submission_id", sub.ID)
		return
	}

	var final domain.ConversationItem
	switch {
	case err == nil:
		final = c.aiItem(text)
		if c.opts.TypingSimulation {
			final.Typing = domain.DefaultTyping
		}
	case errors.Is(err, errResultNotReady):
		final = c.aiItem(MsgResultNotReady)
	default:
		slog.Warn("Analysis failed",
			"session_id", sessionID,
			"submission_id", sub.ID,
			"error", err)
		final = c.aiItem(MsgExecuteFailed + describeError(err))
	}

	if c.settle(sessionID, sub.ID, final) {
		slog.Info("Analysis settled",
			"session_id", sessionID,
			"submission_id", sub.ID,
			"duration", time.Since(started),
			"ok", err == nil)
	}
}

// analyse starts the run and polls for its summary.
func (c *Controller) analyse(ctx context.Context, req upstream.ExecuteRequest) (string, error) {
	if _, err := c.up.ExecuteAgent(ctx, req); err != nil {
		return "", err
	}

	b := backoff.NewExponentialBackOff()
	if c.opts.Poll.InitialInterval > 0 {
		b.InitialInterval = c.opts.Poll.InitialInterval
	}
	if c.opts.Poll.MaxInterval > 0 {
		b.MaxInterval = c.opts.Poll.MaxInterval
	}

	attempt := 0
	poll := func() (string, error) {
		attempt++
		env, err := c.up.GetResult(ctx)
		if err != nil {
			var se *upstream.StatusError
			if errors.As(err, &se) && se.StatusCode < 500 {
				return "", backoff.Permanent(err)
			}
			return "", err
		}
		text, ready := DecodeResult(env.Data)
		if !ready {
			slog.Debug("Analysis result not ready", "tscode", req.TSCode, "attempt", attempt)
			return "", errResultNotReady
		}
		return text, nil
	}

	return backoff.Retry(ctx, poll,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.opts.Poll.MaxAttempts)))
}

// settle replaces the placeholder of subID with final. It reports false when
// the submission is no longer pending.
func (c *Controller) settle(sessionID, subID string, final domain.ConversationItem) bool {
	unlock := c.lock(sessionID)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.StoreTimeout)
	defer cancel()

	session, err := c.repo.GetSession(ctx, sessionID)
	if err != nil {
		slog.Error("Failed to load session for settle", "session_id", sessionID, "error", err)
		return false
	}
	if session == nil || session.PendingSubmission != subID {
		slog.Debug("Discarding stale analysis result", "session_id", sessionID, "submission_id", subID)
		return false
	}
	if err := c.settleLocked(ctx, session, final); err != nil {
		slog.Error("Failed to settle session", "session_id", sessionID, "error", err)
		return false
	}
	return true
}

func (c *Controller) settleLocked(ctx context.Context, session *domain.ChatSession, final domain.ConversationItem) error {
	subID := session.PendingSubmission
	session.Settle(final)
	if err := c.save(ctx, session); err != nil {
		return err
	}

	c.events.Publish(session.ID, stream.EventItemsSettled, SettledEvent{Items: session.Clone().Items, Final: final})
	c.events.Publish(session.ID, stream.EventLoading, LoadingEvent{Loading: false})
	c.animate(session.ID, final)

	c.convLog.Log(ConversationLogEvent{
		SessionID:  session.ID,
		Channel:    "chat",
		Direction:  "outbound",
		EventType:  "chat_ai_message",
		ContentRaw: final.Content,
		Meta: map[string]any{
			"submission_id": subID,
		},
	})
	return nil
}

// animate streams typing frames for an item that has typing enabled.
func (c *Controller) animate(sessionID string, item domain.ConversationItem) {
	if !item.Typing.Enabled() {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_ = Reveal(c.ctx, item.Content, item.Typing, func(prefix string, done bool) error {
			c.events.Emit(sessionID, stream.EventTyping, TypingEvent{ItemID: item.ID, Content: prefix, Done: done})
			return nil
		})
	}()
}

func (c *Controller) aiItem(content string) domain.ConversationItem {
	item := domain.NewItem(domain.RoleAI, content)
	if c.render != nil {
		item.HTML = c.render.RenderString(content)
	}
	return item
}

func (c *Controller) stopRun(subID string, cause error) {
	c.runsMu.Lock()
	cancel, ok := c.runs[subID]
	delete(c.runs, subID)
	c.runsMu.Unlock()
	if ok {
		cancel(cause)
	}
}

func (c *Controller) load(ctx context.Context, sessionID string) (*domain.ChatSession, error) {
	session, err := c.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load chat session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// save upserts with exponential backoff on SQLITE_BUSY.
func (c *Controller) save(ctx context.Context, session *domain.ChatSession) error {
	session.UpdatedAt = time.Now().UTC()
	return c.withRetry(ctx, session.ID, func() error {
		return c.repo.UpsertSession(ctx, session)
	})
}

func (c *Controller) deleteWithRetry(ctx context.Context, sessionID string) error {
	return c.withRetry(ctx, sessionID, func() error {
		return c.repo.DeleteSession(ctx, sessionID)
	})
}

func (c *Controller) withRetry(ctx context.Context, sessionID string, op func() error) error {
	maxRetries := c.opts.Retry.DatabaseMaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	var err error
	for i := 0; i < maxRetries; i++ {
		if err = op(); err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}
		delay := c.opts.Retry.DatabaseRetryBaseDelay * time.Duration(1<<i)
		slog.Debug("Session write hit SQLITE_BUSY, retrying",
			"session_id", sessionID,
			"attempt", i+1,
			"delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func describeError(err error) string {
	var se *upstream.StatusError
	msg := err.Error()
	if errors.As(err, &se) {
		msg = se.Error()
	}
	if r := []rune(msg); len(r) > maxErrorDetail {
		msg = string(r[:maxErrorDetail]) + "…"
	}
	return msg
}
