package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/omahaaigc/agent-chat/internal/domain"
	"github.com/omahaaigc/agent-chat/internal/shared"
)

// Service reads agent state from upstream. It never caches: every call
// queries upstream so the panel reflects the latest agent.
type Service struct {
	src    Source
	render Renderer
}

// NewService creates a new agent service.
func NewService(src Source, render Renderer) *Service {
	return &Service{src: src, render: render}
}

// Fetch returns the current agent, or nil when none exists.
func (s *Service) Fetch(ctx context.Context) (*domain.AgentState, error) {
	raw, err := s.src.GetAgent(ctx)
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode agent envelope: %w", err)
	}
	return ParseState(env.Data), nil
}

// ParseState interprets the data field of a GetAgent response. The field may
// hold an object, a JSON string encoding that object, or nothing.
func ParseState(data json.RawMessage) *domain.AgentState {
	if len(data) == 0 {
		return nil
	}
	v, err := shared.DecodeLoose(data)
	if err != nil {
		return nil
	}
	if s, ok := v.(string); ok {
		if v, err = shared.DecodeLoose([]byte(s)); err != nil {
			return nil
		}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	state := &domain.AgentState{
		AgentName: shared.LooseString(obj["agentName"]),
		Content:   shared.LooseString(obj["content"]),
	}
	if state.AgentName == "" && state.Content == "" {
		return nil
	}
	return state
}

// Welcome fetches the agent and builds the welcome panel.
func (s *Service) Welcome(ctx context.Context) (Welcome, error) {
	state, err := s.Fetch(ctx)
	if err != nil {
		return s.BuildWelcome(nil), err
	}
	return s.BuildWelcome(state), nil
}

// BuildWelcome builds the panel for state, which may be nil.
func (s *Service) BuildWelcome(state *domain.AgentState) Welcome {
	w := Welcome{
		Title:       createTitle,
		Description: createDescription,
		Content:     DefaultWelcomeMessage,
		Typing:      domain.PendingTyping,
	}
	if state != nil {
		w.HasAgent = true
		w.AgentName = state.AgentName
		w.Title = readyTitlePrefix + state.AgentName
		w.Description = readyDescription
		w.Content = state.Content
	}
	if s.render != nil {
		w.HTML = s.render.RenderString(w.Content)
	}
	return w
}

// CreateFromFile asks upstream to build an agent from an uploaded file and
// returns the refreshed agent state.
func (s *Service) CreateFromFile(ctx context.Context, filename string) (*domain.AgentState, error) {
	if _, err := s.src.CreateAgentPrompt(ctx, CreateRequest{Filename: filename}); err != nil {
		return nil, fmt.Errorf("create agent prompt: %w", err)
	}
	slog.Info("Agent prompt created", "filename", filename)
	return s.Fetch(ctx)
}

// AgentName returns the current agent name, or "" when there is none.
func (s *Service) AgentName(ctx context.Context) (string, error) {
	state, err := s.Fetch(ctx)
	if err != nil || state == nil {
		return "", err
	}
	return state.AgentName, nil
}
