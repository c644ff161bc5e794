package agent

import (
	"context"
	"encoding/json"

	"github.com/omahaaigc/agent-chat/internal/upstream"
)

// Source defines the upstream calls the agent package depends on.
// This interface is implemented by the upstream client.
type Source interface {
	// GetAgent returns the raw GetAgent envelope
	GetAgent(ctx context.Context) (json.RawMessage, error)

	// CreateAgentPrompt asks upstream to build an agent from an uploaded file
	CreateAgentPrompt(ctx context.Context, body any) (json.RawMessage, error)
}

// Renderer turns agent content into display HTML.
type Renderer interface {
	RenderString(text string) string
}

// Ensure upstream.Client implements Source.
var _ Source = (*upstream.Client)(nil)
