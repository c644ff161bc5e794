package chat

import "github.com/omahaaigc/agent-chat/internal/domain"

// ItemEvent carries a single appended transcript item.
type ItemEvent struct {
	Item domain.ConversationItem `json:"item"`
}

// SettledEvent carries the transcript after the placeholder was replaced.
type SettledEvent struct {
	Items []domain.ConversationItem `json:"items"`
	Final domain.ConversationItem   `json:"final"`
}

// LoadingEvent reports the session's loading flag.
type LoadingEvent struct {
	Loading      bool   `json:"loading"`
	SubmissionID string `json:"submission_id,omitempty"`
}

// StockEvent reports a stock selection.
type StockEvent struct {
	Stock domain.StockItem `json:"stock"`
}

// AgentEvent reports a refreshed agent name.
type AgentEvent struct {
	AgentName string `json:"agent_name"`
}

// TypingEvent is one frame of a progressive reveal. Frames are not replayed.
type TypingEvent struct {
	ItemID  string `json:"item_id"`
	Content string `json:"content"`
	Done    bool   `json:"done"`
}
