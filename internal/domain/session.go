package domain

import (
	"time"
)

// StockItem is a normalized stock search result.
type StockItem struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Label returns the display name, falling back to the code.
func (s StockItem) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Code
}

// AgentState describes the user's upstream agent.
type AgentState struct {
	AgentName string `json:"agentName"`
	Content   string `json:"content"`
}

// ChatSession holds the transcript and selection state of one chat view.
type ChatSession struct {
	ID                string             `json:"id"`
	Stock             *StockItem         `json:"stock,omitempty"`
	AgentName         string             `json:"agent_name,omitempty"`
	Items             []ConversationItem `json:"items"`
	Loading           bool               `json:"loading"`
	PendingSubmission string             `json:"pending_submission,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// Append adds items to the end of the transcript.
func (s *ChatSession) Append(items ...ConversationItem) {
	s.Items = append(s.Items, items...)
}

// Settle removes every loading item and appends the final item.
// Duplicated placeholders are all dropped.
func (s *ChatSession) Settle(final ConversationItem) {
	kept := s.Items[:0]
	for _, item := range s.Items {
		if !item.Loading {
			kept = append(kept, item)
		}
	}
	s.Items = append(kept, final)
	s.Loading = false
	s.PendingSubmission = ""
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s *ChatSession) Clone() *ChatSession {
	if s == nil {
		return nil
	}
	out := *s
	if s.Stock != nil {
		stock := *s.Stock
		out.Stock = &stock
	}
	out.Items = append([]ConversationItem(nil), s.Items...)
	return &out
}
