// Package domain contains core domain types for the agent chat gateway.
package domain

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a conversation item.
type Role string

const (
	RoleAI   Role = "ai"
	RoleUser Role = "user"
)

// Typing configures the progressive reveal of an item's content.
// Interval is in milliseconds. A zero value means no animation.
type Typing struct {
	Step     int `json:"step"`
	Interval int `json:"interval"`
}

var (
	// DefaultTyping is the reveal speed used for AI replies.
	DefaultTyping = Typing{Step: 5, Interval: 20}
	// PendingTyping is used for the placeholder and the welcome panel.
	PendingTyping = Typing{Step: 3, Interval: 14}
)

// Enabled reports whether the item should be animated.
func (t Typing) Enabled() bool {
	return t.Step > 0 && t.Interval > 0
}

// MarshalJSON encodes disabled typing as false, matching the front end contract.
func (t Typing) MarshalJSON() ([]byte, error) {
	if !t.Enabled() {
		return []byte("false"), nil
	}
	type plain Typing
	return json.Marshal(plain(t))
}

// UnmarshalJSON accepts false, null or an object.
func (t *Typing) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("false")) || bytes.Equal(trimmed, []byte("null")) {
		*t = Typing{}
		return nil
	}
	type plain Typing
	var p plain
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return err
	}
	*t = Typing(p)
	return nil
}

// ConversationItem is one bubble in the chat transcript.
type ConversationItem struct {
	ID           string    `json:"id"`
	Role         Role      `json:"role"`
	Content      string    `json:"content"`
	HTML         string    `json:"html,omitempty"`
	Loading      bool      `json:"loading,omitempty"`
	Typing       Typing    `json:"typing"`
	SubmissionID string    `json:"submission_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewItem creates an item with a fresh identifier.
func NewItem(role Role, content string) ConversationItem {
	return ConversationItem{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}
