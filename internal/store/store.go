// Package store provides chat session persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/omahaaigc/agent-chat/internal/domain"
)

// Repository defines the interface for persisting chat sessions.
type Repository interface {
	// GetSession retrieves a session by ID. It returns nil, nil when the
	// session does not exist.
	GetSession(ctx context.Context, sessionID string) (*domain.ChatSession, error)

	// UpsertSession creates or updates a session record.
	UpsertSession(ctx context.Context, session *domain.ChatSession) error

	// DeleteSession removes a session.
	DeleteSession(ctx context.Context, sessionID string) error

	// GetExpiredSessions returns IDs of sessions idle for longer than ttl.
	GetExpiredSessions(ctx context.Context, ttl time.Duration) ([]string, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
