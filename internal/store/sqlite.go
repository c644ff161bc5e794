package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/omahaaigc/agent-chat/internal/domain"
)

// MemoryPath selects a private in-memory database.
const MemoryPath = ":memory:"

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes writes to avoid SQLITE_BUSY under load
}

// NewSQLite creates a new SQLite-backed repository. Use MemoryPath to keep
// sessions only for the lifetime of the process.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	memory := dbPath == MemoryPath || strings.HasPrefix(dbPath, "file::memory:")

	dsn := dbPath + "?_pragma=busy_timeout(5000)"
	if !memory {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		// WAL mode for better concurrency.
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if memory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS chat_sessions (
		session_id TEXT PRIMARY KEY,
		stock_code TEXT,
		stock_name TEXT,
		agent_name TEXT NOT NULL DEFAULT '',
		loading INTEGER NOT NULL DEFAULT 0,
		pending_submission TEXT,
		items_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_sessions_updated ON chat_sessions(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetSession retrieves a chat session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.ChatSession, error) {
	query := `
		SELECT session_id, stock_code, stock_name, agent_name, loading,
		       pending_submission, items_json, created_at, updated_at
		FROM chat_sessions WHERE session_id = ?`

	row := s.db.QueryRowContext(ctx, query, sessionID)

	var session domain.ChatSession
	var stockCode, stockName, pending sql.NullString
	var itemsJSON string
	var createdAt, updatedAt int64

	err := row.Scan(
		&session.ID, &stockCode, &stockName, &session.AgentName, &session.Loading,
		&pending, &itemsJSON, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan chat session: %w", err)
	}

	if stockCode.Valid && stockCode.String != "" {
		session.Stock = &domain.StockItem{Code: stockCode.String, Name: stockName.String}
	}
	session.PendingSubmission = pending.String
	session.CreatedAt = time.Unix(0, createdAt).UTC()
	session.UpdatedAt = time.Unix(0, updatedAt).UTC()

	if err := json.Unmarshal([]byte(itemsJSON), &session.Items); err != nil {
		return nil, fmt.Errorf("decode session items: %w", err)
	}
	return &session, nil
}

// UpsertSession creates or updates a chat session.
func (s *SQLiteStore) UpsertSession(ctx context.Context, session *domain.ChatSession) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	items := session.Items
	if items == nil {
		items = []domain.ConversationItem{}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode session items: %w", err)
	}

	query := `
		INSERT INTO chat_sessions (
			session_id, stock_code, stock_name, agent_name, loading,
			pending_submission, items_json, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			stock_code = excluded.stock_code,
			stock_name = excluded.stock_name,
			agent_name = excluded.agent_name,
			loading = excluded.loading,
			pending_submission = excluded.pending_submission,
			items_json = excluded.items_json,
			updated_at = excluded.updated_at`

	var stockCode, stockName interface{}
	if session.Stock != nil {
		stockCode = session.Stock.Code
		stockName = session.Stock.Name
	}
	var pending interface{}
	if session.PendingSubmission != "" {
		pending = session.PendingSubmission
	}

	_, err = s.db.ExecContext(ctx, query,
		session.ID, stockCode, stockName, session.AgentName, session.Loading,
		pending, string(itemsJSON),
		session.CreatedAt.UnixNano(), session.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert chat session: %w", err)
	}
	return nil
}

// DeleteSession removes a chat session.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete chat session: %w", err)
	}
	return nil
}

// GetExpiredSessions returns IDs of sessions not updated within ttl.
func (s *SQLiteStore) GetExpiredSessions(ctx context.Context, ttl time.Duration) ([]string, error) {
	threshold := time.Now().Add(-ttl).UnixNano()
	rows, err := s.db.QueryContext(ctx, `SELECT session_id FROM chat_sessions WHERE updated_at < ?`, threshold)
	if err != nil {
		return nil, fmt.Errorf("query expired sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close expired sessions rows", "error", closeErr)
		}
	}()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired session row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired sessions: %w", err)
	}
	return ids, nil
}
