package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore persists users, the append-only message log and quota
// counters. It is the single durable store behind the service.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	// seq gives messages a monotonic creation order independent of
	// timestamp resolution.
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        external_user_id TEXT UNIQUE NOT NULL,
        password_hash TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS messages (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        id TEXT UNIQUE NOT NULL, -- UUID
        conversation_id TEXT NOT NULL DEFAULT '',
        is_bot BOOLEAN NOT NULL,
        content TEXT NOT NULL,
        created_at DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS quotas (
        identity_key TEXT PRIMARY KEY,
        count INTEGER NOT NULL DEFAULT 0 CHECK (count >= 0),
        updated_at DATETIME NOT NULL
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// User methods

func (s *SQLiteStore) GetUserByExternalID(ctx context.Context, externalUserID string) (*User, error) {
	var user User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, external_user_id, password_hash, created_at FROM users WHERE external_user_id = ?",
		externalUserID).Scan(&user.ID, &user.ExternalUserID, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, externalUserID, passwordHash string) (*User, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO users (external_user_id, password_hash) VALUES (?, ?)",
		externalUserID, passwordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	id, _ := res.LastInsertId()
	return s.getUserByID(ctx, id)
}

func (s *SQLiteStore) getUserByID(ctx context.Context, id int64) (*User, error) {
	var user User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, external_user_id, password_hash, created_at FROM users WHERE id = ?",
		id).Scan(&user.ID, &user.ExternalUserID, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return &user, nil
}

// Message methods

// AppendMessage writes one message to the log. Messages are immutable;
// there is no corresponding update or delete.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg Message) error {
	if msg.ID == "" {
		return fmt.Errorf("message id is required")
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	stmt, err := s.db.PrepareContext(ctx,
		"INSERT INTO messages (id, conversation_id, is_bot, content, created_at) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare message insert: %w", err)
	}
	defer stmt.Close()

	_, err = stmt.ExecContext(ctx, msg.ID, msg.ConversationID, msg.IsBot, msg.Content, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to execute message insert: %w", err)
	}
	return nil
}

// RecentMessages returns at most limit of the newest messages, ordered
// oldest to newest. Each call is a fresh snapshot.
func (s *SQLiteStore) RecentMessages(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
        SELECT id, conversation_id, is_bot, content, created_at
        FROM messages
        ORDER BY seq DESC
        LIMIT ?
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.IsBot, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}

	// The query reads newest-first; flip to creation order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// Quota methods

func (s *SQLiteStore) GetQuota(ctx context.Context, identityKey string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT count FROM quotas WHERE identity_key = ?", identityKey).Scan(&count)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil // Lazily created on first increment
		}
		return 0, fmt.Errorf("failed to query quota: %w", err)
	}
	return count, nil
}

// IncrementQuota adds one to the identity's counter and returns the new
// value. The upsert makes the read-modify-write a single statement.
func (s *SQLiteStore) IncrementQuota(ctx context.Context, identityKey string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin quota transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
        INSERT INTO quotas (identity_key, count, updated_at) VALUES (?, 1, ?)
        ON CONFLICT(identity_key) DO UPDATE SET count = count + 1, updated_at = excluded.updated_at
    `, identityKey, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to increment quota: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		"SELECT count FROM quotas WHERE identity_key = ?", identityKey).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to read quota after increment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit quota increment: %w", err)
	}
	return count, nil
}

// ResetQuota sets the identity's counter back to zero. The record is
// never deleted, only reset.
func (s *SQLiteStore) ResetQuota(ctx context.Context, identityKey string) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO quotas (identity_key, count, updated_at) VALUES (?, 0, ?)
        ON CONFLICT(identity_key) DO UPDATE SET count = 0, updated_at = excluded.updated_at
    `, identityKey, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to reset quota: %w", err)
	}
	return nil
}
