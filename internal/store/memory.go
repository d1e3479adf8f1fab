package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-memory mirror of SQLiteStore. It backs tests and
// lets the service run without a database file.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]*User
	nextUser int64
	messages []Message
	quotas   map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:  make(map[string]*User),
		quotas: make(map[string]int),
	}
}

func (s *MemoryStore) GetUserByExternalID(_ context.Context, externalUserID string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[externalUserID]
	if !ok {
		return nil, nil
	}
	copied := *user
	return &copied, nil
}

func (s *MemoryStore) CreateUser(_ context.Context, externalUserID, passwordHash string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[externalUserID]; ok {
		return nil, fmt.Errorf("user %q already exists", externalUserID)
	}

	s.nextUser++
	user := &User{
		ID:             s.nextUser,
		ExternalUserID: externalUserID,
		PasswordHash:   passwordHash,
		CreatedAt:      time.Now().UTC(),
	}
	s.users[externalUserID] = user
	copied := *user
	return &copied, nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, msg Message) error {
	if msg.ID == "" {
		return fmt.Errorf("message id is required")
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.messages {
		if existing.ID == msg.ID {
			return fmt.Errorf("message %q already exists", msg.ID)
		}
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *MemoryStore) RecentMessages(_ context.Context, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	start := 0
	if len(s.messages) > limit {
		start = len(s.messages) - limit
	}

	copied := make([]Message, len(s.messages)-start)
	copy(copied, s.messages[start:])
	return copied, nil
}

func (s *MemoryStore) GetQuota(_ context.Context, identityKey string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.quotas[identityKey], nil
}

func (s *MemoryStore) IncrementQuota(_ context.Context, identityKey string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotas[identityKey]++
	return s.quotas[identityKey], nil
}

func (s *MemoryStore) ResetQuota(_ context.Context, identityKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotas[identityKey] = 0
	return nil
}

// MessageCount reports how many messages are in the log. Test helper.
func (s *MemoryStore) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}
