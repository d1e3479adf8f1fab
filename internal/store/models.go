package store

import "time"

// User is a registered account. The external id is what clients
// authenticate as; the numeric id is internal to the database.
type User struct {
	ID             int64     `json:"id"`
	ExternalUserID string    `json:"external_user_id"`
	PasswordHash   string    `json:"-"` // Do not expose this in JSON responses
	CreatedAt      time.Time `json:"created_at"`
}

// Message is one entry in the append-only chat log. Messages are
// write-once: no updates and no deletes. ConversationID is reserved for
// splitting the log per conversation; the empty string keeps the single
// global log the original design used.
type Message struct {
	ID             string    `json:"id"` // UUID, immutable once assigned
	ConversationID string    `json:"conversation_id,omitempty"`
	IsBot          bool      `json:"is_bot"`
	Content        string    `json:"content"`
	HTML           string    `json:"html,omitempty"` // derived, never persisted
	CreatedAt      time.Time `json:"created_at"`
}

// QuotaRecord tracks consumed prompts for one identity key. Count only
// grows, except for an explicit reset back to zero.
type QuotaRecord struct {
	IdentityKey string    `json:"identity_key"`
	Count       int       `json:"count"`
	UpdatedAt   time.Time `json:"updated_at"`
}
