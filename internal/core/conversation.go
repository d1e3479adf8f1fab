package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chat4u/server/internal/identity"
	"github.com/chat4u/server/internal/store"
)

// FallbackReply is appended to the log in place of a bot answer when the
// completion request fails.
const FallbackReply = "Something went wrong. Please try again."

var (
	ErrLimitReached    = errors.New("prompt limit reached")
	ErrAlreadyInFlight = errors.New("a submit is already in flight for this identity")
	ErrUpstreamFailure = errors.New("completion request failed")
	ErrEmptyPrompt     = errors.New("prompt is empty")
)

// MessageStore is the append-only log surface the controller writes to.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg store.Message) error
	RecentMessages(ctx context.Context, limit int) ([]store.Message, error)
}

// Completer performs one stateless completion round trip.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Renderer converts markdown to sanitized HTML.
type Renderer interface {
	Render(source string) (string, error)
}

// ConversationController orchestrates one submit cycle: quota gate,
// optimistic user-message write, completion round trip, bot-message
// write, quota increment. It owns the one-in-flight-per-identity rule.
type ConversationController struct {
	quota     *QuotaTracker
	messages  MessageStore
	completer Completer
	renderer  Renderer

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewConversationController(quota *QuotaTracker, messages MessageStore, completer Completer, renderer Renderer) *ConversationController {
	return &ConversationController{
		quota:     quota,
		messages:  messages,
		completer: completer,
		renderer:  renderer,
		inFlight:  make(map[string]struct{}),
	}
}

// Submit runs one full user-prompt/bot-reply exchange.
//
// The limit check happens before any write. A completion failure leaves
// the user message in place, appends the fallback reply and does NOT
// consume quota: the user got no answer, so the attempt is free.
func (c *ConversationController) Submit(ctx context.Context, id identity.Identity, rawInput string) (store.Message, error) {
	if rawInput == "" {
		return store.Message{}, ErrEmptyPrompt
	}

	if !c.acquire(id) {
		return store.Message{}, ErrAlreadyInFlight
	}
	defer c.release(id)

	if c.quota.HasCrossedLimit(ctx, id) {
		return store.Message{}, ErrLimitReached
	}

	userMsg := store.Message{
		ID:        uuid.NewString(),
		IsBot:     false,
		Content:   rawInput,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.messages.AppendMessage(ctx, userMsg); err != nil {
		return store.Message{}, fmt.Errorf("failed to store user message: %w", err)
	}

	// Single turn by design: no history is forwarded upstream.
	reply, err := c.completer.Complete(ctx, rawInput)
	if err != nil {
		log.Printf("completion failed for %s: %v", id.Key(), err)
		fallback := store.Message{
			ID:        uuid.NewString(),
			IsBot:     true,
			Content:   FallbackReply,
			CreatedAt: time.Now().UTC(),
		}
		if storeErr := c.messages.AppendMessage(ctx, fallback); storeErr != nil {
			log.Printf("failed to store fallback message: %v", storeErr)
		}
		return store.Message{}, fmt.Errorf("%w: %v", ErrUpstreamFailure, err)
	}

	botMsg := store.Message{
		ID:        uuid.NewString(),
		IsBot:     true,
		Content:   reply,
		CreatedAt: time.Now().UTC(),
	}
	html, err := c.renderer.Render(reply)
	if err != nil {
		log.Printf("failed to render bot reply: %v", err)
	} else {
		botMsg.HTML = html
	}

	if err := c.messages.AppendMessage(ctx, botMsg); err != nil {
		return store.Message{}, fmt.Errorf("failed to store bot message: %w", err)
	}

	if _, err := c.quota.Increment(ctx, id); err != nil {
		// The exchange succeeded; a lost increment only under-counts.
		log.Printf("quota increment failed for %s: %v", id.Key(), err)
	}

	return botMsg, nil
}

func (c *ConversationController) acquire(id identity.Identity) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inFlight[id.Key()]; busy {
		return false
	}
	c.inFlight[id.Key()] = struct{}{}
	return true
}

func (c *ConversationController) release(id identity.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, id.Key())
}
