package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/chat4u/server/internal/auth"
	"github.com/chat4u/server/internal/core"
	"github.com/chat4u/server/internal/identity"
	"github.com/chat4u/server/internal/store"
)

// UserStore is the account surface the auth handlers need. Satisfied by
// store.SQLiteStore and store.MemoryStore.
type UserStore interface {
	GetUserByExternalID(ctx context.Context, externalUserID string) (*store.User, error)
	CreateUser(ctx context.Context, externalUserID, passwordHash string) (*store.User, error)
}

type APIHandler struct {
	conversation *core.ConversationController
	quota        *core.QuotaTracker
	messages     core.MessageStore
	renderer     core.Renderer
	users        UserStore

	jwtSecret   string
	recentLimit int
}

func NewAPIHandler(
	conversation *core.ConversationController,
	quota *core.QuotaTracker,
	messages core.MessageStore,
	renderer core.Renderer,
	users UserStore,
	jwtSecret string,
	recentLimit int,
) *APIHandler {
	return &APIHandler{
		conversation: conversation,
		quota:        quota,
		messages:     messages,
		renderer:     renderer,
		users:        users,
		jwtSecret:    jwtSecret,
		recentLimit:  recentLimit,
	}
}

// IdentityMiddleware resolves the caller's identity. A valid bearer
// token yields an authenticated identity; anything else falls back to
// the shared anonymous identity. Chat routes never reject on auth —
// anonymous is a first-class caller here.
func (h *APIHandler) IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := identity.AnonymousIdentity()

		authHeader := r.Header.Get("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if externalUserID, err := auth.ValidateJWT(h.jwtSecret, tokenString); err == nil {
				id = identity.User(externalUserID)
			} else {
				log.Printf("ignoring invalid bearer token: %v", err)
			}
		}

		next.ServeHTTP(w, r.WithContext(identity.WithIdentity(r.Context(), id)))
	})
}

type SignupRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

func (h *APIHandler) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.UserID == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "user id and password are required")
		return
	}

	existing, err := h.users.GetUserByExternalID(r.Context(), req.UserID)
	if err != nil {
		log.Printf("Error checking user %s: %v", req.UserID, err)
		respondError(w, http.StatusInternalServerError, "failed to create user")
		return
	}
	if existing != nil {
		respondError(w, http.StatusConflict, "user already exists")
		return
	}

	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		log.Printf("Error hashing password for user %s: %v", req.UserID, err)
		respondError(w, http.StatusInternalServerError, "failed to process password")
		return
	}

	user, err := h.users.CreateUser(r.Context(), req.UserID, hashedPassword)
	if err != nil {
		log.Printf("Error creating user %s: %v", req.UserID, err)
		respondError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	respondJSON(w, http.StatusCreated, user)
}

type LoginRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.UserID == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "user id and password are required")
		return
	}

	user, err := h.users.GetUserByExternalID(r.Context(), req.UserID)
	if err != nil {
		log.Printf("Error getting user %s: %v", req.UserID, err)
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if user == nil || !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := auth.GenerateJWT(h.jwtSecret, req.UserID)
	if err != nil {
		log.Printf("Error generating JWT for user %s: %v", req.UserID, err)
		respondError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	// Sign-in transition: the user starts from a clean counter. Any
	// anonymous progress is discarded, not merged.
	if err := h.quota.Reset(r.Context(), identity.User(req.UserID)); err != nil {
		log.Printf("Error resetting quota for user %s: %v", req.UserID, err)
	}

	respondJSON(w, http.StatusOK, map[string]string{"token": token})
}

type ChatRequest struct {
	Prompt string `json:"prompt"`
}

type ChatResponse struct {
	Bot  string `json:"bot"`
	HTML string `json:"html,omitempty"`
}

// ChatHandler runs one full exchange: POST /api/chat {"prompt": ...}
// answers 200 {"bot": ...} or 500 {"error": ...}, with 4xx for the
// policy rejections.
func (h *APIHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id := identity.FromContext(r.Context())

	botMsg, err := h.conversation.Submit(r.Context(), id, strings.TrimSpace(req.Prompt))
	if err != nil {
		switch {
		case errors.Is(err, core.ErrEmptyPrompt):
			respondError(w, http.StatusBadRequest, "prompt is required")
		case errors.Is(err, core.ErrLimitReached):
			respondError(w, http.StatusTooManyRequests,
				fmt.Sprintf("You have reached the limit of %d prompts. Please upgrade to Pro.", h.quota.Ceiling(id)))
		case errors.Is(err, core.ErrAlreadyInFlight):
			respondError(w, http.StatusConflict, "a previous prompt is still being answered")
		default:
			log.Printf("Error handling chat for %s: %v", id.Key(), err)
			respondError(w, http.StatusInternalServerError, "Internal Server Error")
		}
		return
	}

	respondJSON(w, http.StatusOK, ChatResponse{Bot: botMsg.Content, HTML: botMsg.HTML})
}

// MessagesHandler returns a bounded snapshot of the log in creation
// order, with bot content rendered for display.
func (h *APIHandler) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	limit := h.recentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if parsed < limit {
			limit = parsed
		}
	}

	messages, err := h.messages.RecentMessages(r.Context(), limit)
	if err != nil {
		log.Printf("Error reading messages: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to read messages")
		return
	}

	for i := range messages {
		if !messages[i].IsBot {
			continue
		}
		html, err := h.renderer.Render(messages[i].Content)
		if err != nil {
			log.Printf("Error rendering message %s: %v", messages[i].ID, err)
			continue
		}
		messages[i].HTML = html
	}

	respondJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

type QuotaResponse struct {
	Count   int  `json:"count"`
	Ceiling int  `json:"ceiling"`
	Crossed bool `json:"crossed"`
}

// QuotaHandler lets the client decide when to show the upgrade prompt.
func (h *APIHandler) QuotaHandler(w http.ResponseWriter, r *http.Request) {
	id := identity.FromContext(r.Context())

	count := h.quota.Get(r.Context(), id)
	ceiling := h.quota.Ceiling(id)
	respondJSON(w, http.StatusOK, QuotaResponse{
		Count:   count,
		Ceiling: ceiling,
		Crossed: count >= ceiling,
	})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
