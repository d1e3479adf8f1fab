package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/chat4u/server/internal/api"
	"github.com/chat4u/server/internal/core"
	"github.com/chat4u/server/internal/markdown"
	"github.com/chat4u/server/internal/store"
)

const testJWTSecret = "test-secret"

type scriptedCompleter struct {
	reply string
	err   error
}

func (c *scriptedCompleter) Complete(context.Context, string) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	return c.reply, nil
}

type testEnv struct {
	router    http.Handler
	mem       *store.MemoryStore
	completer *scriptedCompleter
}

func setup(t *testing.T) *testEnv {
	t.Helper()

	mem := store.NewMemoryStore()
	completer := &scriptedCompleter{reply: "**hello from the bot**"}
	renderer := markdown.NewRenderer()

	tracker := core.NewQuotaTracker(mem, core.Ceilings{Anonymous: 5, Authenticated: 10})
	conversation := core.NewConversationController(tracker, mem, completer, renderer)

	handler := api.NewAPIHandler(conversation, tracker, mem, renderer, mem, testJWTSecret, 100)
	return &testEnv{
		router:    api.NewRouter(handler, 10*time.Millisecond),
		mem:       mem,
		completer: completer,
	}
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestChatSuccess(t *testing.T) {
	env := setup(t)

	resp := doJSON(t, env.router, http.MethodPost, "/api/chat", map[string]string{"prompt": "hi"}, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var body api.ChatResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Equal(t, "**hello from the bot**", body.Bot)
	require.Contains(t, body.HTML, "<strong>hello from the bot</strong>")

	require.Equal(t, 2, env.mem.MessageCount())
}

func TestChatEmptyPrompt(t *testing.T) {
	env := setup(t)

	resp := doJSON(t, env.router, http.MethodPost, "/api/chat", map[string]string{"prompt": "   "}, nil)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Zero(t, env.mem.MessageCount())
}

func TestChatInvalidBody(t *testing.T) {
	env := setup(t)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader([]byte("{not json")))
	resp := httptest.NewRecorder()
	env.router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestChatLimitReached(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := env.mem.IncrementQuota(ctx, "anonymous")
		require.NoError(t, err)
	}

	resp := doJSON(t, env.router, http.MethodPost, "/api/chat", map[string]string{"prompt": "hi"}, nil)
	require.Equal(t, http.StatusTooManyRequests, resp.Code)
	require.Contains(t, resp.Body.String(), "limit of 5 prompts")
	require.Zero(t, env.mem.MessageCount())
}

func TestChatUpstreamFailure(t *testing.T) {
	env := setup(t)
	env.completer.err = errors.New("network error")

	resp := doJSON(t, env.router, http.MethodPost, "/api/chat", map[string]string{"prompt": "hi"}, nil)
	require.Equal(t, http.StatusInternalServerError, resp.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Equal(t, "Internal Server Error", body["error"])

	// The user message and the fallback apology are both in the log.
	messages, err := env.mem.RecentMessages(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.Equal(t, core.FallbackReply, messages[1].Content)

	count, err := env.mem.GetQuota(context.Background(), "anonymous")
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestMessagesSnapshot(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	require.NoError(t, env.mem.AppendMessage(ctx, store.Message{ID: uuid.NewString(), Content: "question"}))
	require.NoError(t, env.mem.AppendMessage(ctx, store.Message{ID: uuid.NewString(), IsBot: true, Content: "**answer**"}))

	resp := doJSON(t, env.router, http.MethodGet, "/api/messages", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		Messages []store.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Len(t, body.Messages, 2)
	require.Equal(t, "question", body.Messages[0].Content)
	require.Empty(t, body.Messages[0].HTML, "user messages are not rendered")
	require.Contains(t, body.Messages[1].HTML, "<strong>answer</strong>")
}

func TestMessagesLimit(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, env.mem.AppendMessage(ctx, store.Message{ID: uuid.NewString(), Content: "m"}))
	}

	resp := doJSON(t, env.router, http.MethodGet, "/api/messages?limit=2", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		Messages []store.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Len(t, body.Messages, 2)
}

func TestMessagesRejectsBadLimit(t *testing.T) {
	env := setup(t)

	resp := doJSON(t, env.router, http.MethodGet, "/api/messages?limit=zero", nil, nil)
	require.Equal(t, http.StatusBadRequest, resp.Code)

	resp = doJSON(t, env.router, http.MethodGet, "/api/messages?limit=-1", nil, nil)
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestQuotaEndpoint(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := env.mem.IncrementQuota(ctx, "anonymous")
		require.NoError(t, err)
	}

	resp := doJSON(t, env.router, http.MethodGet, "/api/quota", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var body api.QuotaResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Equal(t, 5, body.Count)
	require.Equal(t, 5, body.Ceiling)
	require.True(t, body.Crossed)
}

func TestSignupLoginFlow(t *testing.T) {
	env := setup(t)

	resp := doJSON(t, env.router, http.MethodPost, "/api/signup",
		map[string]string{"user_id": "alex", "password": "hunter2"}, nil)
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = doJSON(t, env.router, http.MethodPost, "/api/signup",
		map[string]string{"user_id": "alex", "password": "hunter2"}, nil)
	require.Equal(t, http.StatusConflict, resp.Code)

	resp = doJSON(t, env.router, http.MethodPost, "/api/login",
		map[string]string{"user_id": "alex", "password": "wrong"}, nil)
	require.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = doJSON(t, env.router, http.MethodPost, "/api/login",
		map[string]string{"user_id": "alex", "password": "hunter2"}, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var login map[string]string
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &login))
	require.NotEmpty(t, login["token"])

	// With the token, the authenticated ceiling applies.
	resp = doJSON(t, env.router, http.MethodGet, "/api/quota", nil,
		map[string]string{"Authorization": "Bearer " + login["token"]})
	require.Equal(t, http.StatusOK, resp.Code)

	var quota api.QuotaResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &quota))
	require.Equal(t, 10, quota.Ceiling)
	require.Zero(t, quota.Count)
}

func TestLoginResetsQuota(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	resp := doJSON(t, env.router, http.MethodPost, "/api/signup",
		map[string]string{"user_id": "alex", "password": "hunter2"}, nil)
	require.Equal(t, http.StatusCreated, resp.Code)

	_, err := env.mem.IncrementQuota(ctx, "alex")
	require.NoError(t, err)
	_, err = env.mem.IncrementQuota(ctx, "alex")
	require.NoError(t, err)

	resp = doJSON(t, env.router, http.MethodPost, "/api/login",
		map[string]string{"user_id": "alex", "password": "hunter2"}, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	count, err := env.mem.GetQuota(ctx, "alex")
	require.NoError(t, err)
	require.Zero(t, count, "sign-in starts from a clean counter")
}

func TestInvalidTokenFallsBackToAnonymous(t *testing.T) {
	env := setup(t)

	resp := doJSON(t, env.router, http.MethodGet, "/api/quota", nil,
		map[string]string{"Authorization": "Bearer garbage"})
	require.Equal(t, http.StatusOK, resp.Code)

	var quota api.QuotaResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &quota))
	require.Equal(t, 5, quota.Ceiling, "invalid token means the anonymous ceiling")
}

func TestHealth(t *testing.T) {
	env := setup(t)

	resp := doJSON(t, env.router, http.MethodGet, "/api/health", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
}

func TestStreamSendsInitialSnapshot(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	msgID := uuid.NewString()
	require.NoError(t, env.mem.AppendMessage(ctx, store.Message{ID: msgID, Content: "already there"}))

	reqCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/messages/stream", nil).WithContext(reqCtx)
	resp := httptest.NewRecorder()
	env.router.ServeHTTP(resp, req)

	require.Equal(t, "text/event-stream", resp.Header().Get("Content-Type"))
	require.Contains(t, resp.Body.String(), "event: snapshot")
	require.Contains(t, resp.Body.String(), msgID)
}
