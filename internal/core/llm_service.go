package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/chat4u/server/internal/config"
)

// CompletionClient wraps a single request/response round trip against
// the Gemini API. Model and generation parameters are fixed
// configuration, not runtime inputs. No retries, no streaming.
type CompletionClient struct {
	client  *genai.Client
	timeout time.Duration

	// generate performs the upstream call; swapped out in tests.
	generate func(ctx context.Context, prompt string) (string, error)
}

func NewCompletionClient(ctx context.Context, cfg *config.Config) (*CompletionClient, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	temperature := float32(cfg.Temperature)
	topP := float32(cfg.TopP)
	maxTokens := int32(cfg.MaxOutputTokens)

	model := client.GenerativeModel(cfg.ChatModel)
	model.GenerationConfig = genai.GenerationConfig{
		Temperature:     &temperature,
		TopP:            &topP,
		MaxOutputTokens: &maxTokens,
	}

	c := &CompletionClient{
		client:  client,
		timeout: cfg.CompletionTimeout,
	}
	c.generate = func(ctx context.Context, prompt string) (string, error) {
		resp, err := model.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			return "", fmt.Errorf("gemini request failed: %w", err)
		}
		return extractText(resp)
	}
	return c, nil
}

func (c *CompletionClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Complete sends the prompt as the sole content of a new single-turn
// conversation and returns the reply text. The call is bounded by the
// configured timeout.
func (c *CompletionClient) Complete(ctx context.Context, prompt string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.generate(ctx, prompt)
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini response had no candidates")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			text.WriteString(string(txt))
		}
	}

	if text.Len() == 0 {
		return "", fmt.Errorf("gemini response contained no text parts")
	}
	return text.String(), nil
}
