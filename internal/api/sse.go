package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// StreamHandler pushes new messages over Server-Sent Events. It polls
// the store on a fixed interval, so subscribers see the same bounded
// ordered snapshots the REST read path serves, just without re-fetching.
type StreamHandler struct {
	handler  *APIHandler
	interval time.Duration
}

func NewStreamHandler(handler *APIHandler, interval time.Duration) *StreamHandler {
	return &StreamHandler{handler: handler, interval: interval}
}

func (s *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	setupSSEHeaders(w)

	ctx := r.Context()
	seen := make(map[string]bool)

	// Initial snapshot marks existing messages as delivered.
	if err := s.push(ctx, w, flusher, seen, true); err != nil {
		log.Printf("[sse] initial snapshot failed: %v", err)
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.push(ctx, w, flusher, seen, false); err != nil {
				log.Printf("[sse] poll failed: %v", err)
				return
			}
		}
	}
}

func (s *StreamHandler) push(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, seen map[string]bool, initial bool) error {
	messages, err := s.handler.messages.RecentMessages(ctx, s.handler.recentLimit)
	if err != nil {
		return err
	}

	for _, msg := range messages {
		if seen[msg.ID] {
			continue
		}
		seen[msg.ID] = true

		if msg.IsBot {
			if html, err := s.handler.renderer.Render(msg.Content); err == nil {
				msg.HTML = html
			}
		}

		event := "message"
		if initial {
			event = "snapshot"
		}
		if err := sendSSEEvent(w, flusher, event, msg); err != nil {
			return err
		}
	}
	return nil
}

func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal sse event data: %w", err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return fmt.Errorf("failed to write sse event: %w", err)
	}
	flusher.Flush()
	return nil
}
