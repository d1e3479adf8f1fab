package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chat4u/server/internal/api"
	"github.com/chat4u/server/internal/config"
	"github.com/chat4u/server/internal/core"
	"github.com/chat4u/server/internal/markdown"
	"github.com/chat4u/server/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if cfg.LogLevel == "DEBUG" {
		log.Println("Service starting in DEBUG mode")
	}

	dbStore, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer dbStore.Close()

	completionClient, err := core.NewCompletionClient(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize completion client: %v", err)
	}
	defer completionClient.Close()

	renderer := markdown.NewRenderer()

	quotaTracker := core.NewQuotaTracker(dbStore, core.Ceilings{
		Anonymous:     cfg.AnonymousLimit,
		Authenticated: cfg.AuthenticatedLimit,
	})
	conversation := core.NewConversationController(quotaTracker, dbStore, completionClient, renderer)

	apiHandler := api.NewAPIHandler(conversation, quotaTracker, dbStore, renderer, dbStore,
		cfg.JWTSecret, cfg.RecentMessageLimit)
	router := api.NewRouter(apiHandler, cfg.PollInterval)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:           router,
		// No WriteTimeout: the SSE stream stays open indefinitely.
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Chat4U server listening on %s", srv.Addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
	log.Println("Server exiting gracefully")
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
