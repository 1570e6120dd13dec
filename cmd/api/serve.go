package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"notesync/api/internal/app"
	"notesync/api/internal/genai"
	"notesync/api/internal/observability"
	"notesync/api/internal/realtime"
	"notesync/api/internal/relay"
	"notesync/api/internal/search"
	"notesync/api/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL, store.DefaultPoolOptions())
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	if len(applied) > 0 {
		logger.Info("applied migrations", "versions", applied)
	}

	dataStore := store.NewPostgresStore(db)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts, logger)

	metrics := observability.New()
	registry := realtime.NewRegistry()
	dispatcher := realtime.NewDispatcher(registry, metrics, logger)

	group, groupCtx := errgroup.WithContext(ctx)

	if strings.TrimSpace(cfg.RedisURL) != "" {
		eventRelay, err := relay.NewRedisRelay(cfg.RedisURL, cfg.RelayChannel, logger)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer eventRelay.Close()
		dispatcher.WithRelay(eventRelay)
		group.Go(func() error {
			return eventRelay.Run(groupCtx, dispatcher.DeliverLocal)
		})
		logger.Info("cross-instance relay enabled", "channel", cfg.RelayChannel, "node_id", eventRelay.NodeID())
	} else {
		logger.Info("cross-instance relay disabled, events stay on this instance")
	}

	generator, err := genai.New(genai.Config{
		Provider:      cfg.AIProvider,
		GeminiAPIKey:  cfg.GeminiAPIKey,
		GeminiModel:   cfg.GeminiModel,
		GeminiBaseURL: cfg.GeminiBaseURL,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIModel:   cfg.OpenAIModel,
	}, logger)
	if err != nil {
		return err
	}

	service := app.New(cfg, dataStore, dispatcher, searchService, generator, logger)

	live := realtime.NewHandler(registry, service.Gate(), realtime.ClientOptions{
		SendBuffer:   cfg.WSSendBuffer,
		WriteTimeout: cfg.WSWriteTimeout,
		PingInterval: cfg.WSPingInterval,
	}, metrics, logger).WithOriginCheck(originChecker(cfg.CORSOrigin))

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin).WithLive(live).WithMetrics(metrics)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	group.Go(func() error {
		searchService.ReindexAllFromPG(groupCtx)
		return nil
	})

	group.Go(func() error {
		logger.Info("notesync API listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown error", "error", err)
		}
		return nil
	})

	err = group.Wait()
	logger.Info("server stopped", "open_connections", registry.Len())
	return err
}

// originChecker allows any origin for "*" and otherwise only the
// configured one. Requests without an Origin header are not from a browser.
func originChecker(allowed string) func(*http.Request) bool {
	allowed = strings.TrimRight(strings.TrimSpace(allowed), "/")
	return func(r *http.Request) bool {
		if allowed == "" || allowed == "*" {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		parsed, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(parsed.Scheme+"://"+parsed.Host, allowed)
	}
}
