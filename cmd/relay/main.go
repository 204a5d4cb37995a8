// Package main is the entry point for the live chat relay server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/capitalize-ai/livechat-relay/internal/config"
	"github.com/capitalize-ai/livechat-relay/internal/handler"
	"github.com/capitalize-ai/livechat-relay/internal/llm"
	"github.com/capitalize-ai/livechat-relay/internal/middleware"
	natsclient "github.com/capitalize-ai/livechat-relay/internal/nats"
	"github.com/capitalize-ai/livechat-relay/internal/presence"
	"github.com/capitalize-ai/livechat-relay/internal/relay"
	"github.com/capitalize-ai/livechat-relay/internal/service"
	"github.com/capitalize-ai/livechat-relay/internal/store"
	"github.com/capitalize-ai/livechat-relay/pkg/logger"
	"github.com/capitalize-ai/livechat-relay/pkg/tracing"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting live chat relay")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "livechat-relay", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	checks := []handler.Check{}

	// Persistence
	var st store.Store
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("failed to connect to Postgres", zap.Error(err))
			os.Exit(1)
		}
		st = pg
		log.Info("using Postgres store")
	} else {
		st = store.NewMemoryStore()
		log.Warn("DATABASE_URL not set, using in-memory store")
	}
	defer st.Close()
	checks = append(checks, handler.Check{Name: "store", Ping: st.Ping})

	// Journal
	var journal service.Journal
	if cfg.NATSURL != "" {
		natsClient, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Error("failed to connect to NATS", zap.Error(err))
			os.Exit(1)
		}
		defer natsClient.Close()

		if err := natsclient.EnsureStream(ctx, natsClient); err != nil {
			log.Error("failed to ensure stream", zap.Error(err))
			os.Exit(1)
		}
		journal = natsclient.NewJournal(natsClient)
		checks = append(checks, handler.Check{Name: "nats", Ping: natsClient.Ping})
	}

	// Services
	conversationSvc := service.NewConversationService(st, journal, log)
	messageSvc := service.NewMessageService(st, journal, log)

	// Relay
	registry := relay.NewRegistry()
	relayOpts := relay.Options{
		Registry:       registry,
		Broadcaster:    relay.NewBroadcaster(registry, nil, log),
		Messages:       messageSvc,
		Conversations:  conversationSvc,
		PersistTimeout: cfg.PersistTimeout,
		Logger:         log,
	}

	var presenceReader handler.PresenceReader = handler.LocalPresence{Registry: registry}
	if cfg.RedisURL != "" {
		rp, err := presence.Dial(ctx, cfg.RedisURL, cfg.PresenceTTL)
		if err != nil {
			log.Error("failed to connect to Redis", zap.Error(err))
			os.Exit(1)
		}
		defer rp.Close()
		relayOpts.Presence = rp
		relayOpts.PresenceRefresh = cfg.PresenceTTL / 3
		presenceReader = rp
		checks = append(checks, handler.Check{Name: "redis", Ping: rp.Ping})
	}

	if cfg.VerifyAuthToken {
		relayOpts.Authenticator = middleware.TokenAuthenticator{Secret: cfg.JWTSecret}
	}

	if cfg.AutoReplyEnabled {
		llmClient, err := llm.NewClient(llm.Provider(cfg.LLMProvider), cfg.LLMAPIKey())
		if err != nil {
			log.Error("failed to create LLM client", zap.Error(err))
			os.Exit(1)
		}
		relayOpts.Responder = service.NewAutoReplyService(conversationSvc, messageSvc, llmClient, service.AutoReplyConfig{
			Model:        cfg.LLMModel,
			SystemPrompt: cfg.BotSystemPrompt,
		}, log)
		log.Info("bot auto-reply enabled", zap.String("provider", llmClient.Name()))
	}

	dispatcher := relay.NewDispatcher(relayOpts)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(checks...)
	conversationHandler := handler.NewConversationHandler(conversationSvc, dispatcher, log)
	messageHandler := handler.NewMessageHandler(messageSvc, dispatcher, log)
	presenceHandler := handler.NewPresenceHandler(presenceReader, log)
	wsHandler := handler.NewWSHandler(ctx, dispatcher, relay.ClientOptions{
		SendBuffer:    cfg.SendBuffer,
		MaxFrameBytes: cfg.MaxFrameBytes,
	}, cfg.AllowedOrigins, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Websocket relay
	r.With(middleware.UpgradeRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow)).Handle("/ws", wsHandler)

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.SecurityHeaders)
		r.Use(middleware.CORS(cfg.AllowedOrigins))
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", conversationHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Post("/takeover", conversationHandler.Takeover)

				r.Get("/messages", messageHandler.List)
				r.Post("/messages", messageHandler.Post)
			})
		})

		r.Get("/presence/{userId}", presenceHandler.Get)
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		log.Error("server error", zap.Error(err))
	}
	stop()

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	// Hijacked sockets are not covered by Shutdown.
	registry.CloseAll()

	log.Info("server stopped")
}
