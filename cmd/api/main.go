package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/zhouzirui/yagpt-chat/backend/internal/chatlog"
	"github.com/zhouzirui/yagpt-chat/backend/internal/config"
	"github.com/zhouzirui/yagpt-chat/backend/internal/handler"
	"github.com/zhouzirui/yagpt-chat/backend/internal/logger"
	"github.com/zhouzirui/yagpt-chat/backend/internal/metrics"
	"github.com/zhouzirui/yagpt-chat/backend/internal/model/preset"
	"github.com/zhouzirui/yagpt-chat/backend/internal/service/ai"
	"github.com/zhouzirui/yagpt-chat/backend/internal/service/auth"
	"github.com/zhouzirui/yagpt-chat/backend/internal/service/chat"
	"github.com/zhouzirui/yagpt-chat/backend/internal/service/yandexgpt"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := logger.SetupDefault(os.Stdout, cfg.Server.Debug)
	if envErr != nil {
		log.Warn("failed to load .env file, continuing with system environment variables only", "error", envErr)
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if !cfg.AI.Enabled() {
		return errors.New("SERVICE_ACCOUNT_ID, KEY_ID and FOLDER_ID must be set")
	}

	cred, err := auth.LoadCredential(cfg.AI.ServiceAccountID, cfg.AI.KeyID, cfg.AI.FolderID, cfg.AI.PrivateKeyPath)
	if err != nil {
		return err
	}
	if err := cred.Validate(); err != nil {
		return fmt.Errorf("invalid service account credential: %w", err)
	}
	log.Info("service account credential loaded", "credential", cred)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	signer := auth.NewSigner(cred,
		auth.WithIAMEndpoint(cfg.AI.IAMEndpoint),
		auth.WithHTTPClient(&http.Client{Timeout: cfg.AI.IAMTimeout}),
		auth.WithSignerLogger(log),
	)
	tokens := auth.NewTokenCache(signer, auth.WithCacheMetrics(collector))

	defaults := yandexgpt.Options{Temperature: cfg.AI.Temperature, MaxTokens: cfg.AI.MaxTokens}.
		Resolve(yandexgpt.Settings{Temperature: yandexgpt.DefaultTemperature, MaxTokens: yandexgpt.DefaultMaxTokens})

	client := yandexgpt.New(tokens, cfg.AI.FolderID,
		yandexgpt.WithBaseURL(cfg.AI.BaseURL),
		yandexgpt.WithModelURI(cfg.AI.ResolvedModelURI()),
		yandexgpt.WithDefaults(defaults),
		yandexgpt.WithHTTPClient(&http.Client{Timeout: cfg.AI.CompletionTimeout}),
		yandexgpt.WithMetrics(collector),
		yandexgpt.WithLogger(log),
	)

	// Surface key or endpoint problems at startup; requests retry lazily anyway.
	if _, err := tokens.Token(ctx); err != nil {
		log.Warn("initial IAM token exchange failed", "error", err)
	} else {
		log.Info("IAM token acquired")
	}

	recorder, err := chatlog.Open(cfg.Chat.LogPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := recorder.Close(); err != nil {
			log.Warn("failed to close chat log", "error", err)
		}
	}()

	presets := preset.NewMemoryStore(preset.Seed())
	chatService := chat.NewService(chat.WithHistoryLimit(cfg.Chat.HistoryLimit))
	aiService := ai.NewService(ai.Dependencies{
		Chats:     chatService,
		Presets:   presets,
		Completer: client,
		Tokens:    tokens,
		Recorder:  recorder,
		Metrics:   collector,
		Logger:    log,
	}, ai.Config{
		ContextTurns: cfg.Chat.ContextTurns,
		Defaults:     client.Defaults(),
	})

	deps := handler.Dependencies{
		Presets:  presets,
		ChatSvc:  chatService,
		AISvc:    aiService,
		Gatherer: reg,
		Logger:   log,
	}
	if cfg.Chat.ProxyEnabled {
		deps.ChatModel = yandexgpt.NewChatModel(client)
		log.Info("OpenAI-compatible proxy enabled", "prefix", "/v1")
	}

	return startServer(ctx, cfg.Server, handler.NewRouter(deps), log)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, log *slog.Logger) error {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info("YandexGPT chat backend listening", "addr", addr)
	return runServer(ctx, srv)
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
