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

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"impostor-draw-server/api"
	"impostor-draw-server/auth"
	"impostor-draw-server/config"
	"impostor-draw-server/game"
	"impostor-draw-server/loghandler"
	"impostor-draw-server/roomsync"
	"impostor-draw-server/storage"
	"impostor-draw-server/ws"
)

func main() {
	envErr := godotenv.Load()

	cfg := config.Load()
	slog.SetDefault(slog.New(loghandler.NewCompactHandler(os.Stderr, cfg.SlogLevel())))
	if envErr != nil {
		slog.Debug("no .env file found; using environment variables", "tag", "main")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "tag", "main", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	if cfg.TokenSecret == "" {
		slog.Warn("TOKEN_SECRET is not set; using a random secret, resume tokens will not survive a restart", "tag", "main")
		cfg.TokenSecret = randomSecret()
	}
	tokens, err := auth.NewTokenManager(cfg.TokenSecret, cfg.TokenTTL())
	if err != nil {
		slog.Error("failed to set up tokens", "tag", "main", "err", err)
		os.Exit(1)
	}

	rules := cfg.Rules()
	slog.Info("configuration",
		"tag", "main",
		"drawingTime", rules.DrawingTime,
		"votingTime", rules.VotingTime,
		"maxAttempts", rules.MaxAttempts,
		"maxRounds", rules.MaxRounds,
		"players", fmt.Sprintf("%d-%d", rules.MinPlayers, rules.MaxPlayers),
		"port", cfg.HTTPPort,
	)

	syncer := roomsync.NewSyncer(store, game.NewEngine(rules, nil))

	hub := ws.NewHub(cfg, syncer, tokens)
	hubDone := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(hubDone)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           api.CreateServer(api.NewHandler(cfg, syncer), hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("impostor draw server listening", "tag", "main", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server stopped", "tag", "main", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down", "tag", "main")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown incomplete", "tag", "main", "err", err)
	}
	<-hubDone
}

// openStore picks the Store backend: memory when no database is configured,
// otherwise Postgres with the configured change notifier.
func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	if cfg.DatabaseURL == "" {
		slog.Info("DATABASE_URL is not set; rooms are kept in memory", "tag", "main")
		return storage.NewMemoryStore(), nil
	}

	var notifier storage.Notifier
	switch cfg.Notifier {
	case "local":
		notifier = storage.NewLocalNotifier()
	case "redis":
		if cfg.RedisURL == "" {
			return nil, errors.New("NOTIFIER=redis needs REDIS_URL")
		}
		n, err := storage.NewRedisNotifier(ctx, cfg.RedisURL, storage.DefaultChannel)
		if err != nil {
			return nil, err
		}
		notifier = n
	case "postgres", "":
		// nil selects LISTEN/NOTIFY on the store's own pool.
	default:
		return nil, fmt.Errorf("unknown notifier %q", cfg.Notifier)
	}

	store, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL, notifier)
	if err != nil {
		if notifier != nil {
			_ = notifier.Close()
		}
		return nil, err
	}
	slog.Info("using postgres store", "tag", "main", "notifier", cfg.Notifier)
	return store, nil
}

func randomSecret() string {
	return uuid.NewString() + uuid.NewString()
}
