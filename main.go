package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/horizon-finance-poc/server/internal/agent"
	"github.com/horizon-finance-poc/server/internal/agent/gemini"
	"github.com/horizon-finance-poc/server/internal/core"
	"github.com/horizon-finance-poc/server/internal/events"
	"github.com/horizon-finance-poc/server/internal/httpapi"
	"github.com/horizon-finance-poc/server/internal/loan"
	"github.com/horizon-finance-poc/server/internal/metrics"
	"github.com/horizon-finance-poc/server/internal/sanction"
	"github.com/horizon-finance-poc/server/internal/session"
	logx "github.com/horizon-finance-poc/server/pkg/logger"
	pkgredis "github.com/horizon-finance-poc/server/pkg/redis"
)

// AppConfig defines all configurable parameters for the server, sourced from
// environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment core.Environment `envconfig:"ENVIRONMENT" default:"development"`

	// HTTP server
	ListenAddr      string        `envconfig:"LISTEN_ADDR" default:":5000"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	// Session persistence: "memory" or "redis".
	SessionStore string        `envconfig:"SESSION_STORE" default:"memory"`
	SessionTTL   time.Duration `envconfig:"SESSION_TTL" default:"24h"`
	Redis        pkgredis.Config

	// Sanction letter output
	LettersDir string `envconfig:"LETTERS_DIR" default:"generated_letters"`

	// Decision events (optional; disabled when no brokers are set)
	KafkaBrokers string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string `envconfig:"KAFKA_TOPIC" default:"loan.decisions"`

	// LLM provider
	Gemini gemini.Config
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(".env"); err != nil {
		logx.Warn().Err(err).Msg("could not load .env file")
	}

	// Load structured config from env
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		logx.Fatal().Err(err).Msg("failed to process environment config")
	}

	logx.Init(logx.LoggerOpts{Environment: cfg.Environment})

	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		logx.Fatal().Err(err).Msg("failed to initialise session store")
	}
	defer closeStore()

	issuer, err := sanction.NewFileIssuer(cfg.LettersDir)
	if err != nil {
		logx.Fatal().Err(err).Msg("failed to initialise sanction letter issuer")
	}

	assistant, err := gemini.New(ctx, cfg.Gemini)
	if err != nil {
		logx.Fatal().Err(err).Msg("failed to initialise Gemini assistant")
	}

	var publisher *events.Publisher
	if cfg.KafkaBrokers != "" {
		publisher = events.NewPublisher(strings.Split(cfg.KafkaBrokers, ","), cfg.KafkaTopic)
		defer publisher.Close()
	}

	orchestrator, err := agent.New(agent.Deps{
		Store:     store,
		Verifier:  loan.NewVerifier(),
		Assistant: assistant,
		Issuer:    issuer,
		Metrics:   metrics.New(),
		Events:    publisher,
	})
	if err != nil {
		logx.Fatal().Err(err).Msg("failed to initialise orchestrator")
	}

	handler := httpapi.New(orchestrator, store, cfg.LettersDir)
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logx.Info().
			Str("addr", cfg.ListenAddr).
			Str("environment", cfg.Environment.String()).
			Str("session_store", cfg.SessionStore).
			Msg("server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logx.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Fatal().Err(err).Msg("server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// buildStore selects the session store backend from config.
func buildStore(ctx context.Context, cfg AppConfig) (session.Store, func(), error) {
	switch cfg.SessionStore {
	case "redis":
		rdb, err := cfg.Redis.New(ctx)
		if err != nil {
			return nil, nil, err
		}
		return session.NewRedisStore(rdb, cfg.SessionTTL), func() { rdb.Close() }, nil
	default:
		return session.NewMemoryStore(), func() {}, nil
	}
}
