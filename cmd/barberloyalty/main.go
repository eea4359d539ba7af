// Package main запускает HTTP-сервер программы лояльности барбершопа.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/barber-loyalty/internal/config"
	"github.com/mmeshcher/barber-loyalty/internal/conversation"
	"github.com/mmeshcher/barber-loyalty/internal/gateway"
	"github.com/mmeshcher/barber-loyalty/internal/genai"
	"github.com/mmeshcher/barber-loyalty/internal/handler"
	"github.com/mmeshcher/barber-loyalty/internal/middleware"
	"github.com/mmeshcher/barber-loyalty/internal/repository"
	"github.com/mmeshcher/barber-loyalty/internal/seed"
	"github.com/mmeshcher/barber-loyalty/internal/service"
)

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	sugar := logger.Sugar()

	var store gateway.Store
	if cfg.DatabaseURI != "" {
		store, err = repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
	} else {
		sugar.Warn("DATABASE_URI is empty, data lives in memory only")
		store = repository.NewMemoryRepository()
	}

	gw := gateway.New(store, logger, gateway.WithAdmin(cfg.AdminEmail, cfg.AdminPass))

	catalog, err := seed.Load()
	if err != nil {
		sugar.Fatalw("catalog error", "error", err.Error())
	}

	gen := newGenerator(cfg, logger)
	if gen == nil {
		sugar.Info("GENAI_API_KEY is empty, chat replies use canned text")
	}

	svc := service.NewService(gw, gen, catalog, logger, service.WithReplyTimeout(cfg.ReplyTimeout))
	defer func() {
		if err := svc.Close(); err != nil {
			sugar.Errorw("close service", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc.Load(ctx)
	svc.StartSync(ctx)

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret, svc)
	h := handler.NewHandler(svc, logger, authMiddleware)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sugar.Infow("starting barber loyalty server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown по сигналу или ошибке сервера.
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Errorw("application terminated with error", "error", err)
	}
}

// newGenerator возвращает nil-интерфейс без ключа API, чтобы персонажи чата отвечали заготовками.
func newGenerator(cfg *config.Config, logger *zap.Logger) conversation.Generator {
	if cfg.GenAIKey == "" {
		return nil
	}
	return genai.NewClient(cfg.GenAIBaseURL, cfg.GenAIKey, cfg.GenAIModel, logger)
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = lvl
	return zcfg.Build()
}
