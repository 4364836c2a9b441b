package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/octobees/cardscan/api/internal/backend"
	"github.com/octobees/cardscan/api/internal/config"
	"github.com/octobees/cardscan/api/internal/database"
	"github.com/octobees/cardscan/api/internal/handler"
	middlewarepkg "github.com/octobees/cardscan/api/internal/middleware"
	"github.com/octobees/cardscan/api/internal/repository"
	"github.com/octobees/cardscan/api/internal/router"
	"github.com/octobees/cardscan/api/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := backend.NewClient(
		backend.NewHTTPClient(context.Background(), cfg.Backend.BaseURL, cfg.Backend.UseIDToken),
		cfg.Backend.BaseURL,
		backend.WithTimeouts(cfg.Backend.ListTimeout, cfg.Backend.WriteTimeout, cfg.Backend.UploadTimeout),
		backend.WithMaxRetries(cfg.Backend.MaxRetries),
		backend.WithLogger(logger.Named("backend")),
	)

	opts := []service.CardsOption{
		service.WithLogger(logger.Named("cards")),
		service.WithValidator(service.NewFieldValidator(cfg.PhoneRegion)),
		service.WithSaveConcurrency(cfg.SaveConcurrency),
	}
	if cfg.DatabaseURL != "" {
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to connect database", zap.Error(err))
		}
		defer pool.Close()

		runs := repository.NewPGXSaveRunsRepository(pool)
		if err := runs.EnsureSchema(ctx); err != nil {
			logger.Fatal("failed to prepare audit storage", zap.Error(err))
		}
		opts = append(opts, service.WithSaveRuns(runs))
	}
	cardsService := service.NewCardsService(client, opts...)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middlewarepkg.RequestID())
	e.Use(middlewarepkg.Logging(logger.Named("http")))
	e.Use(echoMiddleware.Recover())

	router.Register(e, cfg, router.Handlers{
		Cards:        handler.NewCardsHandler(cardsService),
		AuditEnabled: cardsService.AuditEnabled(),
	})

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("port", cfg.Port), zap.String("backend", cfg.Backend.BaseURL))
		serverErr <- e.Start(":" + cfg.Port)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
		return
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
