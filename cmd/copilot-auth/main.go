package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"copilot-auth/internal/copilotauth"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (json or yaml)")
	printHeaders := flag.Bool("print-headers", false, "fetch Copilot headers once, print them as JSON and exit")
	flag.Parse()

	// Create a basic logger for early errors
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("init logger: %v", err))
	}
	defer logger.Sync()

	cfg, err := copilotauth.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	// Swap in the configured logger only once it exists, so the bootstrap logger can
	// still report the failure.
	configured, err := copilotauth.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Fatal("init logger with config", zap.Error(err))
	}
	logger = configured
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.String("listen", cfg.Listen),
		zap.String("log_level", cfg.LogLevel),
		zap.String("token_env", cfg.TokenEnv),
		zap.String("token_endpoint", cfg.TokenEndpoint),
		zap.String("api_base_url", cfg.APIBaseURL),
		zap.Duration("refresh_margin", cfg.RefreshMargin.Duration),
		zap.Int("users", len(cfg.Users)),
	)

	cache, err := copilotauth.NewHeaderCacheFromConfig(cfg, nil, logger.Named("copilot_headers"))
	if err != nil {
		logger.Fatal("init header cache", zap.Error(err))
	}

	if *printHeaders {
		if err := writeHeaders(context.Background(), cache, os.Stdout); err != nil {
			logger.Fatal("print headers", zap.Error(err))
		}
		return
	}

	service, err := copilotauth.NewService(cfg, cache, logger)
	if err != nil {
		logger.Fatal("init service", zap.Error(err))
	}

	server := &http.Server{
		Addr:    cfg.Listen,
		Handler: service,
	}

	logger.Info("starting http server", zap.String("listen", cfg.Listen))

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-serverErr:
		logger.Fatal("server error", zap.Error(err))
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown error", zap.Error(err))
	}
}
