// cmd/api/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/roomwatch/internal/app"
	"github.com/briangreenhill/roomwatch/internal/config"
)

func main() {
	boot := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		boot.Fatal().Err(err).Msg("load config")
	}

	logger, err := app.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if err != nil {
		boot.Fatal().Err(err).Msg("build logger")
	}

	a, err := app.New(cfg, logger, app.Options{})
	if err != nil {
		logger.Fatal().Err(err).Msg("wire app")
	}
	defer a.Close()

	if err := a.Start(); err != nil {
		logger.Fatal().Err(err).Msg("start warm jobs")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.Server.Router,
		ReadHeaderTimeout: 10 * time.Second,
		// a cold snapshot waits for the slowest upstream
		WriteTimeout: cfg.PopulateTimeout + 15*time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("starting api")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
}
