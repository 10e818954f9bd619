package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/common-nighthawk/go-figure"
	_ "github.com/jackc/pgx/v5/stdlib"

	"schoolbridge/app"
	"schoolbridge/internal/observability"
)

func main() {
	figure.NewFigure("schoolbridge", "", true).Print()

	logger := observability.NewLogger(envOrDefault("APP_ENV", "development"))

	runtime, err := app.Build(app.Options{
		LoadDotEnv:    true,
		RunMigrations: true,
	})
	if err != nil {
		logger.Error().Err(err).Msg("bootstrap_failed")
		os.Exit(1)
	}
	defer runtime.Close()

	addr := fmt.Sprintf(":%s", envOrDefault("PORT", "8080"))
	server := &http.Server{
		Addr:              addr,
		Handler:           runtime.Handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info().Str("addr", addr).Msg("server_start")
	if err := server.ListenAndServe(); err != nil {
		logger.Error().Err(err).Msg("server_failed")
		os.Exit(1)
	}
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}
