package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"schoolbridge/internal/auth"
	"schoolbridge/internal/db"
	"schoolbridge/internal/maintenance"
	"schoolbridge/internal/observability"
	"schoolbridge/internal/student"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Close   func() error
}

// Build wires the whole application from the environment. Missing signing
// secrets or database URL abort startup; they are configuration errors, not
// runtime 500s.
func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	environment := envOrDefault("APP_ENV", "development")
	logger := observability.NewLogger(environment)

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	accessSecret, err := mustEnv("ACCESS_TOKEN_SECRET")
	if err != nil {
		return nil, err
	}
	refreshSecret, err := mustEnv("REFRESH_TOKEN_SECRET")
	if err != nil {
		return nil, err
	}
	if accessSecret == refreshSecret {
		return nil, fmt.Errorf("ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must differ")
	}
	accessTTL, err := mustEnvMinutes("ACCESS_TOKEN_TTL_MINUTES")
	if err != nil {
		return nil, err
	}
	refreshTTL, err := mustEnvHours("REFRESH_TOKEN_TTL_HOURS")
	if err != nil {
		return nil, err
	}

	if err := observability.InitSentry(os.Getenv("SENTRY_DSN"), environment); err != nil {
		logger.Error().Err(err).Msg("init_sentry_failed")
	}

	database, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(envIntOrDefault("DB_MAX_OPEN_CONNS", 10))
	database.SetMaxIdleConns(envIntOrDefault("DB_MAX_IDLE_CONNS", 5))
	database.SetConnMaxLifetime(envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30))
	database.SetConnMaxIdleTime(envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10))

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if options.RunMigrations {
		if err := db.RunMigrations(context.Background(), database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	codec := auth.NewTokenCodec(accessSecret, refreshSecret, accessTTL, refreshTTL)

	authRepo := auth.NewRepository(database)
	authService := auth.NewService(authRepo, codec)
	authService.WithLockoutConfig(
		envIntOrDefault("LOGIN_MAX_ATTEMPTS", 5),
		envMinutesOrDefault("LOGIN_LOCK_MINUTES", 15),
	)

	cookies := auth.CookieConfig{Secure: EnvBoolOrDefault("COOKIE_SECURE", environment != "development")}
	authHandler := auth.NewHandler(authService, cookies)
	gate := auth.NewGate(codec, authRepo)

	if err := authService.EnsureAdmin(context.Background(), os.Getenv("ADMIN_USERNAME"), os.Getenv("ADMIN_PASSWORD")); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("seed admin: %w", err)
	}

	cleanupHandler := maintenance.NewCleanupHandler(
		authRepo,
		logger,
		os.Getenv("CRON_SECRET"),
		envDaysOrDefault("AUTH_CREDENTIAL_RETENTION_DAYS", 14),
		envDaysOrDefault("AUTH_LOGIN_ATTEMPT_RETENTION_DAYS", 30),
		envIntOrDefault("AUTH_CLEANUP_BATCH_SIZE", 500),
	)

	studentRepo := student.NewRepository(database)
	studentHandler := student.NewHandler(studentRepo)

	throttle := auth.NewLoginThrottle(
		authRepo,
		envIntOrDefault("LOGIN_RATE_LIMIT_MAX", 10),
		envSecondsOrDefault("LOGIN_RATE_LIMIT_WINDOW_SECONDS", 60),
	)

	staffRoles := []auth.Role{auth.RoleTeacher, auth.RoleReception, auth.RoleAdmin, auth.RoleGovernment}
	recordWriters := []auth.Role{auth.RoleReception, auth.RoleAdmin}

	mux := http.NewServeMux()
	mux.Handle("POST /auth/register", throttle.Middleware(http.HandlerFunc(authHandler.Register)))
	mux.Handle("POST /auth/login", throttle.Middleware(http.HandlerFunc(authHandler.Login)))
	mux.Handle("POST /auth/refresh", auth.CSRFGuard(http.HandlerFunc(authHandler.Refresh)))
	mux.Handle("POST /auth/logout", auth.CSRFGuard(gate.Require(http.HandlerFunc(authHandler.Logout))))
	mux.Handle("GET /auth/me", gate.Require(http.HandlerFunc(authHandler.Me)))
	mux.Handle("POST /admin/accounts/{id}/approve", auth.CSRFGuard(gate.Require(http.HandlerFunc(authHandler.Approve), auth.RoleAdmin)))
	mux.Handle("GET /students", gate.Require(http.HandlerFunc(studentHandler.ListStudents), staffRoles...))
	mux.Handle("POST /students", auth.CSRFGuard(gate.Require(http.HandlerFunc(studentHandler.CreateStudent), recordWriters...)))
	mux.Handle("PUT /students/{id}", auth.CSRFGuard(gate.Require(http.HandlerFunc(studentHandler.UpdateStudent), recordWriters...)))
	mux.Handle("DELETE /students/{id}", auth.CSRFGuard(gate.Require(http.HandlerFunc(studentHandler.DeleteStudent), auth.RoleAdmin)))
	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(database))

	handler := observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, mux))

	return &Runtime{
		Handler: handler,
		Close: func() error {
			observability.FlushSentry()
			return database.Close()
		},
	}, nil
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func mustEnvInt(name string) (int, error) {
	value, err := mustEnv(name)
	if err != nil {
		return 0, err
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return 0, fmt.Errorf("env %s must be a positive integer", name)
	}
	return parsed, nil
}

func mustEnvMinutes(name string) (time.Duration, error) {
	parsed, err := mustEnvInt(name)
	if err != nil {
		return 0, err
	}
	return time.Duration(parsed) * time.Minute, nil
}

func mustEnvHours(name string) (time.Duration, error) {
	parsed, err := mustEnvInt(name)
	if err != nil {
		return 0, err
	}
	return time.Duration(parsed) * time.Hour, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envDaysOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * 24 * time.Hour
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
