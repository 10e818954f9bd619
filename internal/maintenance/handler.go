package maintenance

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"schoolbridge/internal/auth"
)

// CleanupHandler purges stale auth rows (expired or long-revoked refresh
// credentials, old throttle entries). Driven by an external cron hitting the
// endpoint with a shared secret; disabled entirely when no secret is set.
type CleanupHandler struct {
	repo                  *auth.Repository
	logger                zerolog.Logger
	cronSecret            string
	credentialRetention   time.Duration
	loginAttemptRetention time.Duration
	batchSize             int
}

func NewCleanupHandler(
	repo *auth.Repository,
	logger zerolog.Logger,
	cronSecret string,
	credentialRetention time.Duration,
	loginAttemptRetention time.Duration,
	batchSize int,
) *CleanupHandler {
	return &CleanupHandler{
		repo:                  repo,
		logger:                logger,
		cronSecret:            strings.TrimSpace(cronSecret),
		credentialRetention:   credentialRetention,
		loginAttemptRetention: loginAttemptRetention,
		batchSize:             batchSize,
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) != h.cronSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	result, err := h.repo.CleanupStaleAuthData(r.Context(), h.credentialRetention, h.loginAttemptRetention, h.batchSize)
	if err != nil {
		h.logger.Error().Err(err).Msg("auth_cleanup_failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	h.logger.Info().
		Int64("deleted_refresh_credentials", result.DeletedRefreshCredentials).
		Int64("deleted_login_attempts", result.DeletedLoginAttempts).
		Int64("deleted_ip_limits", result.DeletedIPLimits).
		Msg("auth_cleanup_completed")

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": result,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
