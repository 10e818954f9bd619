package auth

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

// ThrottleStore is the slice of the store the login throttle needs. Keeping
// the window state in the database means every worker shares one counter.
type ThrottleStore interface {
	AllowLoginIP(ctx context.Context, ip string, maxHits int, window time.Duration, now time.Time) (bool, time.Duration, error)
}

type LoginThrottle struct {
	store   ThrottleStore
	maxHits int
	window  time.Duration
}

func NewLoginThrottle(store ThrottleStore, maxHits int, window time.Duration) *LoginThrottle {
	if maxHits <= 0 {
		maxHits = 10
	}
	if window <= 0 {
		window = time.Minute
	}

	return &LoginThrottle{store: store, maxHits: maxHits, window: window}
}

func (t *LoginThrottle) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, retryAfter, err := t.store.AllowLoginIP(r.Context(), clientIP(r), t.maxHits, t.window, time.Now().UTC())
		if err != nil {
			// The per-username lockout still applies, so a throttle outage
			// degrades to slower protection instead of locked-out logins.
			sentry.CaptureException(err)
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			writeError(w, http.StatusTooManyRequests, codeRateLimited, "too many attempts")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	xForwardedFor := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if xForwardedFor != "" {
		parts := strings.Split(xForwardedFor, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}

	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}

	return "unknown"
}
