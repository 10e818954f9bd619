package auth

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"
)

type contextKey string

const (
	contextKeyAccount contextKey = "auth.account"
	contextKeySource  contextKey = "auth.source"
)

// CredentialSource tags how the request authenticated. The CSRF guard only
// applies to cookie-carried sessions.
type CredentialSource string

const (
	SourceCookie CredentialSource = "cookie"
	SourceBearer CredentialSource = "bearer"
)

// extractor is one strategy for pulling an access token out of a request.
// Strategies are tried in a fixed order; the first hit wins.
type extractor func(r *http.Request) (string, CredentialSource, bool)

func cookieExtractor(r *http.Request) (string, CredentialSource, bool) {
	cookie, err := r.Cookie(accessCookieName)
	if err != nil || strings.TrimSpace(cookie.Value) == "" {
		return "", "", false
	}
	return cookie.Value, SourceCookie, true
}

func bearerExtractor(r *http.Request) (string, CredentialSource, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", "", false
	}
	return token, SourceBearer, true
}

var extractors = []extractor{cookieExtractor, bearerExtractor}

// AccountSource loads the current account state for a verified subject.
type AccountSource interface {
	FindAccountByID(ctx context.Context, id string) (Account, error)
}

// Gate authenticates requests and enforces role and account-state predicates
// before the protected handler runs. Instances are plain values wired at
// bootstrap; nothing here is process-global.
type Gate struct {
	codec    *TokenCodec
	accounts AccountSource
}

func NewGate(codec *TokenCodec, accounts AccountSource) *Gate {
	return &Gate{codec: codec, accounts: accounts}
}

// Require wraps next so it only runs for a verified, active account whose
// role is in the allow-set. An empty allow-set admits every role.
func (g *Gate) Require(next http.Handler, allowed ...Role) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var (
			rawToken string
			source   CredentialSource
			found    bool
		)
		for _, extract := range extractors {
			if rawToken, source, found = extract(r); found {
				break
			}
		}
		if !found {
			writeError(w, http.StatusUnauthorized, codeUnauthenticated, "authentication required")
			return
		}

		claims, err := g.codec.VerifyAccess(rawToken)
		if err != nil {
			if errors.Is(err, ErrExpiredToken) {
				writeError(w, http.StatusUnauthorized, codeTokenExpired, "authentication required")
				return
			}
			writeError(w, http.StatusUnauthorized, codeTokenMalformed, "authentication required")
			return
		}

		account, err := g.accounts.FindAccountByID(r.Context(), claims.Subject)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				writeError(w, http.StatusUnauthorized, codeAccountGone, "authentication required")
				return
			}
			// Store failure on a verify path fails closed.
			sentry.CaptureException(err)
			writeError(w, http.StatusUnauthorized, codeUnauthenticated, "authentication required")
			return
		}

		switch accountStateError(account) {
		case nil:
		case ErrAccountDisabled:
			writeError(w, http.StatusForbidden, codeAccountDisabled, "account is not allowed to act")
			return
		default:
			writeError(w, http.StatusForbidden, codePendingApproval, "account is not allowed to act")
			return
		}

		if len(allowed) > 0 && !roleAllowed(account.Role, allowed) {
			writeRoleError(w, RoleError{Required: allowed, Actual: account.Role})
			return
		}

		ctx := context.WithValue(r.Context(), contextKeyAccount, account)
		ctx = context.WithValue(ctx, contextKeySource, source)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func roleAllowed(role Role, allowed []Role) bool {
	for _, candidate := range allowed {
		if role == candidate {
			return true
		}
	}
	return false
}

// AccountFromContext returns the account the gate loaded for this request.
func AccountFromContext(ctx context.Context) (Account, bool) {
	account, ok := ctx.Value(contextKeyAccount).(Account)
	return account, ok
}

// SourceFromContext returns how the request's credential was transported.
func SourceFromContext(ctx context.Context) (CredentialSource, bool) {
	source, ok := ctx.Value(contextKeySource).(CredentialSource)
	return source, ok
}
