package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

var usernameRegex = regexp.MustCompile(`^[a-z0-9_.-]{3,32}$`)

const maxJSONBodyBytes = 1 << 20

// Machine-readable error kinds. Messages stay generic and non-enumerating;
// clients branch on the code only.
const (
	codeInvalidCredentials = "invalid_credentials"
	codePendingApproval    = "pending_approval"
	codeAccountDisabled    = "account_disabled"
	codeAccountExists      = "account_exists"
	codeAccountGone        = "account_gone"
	codeTokenMalformed     = "token_malformed"
	codeTokenExpired       = "token_expired"
	codeRefreshRevoked     = "refresh_revoked"
	codeInsufficientRole   = "insufficient_role"
	codeInvalidCSRF        = "invalid_csrf"
	codeUnauthenticated    = "unauthenticated"
	codeLoginLocked        = "login_locked"
	codeRateLimited        = "rate_limited"
	codeBadRequest         = "bad_request"
	codeInternal           = "internal_error"
)

type Handler struct {
	service *Service
	cookies CookieConfig
}

func NewHandler(service *Service, cookies CookieConfig) *Handler {
	return &Handler{service: service, cookies: cookies}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.Username = strings.TrimSpace(strings.ToLower(body.Username))
	if !usernameRegex.MatchString(body.Username) {
		writeError(w, http.StatusBadRequest, codeBadRequest, "username format is invalid")
		return
	}
	if len(body.Password) < 8 || len(body.Password) > 200 {
		writeError(w, http.StatusBadRequest, codeBadRequest, "password format is invalid")
		return
	}
	role, ok := ParseRole(strings.TrimSpace(strings.ToLower(body.Role)))
	if !ok || role == RoleAdmin {
		writeError(w, http.StatusBadRequest, codeBadRequest, "role is invalid")
		return
	}

	account, err := h.service.Register(r.Context(), body.Username, body.Password, role)
	if err != nil {
		if errors.Is(err, ErrAccountExists) {
			writeError(w, http.StatusConflict, codeAccountExists, "registration failed")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to register")
		return
	}

	writeJSON(w, http.StatusCreated, account)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.Username = strings.TrimSpace(body.Username)
	body.Password = strings.TrimSpace(body.Password)
	if body.Username == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "username and password are required")
		return
	}

	session, err := h.service.Login(r.Context(), body.Username, body.Password)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}

	h.writeSession(w, session)
}

// Refresh accepts the refresh credential from the session cookie or, for
// cookie-less clients, from the request body. Cookie wins when both exist.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	rawToken := ""
	if cookie, err := r.Cookie(refreshCookieName); err == nil {
		rawToken = strings.TrimSpace(cookie.Value)
	}
	if rawToken == "" {
		var body refreshRequest
		if !decodeJSON(w, r, &body) {
			return
		}
		rawToken = strings.TrimSpace(body.RefreshToken)
	}
	if rawToken == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "refresh token is required")
		return
	}

	session, err := h.service.Refresh(r.Context(), rawToken)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}

	h.writeSession(w, session)
}

// Logout runs behind the gate; it revokes every refresh credential for the
// authenticated subject and clears the cookie transport.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	account, ok := AccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthenticated, "authentication required")
		return
	}

	if err := h.service.Logout(r.Context(), account.ID); err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to logout")
		return
	}

	h.cookies.Clear(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	account, ok := AccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthenticated, "authentication required")
		return
	}

	writeJSON(w, http.StatusOK, account)
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "account id is required")
		return
	}

	if err := h.service.Approve(r.Context(), id); err != nil {
		if errors.Is(err, ErrAccountGone) {
			writeError(w, http.StatusNotFound, codeAccountGone, "account not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to approve account")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

func (h *Handler) writeSession(w http.ResponseWriter, session Session) {
	h.cookies.WriteSession(w, session, h.service.codec.AccessTTL(), h.service.codec.RefreshTTL())
	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, codeInvalidCredentials, "invalid credentials")
	case errors.Is(err, ErrPendingApproval):
		writeError(w, http.StatusForbidden, codePendingApproval, "account is not allowed to act")
	case errors.Is(err, ErrAccountDisabled):
		writeError(w, http.StatusForbidden, codeAccountDisabled, "account is not allowed to act")
	case errors.Is(err, ErrExpiredToken):
		writeError(w, http.StatusUnauthorized, codeTokenExpired, "invalid refresh token")
	case errors.Is(err, ErrMalformedToken):
		writeError(w, http.StatusUnauthorized, codeTokenMalformed, "invalid refresh token")
	case errors.Is(err, ErrRefreshReused):
		writeError(w, http.StatusUnauthorized, codeRefreshRevoked, "invalid refresh token")
	case errors.Is(err, ErrAccountGone):
		writeError(w, http.StatusUnauthorized, codeAccountGone, "invalid refresh token")
	default:
		var locked ErrLoginLocked
		if errors.As(err, &locked) {
			retryAfter := int(time.Until(locked.Until).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, codeLoginLocked, "login temporarily locked")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, codeInternal, "authentication failed")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}

func writeRoleError(w http.ResponseWriter, roleErr RoleError) {
	required := make([]string, 0, len(roleErr.Required))
	for _, role := range roleErr.Required {
		required = append(required, string(role))
	}

	writeJSON(w, http.StatusForbidden, map[string]any{
		"error":          "insufficient role",
		"code":           codeInsufficientRole,
		"required_roles": required,
		"actual_role":    string(roleErr.Actual),
	})
}
