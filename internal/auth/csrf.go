package auth

import (
	"net/http"
	"strings"
)

// CSRFGuard is the double-submit check for state-changing requests that ride
// on session cookies. Validity is plain equality between the script-readable
// CSRF cookie and the echoed header; nothing is stored server-side.
//
// Bearer-only requests are exempt: a cross-site page cannot attach an
// Authorization header. Multipart uploads are exempt by deliberate carve-out.
func CSRFGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isStateChanging(r.Method) || !carriesSessionCookie(r) || isMultipart(r) {
			next.ServeHTTP(w, r)
			return
		}

		cookie, err := r.Cookie(csrfCookieName)
		if err != nil || strings.TrimSpace(cookie.Value) == "" {
			writeError(w, http.StatusForbidden, codeInvalidCSRF, "csrf validation failed")
			return
		}

		header := strings.TrimSpace(r.Header.Get(csrfHeaderName))
		if header == "" || header != cookie.Value {
			writeError(w, http.StatusForbidden, codeInvalidCSRF, "csrf validation failed")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func isStateChanging(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}

func carriesSessionCookie(r *http.Request) bool {
	for _, name := range []string{accessCookieName, refreshCookieName} {
		if cookie, err := r.Cookie(name); err == nil && strings.TrimSpace(cookie.Value) != "" {
			return true
		}
	}
	return false
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "multipart/")
}
