package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func csrfRequest(method, token, header string) *http.Request {
	req := httptest.NewRequest(method, "/students", strings.NewReader("{}"))
	req.AddCookie(&http.Cookie{Name: accessCookieName, Value: "some-session"})
	if token != "" {
		req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: token})
	}
	if header != "" {
		req.Header.Set(csrfHeaderName, header)
	}
	return req
}

func TestCSRFGuardSymmetry(t *testing.T) {
	guard := CSRFGuard(okHandler())

	cases := []struct {
		name   string
		cookie string
		header string
		status int
	}{
		{"matching values pass", "tok-1", "tok-1", http.StatusOK},
		{"mismatch rejected", "tok-1", "tok-2", http.StatusForbidden},
		{"empty header rejected", "tok-1", "", http.StatusForbidden},
		{"missing cookie rejected", "", "tok-1", http.StatusForbidden},
		{"both missing rejected", "", "", http.StatusForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := httptest.NewRecorder()
			guard.ServeHTTP(res, csrfRequest(http.MethodPost, tc.cookie, tc.header))
			require.Equal(t, tc.status, res.Code)
			if tc.status == http.StatusForbidden {
				require.Equal(t, codeInvalidCSRF, decodeBody(t, res)["code"])
			}
		})
	}
}

func TestCSRFGuardIgnoresReadMethods(t *testing.T) {
	guard := CSRFGuard(okHandler())

	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		res := httptest.NewRecorder()
		guard.ServeHTTP(res, csrfRequest(method, "", ""))
		require.Equal(t, http.StatusOK, res.Code, method)
	}
}

func TestCSRFGuardExemptsBearerOnlyRequests(t *testing.T) {
	guard := CSRFGuard(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/students", strings.NewReader("{}"))
	req.Header.Set("Authorization", "Bearer some-access-token")
	res := httptest.NewRecorder()
	guard.ServeHTTP(res, req)

	require.Equal(t, http.StatusOK, res.Code)
}

func TestCSRFGuardExemptsMultipartUploads(t *testing.T) {
	guard := CSRFGuard(okHandler())

	req := csrfRequest(http.MethodPost, "", "")
	req.Header.Set("Content-Type", "multipart/form-data; boundary=xyz")
	res := httptest.NewRecorder()
	guard.ServeHTTP(res, req)

	require.Equal(t, http.StatusOK, res.Code)
}

func TestCSRFGuardCoversRefreshCookie(t *testing.T) {
	guard := CSRFGuard(okHandler())

	// A request carrying only the refresh cookie is still cookie-based.
	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", strings.NewReader("{}"))
	req.AddCookie(&http.Cookie{Name: refreshCookieName, Value: "refresh-value"})
	res := httptest.NewRecorder()
	guard.ServeHTTP(res, req)
	require.Equal(t, http.StatusForbidden, res.Code)

	req = httptest.NewRequest(http.MethodPost, "/auth/refresh", strings.NewReader("{}"))
	req.AddCookie(&http.Cookie{Name: refreshCookieName, Value: "refresh-value"})
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "tok"})
	req.Header.Set(csrfHeaderName, "tok")
	res = httptest.NewRecorder()
	guard.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
}
