package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func decodeBody(t *testing.T, res *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	return body
}

func issueAccessFor(t *testing.T, codec *TokenCodec, accountID string) string {
	t.Helper()
	raw, err := codec.IssueAccess(accountID)
	require.NoError(t, err)
	return raw
}

func TestGateRejectsMissingCredentials(t *testing.T) {
	gate := NewGate(newTestCodec(), newMemStore())
	handler := gate.Require(okHandler())

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/protected", nil))

	require.Equal(t, http.StatusUnauthorized, res.Code)
	require.Equal(t, codeUnauthenticated, decodeBody(t, res)["code"])
}

func TestGateDistinguishesExpiredFromMalformed(t *testing.T) {
	store := newMemStore()
	account := store.addAccount(t, "teacher.park", RoleTeacher, true, true)
	codec := newTestCodec()
	gate := NewGate(codec, store)
	handler := gate.Require(okHandler())

	raw := issueAccessFor(t, codec, account.ID)
	codec.now = func() time.Time { return time.Now().UTC().Add(16 * time.Minute) }

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusUnauthorized, res.Code)
	require.Equal(t, codeTokenExpired, decodeBody(t, res)["code"])

	codec.now = func() time.Time { return time.Now().UTC() }
	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusUnauthorized, res.Code)
	require.Equal(t, codeTokenMalformed, decodeBody(t, res)["code"])
}

func TestGateReportsAccountGone(t *testing.T) {
	store := newMemStore()
	account := store.addAccount(t, "teacher.park", RoleTeacher, true, true)
	codec := newTestCodec()
	gate := NewGate(codec, store)
	handler := gate.Require(okHandler())

	raw := issueAccessFor(t, codec, account.ID)
	store.removeAccount(account.ID)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	require.Equal(t, http.StatusUnauthorized, res.Code)
	require.Equal(t, codeAccountGone, decodeBody(t, res)["code"])
}

func TestGateEnforcesAccountState(t *testing.T) {
	store := newMemStore()
	pending := store.addAccount(t, "teacher.park", RoleTeacher, true, false)
	disabled := store.addAccount(t, "parent.lee", RoleParent, false, true)
	codec := newTestCodec()
	gate := NewGate(codec, store)
	handler := gate.Require(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+issueAccessFor(t, codec, pending.ID))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusForbidden, res.Code)
	require.Equal(t, codePendingApproval, decodeBody(t, res)["code"])

	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+issueAccessFor(t, codec, disabled.ID))
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusForbidden, res.Code)
	require.Equal(t, codeAccountDisabled, decodeBody(t, res)["code"])
}

// Every role against every allow-set: access granted iff the role is a member.
func TestRoleGateIsTotal(t *testing.T) {
	allowSets := [][]Role{
		{RoleAdmin},
		{RoleReception, RoleAdmin},
		{RoleTeacher, RoleReception, RoleAdmin, RoleGovernment},
		{RoleParent},
		{RoleBusiness, RoleGovernment},
	}

	for _, allowed := range allowSets {
		for _, role := range AllRoles {
			store := newMemStore()
			account := store.addAccount(t, "user.one", role, true, true)
			codec := newTestCodec()
			gate := NewGate(codec, store)
			handler := gate.Require(okHandler(), allowed...)

			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			req.Header.Set("Authorization", "Bearer "+issueAccessFor(t, codec, account.ID))
			res := httptest.NewRecorder()
			handler.ServeHTTP(res, req)

			if roleAllowed(role, allowed) {
				require.Equal(t, http.StatusOK, res.Code, "role %s should pass allow-set %v", role, allowed)
			} else {
				require.Equal(t, http.StatusForbidden, res.Code, "role %s should fail allow-set %v", role, allowed)
				require.Equal(t, codeInsufficientRole, decodeBody(t, res)["code"])
			}
		}
	}
}

func TestRoleDenialNamesRequiredAndActual(t *testing.T) {
	store := newMemStore()
	account := store.addAccount(t, "teacher.park", RoleTeacher, true, true)
	codec := newTestCodec()
	gate := NewGate(codec, store)
	handler := gate.Require(okHandler(), RoleAdmin)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+issueAccessFor(t, codec, account.ID))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	require.Equal(t, http.StatusForbidden, res.Code)
	body := decodeBody(t, res)
	require.Equal(t, codeInsufficientRole, body["code"])
	require.Equal(t, []any{"admin"}, body["required_roles"])
	require.Equal(t, "teacher", body["actual_role"])
}

func TestExtractionPrefersCookieOverBearer(t *testing.T) {
	store := newMemStore()
	account := store.addAccount(t, "teacher.park", RoleTeacher, true, true)
	codec := newTestCodec()
	gate := NewGate(codec, store)

	var gotSource CredentialSource
	var gotAccount Account
	handler := gate.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccount, _ = AccountFromContext(r.Context())
		gotSource, _ = SourceFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(&http.Cookie{Name: accessCookieName, Value: issueAccessFor(t, codec, account.ID)})
	req.Header.Set("Authorization", "Bearer not-even-a-token")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, SourceCookie, gotSource)
	require.Equal(t, account.ID, gotAccount.ID)
}

func TestBearerWorksWithoutCookies(t *testing.T) {
	store := newMemStore()
	account := store.addAccount(t, "gov.choi", RoleGovernment, true, true)
	codec := newTestCodec()
	gate := NewGate(codec, store)

	var gotSource CredentialSource
	handler := gate.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSource, _ = SourceFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+issueAccessFor(t, codec, account.ID))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, SourceBearer, gotSource)
}
