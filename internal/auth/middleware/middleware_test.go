package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/mindengage-grades/internal/rbac"
)

func login(t *testing.T, h http.Handler, body string) (*httptest.ResponseRecorder, map[string]string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body)))
	out := map[string]string{}
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestLoginHandler(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	a := NewAuthService("test-secret")
	h := LoginHandler(a, LoginOptions{AdminUser: "admin", AdminPassHash: string(hash), DevUsers: true})

	rec, out := login(t, h, `{"username":"admin","password":"s3cret"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "admin", out["role"])
	c, err := a.Parse(out["access_token"])
	require.NoError(t, err)
	assert.Equal(t, "admin", c.Sub)

	rec, _ = login(t, h, `{"username":"admin","password":"admin"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, out = login(t, h, `{"username":"s1","password":"s1","role":"student"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "student", out["role"])

	// dev users cannot claim admin
	rec, _ = login(t, h, `{"username":"x","password":"x","role":"admin"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = login(t, h, `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginHandler_DevUsersDisabled(t *testing.T) {
	h := LoginHandler(NewAuthService("k"), LoginOptions{})
	rec, _ := login(t, h, `{"username":"t1","password":"t1","role":"teacher"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJWTMiddleware(t *testing.T) {
	a := NewAuthService("test-secret")
	var sub, role string
	h := JWTMiddleware(a)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub = SubjectFromContext(r.Context())
		role = rbac.RoleFromContext(r.Context())
	}))

	tok, err := a.IssueJWT("t1", "teacher")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "t1", sub)
	assert.Equal(t, "teacher", role)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	other, err := NewAuthService("other-secret").IssueJWT("t1", "admin")
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+other)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestParse_Expired(t *testing.T) {
	a := NewAuthService("k")
	a.now = func() time.Time { return time.Now().Add(-9 * time.Hour) }
	tok, err := a.IssueJWT("s1", "student")
	require.NoError(t, err)
	a.now = time.Now
	_, err = a.Parse(tok)
	assert.Error(t, err)
}
