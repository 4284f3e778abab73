package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecker(t *testing.T) {
	c := NewChecker(map[string][]string{
		"student": {"grades:view-own"},
		"grader":  {"grades:*"},
		"admin":   {"*"},
	})

	assert.True(t, c.Has("student", "grades:view-own"))
	assert.False(t, c.Has("student", "grades:view-all"))
	assert.True(t, c.Has("grader", "grades:record"))
	assert.False(t, c.Has("grader", "gradebook:export"))
	assert.True(t, c.Has("admin", "gradebook:export"))
	assert.False(t, c.Has("nobody", "grades:view-own"))

	assert.True(t, c.Any("student", "grades:view-all", "grades:view-own"))
	assert.False(t, c.All("student", "grades:view-all", "grades:view-own"))
	assert.True(t, c.All("grader", "grades:view-all", "grades:view-own"))
}

func TestDefaultPolicy(t *testing.T) {
	c := NewChecker(nil)
	assert.True(t, c.Has("teacher", "grades:record"))
	assert.True(t, c.Has("teacher", "opportunity:manage"))
	assert.False(t, c.Has("student", "grades:record"))
	assert.False(t, c.Has("student", "gradebook:export"))
}

func serve(h http.Handler, role string) int {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if role != "" {
		req = req.WithContext(WithRole(req.Context(), role))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestRequireMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	h := Require("grades:record")(ok)
	assert.Equal(t, http.StatusOK, serve(h, "teacher"))
	assert.Equal(t, http.StatusForbidden, serve(h, "student"))
	assert.Equal(t, http.StatusForbidden, serve(h, ""))

	h = RequireAny("grades:view-own", "grades:view-all")(ok)
	assert.Equal(t, http.StatusOK, serve(h, "student"))

	owner := false
	h = RequireOwnerOr("grades:view-all", func(*http.Request) bool { return owner })(ok)
	assert.Equal(t, http.StatusForbidden, serve(h, "student"))
	owner = true
	assert.Equal(t, http.StatusOK, serve(h, "student"))
	owner = false
	assert.Equal(t, http.StatusOK, serve(h, "teacher"))
}

func TestForbiddenBodyNamesPermission(t *testing.T) {
	h := Require("gradebook:export")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/courses/c1/gradebook/export", nil)
	req = req.WithContext(WithRole(req.Context(), "student"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"forbidden","detail":"requires gradebook:export"}`, rec.Body.String())
}

func TestBareResourceGrant(t *testing.T) {
	c := NewChecker(map[string][]string{"ops": {"events"}})
	assert.True(t, c.Has("ops", "events:read"))
	assert.False(t, c.Has("ops", "grades:read"))
	assert.False(t, c.All("ops"))
}
