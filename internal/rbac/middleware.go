package rbac

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
)

var defaultChecker = NewChecker(nil)

// guard lets the request through when allow reports true for the caller's
// role, otherwise it answers 403 naming what was needed.
func guard(need string, allow func(r *http.Request, role string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := RoleFromContext(r.Context())
			if !allow(r, role) {
				log.Printf("rbac: deny role=%q %s %s need=%s", role, r.Method, r.URL.Path, need)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "forbidden", "detail": "requires " + need})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Require enforces a single permission.
func Require(perm string) func(http.Handler) http.Handler {
	return guard(perm, func(_ *http.Request, role string) bool {
		return role != "" && defaultChecker.Has(role, perm)
	})
}

// RequireAny enforces that the role has at least one of the permissions.
func RequireAny(perms ...string) func(http.Handler) http.Handler {
	return guard(strings.Join(perms, "|"), func(_ *http.Request, role string) bool {
		return role != "" && defaultChecker.Any(role, perms...)
	})
}

// RequireOwnerOr admits the resource owner, or any role holding perm.
func RequireOwnerOr(perm string, isOwner func(r *http.Request) bool) func(http.Handler) http.Handler {
	return guard("owner|"+perm, func(r *http.Request, role string) bool {
		return isOwner(r) || (role != "" && defaultChecker.Has(role, perm))
	})
}
