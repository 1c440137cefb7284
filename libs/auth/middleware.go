package auth

import (
	"net/http"
	"strings"
)

// Identity headers set by RequireAuth for downstream handlers. Incoming values
// are always replaced so callers cannot spoof them.
const (
	HeaderBusinessID = "X-Business-Id"
	HeaderUserID     = "X-User-Id"
	HeaderRole       = "X-Role"
)

// RequireAuth verifies the bearer token and exposes its claims as identity headers.
func RequireAuth(next http.Handler, verifier *Verifier) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") || len(strings.TrimSpace(authHeader)) <= len("Bearer ") {
			http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		claims, err := verifier.Verify(token)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		if claims.BusinessID == "" {
			http.Error(w, "token has no business", http.StatusForbidden)
			return
		}

		r.Header.Del(HeaderUserID)
		r.Header.Del(HeaderBusinessID)
		r.Header.Del(HeaderRole)
		r.Header.Set(HeaderUserID, claims.Subject)
		r.Header.Set(HeaderBusinessID, claims.BusinessID)
		r.Header.Set(HeaderRole, claims.Role)
		next.ServeHTTP(w, r)
	})
}

func RequireRole(next http.Handler, roles ...string) http.Handler {
	allowed := map[string]struct{}{}
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role := r.Header.Get(HeaderRole)
		if _, ok := allowed[role]; !ok {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
