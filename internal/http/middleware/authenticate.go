package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"memberauth/internal/http/response"
	"memberauth/internal/lib/logger/sl"
	"memberauth/internal/services/authn"
)

type Authenticator interface {
	Authenticate(ctx context.Context, header string) (*authn.Principal, error)
}

var publicPaths = map[string]bool{
	"/api/auth/login":        true,
	"/api/auth/reissue":      true,
	"/api/auth/logout":       true,
	"/api/auth/email":        true,
	"/api/auth/email/verify": true,
	"/api/member/signup":     true,
	"/health":                true,
	"/metrics":               true,
}

var publicPrefixes = []string{
	"/docs/",
	"/swagger/",
}

// IsPublic reports whether path skips access token checks.
func IsPublic(path string) bool {
	if publicPaths[path] {
		return true
	}
	for _, p := range publicPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Authenticate resolves the bearer token of every non-public request into a
// principal on the request context. Requests without a bearer token go
// through anonymously; RequirePrincipal guards the routes that need one.
func Authenticate(logger *slog.Logger, a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions || IsPublic(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			p, err := a.Authenticate(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				if code, ok := authn.Code(err); ok {
					response.Unauthorized(w, code)
					return
				}
				logger.Error("failed to authenticate request",
					slog.String("path", r.URL.Path),
					sl.Err(err),
				)
				response.Internal(w)
				return
			}

			if p != nil {
				r = r.WithContext(authn.WithPrincipal(r.Context(), p))
			}
			next.ServeHTTP(w, r)
		}

		return http.HandlerFunc(fn)
	}
}

func RequirePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := authn.PrincipalFromContext(r.Context()); !ok {
			response.Unauthorized(w, response.CodeUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
