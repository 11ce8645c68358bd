package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"apicatalog.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/info",
	"/v1/session/refresh",
}

var publicPrefixes = []string{
	"/v1/reference/",
}

// withAuth resolves the bearer token into a principal. A request without
// credentials continues anonymously and the operation decides whether that is
// enough; a credential that fails to resolve is rejected unless the path is
// public.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a.resolver == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		header := strings.TrimSpace(r.Header.Get(authHeader))
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		public := isPublicPath(r.URL.Path)

		token, err := extractBearerToken(header)
		if err != nil {
			if public {
				next.ServeHTTP(w, r)
				return
			}
			unauthorized(w, r, err.Error())
			return
		}
		principal, err := a.resolver.Resolve(token)
		if err != nil {
			if public {
				next.ServeHTTP(w, r)
				return
			}
			msg := "invalid token"
			if errors.Is(err, auth.ErrTokenExpired) {
				msg = "token expired"
			}
			unauthorized(w, r, msg)
			return
		}

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="portal"`)
	writeError(w, r, http.StatusUnauthorized, msg)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
