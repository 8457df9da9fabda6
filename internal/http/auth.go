package httpx

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"
)

type authContextKey string

const contextKeyCaller authContextKey = "build-hook-caller"

// tokenAuth checks bearer tokens against a static allow-list. Callers are identified
// by the position of their token so the token itself never reaches logs.
type tokenAuth struct {
	tokens [][]byte
}

func newTokenAuth(tokens []string) *tokenAuth {
	a := &tokenAuth{}
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			a.tokens = append(a.tokens, []byte(t))
		}
	}
	return a
}

// authorize returns the caller identity for token. Every entry is compared so the
// time taken does not depend on which one matches.
func (a *tokenAuth) authorize(token string) (string, bool) {
	candidate := []byte(token)
	match := -1
	for i, t := range a.tokens {
		if subtle.ConstantTimeCompare(candidate, t) == 1 && match < 0 {
			match = i
		}
	}
	if match < 0 {
		return "", false
	}
	return "token-" + strconv.Itoa(match+1), true
}

// requireAuth ensures the request has a valid bearer token before invoking the handler.
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		token, err := bearerToken(req.Header.Get("Authorization"))
		if err != nil {
			r.logger.Warn("authorization header invalid", "error", err, "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		caller, ok := r.auth.authorize(token)
		if !ok {
			r.logger.Warn("token validation failed", "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "authentication failed")
			return
		}
		ctx := context.WithValue(req.Context(), contextKeyCaller, caller)
		next(w, req.WithContext(ctx))
	}
}

// callerFromContext returns the identity stored by requireAuth.
func callerFromContext(ctx context.Context) (string, bool) {
	caller, ok := ctx.Value(contextKeyCaller).(string)
	return caller, ok
}

func bearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("empty bearer token")
	}
	return token, nil
}
