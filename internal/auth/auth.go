package auth

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"steamshots/internal/config"
	"steamshots/internal/metrics"
)

type ctxKey string

const userKey ctxKey = "steamshots.user"

func UserFromContext(ctx context.Context) string {
	v, _ := ctx.Value(userKey).(string)
	return v
}

func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey, user)
}

func HasAuth(cfg config.AuthConfig) bool {
	return len(cfg.Users) > 0 || len(cfg.Tokens) > 0
}

// RequireAuth wraps a handler with optional Basic or Bearer auth.
// - If no users or tokens are configured: allow all.
// - Else:
//   - if cfg.Optional is false: require valid credentials
//   - if cfg.Optional is true: allow anonymous; validate creds if present
//
// Paths listed in open (e.g. "/healthz") always pass.
func RequireAuth(cfg config.AuthConfig, next http.Handler, open ...string) http.Handler {
	if !HasAuth(cfg) {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, p := range open {
			if r.URL.Path == p {
				next.ServeHTTP(w, r)
				return
			}
		}
		h := r.Header.Get("Authorization")
		if cfg.Optional && h == "" {
			next.ServeHTTP(w, r)
			return
		}
		user, ok := authenticate(cfg, h)
		metrics.RecordAuthAttempt(ok)
		if !ok {
			deny(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

func authenticate(cfg config.AuthConfig, header string) (string, bool) {
	if tok, ok := parseBearer(header); ok {
		return lookupToken(cfg.Tokens, tok)
	}
	u, p, ok := parseBasicAuth(header)
	if !ok {
		return "", false
	}
	user, ok := cfg.Users[u]
	if !ok {
		return "", false
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Bcrypt), []byte(p)); err != nil {
		return "", false
	}
	return u, true
}

func lookupToken(tokens map[string]string, tok string) (string, bool) {
	var found string
	for t, user := range tokens {
		if subtle.ConstantTimeCompare([]byte(t), []byte(tok)) == 1 {
			found = user
		}
	}
	return found, found != ""
}

func deny(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="steamshots"`)
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func parseBearer(v string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(v, prefix) {
		return "", false
	}
	tok := strings.TrimSpace(strings.TrimPrefix(v, prefix))
	return tok, tok != ""
}

func parseBasicAuth(v string) (user, pass string, ok bool) {
	const prefix = "Basic "
	if !strings.HasPrefix(v, prefix) {
		return "", "", false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(strings.TrimPrefix(v, prefix)))
	if err != nil {
		return "", "", false
	}
	s := string(raw)
	i := strings.IndexByte(s, ':')
	if i < 0 {
		return "", "", false
	}
	u := s[:i]
	p := s[i+1:]
	if u == "" {
		return "", "", false
	}
	if strings.Contains(u, "\x00") || strings.Contains(p, "\x00") {
		return "", "", false
	}
	return u, p, true
}

// HashPassword returns a bcrypt hash for the config file.
func HashPassword(password string, cost int) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
