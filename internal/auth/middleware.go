package auth

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
)

type Mode string

const (
	ModeNone   Mode = "none"
	ModeBearer Mode = "bearer"
	ModeJWT    Mode = "jwt"
)

// Info is the authenticated caller identity carried on the request
// context. Token is the raw credential and doubles as the rate-limit key.
type Info struct {
	Mode      Mode
	Project   string
	Agent     string
	Token     string
	Localhost bool
}

type contextKey struct{}

func FromContext(ctx context.Context) (Info, bool) {
	v, ok := ctx.Value(contextKey{}).(Info)
	return v, ok
}

// WithInfo returns a context carrying the caller identity. Middleware
// uses it to hand the authenticated identity to downstream handlers.
func WithInfo(ctx context.Context, info Info) context.Context {
	return context.WithValue(ctx, contextKey{}, info)
}

// Middleware authenticates requests according to the configured mode.
// In bearer mode the keyring resolves tokens; in jwt mode tokens are
// HS256-verified against the verifier secret. Loopback requests may skip
// auth when the keyring policy allows it.
func Middleware(mode Mode, ring *Keyring, verifier *JWTVerifier) func(http.Handler) http.Handler {
	if ring == nil {
		ring = defaultKeyring()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if mode == ModeNone {
				next.ServeHTTP(w, r.WithContext(WithInfo(r.Context(), Info{Mode: ModeNone, Localhost: isLocalRequest(r)})))
				return
			}
			if ring.AllowLocalhostWithoutAuth && isLocalRequest(r) {
				next.ServeHTTP(w, r.WithContext(WithInfo(r.Context(), Info{Mode: mode, Localhost: true})))
				return
			}
			token, ok := bearerToken(r)
			if !ok {
				writeUnauthorized(w)
				return
			}
			var info Info
			switch mode {
			case ModeBearer:
				binding, ok := ring.Lookup(token)
				if !ok {
					writeUnauthorized(w)
					return
				}
				info = Info{Mode: ModeBearer, Project: binding.Project, Agent: binding.Agent, Token: token}
			case ModeJWT:
				claims, err := verifier.Verify(token)
				if err != nil {
					writeUnauthorized(w)
					return
				}
				info = Info{Mode: ModeJWT, Project: claims.Project, Agent: claims.Subject, Token: token}
			default:
				writeUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithInfo(r.Context(), info)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":    1003,
		"name":    "Unauthorized",
		"message": "missing or invalid credentials",
	})
}

func isLocalRequest(r *http.Request) bool {
	if ip := forwardedFor(r.Header.Get("X-Forwarded-For")); ip != "" {
		if parsed := net.ParseIP(ip); parsed != nil {
			return parsed.IsLoopback()
		}
		if strings.EqualFold(ip, "localhost") {
			return true
		}
	}
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = h
	}
	host = strings.TrimSpace(host)
	if host == "" {
		// unix socket connections have no remote address
		return true
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	parsed := net.ParseIP(host)
	return parsed != nil && parsed.IsLoopback()
}

func forwardedFor(v string) string {
	if v == "" {
		return ""
	}
	parts := strings.Split(v, ",")
	return strings.TrimSpace(parts[0])
}
