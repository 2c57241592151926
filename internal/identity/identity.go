// Package identity resolves trip callers from bearer credentials.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/ashureev/tripsitter/internal/domain"
)

// KeyPrefix marks tripsitter agent credentials.
const KeyPrefix = "psy_"

type contextKey int

const callerKey contextKey = iota

var (
	// ErrInvalidKey is returned for a credential that is malformed or unknown.
	ErrInvalidKey = errors.New("invalid api key")

	keyPattern = regexp.MustCompile(`^psy_[a-f0-9]{32}$`)
)

// AgentLookup finds an agent by credential. It returns (nil, nil) when absent.
type AgentLookup interface {
	GetAgentByKey(ctx context.Context, key string) (*domain.Agent, error)
}

// GenerateKey returns a new random credential.
func GenerateKey() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return KeyPrefix + hex.EncodeToString(buf), nil
}

// IsValidKey reports whether key has the credential format.
func IsValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

// BearerToken returns the token from "Authorization: Bearer <token>", or "".
func BearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Resolve maps a credential to an agent caller.
func Resolve(ctx context.Context, repo AgentLookup, key string) (domain.Caller, error) {
	if !IsValidKey(key) {
		return domain.Caller{}, ErrInvalidKey
	}
	agent, err := repo.GetAgentByKey(ctx, key)
	if err != nil {
		return domain.Caller{}, fmt.Errorf("lookup agent: %w", err)
	}
	if agent == nil {
		return domain.Caller{}, ErrInvalidKey
	}
	return domain.Caller{Kind: domain.CallerAgent, AgentID: agent.ID, AgentName: agent.Name}, nil
}

// WithCaller stores c in ctx.
func WithCaller(ctx context.Context, c domain.Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// CallerFromContext extracts the caller, defaulting to the demo caller.
func CallerFromContext(ctx context.Context) domain.Caller {
	if c, ok := ctx.Value(callerKey).(domain.Caller); ok {
		return c
	}
	return domain.DemoCaller()
}

// Middleware resolves the caller from the Authorization header. Requests
// without one proceed as the demo caller; a bad credential is rejected.
func Middleware(repo AgentLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), domain.DemoCaller())))
				return
			}

			caller, err := Resolve(r.Context(), repo, BearerToken(r))
			if errors.Is(err, ErrInvalidKey) {
				writeError(w, http.StatusUnauthorized, "invalid api key")
				return
			}
			if err != nil {
				slog.Error("Failed to resolve caller", "error", err)
				writeError(w, http.StatusInternalServerError, "failed to resolve caller")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

// RequireAgent rejects requests whose caller is not a registered agent.
func RequireAgent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !CallerFromContext(r.Context()).IsAgent() {
			w.Header().Set("WWW-Authenticate", `Bearer realm="tripsitter"`)
			writeError(w, http.StatusUnauthorized, "api key required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q}`, msg)
}

// IPFromRequest returns a normalized remote IP.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
