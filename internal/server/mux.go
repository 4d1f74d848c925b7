// Package server provides HTTP server construction for bucket-sync.
package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	MCPHandler     http.Handler
	MetricsHandler http.Handler
	// KeyHash is the bcrypt hash of the bearer key clients must present.
	KeyHash string
	Logger  *slog.Logger
}

// NewMux builds the HTTP mux with the MCP and metrics endpoints, both
// protected by bearer key middleware, plus an open health check.
func NewMux(cfg MuxConfig) *http.ServeMux {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	authMiddleware := Middleware(cfg.KeyHash, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	if cfg.MCPHandler != nil {
		mux.Handle("/mcp", authMiddleware(cfg.MCPHandler))
	}

	if cfg.MetricsHandler != nil {
		mux.Handle("/metrics", authMiddleware(cfg.MetricsHandler))
	}

	return mux
}

// Middleware returns HTTP middleware that checks the bearer key against a
// bcrypt hash. The digest of the last accepted key is remembered so a
// steady client does not pay the bcrypt cost on every request.
func Middleware(keyHash string, logger *slog.Logger) func(http.Handler) http.Handler {
	var (
		mu       sync.Mutex
		accepted []byte
	)

	verify := func(key string) bool {
		digest := sha256.Sum256([]byte(key))

		mu.Lock()
		known := accepted
		mu.Unlock()

		if known != nil && subtle.ConstantTimeCompare(known, digest[:]) == 1 {
			return true
		}

		if bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(key)) != nil {
			return false
		}

		mu.Lock()
		accepted = digest[:]
		mu.Unlock()

		return true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				logger.Debug("middleware: no bearer token",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("WWW-Authenticate", `Bearer realm="bucket-sync"`)
				w.WriteHeader(http.StatusUnauthorized)

				return
			}

			if !verify(strings.TrimPrefix(authHeader, "Bearer ")) {
				logger.Warn("middleware: invalid bearer key",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("WWW-Authenticate", `Bearer realm="bucket-sync", error="invalid_token"`)
				w.WriteHeader(http.StatusUnauthorized)

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
