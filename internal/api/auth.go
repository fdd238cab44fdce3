package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// apiKeyHeader is accepted when no Authorization header is sent.
const apiKeyHeader = "X-API-Key"

var (
	errMissingAPIKey = errors.New("missing API key")
	errMalformedAuth = errors.New("invalid Authorization header format")
)

// ExtractAPIKey returns the key from an "Authorization: Bearer <key>" header,
// falling back to X-API-Key.
func ExtractAPIKey(r *http.Request) (string, error) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, key, ok := strings.Cut(auth, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return "", errMalformedAuth
		}
		if key = strings.TrimSpace(key); key == "" {
			return "", errMissingAPIKey
		}
		return key, nil
	}
	if key := strings.TrimSpace(r.Header.Get(apiKeyHeader)); key != "" {
		return key, nil
	}
	return "", errMissingAPIKey
}

// keyMatches compares in constant time. An empty configured key matches
// nothing.
func keyMatches(provided, configured string) bool {
	if provided == "" || configured == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(configured)) == 1
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, err := ExtractAPIKey(r)
		if err == nil && !keyMatches(key, s.config.APIKey) {
			err = errors.New("invalid API key")
		}
		if err != nil {
			s.logger.Warn("rejected unauthenticated request", "path", r.URL.Path, "remote", r.RemoteAddr, "reason", err)
			w.Header().Set("WWW-Authenticate", `Bearer realm="scorebridge"`)
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}
