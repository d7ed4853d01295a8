package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/micro-nova/lpaplayer/internal/models"
)

const (
	apiKeyHeader     = "X-Api-Key"
	apiKeyQueryParam = "api-key" // for EventSource clients, which cannot set headers
)

// Middleware returns an http.Handler middleware that enforces authentication.
// In open mode (no keys configured), all requests pass through.
// Otherwise the key is taken from the X-Api-Key header, a bearer token or
// the api-key query parameter.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.IsOpenMode() {
			next.ServeHTTP(w, r)
			return
		}

		if _, ok := s.Verify(requestKey(r)); ok {
			next.ServeHTTP(w, r)
			return
		}

		slog.Debug("auth: rejected request", "path", r.URL.Path, "remote", r.RemoteAddr)
		appErr := models.ErrUnauthorized("missing or invalid access key")
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("WWW-Authenticate", `Bearer realm="lpaplayer"`)
		w.WriteHeader(appErr.Status)
		_ = json.NewEncoder(w).Encode(appErr)
	})
}

func requestKey(r *http.Request) string {
	if key := r.Header.Get(apiKeyHeader); key != "" {
		return key
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return r.URL.Query().Get(apiKeyQueryParam)
}
