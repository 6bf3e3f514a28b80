package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/JonMunkholm/tidyimport/internal/logging"
)

// APIKeyAuth rejects requests without a valid X-API-Key header when required
// is true. With required false it is a no-op.
func APIKeyAuth(required bool, keys []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !required {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				logging.FromContext(r.Context()).Warn("auth: missing API key",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				denied(w, http.StatusUnauthorized, "missing API key", "AUTH001")
				return
			}

			if !isValidAPIKey(apiKey, keys) {
				logging.FromContext(r.Context()).Warn("auth: invalid API key",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				denied(w, http.StatusForbidden, "invalid API key", "AUTH002")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func denied(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   message,
		"message": message,
		"action":  "Send a configured key in the X-API-Key header",
		"code":    code,
	})
}

// isValidAPIKey compares key against every configured key in constant time.
func isValidAPIKey(key string, validKeys []string) bool {
	valid := 0
	for _, validKey := range validKeys {
		valid |= subtle.ConstantTimeCompare([]byte(key), []byte(validKey))
	}
	return valid == 1
}
