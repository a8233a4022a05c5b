package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/skinbot/internal/domain"
)

// Auth requires apiKey on every path except the public ones. An empty apiKey
// disables the check.
func Auth(apiKey string, logger *slog.Logger, public ...string) func(http.Handler) http.Handler {
	open := make(map[string]struct{}, len(public))
	for _, p := range public {
		open[p] = struct{}{}
	}
	want := []byte(apiKey)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := open[r.URL.Path]; ok || apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			token, source := requestToken(r)
			switch {
			case token == "":
				deny(w, r, logger, "missing api key", source)
			case subtle.ConstantTimeCompare([]byte(token), want) != 1:
				deny(w, r, logger, "invalid api key", source)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// requestToken returns the presented key and where it came from. The query
// parameter is accepted only on the websocket upgrade, where browsers cannot
// set headers.
func requestToken(r *http.Request) (token, source string) {
	if scheme, rest, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(rest), "bearer"
	}
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key, "header"
	}
	if r.URL.Path == "/ws" {
		return r.URL.Query().Get("token"), "query"
	}
	return "", "none"
}

func deny(w http.ResponseWriter, r *http.Request, logger *slog.Logger, reason, source string) {
	if logger != nil {
		logger.WarnContext(r.Context(), "request rejected",
			slog.String("path", r.URL.Path),
			slog.String("reason", reason),
			slog.String("source", source),
			slog.String("remote", extractClientIP(r)),
		)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":  domain.ErrUnauthorized.Error(),
		"detail": reason,
	})
}
