// Package middleware carries the HTTP-layer ambient concerns: bearer
// session auth and security headers. Adapted from the teacher's
// internal/middleware/auth.go (context-key injection pattern) and
// internal/security/headers.go (hardening header set), re-pointed at the
// opaque session tokens issued by internal/session instead of JWT claims.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/whisper2/broker/internal/apperror"
	"github.com/whisper2/broker/internal/session"
)

type contextKey string

const whisperIDKey contextKey = "whisper_id"

// BearerAuth validates the Authorization: Bearer <sessionToken> header
// against the Session Manager and injects the resolved whisperId into the
// request context.
func BearerAuth(mgr *session.Manager, skip func(*http.Request) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip != nil && skip(r) {
				next.ServeHTTP(w, r)
				return
			}
			header := r.Header.Get("Authorization")
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeAuthError(w, apperror.New(apperror.AuthFailed, "missing bearer token"))
				return
			}
			sess, err := mgr.Authenticate(parts[1])
			if err != nil {
				writeAuthError(w, apperror.As(err))
				return
			}
			ctx := context.WithValue(r.Context(), whisperIDKey, sess.WhisperID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func WhisperIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(whisperIDKey).(string)
	return v, ok
}

func writeAuthError(w http.ResponseWriter, e *apperror.Error) {
	w.WriteHeader(e.Code.HTTPStatus())
	_, _ = w.Write([]byte(`{"code":"` + string(e.Code) + `","message":"` + e.Message + `"}`))
}
