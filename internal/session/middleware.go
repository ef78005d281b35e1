package session

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-chat-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-chat-go/pkg/utilities"
)

type ctxKey struct{}

// WithUsername stores the authenticated username in ctx.
func WithUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, ctxKey{}, username)
}

// UsernameFromContext returns the username stored by RequireSession.
func UsernameFromContext(ctx context.Context) (string, bool) {
	u, ok := ctx.Value(ctxKey{}).(string)
	return u, ok && u != ""
}

// RequireSession rejects requests without a valid session token and passes
// the verified username downstream through the request context.
func RequireSession(svc *Service, cookies Cookies, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, err := svc.Verify(r.Context(), cookies.TokenFromRequest(r))
			if err != nil {
				status := VerifyStatus(err)
				if status < http.StatusInternalServerError {
					cookies.Clear(w)
				} else {
					logger.Errorw("session check failed", "path", r.URL.Path, "err", err)
				}
				utilities.Respond(w, status, nil, apperr.Message(err, "unauthorized"))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUsername(r.Context(), username)))
		})
	}
}
