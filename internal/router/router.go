package router

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-chat-go/internal/account"
	"github.com/ovaphlow/pitchfork/service-chat-go/internal/chat"
	"github.com/ovaphlow/pitchfork/service-chat-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-chat-go/pkg/utilities"
)

const apiPrefix = "/api/v1"

// Deps holds the handlers mounted by RegisterRoutes. Every field is built
// once at process start.
type Deps struct {
	Logger         *zap.SugaredLogger
	Accounts       *account.Handler
	Sessions       *session.Handler
	SessionService *session.Service
	Cookies        session.Cookies
	Chat           *chat.Handler
	Metrics        http.Handler
	AllowedOrigins []string
}

// RegisterRoutes mounts the REST surface under /api/v1 plus the health,
// metrics and websocket endpoints on a stdlib ServeMux.
func RegisterRoutes(d Deps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics)
	}

	mux.HandleFunc("GET "+apiPrefix+"/{$}", healthChecked)
	mux.HandleFunc("GET "+apiPrefix+"/hs", healthChecked)

	mux.HandleFunc("GET "+apiPrefix+"/checkUsername", d.Accounts.CheckUsername)
	mux.HandleFunc("POST "+apiPrefix+"/signUp", d.Accounts.SignUp)
	mux.HandleFunc("POST "+apiPrefix+"/verify", d.Accounts.Verify)

	mux.HandleFunc("POST "+apiPrefix+"/login", d.Sessions.Login)
	mux.HandleFunc("GET "+apiPrefix+"/verifyToken", d.Sessions.VerifyToken)
	mux.HandleFunc("GET "+apiPrefix+"/verify_access_token", d.Sessions.VerifyToken)
	mux.HandleFunc("GET "+apiPrefix+"/logout", d.Sessions.Logout)

	requireSession := session.RequireSession(d.SessionService, d.Cookies, d.Logger)
	mux.Handle("GET "+apiPrefix+"/getUsers", requireSession(http.HandlerFunc(d.Accounts.ListUsers)))

	mux.HandleFunc("GET /ws", d.Chat.ServeWS)
	mux.HandleFunc("GET /ws/{clientID}", d.Chat.ServeWS)

	return LoggingMiddleware(d.Logger)(SecurityHeadersMiddleware()(CORSMiddleware(d.AllowedOrigins)(mux)))
}

func healthChecked(w http.ResponseWriter, _ *http.Request) {
	utilities.Respond(w, http.StatusOK, nil, "Health checked successfully")
}
