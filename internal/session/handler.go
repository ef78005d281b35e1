package session

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-chat-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-chat-go/pkg/utilities"
)

// Authenticator checks a password login and returns the canonical username.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (string, error)
}

// Handler exposes login, token verification and logout.
type Handler struct {
	svc     *Service
	auth    Authenticator
	cookies Cookies
	logger  *zap.SugaredLogger
}

func NewHandler(svc *Service, auth Authenticator, cookies Cookies, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, auth: auth, cookies: cookies, logger: logger}
}

// LoginRequest login payload.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is returned on a successful login.
type LoginResponse struct {
	AccessToken string `json:"accessToken"`
	Username    string `json:"username"`
}

// Login accepts JSON or a form-encoded body (OAuth2 password form).
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	req, err := readLogin(w, r)
	if err != nil {
		h.logger.Debugw("invalid login payload", "err", err)
		utilities.Respond(w, http.StatusUnprocessableEntity, nil, "invalid payload")
		return
	}
	username, err := h.auth.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		h.logger.Debugw("login failed", "username", req.Username, "err", err)
		status := apperr.HTTPStatus(err)
		if apperr.IsKind(err, apperr.InvalidCredential) {
			status = http.StatusUnauthorized
		}
		utilities.Respond(w, status, nil, apperr.Message(err, "login failed"))
		return
	}
	tok, err := h.svc.Issue(username)
	if err != nil {
		h.logger.Errorw("issue token failed", "username", username, "err", err)
		utilities.Respond(w, http.StatusInternalServerError, nil, "login failed")
		return
	}
	h.cookies.Set(w, tok)
	h.logger.Infow("user logged in", "username", username)
	utilities.Respond(w, http.StatusOK, LoginResponse{AccessToken: tok.Value, Username: username}, "user loggedIn successfully")
}

// VerifyToken answers with the token's username. Any failure clears the
// client-held cookie.
func (h *Handler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	username, err := h.svc.Verify(r.Context(), h.cookies.TokenFromRequest(r))
	if err != nil {
		h.reject(w, err)
		return
	}
	utilities.Respond(w, http.StatusOK, map[string]string{"username": username}, "")
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.cookies.Clear(w)
	utilities.Respond(w, http.StatusOK, nil, "Logged out successfully")
}

func (h *Handler) reject(w http.ResponseWriter, err error) {
	status := VerifyStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Errorw("token verification failed", "err", err)
	} else {
		h.cookies.Clear(w)
	}
	utilities.Respond(w, status, nil, apperr.Message(err, "unauthorized"))
}

// VerifyStatus maps token failures to 401 and leaves storage failures alone.
func VerifyStatus(err error) int {
	switch apperr.KindOf(err) {
	case apperr.Expired, apperr.Malformed, apperr.Unauthorized:
		return http.StatusUnauthorized
	default:
		return apperr.HTTPStatus(err)
	}
}

func readLogin(w http.ResponseWriter, r *http.Request) (LoginRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return LoginRequest{}, err
		}
		return LoginRequest{Username: r.PostForm.Get("username"), Password: r.PostForm.Get("password")}, nil
	}
	var req LoginRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	return req, err
}
