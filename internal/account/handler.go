package account

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-chat-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-chat-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-chat-go/pkg/utilities"
)

const maxBodyBytes = 1 << 20

// Handler exposes HTTP endpoints for the verification lifecycle.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// SignupRequest request body for signup endpoint.
type SignupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignupResponse identifies the pending account.
type SignupResponse struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

// VerifyRequest carries the emailed code; older clients send it as "otp".
type VerifyRequest struct {
	Username string `json:"username"`
	Code     string `json:"code"`
	OTP      string `json:"otp"`
}

func (h *Handler) CheckUsername(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	if err := h.svc.CheckUsername(r.Context(), username); err != nil {
		h.fail(w, err)
		return
	}
	utilities.Respond(w, http.StatusOK, nil, "Username Available")
}

func (h *Handler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := decode(w, r, &req); err != nil {
		h.logger.Debugw("invalid signup payload", "err", err)
		utilities.Respond(w, http.StatusUnprocessableEntity, nil, "invalid payload")
		return
	}
	a, err := h.svc.SignUp(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		h.fail(w, err)
		return
	}
	utilities.Respond(w, http.StatusCreated, SignupResponse{Username: a.Username, Email: a.Email},
		"Account created successfully. An OTP has been sent to your email for verification.")
}

func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := decode(w, r, &req); err != nil {
		h.logger.Debugw("invalid verify payload", "err", err)
		utilities.Respond(w, http.StatusUnprocessableEntity, nil, "invalid payload")
		return
	}
	code := req.Code
	if code == "" {
		code = req.OTP
	}
	if err := h.svc.Verify(r.Context(), req.Username, code); err != nil {
		h.fail(w, err)
		return
	}
	utilities.Respond(w, http.StatusOK, nil, "User verified successfully!")
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	caller, _ := session.UsernameFromContext(r.Context())
	users, err := h.svc.ListUsers(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	h.logger.Debugw("listed users", "caller", caller, "count", len(users))
	utilities.Respond(w, http.StatusOK, users, "")
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Errorw("account request failed", "kind", apperr.KindOf(err).String(), "err", err)
	} else {
		h.logger.Debugw("account request rejected", "kind", apperr.KindOf(err).String(), "err", err)
	}
	utilities.Respond(w, status, nil, apperr.Message(err, http.StatusText(status)))
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}
