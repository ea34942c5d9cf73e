package handlers

import (
	"net/http"

	"github.com/kvasirlabs/waitline/internal/apperr"
	"github.com/kvasirlabs/waitline/internal/catalog"
	"github.com/kvasirlabs/waitline/internal/identity"
	"github.com/kvasirlabs/waitline/pkg/logging"
)

// AuthHandler exposes register, login, logout, and push-token updates.
type AuthHandler struct {
	svc    *identity.Service
	users  catalog.Repository
	logger *logging.Logger
}

func NewAuthHandler(svc *identity.Service, users catalog.Repository, logger *logging.Logger) *AuthHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AuthHandler{svc: svc, users: users, logger: logger.Component("http.auth")}
}

// userView is the account shape returned to clients. The password hash
// never leaves the server.
type userView struct {
	ID                   string `json:"id"`
	Email                string `json:"email"`
	Role                 string `json:"role"`
	Gender               string `json:"gender"`
	ReceiveNotifications bool   `json:"receiveNotifications"`
}

func viewUser(u *catalog.User) userView {
	return userView{
		ID:                   u.ID,
		Email:                u.Email,
		Role:                 string(u.Role),
		Gender:               string(u.Gender),
		ReceiveNotifications: u.ReceiveNotifications,
	}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
	Gender   string `json:"gender"`
}

// Register handles POST /api/v1/auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if err := decodeStrict(r, &body); err != nil {
		respondErr(w, h.logger, err)
		return
	}
	result, err := h.svc.Register(r.Context(), body.Email, body.Password,
		identity.Role(body.Role), catalog.Gender(body.Gender))
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	respondToken(w, http.StatusCreated, "account created", viewUser(result.User), result.Token)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if err := decodeStrict(r, &body); err != nil {
		respondErr(w, h.logger, err)
		return
	}
	result, err := h.svc.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	respondToken(w, http.StatusOK, "logged in", viewUser(result.User), result.Token)
}

// Logout handles POST /api/v1/auth/logout. It revokes the session the
// presented token belongs to.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	jti, ok := identity.TokenIDFromContext(r.Context())
	if !ok {
		respondErr(w, h.logger, apperr.Unauthorized("authentication required"))
		return
	}
	if err := h.svc.Logout(r.Context(), jti); err != nil {
		respondErr(w, h.logger, err)
		return
	}
	respond(w, http.StatusOK, "logged out", nil)
}

type pushTokenRequest struct {
	PushToken            string `json:"pushToken"`
	ReceiveNotifications bool   `json:"receiveNotifications"`
}

// PushToken handles POST /api/v1/auth/push-token.
func (h *AuthHandler) PushToken(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	var body pushTokenRequest
	if err := decodeStrict(r, &body); err != nil {
		respondErr(w, h.logger, err)
		return
	}
	if err := h.users.SetPushToken(r.Context(), p.ID, body.PushToken, body.ReceiveNotifications); err != nil {
		respondErr(w, h.logger, err)
		return
	}
	respond(w, http.StatusOK, "notification settings updated", nil)
}
