package handler

import (
	"net/http"

	"triptrack/internal/model"
	"triptrack/internal/service"
)

// AuthHandler handles auth endpoints
type AuthHandler struct {
	*Responder
	authSvc *service.AuthService
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(rs *Responder, authSvc *service.AuthService) *AuthHandler {
	return &AuthHandler{Responder: rs, authSvc: authSvc}
}

// SendCode handles POST /v1/auth/send-code
// @Summary Send a one-time login code
// @Description Stores a 6-digit code for the email and queues it for delivery. In development the code is returned in the body.
// @Tags auth
// @Accept json
// @Produce json
// @Param body body model.SendCodeRequest true "email"
// @Success 202 {object} model.SendCodeResponse
// @Failure 400 {object} ErrorResponse
// @Router /auth/send-code [post]
func (h *AuthHandler) SendCode(w http.ResponseWriter, r *http.Request) {
	var req model.SendCodeRequest
	if err := h.decode(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}

	resp, err := h.authSvc.SendCode(r.Context(), req)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// VerifyCode handles POST /v1/auth/verify-code
// @Summary Log in with a login code
// @Description Spends the code, gets or creates the user by email and issues an access token
// @Tags auth
// @Accept json
// @Produce json
// @Param body body model.VerifyCodeRequest true "email and code"
// @Success 200 {object} model.LoginResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/verify-code [post]
func (h *AuthHandler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	var req model.VerifyCodeRequest
	if err := h.decode(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}

	resp, err := h.authSvc.VerifyCode(r.Context(), req)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	setTokenCookie(w, resp.Token)
	writeJSON(w, http.StatusOK, resp)
}

// Guest handles POST /v1/auth/guest
// @Summary Issue a guest token
// @Tags auth
// @Accept json
// @Produce json
// @Param body body model.GuestRequest true "guest name"
// @Success 200 {object} model.LoginResponse
// @Failure 400 {object} ErrorResponse
// @Router /auth/guest [post]
func (h *AuthHandler) Guest(w http.ResponseWriter, r *http.Request) {
	var req model.GuestRequest
	if err := h.decode(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}

	resp, err := h.authSvc.Guest(req)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	setTokenCookie(w, resp.Token)
	writeJSON(w, http.StatusOK, resp)
}

// Me handles GET /v1/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identity(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ident)
}

func setTokenCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     "accessToken",
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
