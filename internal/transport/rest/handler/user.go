package handler

import (
	"net/http"

	"triptrack/internal/model"
	"triptrack/internal/service"
)

// UserHandler handles the caller's profile
type UserHandler struct {
	*Responder
	authSvc *service.AuthService
}

// NewUserHandler creates a new user handler
func NewUserHandler(rs *Responder, authSvc *service.AuthService) *UserHandler {
	return &UserHandler{Responder: rs, authSvc: authSvc}
}

// Get handles GET /v1/users/me
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identity(w, r)
	if !ok {
		return
	}

	user, err := h.authSvc.Profile(r.Context(), ident)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// Update handles PATCH /v1/users/me
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req model.ProfileUpdate
	if err := h.decode(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}

	user, err := h.authSvc.UpdateProfile(r.Context(), ident, req)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}
