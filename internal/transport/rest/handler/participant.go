package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"triptrack/internal/model"
	"triptrack/internal/service"
)

// ParticipantHandler handles the runtime endpoints of a started trip
type ParticipantHandler struct {
	*Responder
	participantSvc *service.ParticipantService
}

// NewParticipantHandler creates a new participant handler
func NewParticipantHandler(rs *Responder, participantSvc *service.ParticipantService) *ParticipantHandler {
	return &ParticipantHandler{Responder: rs, participantSvc: participantSvc}
}

// Join handles POST /v1/trips/{tripId}/participants
// @Summary Join a started trip
// @Tags participants
// @Accept json
// @Produce json
// @Param tripId path string true "trip id"
// @Param body body model.JoinRequest false "display overrides"
// @Success 201 {object} model.Participant
// @Failure 400 {object} ErrorResponse
// @Security BearerAuth
// @Router /trips/{tripId}/participants [post]
func (h *ParticipantHandler) Join(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req model.JoinRequest
	if r.ContentLength != 0 {
		if err := h.decode(r, &req); err != nil {
			h.writeErr(w, r, err)
			return
		}
	}

	p, err := h.participantSvc.Join(r.Context(), ident, mux.Vars(r)["tripId"], req)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, p)
}

// Leave handles DELETE /v1/trips/{tripId}/participants/me
func (h *ParticipantHandler) Leave(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identity(w, r)
	if !ok {
		return
	}

	if err := h.participantSvc.Leave(r.Context(), ident, mux.Vars(r)["tripId"]); err != nil {
		h.writeErr(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /v1/trips/{tripId}/participants/me
func (h *ParticipantHandler) Me(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identity(w, r)
	if !ok {
		return
	}

	p, err := h.participantSvc.Get(r.Context(), mux.Vars(r)["tripId"], ident.ID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// List handles GET /v1/trips/{tripId}/participants
func (h *ParticipantHandler) List(w http.ResponseWriter, r *http.Request) {
	ps, err := h.participantSvc.List(r.Context(), mux.Vars(r)["tripId"])
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ps)
}

// Rename handles PATCH /v1/trips/{tripId}/participants/me
func (h *ParticipantHandler) Rename(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req model.RenameRequest
	if err := h.decode(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}

	p, err := h.participantSvc.Rename(r.Context(), ident, mux.Vars(r)["tripId"], req.Name)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// Leaderboard handles GET /v1/trips/{tripId}/leaderboard
// @Summary Live leaderboard
// @Tags participants
// @Produce json
// @Param tripId path string true "trip id"
// @Success 200 {array} model.LeaderboardEntry
// @Security BearerAuth
// @Router /trips/{tripId}/leaderboard [get]
func (h *ParticipantHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.participantSvc.Leaderboard(r.Context(), mux.Vars(r)["tripId"])
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, entries)
}
