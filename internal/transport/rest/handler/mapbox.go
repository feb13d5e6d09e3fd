package handler

import (
	"net/http"

	"triptrack/internal/service"
)

// MapHandler proxies map lookups
type MapHandler struct {
	*Responder
	directions *service.DirectionsService
}

// NewMapHandler creates a new map handler
func NewMapHandler(rs *Responder, directions *service.DirectionsService) *MapHandler {
	return &MapHandler{Responder: rs, directions: directions}
}

// Directions handles GET /v1/map/directions
// @Summary Walking directions between stops
// @Tags map
// @Produce json
// @Param points query string true "lon,lat;lon,lat;..."
// @Param language query string false "instruction language"
// @Success 200 {object} object
// @Failure 400 {object} ErrorResponse
// @Security BearerAuth
// @Router /map/directions [get]
func (h *MapHandler) Directions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	route, err := h.directions.Directions(r.Context(), q.Get("points"), q.Get("language"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(route)
}
