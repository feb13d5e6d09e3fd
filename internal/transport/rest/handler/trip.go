package handler

import (
	"encoding/json"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"triptrack/internal/apperr"
	"triptrack/internal/model"
	"triptrack/internal/service"
	"triptrack/internal/storage"
)

const (
	imageField      = "rewardImage"
	maxMultipartMem = 1 << 20
)

// TripHandler handles trip endpoints
type TripHandler struct {
	*Responder
	tripSvc *service.TripService
}

// NewTripHandler creates a new trip handler
func NewTripHandler(rs *Responder, tripSvc *service.TripService) *TripHandler {
	return &TripHandler{Responder: rs, tripSvc: tripSvc}
}

// Create handles POST /v1/trips
// @Summary Create a trip
// @Description Accepts a JSON body, or multipart/form-data with the JSON in the "trip" field and an optional "rewardImage" file
// @Tags trips
// @Accept json,mpfd
// @Produce json
// @Param body body model.TripInput true "trip"
// @Success 201 {object} model.Trip
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Security BearerAuth
// @Router /trips [post]
func (h *TripHandler) Create(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identity(w, r)
	if !ok {
		return
	}

	var input model.TripInput
	image, cleanup, err := h.readWithImage(r, "trip", &input)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	defer cleanup()

	trip, err := h.tripSvc.Create(r.Context(), ident, input, image)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, trip)
}

// ListMine handles GET /v1/trips
// @Summary List the caller's trips
// @Tags trips
// @Produce json
// @Param page query int false "page (1-based)"
// @Param limit query int false "page size"
// @Success 200 {array} model.TripDetails
// @Security BearerAuth
// @Router /trips [get]
func (h *TripHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identity(w, r)
	if !ok {
		return
	}

	trips, err := h.tripSvc.ListMine(r.Context(), ident, pageFrom(r))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, trips)
}

// ListParticipated handles GET /v1/trips/participated
func (h *TripHandler) ListParticipated(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identity(w, r)
	if !ok {
		return
	}

	trips, err := h.tripSvc.ListParticipated(r.Context(), ident, pageFrom(r))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, trips)
}

// Get handles GET /v1/trips/{tripId}
// @Summary Get a trip
// @Description Started trips also carry their experience slots and leaderboard
// @Tags trips
// @Produce json
// @Param tripId path string true "trip id"
// @Success 200 {object} model.TripView
// @Failure 404 {object} ErrorResponse
// @Security BearerAuth
// @Router /trips/{tripId} [get]
func (h *TripHandler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.tripSvc.Get(r.Context(), mux.Vars(r)["tripId"])
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// Update handles PATCH /v1/trips/{tripId}
func (h *TripHandler) Update(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identity(w, r)
	if !ok {
		return
	}

	var update model.TripUpdate
	if err := h.decode(r, &update); err != nil {
		h.writeErr(w, r, err)
		return
	}
	if update.Empty() {
		h.writeErr(w, r, apperr.BadRequest(apperr.CodeInvalidInput, "nothing to update"))
		return
	}

	trip, err := h.tripSvc.Update(r.Context(), ident, mux.Vars(r)["tripId"], update)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, trip)
}

type rewardForm struct {
	Title string `json:"title" validate:"max=100"`
}

// UpdateReward handles PUT /v1/trips/{tripId}/reward
func (h *TripHandler) UpdateReward(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identity(w, r)
	if !ok {
		return
	}

	var form rewardForm
	image, cleanup, err := h.readWithImage(r, "reward", &form)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	defer cleanup()

	view, err := h.tripSvc.UpdateReward(r.Context(), ident, mux.Vars(r)["tripId"], form.Title, image)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// UpdateGuides handles PUT /v1/trips/{tripId}/guides
func (h *TripHandler) UpdateGuides(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req model.GuidesUpdate
	if err := h.decode(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}

	trip, err := h.tripSvc.UpdateGuides(r.Context(), ident, mux.Vars(r)["tripId"], req.Guides)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, trip)
}

// Start handles POST /v1/trips/{tripId}/start
// @Summary Start a trip
// @Tags trips
// @Produce json
// @Param tripId path string true "trip id"
// @Success 200 {object} model.Trip
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Security BearerAuth
// @Router /trips/{tripId}/start [post]
func (h *TripHandler) Start(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identity(w, r)
	if !ok {
		return
	}

	trip, err := h.tripSvc.Start(r.Context(), ident, mux.Vars(r)["tripId"])
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, trip)
}

type experienceForm struct {
	Active *bool `json:"active" validate:"required"`
}

// SetExperienceActive handles PATCH /v1/trips/{tripId}/experiences/{index}
// @Summary Open or close an experience of a started trip
// @Tags trips
// @Accept json
// @Produce json
// @Param tripId path string true "trip id"
// @Param index path int true "experience index"
// @Success 200 {object} model.ExperienceSlot
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Security BearerAuth
// @Router /trips/{tripId}/experiences/{index} [patch]
func (h *TripHandler) SetExperienceActive(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identity(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	index, err := strconv.Atoi(vars["index"])
	if err != nil {
		h.writeErr(w, r, apperr.Validation("validation failed", map[string]string{"index": "must be an integer"}))
		return
	}
	var form experienceForm
	if err := h.decode(r, &form); err != nil {
		h.writeErr(w, r, err)
		return
	}

	slot, err := h.tripSvc.SetExperienceActive(r.Context(), ident, vars["tripId"], index, *form.Active)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

// End handles POST /v1/trips/{tripId}/end
// @Summary End a trip
// @Description Writes the final leaderboard to the trip and clears its runtime state
// @Tags trips
// @Produce json
// @Param tripId path string true "trip id"
// @Success 200 {object} model.Trip
// @Failure 400 {object} ErrorResponse
// @Security BearerAuth
// @Router /trips/{tripId}/end [post]
func (h *TripHandler) End(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identity(w, r)
	if !ok {
		return
	}

	trip, err := h.tripSvc.End(r.Context(), ident, mux.Vars(r)["tripId"])
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, trip)
}

// Delete handles DELETE /v1/trips/{tripId}
func (h *TripHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identity(w, r)
	if !ok {
		return
	}

	if err := h.tripSvc.Delete(r.Context(), ident, mux.Vars(r)["tripId"]); err != nil {
		h.writeErr(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// readWithImage decodes either a JSON body or a multipart form whose
// jsonField holds the JSON and whose rewardImage part holds an image.
// The returned cleanup closes the uploaded file.
func (h *TripHandler) readWithImage(r *http.Request, jsonField string, dst interface{}) (*service.ImageUpload, func(), error) {
	noop := func() {}
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return nil, noop, h.decode(r, dst)
	}

	r.Body = http.MaxBytesReader(nil, r.Body, storage.MaxImageBytes+maxMultipartMem)
	if err := r.ParseMultipartForm(maxMultipartMem); err != nil {
		return nil, noop, apperr.BadRequest(apperr.CodeInvalidInput, "invalid multipart form")
	}

	raw := r.FormValue(jsonField)
	if raw == "" {
		raw = "{}"
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return nil, noop, apperr.BadRequest(apperr.CodeInvalidInput, "field %q must hold JSON", jsonField)
	}
	if err := h.validator.Struct(dst); err != nil {
		return nil, noop, err
	}

	file, header, err := r.FormFile(imageField)
	if err == http.ErrMissingFile {
		return nil, noop, nil
	}
	if err != nil {
		return nil, noop, apperr.BadRequest(apperr.CodeInvalidInput, "invalid %s", imageField)
	}
	return imageUpload(file, header), func() { file.Close() }, nil
}

func imageUpload(file multipart.File, header *multipart.FileHeader) *service.ImageUpload {
	return &service.ImageUpload{
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	}
}

func pageFrom(r *http.Request) model.Page {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	return model.Page{Page: page, Limit: limit}.Normalize()
}
