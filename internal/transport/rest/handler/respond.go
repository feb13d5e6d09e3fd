package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"triptrack/internal/apperr"
	"triptrack/internal/model"
	"triptrack/internal/transport/rest/middleware"
	"triptrack/internal/validate"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}

// Responder renders JSON bodies and funnels every error through one place
type Responder struct {
	log         *zap.Logger
	validator   *validate.Validator
	development bool
}

// NewResponder creates a responder. In development internal error messages
// are shown to the client.
func NewResponder(log *zap.Logger, v *validate.Validator, development bool) *Responder {
	return &Responder{log: log, validator: v, development: development}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (rs *Responder) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	body := ErrorResponse{Error: err.Error(), Code: apperr.CodeOf(err)}

	if ae, ok := apperr.As(err); ok {
		body.Error = ae.Message
		body.Details = ae.Details
	}

	fields := []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		rs.log.Error("request failed", fields...)
		if !rs.development {
			body.Error = "internal server error"
		}
	} else {
		rs.log.Debug("request rejected", fields...)
	}

	writeJSON(w, status, body)
}

// decode reads a JSON body into dst and validates it
func (rs *Responder) decode(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.BadRequest(apperr.CodeInvalidInput, "invalid request body")
	}
	return rs.validator.Struct(dst)
}

// identity returns the authenticated caller or writes a 401
func (rs *Responder) identity(w http.ResponseWriter, r *http.Request) (model.Identity, bool) {
	ident, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		rs.writeErr(w, r, apperr.Unauthorized(apperr.CodeInvalidToken, "missing authorization"))
	}
	return ident, ok
}
