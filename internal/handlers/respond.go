package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/loyalcore/backend/internal/models"
)

// NewValidator reports JSON field names in validation errors.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type errorBody struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// decode reads a JSON body into dst and validates it. It writes the 400
// itself and reports whether the handler should continue.
func decode(w http.ResponseWriter, r *http.Request, v *validator.Validate, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	if err := v.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				details[fe.Namespace()] = fe.Tag()
			}
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation failed", Details: details})
			return false
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// writeDomainError maps service errors onto HTTP statuses. Anything it
// does not recognise is logged and reported as 500.
func writeDomainError(w http.ResponseWriter, log *zerolog.Logger, op string, err error) {
	switch {
	case errors.Is(err, models.ErrTenantRequired):
		writeError(w, http.StatusUnauthorized, "tenant context required")
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrInsufficientBalance):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, models.ErrOutOfStock),
		errors.Is(err, models.ErrExpired),
		errors.Is(err, models.ErrNotActive):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Str("op", op).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
