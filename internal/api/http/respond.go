package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mind-engage/mindengage-grades/internal/gradebook"
	"github.com/mind-engage/mindengage-grades/internal/grades"
	"github.com/mind-engage/mindengage-grades/internal/gradestore"
	ags "github.com/mind-engage/mindengage-grades/pkg/lti-ags-gradebook/gradebook"
)

type errorBody struct {
	Error  string            `json:"error"`
	Detail string            `json:"detail,omitempty"`
	Fields map[string]string `json:"fields,omitempty"` // field -> failed rule
}

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and validates its struct tags. On failure
// it writes the 400 itself and returns false.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		badRequest(w, "bad json: "+err.Error())
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if !errors.As(err, &ve) {
			badRequest(w, err.Error())
			return false
		}
		fields := make(map[string]string, len(ve))
		for _, fe := range ve {
			fields[fe.Field()] = fe.Tag()
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation_failed", Fields: fields})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, detail string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Detail: detail})
}

// writeError maps service errors to statuses. A log that fails to reduce is a
// conflict with what is stored, reported with its error kind.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var re *grades.ReduceError
	switch {
	case errors.As(err, &re):
		writeJSON(w, http.StatusConflict, errorBody{Error: grades.Kind(err), Detail: err.Error()})
	case errors.Is(err, gradestore.ErrNotFound), errors.Is(err, ags.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found"})
	case errors.Is(err, gradestore.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody{Error: "conflict", Detail: err.Error()})
	case errors.Is(err, grades.ErrOutOfOrderEvent):
		writeJSON(w, http.StatusConflict, errorBody{Error: grades.Kind(err), Detail: err.Error()})
	case errors.Is(err, gradestore.ErrInvalidChange), errors.Is(err, gradestore.ErrInvalidInput),
		errors.Is(err, grades.ErrUnknownState), errors.Is(err, grades.ErrUnknownStrategy):
		badRequest(w, err.Error())
	case errors.Is(err, gradebook.ErrNoBlobStore):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "no_blob_store"})
	case errors.Is(err, ags.ErrNoLink), errors.Is(err, ags.ErrNoUserMapping):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: "not_linked", Detail: err.Error()})
	default:
		log.Printf("api: %s %s: %v", r.Method, r.URL.Path, err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal"})
	}
}

// isClientError reports whether err maps to a 4xx in writeError; anything
// else from the passback is the platform's failure.
func isClientError(err error) bool {
	var re *grades.ReduceError
	return errors.As(err, &re) ||
		errors.Is(err, gradestore.ErrNotFound) || errors.Is(err, ags.ErrNotFound) ||
		errors.Is(err, ags.ErrNoLink) || errors.Is(err, ags.ErrNoUserMapping)
}
