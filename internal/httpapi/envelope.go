package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"gatekeep.org/internal/auth"
)

// envelope is the body of every operation response.
type envelope struct {
	Data   any             `json:"data"`
	Errors []responseError `json:"errors"`
}

type responseError struct {
	Message    string          `json:"message"`
	Extensions errorExtensions `json:"extensions"`
}

type errorExtensions struct {
	Code   string            `json:"code"`
	Status int               `json:"status"`
	Fields map[string]string `json:"fields,omitempty"`
}

func dataEnvelope(data any) envelope {
	return envelope{Data: data, Errors: []responseError{}}
}

func errorEnvelope(errs ...responseError) envelope {
	return envelope{Errors: errs}
}

// domainError renders err. Internal causes are never exposed.
func domainError(err error) responseError {
	de := auth.AsError(err)
	return responseError{
		Message:    string(de.Code),
		Extensions: errorExtensions{Code: string(de.Code), Status: de.Status()},
	}
}

func badRequest(code, message string) responseError {
	return responseError{
		Message:    message,
		Extensions: errorExtensions{Code: code, Status: http.StatusBadRequest},
	}
}

func tooManyRequests() responseError {
	return domainError(auth.ErrTooManyRequests)
}

// validationError lists failing fields keyed by their JSON name.
func validationError(err error) responseError {
	re := badRequest(string(auth.CodeInvalidInput), string(auth.CodeInvalidInput))
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		re.Extensions.Fields = make(map[string]string, len(verrs))
		for _, fe := range verrs {
			re.Extensions.Fields[fe.Field()] = fe.Tag()
		}
	}
	return re
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
