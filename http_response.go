package auth

import (
	"encoding/json"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

// Response is the JSON envelope of every controller response.
type Response struct {
	Data  any            `json:"data,omitempty"`
	Error *ErrorResponse `json:"error,omitempty"`
}

// ErrorResponse is the error part of Response.
type ErrorResponse struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// WriteJSON writes v with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err onto an HTTP status using its go-errors code. Errors
// without a category become a generic 500 so internals never leak.
func WriteError(w http.ResponseWriter, err error) {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		WriteJSON(w, http.StatusInternalServerError, Response{
			Error: &ErrorResponse{Code: "INTERNAL_ERROR", Message: "an internal error occurred"},
		})
		return
	}

	status := richErr.Code
	if status < 400 || status > 599 {
		status = statusForCategory(richErr.Category)
	}

	message := richErr.Message
	code := richErr.TextCode
	if status >= http.StatusInternalServerError {
		message = "an internal error occurred"
	}
	if code == "" {
		code = http.StatusText(status)
	}

	WriteJSON(w, status, Response{Error: &ErrorResponse{Code: code, Message: message}})
}

// WriteValidationError writes a 400 with per field messages.
func WriteValidationError(w http.ResponseWriter, err error) {
	fields := map[string]string{}
	if errs, ok := err.(validation.Errors); ok {
		for field, ferr := range errs {
			fields[field] = ferr.Error()
		}
	}
	WriteJSON(w, http.StatusBadRequest, Response{
		Error: &ErrorResponse{Code: "VALIDATION_ERROR", Message: "request validation failed", Fields: fields},
	})
}

func statusForCategory(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
