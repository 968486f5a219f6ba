package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/tendant/simple-assets/pkg/simpleassets"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

var errUnknownField = errors.New("unknown field")

// invalidCredentialsMessage is shared by unknown accounts, wrong passwords
// and locked accounts
const invalidCredentialsMessage = "Invalid username or password."

// statusFor maps a service error to an HTTP status and error code
func statusFor(err error) (int, string) {
	var validationErr *simpleassets.ValidationError
	switch {
	case errors.Is(err, simpleassets.ErrInvalidCredentials), errors.Is(err, simpleassets.ErrAccountLocked):
		return http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, simpleassets.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, simpleassets.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, simpleassets.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, simpleassets.ErrAccountExists):
		return http.StatusUnprocessableEntity, "account_exists"
	}
	return http.StatusInternalServerError, "internal_error"
}

// writeError renders err as an ErrorResponse. Internal errors are logged and
// their message is not exposed.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, code := statusFor(err)
	body := ErrorBody{Code: code, Message: err.Error(), RequestID: middleware.GetReqID(r.Context())}

	var validationErr *simpleassets.ValidationError
	if errors.As(err, &validationErr) {
		body.Field = validationErr.Field
	}

	switch code {
	case "invalid_credentials":
		body.Message = invalidCredentialsMessage
	case "unauthorized":
		body.Message = "Authentication required."
	case "internal_error":
		logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		body.Message = "An internal server error occurred."
	}

	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: body})
}

func badRequest(w http.ResponseWriter, r *http.Request, field, message string) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, ErrorResponse{Error: ErrorBody{
		Code:      "validation_error",
		Message:   message,
		Field:     field,
		RequestID: middleware.GetReqID(r.Context()),
	}})
}
