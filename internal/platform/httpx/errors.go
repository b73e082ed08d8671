package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/uvr-coop/uvr/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
// It reports false when err was not a known domain error and a generic 500 was written,
// so the caller can log it.
func RespondError(w http.ResponseWriter, err error) bool {
	var vErr *shared.ValidationError
	switch {
	case errors.As(err, &vErr):
		ValidationProblem(w, vErr.Fields)
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrPermissionDenied):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, shared.ErrInvalidCredentials):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case errors.Is(err, shared.ErrSettlementLock):
		conflict(w, "settlement-lock", err)
	case errors.Is(err, shared.ErrForeignKey):
		conflict(w, "foreign-key", err)
	case errors.Is(err, shared.ErrDuplicatePendingRequest):
		conflict(w, "duplicate-pending-request", err)
	case errors.Is(err, shared.ErrRequestResolved):
		conflict(w, "request-resolved", err)
	case errors.Is(err, shared.ErrDuplicateSubmission):
		conflict(w, "duplicate-submission", err)
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return false
	}
	return true
}

func conflict(w http.ResponseWriter, kind string, err error) {
	writeProblem(w, ProblemDetail{
		Type:   "urn:uvr:problem:" + kind,
		Title:  "Conflict",
		Status: http.StatusConflict,
		Detail: err.Error(),
	})
}

// Fail writes the problem for err and logs it when it is not a known domain error.
func Fail(w http.ResponseWriter, logger *slog.Logger, msg string, err error) {
	if !RespondError(w, err) && logger != nil {
		logger.Error(msg, slog.Any("error", err))
	}
}
