// Package handlers provides the HTTP handlers of the recovery API.
//
// This file defines the response helpers shared by every endpoint. Errors are
// always written as an ErrorResponse with a stable code; service errors are
// translated in one place (failErr) so that every route maps the same
// sentinel to the same status.
//
// Example error response:
//
//	HTTP/1.1 409 Conflict
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "conflict",
//	  "message": "a declaration already exists for this program reference"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-recovery-backend/internal/domain"
	"github.com/tbourn/go-recovery-backend/internal/http/middleware"
	"github.com/tbourn/go-recovery-backend/internal/services"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"declaration not found"`
}

// fail aborts the request with a structured error. Server errors are logged
// with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: middleware.RequestIDFrom(c),
		Code:      code,
		Message:   msg,
	})
}

// Fail is the exported variant of fail, used by the router fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// failErr maps a service or domain error onto its HTTP status and code.
// Unknown errors become a 500 with fallbackCode.
func failErr(c *gin.Context, err error, fallbackCode string) {
	switch {
	// validation
	case errors.Is(err, domain.ErrIncompleteProgramNumber),
		errors.Is(err, domain.ErrMissingPeriod),
		errors.Is(err, domain.ErrMalformedReference),
		errors.Is(err, services.ErrChauffeurRequired),
		errors.Is(err, services.ErrPhotoRequired),
		errors.Is(err, services.ErrPhotoNotImage),
		errors.Is(err, services.ErrInvalidAmount),
		errors.Is(err, services.ErrCompanyRequired),
		errors.Is(err, services.ErrInvalidName),
		errors.Is(err, services.ErrInvalidEmployeeType),
		errors.Is(err, services.ErrDeclarationRequired):
		fail(c, http.StatusBadRequest, ErrCodeValidation, err.Error())

	// missing references
	case errors.Is(err, services.ErrDeclarationNotFound),
		errors.Is(err, services.ErrPaymentNotFound),
		errors.Is(err, services.ErrChauffeurNotFound),
		errors.Is(err, services.ErrCompanyNotFound),
		errors.Is(err, services.ErrNotificationNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())

	// state conflicts
	case errors.Is(err, services.ErrDeclarationExists),
		errors.Is(err, services.ErrChauffeurLocked),
		errors.Is(err, services.ErrNotRecovered),
		errors.Is(err, services.ErrPendingReceipts),
		errors.Is(err, services.ErrCompanyExists):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())

	// deletion policy
	case errors.Is(err, services.ErrAlreadyValidated):
		fail(c, http.StatusForbidden, ErrCodeAlreadyValidated, err.Error())
	case errors.Is(err, services.ErrRoleForbidden):
		fail(c, http.StatusForbidden, ErrCodeRoleForbidden, err.Error())
	case errors.Is(err, services.ErrNotOwner):
		fail(c, http.StatusForbidden, ErrCodeNotOwner, err.Error())
	case errors.Is(err, services.ErrUnauthorizedRole):
		fail(c, http.StatusForbidden, ErrCodeUnauthorizedRole, err.Error())

	default:
		fail(c, http.StatusInternalServerError, fallbackCode, err.Error())
	}
}

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
