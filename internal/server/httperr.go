package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/eis-1/electrical-supplier-website-sub003/internal/auth"
	"github.com/eis-1/electrical-supplier-website-sub003/internal/password"
	"github.com/eis-1/electrical-supplier-website-sub003/internal/quotegate"
)

type errorResponse struct {
	Error string `json:"error"`
}

// validationError is a 422: the request never reached the engine, so it is
// never audited.
func validationError(c echo.Context, message string) error {
	return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: message})
}

// writeError maps engine errors onto the wire contract. Authentication
// failures collapse to one generic 401 body regardless of cause.
func writeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrTokenInvalid),
		errors.Is(err, auth.ErrRefreshInvalid),
		errors.Is(err, auth.ErrRefreshReuse),
		errors.Is(err, auth.ErrSessionNotFound),
		errors.Is(err, auth.ErrTOTPInvalid),
		errors.Is(err, auth.ErrBackupCodeInvalid),
		errors.Is(err, auth.ErrMFAChallengeNotFound),
		errors.Is(err, auth.ErrMFAChallengeExpired):
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "authentication failed"})

	case errors.Is(err, auth.ErrTooManyAttempts),
		errors.Is(err, auth.ErrMFAAttemptsExceeded):
		return c.JSON(http.StatusTooManyRequests, errorResponse{Error: "too many attempts"})

	case errors.Is(err, auth.ErrForbidden):
		return c.JSON(http.StatusForbidden, errorResponse{Error: "forbidden"})

	case errors.Is(err, auth.ErrTOTPAlreadyEnabled),
		errors.Is(err, auth.ErrTOTPNotEnabled),
		errors.Is(err, auth.ErrTOTPSetupMissing):
		return c.JSON(http.StatusConflict, errorResponse{Error: "two-factor state conflict"})

	case errors.Is(err, password.ErrWeakPassword):
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: "password too weak"})

	case errors.Is(err, quotegate.ErrQuoteRejected):
		// Deliberately unspecific; the fired rule is audit-internal.
		return c.JSON(http.StatusTooManyRequests, errorResponse{Error: "request could not be processed"})

	case errors.Is(err, auth.ErrStoreUnavailable):
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "service unavailable"})

	default:
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
