package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type totpSetupResponse struct {
	Secret string `json:"secret"`
	URI    string `json:"uri"`
}

func (s *Server) handleTOTPSetup(c echo.Context) error {
	principal, ok := principalFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "authentication failed"})
	}

	setup, err := s.engine.SetupTOTP(c.Request().Context(), principal.AccountID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, totpSetupResponse{Secret: setup.Secret, URI: setup.URI})
}

type totpCodeRequest struct {
	Code string `json:"code"`
}

type backupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

func (s *Server) handleTOTPConfirm(c echo.Context) error {
	principal, ok := principalFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "authentication failed"})
	}

	var req totpCodeRequest
	if err := c.Bind(&req); err != nil {
		return validationError(c, "invalid request body")
	}
	if req.Code == "" {
		return validationError(c, "code is required")
	}

	codes, err := s.engine.ConfirmTOTP(c.Request().Context(), principal.AccountID, req.Code)
	if err != nil {
		return writeError(c, err)
	}

	// Enabling 2FA revoked every session, the caller's included.
	c.SetCookie(s.refreshCookie("", 0))
	return c.JSON(http.StatusOK, backupCodesResponse{BackupCodes: codes})
}

func (s *Server) handleTOTPDisable(c echo.Context) error {
	principal, ok := principalFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "authentication failed"})
	}

	var req totpCodeRequest
	if err := c.Bind(&req); err != nil {
		return validationError(c, "invalid request body")
	}
	if req.Code == "" {
		return validationError(c, "code is required")
	}

	if err := s.engine.DisableTOTP(c.Request().Context(), principal.AccountID, req.Code); err != nil {
		return writeError(c, err)
	}

	c.SetCookie(s.refreshCookie("", 0))
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleBackupCodes(c echo.Context) error {
	principal, ok := principalFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "authentication failed"})
	}

	var req totpCodeRequest
	if err := c.Bind(&req); err != nil {
		return validationError(c, "invalid request body")
	}
	if req.Code == "" {
		return validationError(c, "code is required")
	}

	codes, err := s.engine.RegenerateBackupCodes(c.Request().Context(), principal.AccountID, req.Code)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, backupCodesResponse{BackupCodes: codes})
}
