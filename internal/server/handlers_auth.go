package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/eis-1/electrical-supplier-website-sub003/internal/auth"
)

const refreshCookieName = "refresh_token"

// refreshCookie scopes the opaque token to the auth endpoints. Page
// scripts never see it.
func (s *Server) refreshCookie(value string, ttl time.Duration) *http.Cookie {
	maxAge := int(ttl / time.Second)
	if value == "" {
		maxAge = -1
	}
	return &http.Cookie{
		Name:     refreshCookieName,
		Value:    value,
		Path:     "/auth",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.config.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token,omitempty"`
	Role        string `json:"role,omitempty"`

	MFARequired  bool   `json:"mfa_required,omitempty"`
	MFAChallenge string `json:"mfa_challenge,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
}

func (s *Server) handleLogin(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return validationError(c, "invalid request body")
	}
	if req.Email == "" || req.Password == "" {
		return validationError(c, "email and password are required")
	}

	result, err := s.engine.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return writeError(c, err)
	}

	if result.MFARequired {
		return c.JSON(http.StatusOK, loginResponse{
			MFARequired:  true,
			MFAChallenge: result.MFAChallenge,
			ExpiresIn:    int(result.ChallengeTTL / time.Second),
		})
	}

	c.SetCookie(s.refreshCookie(result.RefreshToken, s.config.RefreshCookieTTL))
	return c.JSON(http.StatusOK, loginResponse{
		AccessToken: result.AccessToken,
		Role:        string(result.Role),
	})
}

type mfaLoginRequest struct {
	Challenge string `json:"challenge"`
	Code      string `json:"code"`
}

func (s *Server) handleLoginMFA(c echo.Context) error {
	var req mfaLoginRequest
	if err := c.Bind(&req); err != nil {
		return validationError(c, "invalid request body")
	}
	if req.Challenge == "" || req.Code == "" {
		return validationError(c, "challenge and code are required")
	}

	result, err := s.engine.ConfirmLogin(c.Request().Context(), req.Challenge, req.Code)
	if err != nil {
		return writeError(c, err)
	}

	c.SetCookie(s.refreshCookie(result.RefreshToken, s.config.RefreshCookieTTL))
	return c.JSON(http.StatusOK, loginResponse{
		AccessToken: result.AccessToken,
		Role:        string(result.Role),
	})
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
}

func (s *Server) handleRefresh(c echo.Context) error {
	cookie, err := c.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "authentication failed"})
	}

	pair, err := s.engine.Refresh(c.Request().Context(), cookie.Value)
	if err != nil {
		if !errors.Is(err, auth.ErrStoreUnavailable) {
			// The presented token is no longer usable.
			c.SetCookie(s.refreshCookie("", 0))
		}
		return writeError(c, err)
	}

	c.SetCookie(s.refreshCookie(pair.RefreshToken, s.config.RefreshCookieTTL))
	return c.JSON(http.StatusOK, refreshResponse{AccessToken: pair.AccessToken})
}

func (s *Server) handleLogout(c echo.Context) error {
	if cookie, err := c.Cookie(refreshCookieName); err == nil && cookie.Value != "" {
		if err := s.engine.Logout(c.Request().Context(), cookie.Value); err != nil {
			return writeError(c, err)
		}
	}

	c.SetCookie(s.refreshCookie("", 0))
	return c.NoContent(http.StatusNoContent)
}

type passwordChangeRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (s *Server) handlePasswordChange(c echo.Context) error {
	principal, ok := principalFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "authentication failed"})
	}

	var req passwordChangeRequest
	if err := c.Bind(&req); err != nil {
		return validationError(c, "invalid request body")
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		return validationError(c, "current and new password are required")
	}

	if err := s.engine.ChangePassword(c.Request().Context(), principal.AccountID, req.CurrentPassword, req.NewPassword); err != nil {
		return writeError(c, err)
	}

	// Every session is revoked, including the caller's.
	c.SetCookie(s.refreshCookie("", 0))
	return c.NoContent(http.StatusNoContent)
}

type sessionEstimateResponse struct {
	ActiveSessions int    `json:"active_sessions"`
	AccountID      string `json:"account_id,omitempty"`
}

// handleSessionEstimate reports the service-wide session estimate, or the
// exact count for one account when account_id is given.
func (s *Server) handleSessionEstimate(c echo.Context) error {
	if accountID := c.QueryParam("account_id"); accountID != "" {
		count, err := s.engine.ActiveSessionCount(c.Request().Context(), accountID)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, sessionEstimateResponse{ActiveSessions: count, AccountID: accountID})
	}

	total, err := s.engine.EstimateActiveSessions(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, sessionEstimateResponse{ActiveSessions: total})
}
