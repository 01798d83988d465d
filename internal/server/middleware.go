package server

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/eis-1/electrical-supplier-website-sub003/internal/auth"
	"github.com/eis-1/electrical-supplier-website-sub003/internal/rbac"
)

const principalKey = "auth.principal"

// clientContext threads the caller's IP and user agent into the request
// context so the engine can stamp audit events.
func clientContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		ctx = auth.WithClientIP(ctx, c.RealIP())
		ctx = auth.WithUserAgent(ctx, c.Request().UserAgent())
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

// guard authenticates the bearer token and stores the principal on the
// echo context. Missing or bad tokens get the same generic 401.
func (s *Server) guard(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: "authentication failed"})
		}

		principal, err := s.engine.Verify(c.Request().Context(), token)
		if err != nil {
			return writeError(c, err)
		}

		c.Set(principalKey, principal)
		return next(c)
	}
}

// requireRole enforces a minimum role on top of guard. Denials are audited
// by the engine with the acting principal and the attempted action.
func (s *Server) requireRole(min rbac.Role, action string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			principal, ok := principalFrom(c)
			if !ok {
				return c.JSON(http.StatusUnauthorized, errorResponse{Error: "authentication failed"})
			}
			if err := s.engine.Authorize(c.Request().Context(), principal, min, action); err != nil {
				return writeError(c, err)
			}
			return next(c)
		}
	}
}

func principalFrom(c echo.Context) (auth.Principal, bool) {
	principal, ok := c.Get(principalKey).(auth.Principal)
	return principal, ok
}
