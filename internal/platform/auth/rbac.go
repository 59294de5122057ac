package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
func RequireRole(roles ...Role) echo.MiddlewareFunc {
	names := Roles(roles...)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasRole(c.Request().Context(), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(names, " or ")))
		}
	}
}

// HasRole reports whether the caller holds one of roles. Admin holds every role.
func HasRole(ctx context.Context, roles ...Role) bool {
	for _, has := range RolesFromContext(ctx) {
		if has == string(RoleAdmin) {
			return true
		}
		for _, required := range roles {
			if has == string(required) {
				return true
			}
		}
	}
	return false
}

// IsAdmin reports whether the caller is an admin.
func IsAdmin(ctx context.Context) bool {
	for _, has := range RolesFromContext(ctx) {
		if has == string(RoleAdmin) {
			return true
		}
	}
	return false
}
