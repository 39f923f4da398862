package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Staff roles. Owners manage the clinic and its users; nurses run the
// day-to-day evaluation review.
const (
	RoleOwner = "owner"
	RoleNurse = "nurse"
)

// ValidRole reports whether the role name is one of the known staff roles.
func ValidRole(role string) bool {
	return role == RoleOwner || role == RoleNurse
}

// RequireRole returns middleware that checks if the user has at least one of
// the specified roles. Owners pass every role check.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userRole := RoleFromContext(c.Request().Context())
			if userRole == RoleOwner {
				return next(c)
			}
			for _, required := range roles {
				if userRole == required {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}
