package common

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// UserHeader carries the caller id issued by the external auth layer.
const UserHeader = "X-User-ID"

// RequireUUIDParam extracts a UUID route parameter or returns a 400 error.
func RequireUUIDParam(c echo.Context, param string) (uuid.UUID, error) {
	u, err := uuid.Parse(c.Param(param))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+param)
	}
	return u, nil
}

// RequireUser returns the caller id from the X-User-ID header, or 401.
func RequireUser(c echo.Context) (uuid.UUID, error) {
	raw := strings.TrimSpace(c.Request().Header.Get(UserHeader))
	if raw == "" {
		return uuid.Nil, ErrUnauthorized()
	}
	u, err := uuid.Parse(raw)
	if err != nil || u == uuid.Nil {
		return uuid.Nil, ErrUnauthorized()
	}
	return u, nil
}
