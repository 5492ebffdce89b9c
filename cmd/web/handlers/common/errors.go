package common

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"thirdcoast.systems/reel/internal/contenthash"
	"thirdcoast.systems/reel/internal/ingest"
	"thirdcoast.systems/reel/internal/media"
)

// ErrBadRequest returns a 400 Bad Request error.
func ErrBadRequest(msg string) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusBadRequest, msg)
}

// ErrNotFound returns a 404 Not Found error.
func ErrNotFound(msg string) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusNotFound, msg)
}

// ErrUnauthorized returns a 401 Unauthorized error.
func ErrUnauthorized() *echo.HTTPError {
	return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
}

// ErrInternal returns a 500 Internal Server Error.
func ErrInternal(msg string) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusInternalServerError, msg)
}

// DuplicateResponse is the 409 body naming the asset that already holds the
// content.
type DuplicateResponse struct {
	Error           string `json:"error"`
	ExistingAssetID string `json:"existing_asset_id"`
}

// WriteDomainError maps pipeline errors onto HTTP responses.
func WriteDomainError(c echo.Context, err error) error {
	var dup *contenthash.DuplicateError
	switch {
	case errors.As(err, &dup):
		return c.JSON(http.StatusConflict, DuplicateResponse{
			Error:           "duplicate content",
			ExistingAssetID: dup.ExistingID.String(),
		})
	case errors.Is(err, media.ErrNotFound), errors.Is(err, ingest.ErrJobNotFound):
		return ErrNotFound("not found")
	case errors.Is(err, ingest.ErrInvalidURL):
		return ErrBadRequest(err.Error())
	default:
		return ErrInternal("internal error").SetInternal(err)
	}
}
