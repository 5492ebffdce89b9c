package asset_api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"thirdcoast.systems/reel/cmd/web/handlers/common"
	"thirdcoast.systems/reel/internal/blob"
	"thirdcoast.systems/reel/internal/media"
	"thirdcoast.systems/reel/pkg/utils/filename"
)

const (
	defaultURLTTL = 15 * time.Minute
	maxURLTTL     = 24 * time.Hour
)

type urlResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HandleSignedURL returns a time-limited URL for an asset blob.
//
// Query: ttl (seconds), download (1/true for the original filename, or a
// name), variant (primary|thumbnail|derived).
func HandleSignedURL(repo media.Repository, store blob.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := common.RequireUser(c)
		if err != nil {
			return err
		}
		assetID, err := common.RequireUUIDParam(c, "id")
		if err != nil {
			return err
		}

		ttl := defaultURLTTL
		if raw := c.QueryParam("ttl"); raw != "" {
			secs, err := strconv.Atoi(raw)
			if err != nil || secs <= 0 {
				return common.ErrBadRequest("ttl must be a positive number of seconds")
			}
			ttl = min(time.Duration(secs)*time.Second, maxURLTTL)
		}

		a, err := repo.FindByID(c.Request().Context(), assetID, userID)
		if err != nil {
			return common.WriteDomainError(c, err)
		}

		key := a.StorageKey
		switch c.QueryParam("variant") {
		case "", "primary":
		case "thumbnail":
			if a.ThumbnailKey == nil {
				return common.ErrNotFound("no thumbnail")
			}
			key = *a.ThumbnailKey
		case "derived":
			if a.DerivedKey == nil {
				return common.ErrNotFound("no derived variant")
			}
			key = *a.DerivedKey
		default:
			return common.ErrBadRequest("unknown variant")
		}

		signed, err := store.SignedURL(c.Request().Context(), key, ttl, downloadName(c.QueryParam("download"), a))
		if err != nil {
			return common.WriteDomainError(c, err)
		}
		return c.JSON(http.StatusOK, urlResponse{URL: signed, ExpiresAt: time.Now().Add(ttl).UTC()})
	}
}

func downloadName(param string, a *media.Asset) string {
	switch strings.ToLower(strings.TrimSpace(param)) {
	case "", "0", "false":
		return ""
	case "1", "true":
		return a.OriginalFilename
	}
	return filename.Sanitize(param, 0)
}
