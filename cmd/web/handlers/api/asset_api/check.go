package asset_api

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"thirdcoast.systems/reel/cmd/web/handlers/common"
	"thirdcoast.systems/reel/internal/ingest"
)

var combinedHashRe = regexp.MustCompile(`^[0-9a-f]{64}$`)

type checkResponse struct {
	Exists  bool   `json:"exists"`
	AssetID string `json:"asset_id,omitempty"`
}

// HandleCheck answers whether the caller already stores a combined hash.
func HandleCheck(engine *ingest.Engine) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := common.RequireUser(c)
		if err != nil {
			return err
		}
		hash := strings.ToLower(strings.TrimSpace(c.QueryParam("hash")))
		if !combinedHashRe.MatchString(hash) {
			return common.ErrBadRequest("hash must be 64 hex characters")
		}

		id, err := engine.CheckHash(c.Request().Context(), userID, hash)
		if err != nil {
			return common.WriteDomainError(c, err)
		}
		if id == uuid.Nil {
			return c.JSON(http.StatusOK, checkResponse{})
		}
		return c.JSON(http.StatusOK, checkResponse{Exists: true, AssetID: id.String()})
	}
}
