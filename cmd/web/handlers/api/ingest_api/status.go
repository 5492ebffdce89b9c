package ingest_api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"thirdcoast.systems/reel/cmd/web/handlers/common"
	"thirdcoast.systems/reel/internal/ingest"
)

// HandleStatus returns the job snapshot for its requester only.
func HandleStatus(engine *ingest.Engine) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := common.RequireUser(c)
		if err != nil {
			return err
		}
		jobID, err := common.RequireUUIDParam(c, "id")
		if err != nil {
			return err
		}

		snap, err := engine.Status(jobID, userID)
		if err != nil {
			return common.WriteDomainError(c, err)
		}
		return c.JSON(http.StatusOK, snap)
	}
}
