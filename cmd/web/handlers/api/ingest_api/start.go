// Package ingest_api provides URL ingest job handlers.
package ingest_api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"thirdcoast.systems/reel/cmd/web/handlers/common"
	"thirdcoast.systems/reel/internal/ingest"
)

type startRequest struct {
	URL string `json:"url" validate:"required,url"`
}

type startResponse struct {
	JobID string `json:"job_id"`
}

func HandleStart(engine *ingest.Engine) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := common.RequireUser(c)
		if err != nil {
			return err
		}

		var req startRequest
		if err := c.Bind(&req); err != nil {
			return common.ErrBadRequest("invalid json")
		}
		req.URL = strings.TrimSpace(req.URL)
		if err := c.Validate(&req); err != nil {
			return common.ErrBadRequest("url is required and must be absolute")
		}

		jobID, err := engine.Start(c.Request().Context(), userID, req.URL)
		if err != nil {
			return common.WriteDomainError(c, err)
		}
		return c.JSON(http.StatusAccepted, startResponse{JobID: jobID.String()})
	}
}
