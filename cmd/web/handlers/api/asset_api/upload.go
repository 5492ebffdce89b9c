// Package asset_api provides direct upload, hash check and signed URL
// handlers for stored assets.
package asset_api

import (
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"

	"thirdcoast.systems/reel/cmd/web/handlers/common"
	"thirdcoast.systems/reel/internal/ingest"
)

// HandleUpload stores a multipart "file" part as a new asset. Optional form
// fields: source_url, tags.
func HandleUpload(engine *ingest.Engine, spoolDir string) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := common.RequireUser(c)
		if err != nil {
			return err
		}

		fh, err := c.FormFile("file")
		if err != nil {
			return common.ErrBadRequest("file is required")
		}
		src, err := fh.Open()
		if err != nil {
			return common.ErrBadRequest("unreadable file")
		}
		defer src.Close()

		tmp, err := os.CreateTemp(spoolDir, "upload-*")
		if err != nil {
			return common.ErrInternal("spool unavailable").SetInternal(err)
		}
		defer os.Remove(tmp.Name())
		if _, err := io.Copy(tmp, src); err != nil {
			tmp.Close()
			return common.ErrInternal("failed to receive file").SetInternal(err)
		}
		if err := tmp.Close(); err != nil {
			return common.ErrInternal("failed to receive file").SetInternal(err)
		}

		asset, err := engine.Upload(c.Request().Context(), ingest.UploadRequest{
			OwnerID:   userID,
			LocalPath: tmp.Name(),
			Filename:  fh.Filename,
			MediaType: fh.Header.Get(echo.HeaderContentType),
			SourceURL: c.FormValue("source_url"),
			Tags:      c.FormValue("tags"),
		})
		if err != nil {
			slog.Info("Upload rejected", "user_id", userID, "filename", fh.Filename, "error", err)
			return common.WriteDomainError(c, err)
		}
		return c.JSON(http.StatusCreated, asset)
	}
}
