package web

import (
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"thirdcoast.systems/reel/cmd/web/handlers/api/asset_api"
	"thirdcoast.systems/reel/cmd/web/handlers/api/fileserver"
	"thirdcoast.systems/reel/cmd/web/handlers/api/ingest_api"
	"thirdcoast.systems/reel/internal/blob"
	"thirdcoast.systems/reel/internal/ingest"
	"thirdcoast.systems/reel/internal/media"
)

// Deps are the long-lived services the HTTP surface fronts.
type Deps struct {
	Engine   *ingest.Engine
	Repo     media.Repository
	Store    blob.Store
	SpoolDir string
	// UploadLimit bounds multipart uploads, in echo's size syntax ("2G").
	UploadLimit string
}

type Webserver struct {
	*echo.Echo
	deps       Deps
	fileServer *fileserver.FileServer
}

type requestValidator struct {
	v *validator.Validate
}

func (rv *requestValidator) Validate(i any) error {
	return rv.v.Struct(i)
}

func NewWebserver(deps Deps) (*Webserver, error) {
	e := echo.New()
	e.Validator = &requestValidator{v: validator.New()}
	if deps.UploadLimit == "" {
		deps.UploadLimit = "2G"
	}

	webserver := &Webserver{Echo: e, deps: deps}
	if local, ok := deps.Store.(*blob.LocalStore); ok {
		webserver.fileServer = fileserver.NewFileServer(local)
	}

	if err := webserver.setupMiddleware(); err != nil {
		return nil, err
	}
	if err := webserver.registerRoutes(); err != nil {
		return nil, err
	}
	return webserver, nil
}

func (s *Webserver) setupMiddleware() error {
	s.HideBanner = true
	s.HidePort = true
	s.Use(middleware.Recover())
	s.Use(middleware.RequestID())
	s.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogMethod:    true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"remote_ip", v.RemoteIP,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				fields = append(fields, "error", v.Error)
			}
			slog.Info("request", fields...)
			return nil
		},
	}))
	return nil
}

func (s *Webserver) registerRoutes() error {
	jsonLimit := middleware.BodyLimit("2M")

	apiGroup := s.Group("/api")
	apiGroup.POST("/ingest", ingest_api.HandleStart(s.deps.Engine), jsonLimit)
	apiGroup.GET("/ingest/:id", ingest_api.HandleStatus(s.deps.Engine))

	apiGroup.POST("/assets", asset_api.HandleUpload(s.deps.Engine, s.deps.SpoolDir), middleware.BodyLimit(s.deps.UploadLimit))
	apiGroup.GET("/assets/check", asset_api.HandleCheck(s.deps.Engine))
	apiGroup.GET("/assets/:id/url", asset_api.HandleSignedURL(s.deps.Repo, s.deps.Store))

	if s.fileServer != nil {
		s.GET("/blobs/*", s.fileServer.HandleBlob())
	}
	return nil
}
