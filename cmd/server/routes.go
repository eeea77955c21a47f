package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// setupRoutes builds the echo instance with all routes and middleware.
func (s *Server) setupRoutes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	if s.cfg.Uploads.MaxBytes > 0 {
		e.Use(middleware.BodyLimit(strconv.FormatInt(s.cfg.Uploads.MaxBytes, 10)))
	}
	e.Use(s.requestLogger)

	e.GET("/health", s.handleHealth)
	e.POST("/data", s.handleAddData)
	e.POST("/register-dataset", s.handleRegisterDataset)
	e.GET("/audio/:file_name", s.handleGetAudio)

	return e
}

// requestLogger logs each request with its final status.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		if err := next(c); err != nil {
			c.Error(err)
		}
		s.log.Infof("%s %s -> %d (%s)",
			c.Request().Method, c.Request().URL.Path,
			c.Response().Status, time.Since(start).Round(time.Millisecond))
		return nil
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	e := s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.log.Infof("ClipNote server starting on %s", addr)
	s.log.Infof("   Database: %s", s.cfg.DB.Path)
	s.log.Infof("   Uploads:  %s", s.files.Dir())
	s.log.Infof("Endpoints:")
	s.log.Infof("   GET  /health                 - Health check")
	s.log.Infof("   POST /data                   - Upload audio with segmentations")
	s.log.Infof("   POST /register-dataset       - Bulk-register stored audio")
	s.log.Infof("   GET  /audio/{file_name}      - Fetch stored audio")

	return e.Start(addr)
}
