package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/clipnote/clipnote/internal/config"
	"github.com/clipnote/clipnote/internal/service"
	"github.com/clipnote/clipnote/internal/storage"
	"github.com/clipnote/clipnote/pkg/logger"
)

// Server encapsulates the HTTP server and its dependencies
type Server struct {
	svc   *service.Service
	files *storage.FileStore
	cfg   *config.Config
	log   *logger.Logger
}

// NewServer creates a new server instance
func NewServer(svc *service.Service, files *storage.FileStore, cfg *config.Config) *Server {
	return &Server{
		svc:   svc,
		files: files,
		cfg:   cfg,
		log:   logger.GetLogger(),
	}
}

// handleHealth handles GET /health
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status: "healthy",
		Time:   time.Now().Format(time.RFC3339),
	})
}

// handleAddData handles POST /data: one audio upload plus its
// segmentations, persisted atomically.
func (s *Server) handleAddData(c echo.Context) error {
	apiKey := c.Request().Header.Get("Authorization")
	if apiKey == "" {
		return httpError(service.ErrAPIKeyMissing)
	}

	fileHeader, err := c.FormFile("audio_file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "audio_file is required")
	}
	src, err := fileHeader.Open()
	if err != nil {
		return fmt.Errorf("opening uploaded file: %w", err)
	}
	defer src.Close()

	startTime, err := optionalSeconds(c.FormValue("youtube_start_time"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid youtube_start_time")
	}
	endTime, err := optionalSeconds(c.FormValue("youtube_end_time"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid youtube_end_time")
	}

	data, err := s.svc.CreateData(&service.CreateDataRequest{
		APIKey:                 apiKey,
		Username:               c.FormValue("username"),
		OriginalFilename:       fileHeader.Filename,
		Audio:                  src,
		SegmentationsJSON:      c.FormValue("segmentations"),
		ReferenceTranscription: c.FormValue("reference_transcription"),
		IsMarkedForReview:      parseReviewFlag(c.FormValue("is_marked_for_review")),
		YoutubeStartTime:       startTime,
		YoutubeEndTime:         endTime,
	})
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusCreated, DataCreatedResponse{
		DataID:  data.ID,
		Message: dataCreatedMessage,
		Type:    dataCreatedType,
	})
}

// handleRegisterDataset handles POST /register-dataset: bulk
// registration of files already stored out-of-band.
func (s *Server) handleRegisterDataset(c echo.Context) error {
	apiKey := c.Request().Header.Get("Authorization")
	if apiKey == "" {
		return httpError(service.ErrAPIKeyMissing)
	}

	params, err := c.FormParams()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Failed to parse form data")
	}

	data, err := s.svc.RegisterDataset(&service.RegisterDatasetRequest{
		APIKey:                  apiKey,
		Username:                params.Get("username"),
		AudioFilenames:          params["audio_filenames"],
		UUIDFilenames:           params["uuid_filenames"],
		YoutubeStartTimes:       params["youtube_start_times"],
		YoutubeEndTimes:         params["youtube_end_times"],
		ReferenceTranscriptions: params["reference_transcriptions"],
	})
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusCreated, DataCreatedResponse{
		DataID:  data.ID,
		Message: dataCreatedMessage,
		Type:    dataCreatedType,
	})
}

// handleGetAudio handles GET /audio/:file_name and streams stored
// audio bytes. Gated by project API key like every other request.
func (s *Server) handleGetAudio(c echo.Context) error {
	apiKey := c.Request().Header.Get("Authorization")
	if _, err := s.svc.ResolveProject(apiKey); err != nil {
		return httpError(err)
	}

	name := c.Param("file_name")
	path, err := s.files.Path(name)
	if err != nil || !s.files.Exists(name) {
		return echo.NewHTTPError(http.StatusNotFound, "File not found")
	}
	return c.File(path)
}

// httpError translates the service error taxonomy into HTTP statuses.
// Untyped errors propagate and surface as 500s.
func httpError(err error) error {
	var authErr *service.AuthenticationError
	var validationErr *service.ValidationError
	var mediaErr *service.UnsupportedMediaTypeError
	var notFoundErr *service.NotFoundError

	switch {
	case errors.As(err, &authErr):
		return echo.NewHTTPError(http.StatusBadRequest, authErr.Error())
	case errors.As(err, &validationErr):
		return echo.NewHTTPError(http.StatusBadRequest, validationErr.Error())
	case errors.As(err, &mediaErr):
		return echo.NewHTTPError(http.StatusBadRequest, mediaErr.Error())
	case errors.As(err, &notFoundErr):
		return echo.NewHTTPError(http.StatusNotFound, notFoundErr.Error())
	default:
		return err
	}
}

// parseReviewFlag reads the is_marked_for_review form field. Absent or
// a recognizable false spelling means unreviewed; anything else marks
// the recording for review.
func parseReviewFlag(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "false", "0", "no", "off":
		return false
	default:
		return true
	}
}

func optionalSeconds(raw string) (*float64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
