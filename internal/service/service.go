// Package service implements the annotation core: identity
// resolution, upload handling, segment validation, annotation
// resolution and record assembly.
package service

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/clipnote/clipnote/internal/audioinfo"
	"github.com/clipnote/clipnote/internal/model"
	"github.com/clipnote/clipnote/internal/storage"
	"github.com/clipnote/clipnote/pkg/logger"
	"github.com/clipnote/clipnote/pkg/utils"
)

var allowedExtensions = map[string]struct{}{
	"wav": {},
	"mp3": {},
	"ogg": {},
}

// Service wires the relational store and the audio file store behind
// the endpoint operations.
type Service struct {
	db    *storage.DBClient
	files *storage.FileStore
	log   *logger.Logger
}

func New(db *storage.DBClient, files *storage.FileStore) *Service {
	return &Service{
		db:    db,
		files: files,
		log:   logger.GetLogger(),
	}
}

// ResolveProject maps an API key to its project. An empty key is an
// authentication failure, an unknown one a lookup miss.
func (s *Service) ResolveProject(apiKey string) (*model.Project, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyMissing
	}
	project, err := s.db.ProjectByAPIKey(apiKey)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Reason: "No project exist with given API Key"}
	}
	if err != nil {
		return nil, fmt.Errorf("looking up project: %w", err)
	}
	return project, nil
}

// ResolveIdentity gates a request: API key to project, username to
// user. Read-only, no side effects.
func (s *Service) ResolveIdentity(apiKey, username string) (*model.Project, *model.User, error) {
	project, err := s.ResolveProject(apiKey)
	if err != nil {
		return nil, nil, err
	}

	user, err := s.db.UserByUsername(username)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, &NotFoundError{Reason: "No user found with given username"}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("looking up user: %w", err)
	}

	return project, user, nil
}

// CreateDataRequest carries one upload with its declared metadata and
// raw segmentations payload.
type CreateDataRequest struct {
	APIKey                 string
	Username               string
	OriginalFilename       string
	Audio                  io.Reader
	SegmentationsJSON      string
	ReferenceTranscription string
	IsMarkedForReview      bool
	YoutubeStartTime       *float64
	YoutubeEndTime         *float64
}

type preparedSegment struct {
	startTime     float64
	endTime       float64
	transcription string
	values        []model.LabelValue
}

// CreateData persists one upload and its segmentations. All
// validation and annotation resolution happen before the file write,
// and the database work runs in a single transaction, so a failed
// request leaves neither rows nor files behind.
func (s *Service) CreateData(req *CreateDataRequest) (*model.Data, error) {
	project, user, err := s.ResolveIdentity(req.APIKey, req.Username)
	if err != nil {
		return nil, err
	}

	original := utils.SanitizeFilename(req.OriginalFilename)
	ext := utils.Ext(original)
	if err := checkExtension(ext); err != nil {
		return nil, err
	}

	segments, err := ParseSegments(req.SegmentationsJSON)
	if err != nil {
		return nil, err
	}

	prepared := make([]preparedSegment, 0, len(segments))
	for i := range segments {
		seg := &segments[i]
		if err := validateSegment(seg); err != nil {
			return nil, err
		}
		startTime, err := seg.StartTime.Float()
		if err != nil {
			return nil, err
		}
		endTime, err := seg.EndTime.Float()
		if err != nil {
			return nil, err
		}
		values, err := resolveAnnotations(s.db.DB, project.ID, seg.Annotations)
		if err != nil {
			return nil, err
		}
		prepared = append(prepared, preparedSegment{
			startTime:     startTime,
			endTime:       endTime,
			transcription: *seg.Transcription,
			values:        values,
		})
	}

	storageName := newStorageName(ext)
	if _, err := s.files.Save(storageName, req.Audio); err != nil {
		return nil, fmt.Errorf("storing audio: %w", err)
	}

	data := &model.Data{
		ProjectID:              project.ID,
		Filename:               storageName,
		OriginalFilename:       original,
		ReferenceTranscription: req.ReferenceTranscription,
		IsMarkedForReview:      req.IsMarkedForReview,
		AssignedUserID:         user.ID,
		YoutubeStartTime:       req.YoutubeStartTime,
		YoutubeEndTime:         req.YoutubeEndTime,
	}
	s.probeAudio(data, storageName, ext)

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(data).Error; err != nil {
			return fmt.Errorf("creating data record: %w", err)
		}
		for i := range prepared {
			p := &prepared[i]
			seg, err := assembleSegmentation(tx, data.ID, nil, p.startTime, p.endTime, p.transcription, p.values)
			if err != nil {
				return err
			}
			data.Segmentations = append(data.Segmentations, *seg)
		}
		return nil
	})
	if err != nil {
		// The file went down before the transaction; don't orphan it.
		if rmErr := s.files.Remove(storageName); rmErr != nil {
			s.log.Warnf("Failed to remove %s after aborted commit: %v", storageName, rmErr)
		}
		return nil, err
	}

	s.log.Infof("Created data %d (%s) with %d segmentations for project %d",
		data.ID, storageName, len(data.Segmentations), project.ID)
	return data, nil
}

// UpdateSegmentation rewrites an existing segmentation's span,
// transcription and label value set in place.
func (s *Service) UpdateSegmentation(apiKey string, dataID, segmentationID uint, startTime, endTime float64, transcription string, annotations map[string]Annotation) (*model.Segmentation, error) {
	project, err := s.ResolveProject(apiKey)
	if err != nil {
		return nil, err
	}

	var updated *model.Segmentation
	err = s.db.Transaction(func(tx *gorm.DB) error {
		values, err := resolveAnnotations(tx, project.ID, annotations)
		if err != nil {
			return err
		}
		segID := segmentationID
		updated, err = assembleSegmentation(tx, dataID, &segID, startTime, endTime, transcription, values)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// RegisterDatasetRequest registers already-stored files in bulk. The
// five slices are parallel, one entry per file; the audio itself is
// assumed stored out-of-band under the supplied storage names.
type RegisterDatasetRequest struct {
	APIKey                  string
	Username                string
	AudioFilenames          []string
	UUIDFilenames           []string
	YoutubeStartTimes       []string
	YoutubeEndTimes         []string
	ReferenceTranscriptions []string
}

// RegisterDataset creates one Data record per entry inside a single
// transaction and returns the last one created.
func (s *Service) RegisterDataset(req *RegisterDatasetRequest) (*model.Data, error) {
	project, user, err := s.ResolveIdentity(req.APIKey, req.Username)
	if err != nil {
		return nil, err
	}

	n := len(req.AudioFilenames)
	if len(req.UUIDFilenames) != n {
		return nil, &ValidationError{Reason: "Number of original filenames and uuid filenames are not equal"}
	}
	if len(req.YoutubeStartTimes) != n {
		return nil, &ValidationError{Reason: "Number of original filenames and youtube start times are not equal"}
	}
	if len(req.YoutubeEndTimes) != n {
		return nil, &ValidationError{Reason: "Number of original filenames and youtube end times are not equal"}
	}
	if len(req.ReferenceTranscriptions) != n {
		return nil, &ValidationError{Reason: "Number of original filenames and reference transcriptions are not equal"}
	}
	if n == 0 {
		return nil, &ValidationError{Reason: "No audio filenames supplied"}
	}

	entries := make([]model.Data, 0, n)
	for i := 0; i < n; i++ {
		original := utils.SanitizeFilename(req.AudioFilenames[i])
		if err := checkExtension(utils.Ext(original)); err != nil {
			return nil, err
		}
		startTime, err := parseOptionalSeconds("youtube start time", req.YoutubeStartTimes[i])
		if err != nil {
			return nil, err
		}
		endTime, err := parseOptionalSeconds("youtube end time", req.YoutubeEndTimes[i])
		if err != nil {
			return nil, err
		}

		entries = append(entries, model.Data{
			ProjectID:              project.ID,
			Filename:               req.UUIDFilenames[i],
			OriginalFilename:       original,
			ReferenceTranscription: req.ReferenceTranscriptions[i],
			IsMarkedForReview:      false,
			AssignedUserID:         user.ID,
			YoutubeStartTime:       startTime,
			YoutubeEndTime:         endTime,
		})
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		for i := range entries {
			if err := tx.Create(&entries[i]).Error; err != nil {
				return fmt.Errorf("creating data record for %s: %w", entries[i].OriginalFilename, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	last := &entries[len(entries)-1]
	s.log.Infof("Registered %d dataset entries for project %d, last id %d", n, project.ID, last.ID)
	return last, nil
}

// probeAudio fills in WAV header metadata when the upload looks like a
// WAV file. Probing is best-effort: a failure is logged, never fatal.
func (s *Service) probeAudio(data *model.Data, storageName, ext string) {
	if ext != ".wav" && ext != "" {
		return
	}
	path, err := s.files.Path(storageName)
	if err != nil {
		return
	}
	info, err := audioinfo.ProbeWAV(path)
	if err != nil {
		s.log.Debugf("WAV probe of %s failed: %v", storageName, err)
		return
	}
	data.DurationSeconds = info.DurationSeconds
	data.SampleRate = info.SampleRate
	data.Channels = info.Channels
}

func checkExtension(ext string) error {
	if len(ext) <= 1 {
		// No extension to check.
		return nil
	}
	if _, ok := allowedExtensions[ext[1:]]; !ok {
		return &UnsupportedMediaTypeError{Extension: ext[1:]}
	}
	return nil
}

// newStorageName generates an opaque, collision-resistant storage
// name: 128 random bits as hex plus the original extension. The
// original name never leaks into the path.
func newStorageName(ext string) string {
	id := uuid.New()
	return hex.EncodeToString(id[:]) + ext
}

func parseOptionalSeconds(field, raw string) (*float64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("Invalid %s `%s`", field, raw)}
	}
	return &v, nil
}
