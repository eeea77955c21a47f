package service

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipnote/clipnote/internal/model"
	"github.com/clipnote/clipnote/internal/storage"
)

type fixture struct {
	svc     *Service
	db      *storage.DBClient
	files   *storage.FileStore
	project model.Project
	user    model.User
	emotion model.Label
	happy   model.LabelValue
	sad     model.LabelValue
}

// setupFixture creates a service on a temporary database seeded with
// one project (API key K1), one user (alice) and an "emotion" label
// carrying the values happy and sad.
func setupFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	db, err := storage.NewDBClient(filepath.Join(dir, "test.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	files, err := storage.NewFileStore(filepath.Join(dir, "uploads"))
	require.NoError(t, err)

	f := &fixture{
		svc:     New(db, files),
		db:      db,
		files:   files,
		project: model.Project{Name: "P1", APIKey: "K1"},
		user:    model.User{Username: "alice"},
	}
	require.NoError(t, db.DB.Create(&f.project).Error)
	require.NoError(t, db.DB.Create(&f.user).Error)

	f.emotion = model.Label{ProjectID: f.project.ID, Name: "emotion"}
	require.NoError(t, db.DB.Create(&f.emotion).Error)
	f.happy = model.LabelValue{LabelID: f.emotion.ID, Value: "happy"}
	f.sad = model.LabelValue{LabelID: f.emotion.ID, Value: "sad"}
	require.NoError(t, db.DB.Create(&f.happy).Error)
	require.NoError(t, db.DB.Create(&f.sad).Error)

	return f
}

func (f *fixture) createRequest(segmentations string) *CreateDataRequest {
	return &CreateDataRequest{
		APIKey:            "K1",
		Username:          "alice",
		OriginalFilename:  "song.wav",
		Audio:             strings.NewReader("fake audio bytes"),
		SegmentationsJSON: segmentations,
	}
}

func (f *fixture) countRows(t *testing.T, value any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.DB.Model(value).Count(&n).Error)
	return n
}

func (f *fixture) storedFiles(t *testing.T) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(f.files.Dir())
	require.NoError(t, err)
	return entries
}

func TestCreateDataWithoutSegmentations(t *testing.T) {
	f := setupFixture(t)

	data, err := f.svc.CreateData(f.createRequest(""))
	require.NoError(t, err)

	assert.NotZero(t, data.ID)
	assert.Equal(t, f.project.ID, data.ProjectID)
	assert.Equal(t, f.user.ID, data.AssignedUserID)
	assert.Equal(t, "song.wav", data.OriginalFilename)
	assert.False(t, data.IsMarkedForReview)
	assert.Empty(t, data.Segmentations)

	// Storage name is opaque: 32 hex chars plus the original extension.
	assert.Regexp(t, `^[0-9a-f]{32}\.wav$`, data.Filename)
	assert.True(t, f.files.Exists(data.Filename))

	assert.Equal(t, int64(1), f.countRows(t, &model.Data{}))
	assert.Equal(t, int64(0), f.countRows(t, &model.Segmentation{}))
}

func TestCreateDataScenario(t *testing.T) {
	// One segment 0.0-1.5 "hi" annotated emotion=happy.
	f := setupFixture(t)

	segmentations := fmt.Sprintf(
		`[{"start_time":"0.0","end_time":"1.5","transcription":"hi","annotations":{"emotion":{"values":"%d"}}}]`,
		f.happy.ID)

	data, err := f.svc.CreateData(f.createRequest(segmentations))
	require.NoError(t, err)

	require.Len(t, data.Segmentations, 1)
	seg := data.Segmentations[0]
	assert.Equal(t, 0.0, seg.StartTime)
	assert.Equal(t, 1.5, seg.EndTime)
	assert.Equal(t, "hi", seg.Transcription)
	require.Len(t, seg.Values, 1)
	assert.Equal(t, f.happy.ID, seg.Values[0].ID)

	loaded, err := f.db.DataByID(data.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Segmentations, 1)
	require.Len(t, loaded.Segmentations[0].Values, 1)
	assert.Equal(t, "happy", loaded.Segmentations[0].Values[0].Value)
}

func TestCreateDataMissingAPIKey(t *testing.T) {
	f := setupFixture(t)

	req := f.createRequest("")
	req.APIKey = ""
	_, err := f.svc.CreateData(req)

	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, int64(0), f.countRows(t, &model.Data{}))
}

func TestCreateDataUnknownProjectAndUser(t *testing.T) {
	f := setupFixture(t)

	req := f.createRequest("")
	req.APIKey = "wrong"
	_, err := f.svc.CreateData(req)
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "No project exist with given API Key", notFound.Error())

	req = f.createRequest("")
	req.Username = "bob"
	_, err = f.svc.CreateData(req)
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "No user found with given username", notFound.Error())
}

func TestCreateDataExtensionWhitelist(t *testing.T) {
	f := setupFixture(t)

	cases := []struct {
		filename string
		ok       bool
	}{
		{"song.wav", true},
		{"SONG.WAV", true}, // case-insensitive
		{"talk.mp3", true},
		{"talk.ogg", true},
		{"noextension", true}, // nothing to check
		{"song.exe", false},
		{"song.flac", false},
	}

	for _, tc := range cases {
		t.Run(tc.filename, func(t *testing.T) {
			req := f.createRequest("")
			req.OriginalFilename = tc.filename
			_, err := f.svc.CreateData(req)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				var mediaErr *UnsupportedMediaTypeError
				assert.ErrorAs(t, err, &mediaErr)
			}
		})
	}
}

func TestCreateDataSegmentMissingKeysRejectsBatch(t *testing.T) {
	f := setupFixture(t)

	payloads := []string{
		`[{"end_time":"1","transcription":"t"}]`,
		`[{"start_time":"0","transcription":"t"}]`,
		`[{"start_time":"0","end_time":"1"}]`,
		// One good segment does not save a batch with a bad one.
		`[{"start_time":"0","end_time":"1","transcription":"t"},{"start_time":"2"}]`,
	}

	for _, payload := range payloads {
		_, err := f.svc.CreateData(f.createRequest(payload))
		var validationErr *ValidationError
		require.ErrorAs(t, err, &validationErr, "payload %s", payload)
		assert.Equal(t, "Segmentations have missing keys.", validationErr.Error())
	}

	// Validation happens before any persistence: no rows, no files.
	assert.Equal(t, int64(0), f.countRows(t, &model.Data{}))
	assert.Equal(t, int64(0), f.countRows(t, &model.Segmentation{}))
	assert.Empty(t, f.storedFiles(t))
}

func TestCreateDataAnnotationList(t *testing.T) {
	f := setupFixture(t)

	segmentations := fmt.Sprintf(
		`[{"start_time":"0","end_time":"1","transcription":"t","annotations":{"emotion":{"values":["%d","%d"]}}}]`,
		f.happy.ID, f.sad.ID)

	data, err := f.svc.CreateData(f.createRequest(segmentations))
	require.NoError(t, err)
	require.Len(t, data.Segmentations, 1)
	assert.Len(t, data.Segmentations[0].Values, 2)
}

func TestCreateDataAnnotationListWithInvalidID(t *testing.T) {
	f := setupFixture(t)

	segmentations := fmt.Sprintf(
		`[{"start_time":"0","end_time":"1","transcription":"t","annotations":{"emotion":{"values":["%d","999"]}}}]`,
		f.happy.ID)

	_, err := f.svc.CreateData(f.createRequest(segmentations))
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "`emotion` does not have label value with id `999`", validationErr.Error())

	assert.Equal(t, int64(0), f.countRows(t, &model.Data{}))
	assert.Empty(t, f.storedFiles(t))
}

func TestCreateDataNoSelectionSentinel(t *testing.T) {
	f := setupFixture(t)

	data, err := f.svc.CreateData(f.createRequest(
		`[{"start_time":"0","end_time":"1","transcription":"t","annotations":{"emotion":{"values":"-1"}}}]`))
	require.NoError(t, err)

	require.Len(t, data.Segmentations, 1)
	assert.Empty(t, data.Segmentations[0].Values)
}

func TestCreateDataUnknownLabel(t *testing.T) {
	f := setupFixture(t)

	_, err := f.svc.CreateData(f.createRequest(
		`[{"start_time":"0","end_time":"1","transcription":"t","annotations":{"speaker":{"values":"1"}}}]`))
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "Label not found with name: `speaker`", notFound.Error())
}

func TestCreateDataMissingValuesKey(t *testing.T) {
	f := setupFixture(t)

	_, err := f.svc.CreateData(f.createRequest(
		`[{"start_time":"0","end_time":"1","transcription":"t","annotations":{"emotion":{}}}]`))
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "Key: `values` missing in Label: `emotion`", validationErr.Error())
}

func TestCreateDataLabelFromOtherProjectRejected(t *testing.T) {
	f := setupFixture(t)

	other := model.Project{Name: "P2", APIKey: "K2"}
	require.NoError(t, f.db.DB.Create(&other).Error)
	foreign := model.Label{ProjectID: other.ID, Name: "mood"}
	require.NoError(t, f.db.DB.Create(&foreign).Error)
	foreignValue := model.LabelValue{LabelID: foreign.ID, Value: "calm"}
	require.NoError(t, f.db.DB.Create(&foreignValue).Error)

	// "mood" exists, but not in the request's project; rejected, not
	// silently dropped.
	segmentations := fmt.Sprintf(
		`[{"start_time":"0","end_time":"1","transcription":"t","annotations":{"mood":{"values":"%d"}}}]`,
		foreignValue.ID)
	_, err := f.svc.CreateData(f.createRequest(segmentations))
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, int64(0), f.countRows(t, &model.Segmentation{}))
}

func TestCreateDataNonNumericValueID(t *testing.T) {
	f := setupFixture(t)

	_, err := f.svc.CreateData(f.createRequest(
		`[{"start_time":"0","end_time":"1","transcription":"t","annotations":{"emotion":{"values":"abc"}}}]`))
	require.Error(t, err)

	// Type-conversion failures are untyped: a server error, not a
	// client rejection.
	var validationErr *ValidationError
	var notFound *NotFoundError
	assert.False(t, errors.As(err, &validationErr))
	assert.False(t, errors.As(err, &notFound))
}

func TestCreateDataMalformedSegmentations(t *testing.T) {
	f := setupFixture(t)

	_, err := f.svc.CreateData(f.createRequest(`{"not":"an array"`))
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Empty(t, f.storedFiles(t))
}

func TestCreateDataRemovesFileWhenCommitFails(t *testing.T) {
	f := setupFixture(t)

	// Sabotage the schema so the transaction fails after the file has
	// already been written.
	require.NoError(t, f.db.DB.Migrator().DropTable(&model.Segmentation{}))

	_, err := f.svc.CreateData(f.createRequest(
		`[{"start_time":"0","end_time":"1","transcription":"t"}]`))
	require.Error(t, err)

	// The rollback leaves no rows and the stored file is cleaned up.
	assert.Equal(t, int64(0), f.countRows(t, &model.Data{}))
	assert.Empty(t, f.storedFiles(t))
}

func TestCreateDataMarkedForReview(t *testing.T) {
	f := setupFixture(t)

	req := f.createRequest("")
	req.IsMarkedForReview = true
	req.ReferenceTranscription = "hello world"
	start, end := 12.5, 47.25
	req.YoutubeStartTime = &start
	req.YoutubeEndTime = &end

	data, err := f.svc.CreateData(req)
	require.NoError(t, err)
	assert.True(t, data.IsMarkedForReview)
	assert.Equal(t, "hello world", data.ReferenceTranscription)
	require.NotNil(t, data.YoutubeStartTime)
	assert.Equal(t, 12.5, *data.YoutubeStartTime)
	require.NotNil(t, data.YoutubeEndTime)
	assert.Equal(t, 47.25, *data.YoutubeEndTime)
}

func TestCreateDataSanitizesOriginalFilename(t *testing.T) {
	f := setupFixture(t)

	req := f.createRequest("")
	req.OriginalFilename = "../../etc/my song.wav"
	data, err := f.svc.CreateData(req)
	require.NoError(t, err)
	assert.Equal(t, "etc_my_song.wav", data.OriginalFilename)
}

func TestUpdateSegmentationReplacesValues(t *testing.T) {
	f := setupFixture(t)

	segmentations := fmt.Sprintf(
		`[{"start_time":"0","end_time":"1","transcription":"before","annotations":{"emotion":{"values":"%d"}}}]`,
		f.happy.ID)
	data, err := f.svc.CreateData(f.createRequest(segmentations))
	require.NoError(t, err)
	segID := data.Segmentations[0].ID

	updated, err := f.svc.UpdateSegmentation("K1", data.ID, segID, 0.5, 2.0, "after",
		map[string]Annotation{
			"emotion": {Values: &AnnotationValues{Single: fmt.Sprintf("%d", f.sad.ID)}},
		})
	require.NoError(t, err)

	assert.Equal(t, segID, updated.ID)
	assert.Equal(t, 0.5, updated.StartTime)
	assert.Equal(t, 2.0, updated.EndTime)
	assert.Equal(t, "after", updated.Transcription)

	// Full replace: happy is gone, sad is the only value left.
	loaded, err := f.db.DataByID(data.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Segmentations, 1)
	require.Len(t, loaded.Segmentations[0].Values, 1)
	assert.Equal(t, "sad", loaded.Segmentations[0].Values[0].Value)
}

func TestUpdateSegmentationClearsValues(t *testing.T) {
	f := setupFixture(t)

	segmentations := fmt.Sprintf(
		`[{"start_time":"0","end_time":"1","transcription":"t","annotations":{"emotion":{"values":["%d","%d"]}}}]`,
		f.happy.ID, f.sad.ID)
	data, err := f.svc.CreateData(f.createRequest(segmentations))
	require.NoError(t, err)
	segID := data.Segmentations[0].ID

	updated, err := f.svc.UpdateSegmentation("K1", data.ID, segID, 0, 1, "t",
		map[string]Annotation{"emotion": {Values: &AnnotationValues{Single: NoSelection}}})
	require.NoError(t, err)
	assert.Empty(t, updated.Values)
}

func TestUpdateSegmentationNotFound(t *testing.T) {
	f := setupFixture(t)

	data, err := f.svc.CreateData(f.createRequest(""))
	require.NoError(t, err)

	_, err = f.svc.UpdateSegmentation("K1", data.ID, 999, 0, 1, "t", nil)
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestRegisterDataset(t *testing.T) {
	f := setupFixture(t)

	last, err := f.svc.RegisterDataset(&RegisterDatasetRequest{
		APIKey:                  "K1",
		Username:                "alice",
		AudioFilenames:          []string{"a.wav", "b.mp3"},
		UUIDFilenames:           []string{"aaaa.wav", "bbbb.mp3"},
		YoutubeStartTimes:       []string{"0", "10.5"},
		YoutubeEndTimes:         []string{"5", ""},
		ReferenceTranscriptions: []string{"first", "second"},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(2), f.countRows(t, &model.Data{}))
	assert.Equal(t, "bbbb.mp3", last.Filename)
	assert.Equal(t, "second", last.ReferenceTranscription)
	assert.False(t, last.IsMarkedForReview)
	require.NotNil(t, last.YoutubeStartTime)
	assert.Equal(t, 10.5, *last.YoutubeStartTime)
	assert.Nil(t, last.YoutubeEndTime)

	// Registration never writes files; audio arrives out-of-band.
	assert.Empty(t, f.storedFiles(t))
}

func TestRegisterDatasetLengthMismatch(t *testing.T) {
	f := setupFixture(t)

	_, err := f.svc.RegisterDataset(&RegisterDatasetRequest{
		APIKey:                  "K1",
		Username:                "alice",
		AudioFilenames:          []string{"a.wav", "b.mp3"},
		UUIDFilenames:           []string{"aaaa.wav"},
		YoutubeStartTimes:       []string{"0", "1"},
		YoutubeEndTimes:         []string{"2", "3"},
		ReferenceTranscriptions: []string{"x", "y"},
	})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "Number of original filenames and uuid filenames are not equal", validationErr.Error())
	assert.Equal(t, int64(0), f.countRows(t, &model.Data{}))
}

func TestRegisterDatasetBadExtensionCreatesNothing(t *testing.T) {
	f := setupFixture(t)

	_, err := f.svc.RegisterDataset(&RegisterDatasetRequest{
		APIKey:                  "K1",
		Username:                "alice",
		AudioFilenames:          []string{"a.wav", "b.exe"},
		UUIDFilenames:           []string{"aaaa.wav", "bbbb.exe"},
		YoutubeStartTimes:       []string{"", ""},
		YoutubeEndTimes:         []string{"", ""},
		ReferenceTranscriptions: []string{"", ""},
	})
	var mediaErr *UnsupportedMediaTypeError
	require.ErrorAs(t, err, &mediaErr)

	// All-or-nothing: the valid first entry is not committed either.
	assert.Equal(t, int64(0), f.countRows(t, &model.Data{}))
}

func TestRegisterDatasetEmpty(t *testing.T) {
	f := setupFixture(t)

	_, err := f.svc.RegisterDataset(&RegisterDatasetRequest{
		APIKey:   "K1",
		Username: "alice",
	})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
}
