// Package model contains the GORM entities for the annotation store.
package model

import "time"

// Project owns a label taxonomy and the audio it covers. Clients
// authenticate uploads with the project's API key.
type Project struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"not null"`
	APIKey    string `gorm:"column:api_key;uniqueIndex;not null"`
	CreatedAt time.Time

	Labels []Label `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE"`
}

func (Project) TableName() string {
	return "projects"
}

// User is an annotator recordings get assigned to.
type User struct {
	ID        uint   `gorm:"primaryKey"`
	Username  string `gorm:"uniqueIndex;not null"`
	CreatedAt time.Time
}

func (User) TableName() string {
	return "users"
}

// Label is a named annotation dimension within a project, e.g.
// "emotion" or "speaker". Names are unique per project.
type Label struct {
	ID        uint   `gorm:"primaryKey"`
	ProjectID uint   `gorm:"index;not null;uniqueIndex:idx_project_label_name,priority:1"`
	Name      string `gorm:"not null;uniqueIndex:idx_project_label_name,priority:2"`
	CreatedAt time.Time

	Values []LabelValue `gorm:"foreignKey:LabelID;constraint:OnDelete:CASCADE"`
}

func (Label) TableName() string {
	return "labels"
}

// LabelValue is one selectable option of a Label.
type LabelValue struct {
	ID      uint   `gorm:"primaryKey"`
	LabelID uint   `gorm:"index;not null;uniqueIndex:idx_label_value,priority:1"`
	Value   string `gorm:"not null;uniqueIndex:idx_label_value,priority:2"`
}

func (LabelValue) TableName() string {
	return "label_values"
}

// Data is one stored audio recording. Filename is the opaque,
// collision-resistant storage name; OriginalFilename is sanitized
// client metadata and never used as a path.
type Data struct {
	ID                     uint   `gorm:"primaryKey"`
	ProjectID              uint   `gorm:"index;not null"`
	Filename               string `gorm:"uniqueIndex;not null"`
	OriginalFilename       string
	ReferenceTranscription string `gorm:"type:text"`
	IsMarkedForReview      bool   `gorm:"default:false"`
	AssignedUserID         uint   `gorm:"index"`

	// Source-clip offsets for recordings cut out of a longer external
	// source, e.g. a YouTube video. Nil when the upload is standalone.
	YoutubeStartTime *float64
	YoutubeEndTime   *float64

	// Best-effort WAV header metadata, zero when unknown.
	DurationSeconds float64
	SampleRate      int
	Channels        int

	CreatedAt time.Time
	UpdatedAt time.Time

	Segmentations []Segmentation `gorm:"foreignKey:DataID;constraint:OnDelete:CASCADE"`
}

func (Data) TableName() string {
	return "data"
}

// Segmentation is a time-aligned transcription span of a Data record.
// Values holds the label options annotators attached to the span; the
// set is replaced wholesale on update, never merged.
type Segmentation struct {
	ID            uint    `gorm:"primaryKey"`
	DataID        uint    `gorm:"index;not null"`
	StartTime     float64 `gorm:"not null"` // seconds
	EndTime       float64 `gorm:"not null"` // seconds
	Transcription string  `gorm:"type:text"`
	CreatedAt     time.Time
	UpdatedAt     time.Time

	Values []LabelValue `gorm:"many2many:segmentation_values;constraint:OnDelete:CASCADE"`
}

func (Segmentation) TableName() string {
	return "segmentations"
}
