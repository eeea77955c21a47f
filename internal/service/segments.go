package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"github.com/clipnote/clipnote/internal/model"
	"github.com/clipnote/clipnote/internal/storage"
)

// NoSelection is the sentinel a client sends as a scalar label value to
// mean "no option selected for this label". It contributes nothing to
// the segmentation's value set.
const NoSelection = "-1"

// flexScalar decodes a JSON string or number into its raw textual form.
// Annotation ids and segment times arrive as either, depending on the
// client.
type flexScalar string

func (s *flexScalar) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = flexScalar(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err == nil {
		*s = flexScalar(num.String())
		return nil
	}
	return fmt.Errorf("expected string or number, got %s", string(b))
}

// Float coerces the raw value. Non-numeric input is a plain error and
// surfaces as a server failure, not a validation rejection.
func (s flexScalar) Float() (float64, error) {
	f, err := strconv.ParseFloat(string(s), 64)
	if err != nil {
		return 0, fmt.Errorf("converting %q to number: %w", string(s), err)
	}
	return f, nil
}

// AnnotationValues is the scalar-or-list shape of a label's "values"
// key, kept as a tagged variant so both forms resolve through the same
// lookup path.
type AnnotationValues struct {
	Single string
	Multi  []string
	IsList bool
}

func (v *AnnotationValues) UnmarshalJSON(b []byte) error {
	if strings.HasPrefix(strings.TrimSpace(string(b)), "[") {
		var list []flexScalar
		if err := json.Unmarshal(b, &list); err != nil {
			return err
		}
		v.IsList = true
		v.Multi = make([]string, len(list))
		for i, e := range list {
			v.Multi[i] = string(e)
		}
		return nil
	}

	var single flexScalar
	if err := json.Unmarshal(b, &single); err != nil {
		return err
	}
	v.Single = string(single)
	return nil
}

// Annotation is the per-label descriptor inside a segment payload.
// Values is a pointer so a missing "values" key is detectable.
type Annotation struct {
	Values *AnnotationValues `json:"values"`
}

// Segment is one element of the client's segmentations array. The
// required fields are pointers so presence can be checked before any
// coercion happens.
type Segment struct {
	StartTime     *flexScalar           `json:"start_time"`
	EndTime       *flexScalar           `json:"end_time"`
	Transcription *string               `json:"transcription"`
	Annotations   map[string]Annotation `json:"annotations"`
}

// ParseSegments decodes the raw segmentations form field. An empty
// field means "no segments".
func ParseSegments(raw string) ([]Segment, error) {
	if strings.TrimSpace(raw) == "" {
		raw = "[]"
	}
	var segments []Segment
	if err := json.Unmarshal([]byte(raw), &segments); err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("Malformed segmentations: %v", err)}
	}
	return segments, nil
}

// validateSegment checks the segment for its required keys. Values are
// not type-checked here; coercion happens downstream.
func validateSegment(seg *Segment) error {
	if seg.StartTime == nil || seg.EndTime == nil || seg.Transcription == nil {
		return &ValidationError{Reason: "Segmentations have missing keys."}
	}
	return nil
}

// resolveAnnotations maps each label name to concrete LabelValue rows
// within the project's taxonomy. Every value a segmentation carries
// must belong to a label of the same project; anything else is
// rejected, never dropped.
func resolveAnnotations(tx *gorm.DB, projectID uint, annotations map[string]Annotation) ([]model.LabelValue, error) {
	values := make([]model.LabelValue, 0, len(annotations))

	for labelName, descriptor := range annotations {
		label, err := storage.LabelByName(tx, projectID, labelName)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Reason: fmt.Sprintf("Label not found with name: `%s`", labelName)}
		}
		if err != nil {
			return nil, fmt.Errorf("looking up label %q: %w", labelName, err)
		}

		if descriptor.Values == nil {
			return nil, &ValidationError{Reason: fmt.Sprintf("Key: `values` missing in Label: `%s`", labelName)}
		}

		if descriptor.Values.IsList {
			for _, rawID := range descriptor.Values.Multi {
				value, err := resolveLabelValue(tx, label, rawID)
				if err != nil {
					return nil, err
				}
				values = append(values, *value)
			}
			continue
		}

		rawID := descriptor.Values.Single
		if rawID == NoSelection {
			continue
		}
		value, err := resolveLabelValue(tx, label, rawID)
		if err != nil {
			return nil, err
		}
		values = append(values, *value)
	}

	return values, nil
}

func resolveLabelValue(tx *gorm.DB, label *model.Label, rawID string) (*model.LabelValue, error) {
	id, err := strconv.Atoi(rawID)
	if err != nil {
		return nil, fmt.Errorf("converting label value id %q: %w", rawID, err)
	}

	value, err := storage.LabelValueByID(tx, label.ID, uint(id))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &ValidationError{
			Reason: fmt.Sprintf("`%s` does not have label value with id `%s`", label.Name, rawID),
		}
	}
	if err != nil {
		return nil, fmt.Errorf("looking up value %s of label %q: %w", rawID, label.Name, err)
	}
	return value, nil
}

// assembleSegmentation creates a segmentation row, or updates an
// existing one when segID is given, then replaces its label value set
// with the resolved values. A missing row on the update path is a
// NotFoundError, not a silent no-op.
func assembleSegmentation(tx *gorm.DB, dataID uint, segID *uint, startTime, endTime float64, transcription string, values []model.LabelValue) (*model.Segmentation, error) {
	var seg model.Segmentation

	if segID == nil {
		seg = model.Segmentation{
			DataID:        dataID,
			StartTime:     startTime,
			EndTime:       endTime,
			Transcription: transcription,
		}
		if err := tx.Create(&seg).Error; err != nil {
			return nil, fmt.Errorf("creating segmentation: %w", err)
		}
	} else {
		err := tx.Where("data_id = ? AND id = ?", dataID, *segID).First(&seg).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{
				Reason: fmt.Sprintf("No segmentation with id `%d` for data `%d`", *segID, dataID),
			}
		}
		if err != nil {
			return nil, fmt.Errorf("loading segmentation %d: %w", *segID, err)
		}
		seg.StartTime = startTime
		seg.EndTime = endTime
		seg.Transcription = transcription
		if err := tx.Save(&seg).Error; err != nil {
			return nil, fmt.Errorf("updating segmentation %d: %w", *segID, err)
		}
	}

	// Full replace of the association, never a merge.
	assoc := tx.Model(&seg).Association("Values")
	if len(values) == 0 {
		if err := assoc.Clear(); err != nil {
			return nil, fmt.Errorf("clearing segmentation values: %w", err)
		}
	} else {
		if err := assoc.Replace(&values); err != nil {
			return nil, fmt.Errorf("replacing segmentation values: %w", err)
		}
	}
	seg.Values = values

	return &seg, nil
}
