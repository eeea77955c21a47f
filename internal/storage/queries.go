package storage

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/clipnote/clipnote/internal/model"
)

// Read-side lookups. Lookup misses surface as gorm.ErrRecordNotFound
// so callers can translate them into their own error taxonomy.

func (c *DBClient) ProjectByAPIKey(apiKey string) (*model.Project, error) {
	var project model.Project
	if err := c.DB.Where("api_key = ?", apiKey).First(&project).Error; err != nil {
		return nil, err
	}
	return &project, nil
}

func (c *DBClient) UserByUsername(username string) (*model.User, error) {
	var user model.User
	if err := c.DB.Where("username = ?", username).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// LabelByName resolves a label name within one project's taxonomy.
func LabelByName(tx *gorm.DB, projectID uint, name string) (*model.Label, error) {
	var label model.Label
	if err := tx.Where("project_id = ? AND name = ?", projectID, name).First(&label).Error; err != nil {
		return nil, err
	}
	return &label, nil
}

// LabelValueByID resolves a label value id scoped to its owning label.
func LabelValueByID(tx *gorm.DB, labelID, valueID uint) (*model.LabelValue, error) {
	var value model.LabelValue
	if err := tx.Where("id = ? AND label_id = ?", valueID, labelID).First(&value).Error; err != nil {
		return nil, err
	}
	return &value, nil
}

// DataByID loads a data record with its segmentations and their values.
func (c *DBClient) DataByID(id uint) (*model.Data, error) {
	var data model.Data
	err := c.DB.Preload("Segmentations").Preload("Segmentations.Values").First(&data, id).Error
	if err != nil {
		return nil, fmt.Errorf("loading data %d: %w", id, err)
	}
	return &data, nil
}
