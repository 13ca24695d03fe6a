package configdb

import (
	"errors"
	"time"

	"github.com/cyclopcam/dbh"
	"gorm.io/gorm"
)

var ErrRecordingNotFound = errors.New("Recording not found")

// CreateRecording inserts a new recording, and sets rec.ID
func (c *ConfigDB) CreateRecording(rec *Recording) error {
	rec.ID = 0
	if rec.StartAt.IsZero() {
		rec.StartAt = dbh.MakeIntTime(time.Now())
	}
	return c.DB.Create(rec).Error
}

// FinishRecording marks a recording as complete
func (c *ConfigDB) FinishRecording(id int64, frames, width, height int) error {
	res := c.DB.Model(&Recording{}).Where("id = ?", id).Updates(map[string]any{
		"finish_at": dbh.MakeIntTime(time.Now()),
		"frames":    frames,
		"width":     width,
		"height":    height,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRecordingNotFound
	}
	return nil
}

// ListRecordings returns all recordings, newest first
func (c *ConfigDB) ListRecordings() ([]*Recording, error) {
	recs := []*Recording{}
	if err := c.DB.Order("id DESC").Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

func (c *ConfigDB) GetRecording(id int64) (*Recording, error) {
	rec := Recording{}
	if err := c.DB.First(&rec, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordingNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// Recordings that were never finished (eg because we crashed while recording)
func (c *ConfigDB) UnfinishedRecordings() ([]*Recording, error) {
	recs := []*Recording{}
	if err := c.DB.Where("finish_at IS NULL").Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}
