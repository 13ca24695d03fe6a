package configdb

import (
	"github.com/cyclopcam/dbh"
)

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

type Variable struct {
	Key   string `gorm:"primaryKey" json:"key"`
	Value string `json:"value"`
}

// Recording is a sequence of JPEG frames captured from the camera, stored in Path
// as 000000.jpg, 000001.jpg, etc.
// SYNC-RECORD-RECORDING
type Recording struct {
	BaseModel
	UUID     string      `json:"uuid" gorm:"column:uuid"`
	StartAt  dbh.IntTime `json:"startAt"`
	FinishAt dbh.IntTime `json:"finishAt" gorm:"default:null"` // Zero while the recording is in progress
	Path     string      `json:"-"`
	Frames   int         `json:"frames"`
	Width    int         `json:"width"`
	Height   int         `json:"height"`
}

func (r *Recording) IsFinished() bool {
	return !r.FinishAt.IsZero()
}
