package models

import "time"

// Setting is a key/value pair owned by the admin surface and read by the
// engine every cycle.
type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
