package models

import "time"

// LossHistory is a durable loss sample written by the persistence scheduler.
type LossHistory struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	LinkID       uint      `gorm:"index:idx_history_link_time" json:"link_id"`
	OriginSerial string    `gorm:"index" json:"origin_serial"`
	Loss         float64   `json:"loss"`
	RecordedAt   time.Time `gorm:"index:idx_history_link_time" json:"recorded_at"`
}
