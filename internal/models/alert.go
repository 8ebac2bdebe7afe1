package models

import (
	"time"

	"gorm.io/gorm"
)

type AlertLevel string

const (
	AlertLevelInfo     AlertLevel = "INFO"
	AlertLevelWarning  AlertLevel = "WARNING"
	AlertLevelCritical AlertLevel = "CRITICAL"
)

// Detector names the check that raised an alert.
type Detector string

const (
	DetectorRapidJump Detector = "rapid_jump"
	DetectorDrift     Detector = "drift"
	DetectorThreshold Detector = "threshold"
)

// Alert records a notification the engine decided to send.
type Alert struct {
	gorm.Model
	EventID      string     `gorm:"uniqueIndex" json:"event_id"`
	LinkID       uint       `gorm:"index" json:"link_id"`
	LinkName     string     `json:"link_name"`
	OriginSerial string     `gorm:"index" json:"origin_serial"`
	Detector     Detector   `json:"detector"`
	Level        AlertLevel `json:"level"`
	CurrentLoss  float64    `json:"current_loss"`
	Reference    float64    `json:"reference"`
	Delta        float64    `json:"delta"`
	Message      string     `json:"message"`
	Suppressed   bool       `json:"suppressed"`
	FiredAt      time.Time  `json:"fired_at"`
}
