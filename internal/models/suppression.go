package models

import "time"

// Inhibition silences every alert for an origin serial until it is cleared.
type Inhibition struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	OriginSerial string    `gorm:"uniqueIndex;not null" json:"origin_serial"`
	Reason       string    `json:"reason"`
	CreatedBy    string    `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
}

// Acknowledgment silences the drift detector for an origin serial while the
// loss stays near the accepted level and ExpiresAt has not passed.
type Acknowledgment struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	OriginSerial     string    `gorm:"uniqueIndex;not null" json:"origin_serial"`
	AcknowledgedLoss float64   `json:"acknowledged_loss"`
	ExpiresAt        time.Time `json:"expires_at"`
	CreatedBy        string    `json:"created_by"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (a Acknowledgment) Active(now time.Time) bool {
	return now.Before(a.ExpiresAt)
}
