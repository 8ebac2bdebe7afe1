package models

import "time"

// LinkDefinition is a monitored optical link between an origin amplifier
// and, unless IsSingle is set, a destination amplifier.
type LinkDefinition struct {
	ID               uint      `gorm:"primaryKey" json:"id" yaml:"-"`
	OriginSerial     string    `gorm:"uniqueIndex;not null" json:"origin_serial" yaml:"origin_serial"`
	DestSerial       string    `json:"dest_serial,omitempty" yaml:"dest_serial,omitempty"`
	Alias            string    `json:"alias" yaml:"alias"`
	RamanCalibration float64   `json:"raman_calibration" yaml:"raman_calibration"`
	LossReference    float64   `json:"loss_reference" yaml:"loss_reference"`
	AlertMargin      float64   `json:"alert_margin" yaml:"alert_margin"`
	IsSingle         bool      `json:"is_single" yaml:"is_single"`
	Enabled          bool      `gorm:"index" json:"enabled" yaml:"enabled"`
	CreatedAt        time.Time `json:"created_at" yaml:"-"`
	UpdatedAt        time.Time `json:"updated_at" yaml:"-"`
}

// Name is the alias when set, otherwise the origin serial.
func (l LinkDefinition) Name() string {
	if l.Alias != "" {
		return l.Alias
	}
	return l.OriginSerial
}
