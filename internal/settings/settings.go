package settings

import "time"

// Keys written by the admin surface.
const (
	KeyScanIntervalMinutes         = "scanIntervalMinutes"
	KeyLossThresholdDb             = "lossThresholdDb"
	KeyAlertRapidIncreaseThreshold = "alertRapidIncreaseThreshold"
	KeyAlertConfirmationSamples    = "alertConfirmationSamples"
	KeyAlertJitterThreshold        = "alertJitterThreshold"
	KeyAlertDriftWindowHours       = "alertDriftWindowHours"
	KeyAlertDriftThreshold         = "alertDriftThreshold"
	KeyMaintenanceMode             = "maintenanceMode"
	KeyMaintenanceUntil            = "maintenanceUntil"
	KeyPersistIntervalMs           = "persistIntervalMs"
	KeyPersistNextRunAt            = "persistNextRunAt"
	KeyHistoryRetentionDays        = "historyRetentionDays"
)

const (
	minDriftWindow = 12 * time.Hour
	maxDriftWindow = 24 * time.Hour
)

// Settings is the runtime tuning read at the start of every cycle.
type Settings struct {
	ScanInterval           time.Duration
	LossThresholdDb        float64
	RapidIncreaseThreshold float64
	ConfirmationSamples    int
	JitterThreshold        float64
	DriftWindow            time.Duration
	DriftThreshold         float64
	MaintenanceMode        bool
	MaintenanceUntil       time.Time
	PersistInterval        time.Duration
	PersistNextRunAt       time.Time
	HistoryRetention       time.Duration
}

func Defaults() Settings {
	return Settings{
		ScanInterval:           5 * time.Minute,
		LossThresholdDb:        3.0,
		RapidIncreaseThreshold: 2.0,
		ConfirmationSamples:    3,
		JitterThreshold:        0.3,
		DriftWindow:            24 * time.Hour,
		DriftThreshold:         1.0,
		PersistInterval:        15 * time.Minute,
		HistoryRetention:       30 * 24 * time.Hour,
	}
}

// InMaintenance reports whether notifications are globally held back.
func (s Settings) InMaintenance(now time.Time) bool {
	return s.MaintenanceMode && now.Before(s.MaintenanceUntil)
}

// ConfirmationWindow is the sustain window length, clamped to 2..5.
func (s Settings) ConfirmationWindow() int {
	switch {
	case s.ConfirmationSamples < 2:
		return 2
	case s.ConfirmationSamples > 5:
		return 5
	default:
		return s.ConfirmationSamples
	}
}

func clampDriftWindow(d time.Duration) time.Duration {
	if d < minDriftWindow {
		return minDriftWindow
	}
	if d > maxDriftWindow {
		return maxDriftWindow
	}
	return d
}
