package models

import "time"

// Line-power metric names as reported by the NMS.
const (
	MetricOutLinePower = "OUT Line Power"
	MetricInLinePower  = "IN Line Power"
)

// CardSnapshot is the latest telemetry of one physical card.
type CardSnapshot struct {
	Serial    string             `json:"serial"`
	CardModel string             `json:"card_model"`
	SiteName  string             `json:"site_name"`
	Metrics   map[string]float64 `json:"metrics"`
}

// Metric returns the named metric and whether it was reported.
func (c CardSnapshot) Metric(name string) (float64, bool) {
	v, ok := c.Metrics[name]
	return v, ok
}

// CardMetric is one row of the current snapshot table. The table is
// replaced wholesale every polling cycle.
type CardMetric struct {
	ID          uint      `gorm:"primaryKey" json:"-"`
	Serial      string    `gorm:"index;not null" json:"serial"`
	CardModel   string    `json:"card_model"`
	SiteName    string    `json:"site_name"`
	MetricName  string    `gorm:"not null" json:"metric_name"`
	MetricValue float64   `json:"metric_value"`
	CollectedAt time.Time `json:"collected_at"`
}
