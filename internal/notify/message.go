package notify

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/linkeye/internal/models"
)

var ErrNotification = errors.New("notification failed")

// ActionAcceptLevel asks the operator to accept the current loss as the new
// normal for a while. Its value is built by AcceptLevelValue.
const ActionAcceptLevel = "accept_level"

type Action struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Value string `json:"value"`
}

// Message is one alert as handed to every destination.
type Message struct {
	EventID      string            `json:"event_id"`
	Detector     models.Detector   `json:"detector"`
	Level        models.AlertLevel `json:"level"`
	LinkID       uint              `json:"link_id"`
	LinkName     string            `json:"link_name"`
	OriginSerial string            `json:"origin_serial"`
	Title        string            `json:"title"`
	Text         string            `json:"text"`
	CurrentLoss  float64           `json:"current_loss"`
	Reference    float64           `json:"reference"`
	Delta        float64           `json:"delta"`
	Actions      []Action          `json:"actions,omitempty"`
	FiredAt      time.Time         `json:"fired_at"`
}

// DeliveryResult reports what happened per destination.
type DeliveryResult struct {
	Delivered []string
	Failed    map[string]error
}

// Err is nil when every destination succeeded.
func (r DeliveryResult) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	names := make([]string, 0, len(r.Failed))
	for name := range r.Failed {
		names = append(names, name)
	}
	return fmt.Errorf("%w: %s", ErrNotification, strings.Join(names, ", "))
}

// AcceptLevelValue encodes the acknowledgment carried by an accept button.
func AcceptLevelValue(serial string, loss float64) string {
	return serial + "|" + strconv.FormatFloat(loss, 'f', 2, 64)
}

func ParseAcceptLevelValue(value string) (serial string, loss float64, err error) {
	i := strings.LastIndex(value, "|")
	if i <= 0 {
		return "", 0, fmt.Errorf("malformed action value %q", value)
	}
	loss, err = strconv.ParseFloat(value[i+1:], 64)
	if err != nil {
		return "", 0, fmt.Errorf("malformed loss in action value %q: %w", value, err)
	}
	return value[:i], loss, nil
}

func levelColor(level models.AlertLevel) string {
	switch level {
	case models.AlertLevelInfo:
		return "#36a64f"
	case models.AlertLevelWarning:
		return "#ffcc00"
	case models.AlertLevelCritical:
		return "#ff0000"
	default:
		return "#000000"
	}
}

func levelEmoji(level models.AlertLevel) string {
	switch level {
	case models.AlertLevelCritical:
		return ":red_circle:"
	case models.AlertLevelWarning:
		return ":warning:"
	case models.AlertLevelInfo:
		return ":information_source:"
	default:
		return ":bell:"
	}
}
