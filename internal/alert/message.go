package alert

import (
	"fmt"
	"time"

	"github.com/linkeye/internal/models"
	"github.com/linkeye/internal/notify"
)

func rapidJumpMessage(link models.LinkDefinition, res RapidResult, current float64) notify.Message {
	text := fmt.Sprintf("Loss rose %.2f dB, from %.2f dB to %.2f dB, and held for %d samples.",
		res.TotalJump, res.Baseline, current, len(res.Window))
	return notify.Message{
		Detector:    models.DetectorRapidJump,
		Level:       models.AlertLevelCritical,
		Title:       fmt.Sprintf("Rapid loss increase on %s", link.Name()),
		Text:        text,
		CurrentLoss: current,
		Reference:   res.Baseline,
		Delta:       res.TotalJump,
	}
}

func driftMessage(link models.LinkDefinition, res DriftResult, current float64, ackFor time.Duration) notify.Message {
	text := fmt.Sprintf("Loss is %.2f dB, %.2f dB above the recent baseline of %.2f dB.",
		current, res.Drift, res.Baseline)
	accept := notify.Action{
		ID:    notify.ActionAcceptLevel,
		Label: fmt.Sprintf("Accept this level for %s", formatHours(ackFor)),
		Value: notify.AcceptLevelValue(link.OriginSerial, current),
	}
	return notify.Message{
		Detector:    models.DetectorDrift,
		Level:       models.AlertLevelWarning,
		Title:       fmt.Sprintf("Loss drift on %s", link.Name()),
		Text:        text,
		CurrentLoss: current,
		Reference:   res.Baseline,
		Delta:       res.Drift,
		Actions:     []notify.Action{accept},
	}
}

func thresholdMessage(link models.LinkDefinition, current, limit float64) notify.Message {
	return notify.Message{
		Detector:    models.DetectorThreshold,
		Level:       models.AlertLevelWarning,
		Title:       fmt.Sprintf("Loss above budget on %s", link.Name()),
		Text:        fmt.Sprintf("Loss is %.2f dB, budget is %.2f dB (reference %.2f dB).", current, limit, link.LossReference),
		CurrentLoss: current,
		Reference:   link.LossReference,
		Delta:       current - link.LossReference,
	}
}

func formatHours(d time.Duration) string {
	h := d.Hours()
	if h == float64(int(h)) {
		return fmt.Sprintf("%dh", int(h))
	}
	return d.String()
}
