package telemetry

import (
	"strings"

	"github.com/linkeye/internal/models"
	"github.com/spf13/cast"
)

// Pivot zips the field dictionary onto every record and returns one
// snapshot per (serial, card model) whose model passes keep. Records that
// cannot be mapped are dropped and counted.
func Pivot(batch *RawTelemetryBatch, keep func(model string) bool) ([]models.CardSnapshot, int) {
	if batch == nil {
		return nil, 0
	}

	names := make([]string, len(batch.Fields))
	for i, f := range batch.Fields {
		names[i] = strings.TrimSpace(f.Name)
	}

	dropped := 0
	index := make(map[string]int)
	cards := make([]models.CardSnapshot, 0, len(batch.Records))

	for _, rec := range batch.Records {
		if len(rec.Values) != len(names) {
			dropped++
			continue
		}

		card := models.CardSnapshot{Metrics: make(map[string]float64)}
		for i, name := range names {
			value := rec.Values[i]
			switch name {
			case FieldSerial:
				card.Serial = strings.TrimSpace(cast.ToString(value))
			case FieldModel:
				card.CardModel = strings.TrimSpace(cast.ToString(value))
			case FieldSite:
				card.SiteName = strings.TrimSpace(cast.ToString(value))
			default:
				if f, ok := numeric(value); ok {
					card.Metrics[name] = f
				}
			}
		}

		if card.Serial == "" {
			dropped++
			continue
		}
		if keep != nil && !keep(card.CardModel) {
			continue
		}

		key := card.Serial + "\x00" + card.CardModel
		if pos, ok := index[key]; ok {
			cards[pos] = card
			continue
		}
		index[key] = len(cards)
		cards = append(cards, card)
	}

	return cards, dropped
}

func numeric(value any) (float64, bool) {
	switch v := value.(type) {
	case nil, bool:
		return 0, false
	case string:
		if strings.TrimSpace(v) == "" {
			return 0, false
		}
	}
	f, err := cast.ToFloat64E(value)
	if err != nil {
		return 0, false
	}
	return f, true
}
