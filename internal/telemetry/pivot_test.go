package telemetry

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func amplifiersAndFans(model string) bool {
	return strings.HasPrefix(model, "BOA") || strings.HasPrefix(model, "PRA") || strings.HasPrefix(model, "FAN")
}

func fields(names ...string) []FieldMeta {
	out := make([]FieldMeta, len(names))
	for i, n := range names {
		out[i] = FieldMeta{Name: n}
	}
	return out
}

func TestPivot_ZipsFieldsAndFiltersFamilies(t *testing.T) {
	batch := &RawTelemetryBatch{
		Fields: fields(FieldSerial, FieldModel, FieldSite, "OUT Line Power", "IN Line Power", "Temperature"),
		Records: []RawRecord{
			{Values: []any{"SN-1", "BOA-17", "Lisbon", -5.0, -20.5, "41.5"}},
			{Values: []any{"SN-2", "PRA-22", "Porto", 1.5, "-25", 39.0}},
			{Values: []any{"SN-3", "TRANSPONDER-100G", "Porto", 1.0, 1.0, 30.0}},
			{Values: []any{"SN-4", "FAN-TRAY", "Porto", nil, "", 3200.0}},
		},
	}

	cards, dropped := Pivot(batch, amplifiersAndFans)

	assert.Equal(t, 0, dropped)
	require.Len(t, cards, 3)

	assert.Equal(t, "SN-1", cards[0].Serial)
	assert.Equal(t, "BOA-17", cards[0].CardModel)
	assert.Equal(t, "Lisbon", cards[0].SiteName)
	assert.Equal(t, -5.0, cards[0].Metrics["OUT Line Power"])
	assert.Equal(t, 41.5, cards[0].Metrics["Temperature"])

	assert.Equal(t, -25.0, cards[1].Metrics["IN Line Power"])

	assert.Equal(t, "SN-4", cards[2].Serial)
	assert.NotContains(t, cards[2].Metrics, "OUT Line Power")
	assert.NotContains(t, cards[2].Metrics, "IN Line Power")
	assert.Equal(t, 3200.0, cards[2].Metrics["Temperature"])
}

func TestPivot_DropsMalformedRows(t *testing.T) {
	batch := &RawTelemetryBatch{
		Fields: fields(FieldSerial, FieldModel, "OUT Line Power"),
		Records: []RawRecord{
			{Values: []any{"SN-1", "BOA-1"}},
			{Values: []any{"SN-2", "BOA-1", -3.0, "extra"}},
			{Values: []any{"", "BOA-1", -3.0}},
			{Values: []any{"SN-3", "BOA-1", -3.0}},
		},
	}

	cards, dropped := Pivot(batch, amplifiersAndFans)

	assert.Equal(t, 3, dropped)
	require.Len(t, cards, 1)
	assert.Equal(t, "SN-3", cards[0].Serial)
}

func TestPivot_LaterRecordWins(t *testing.T) {
	batch := &RawTelemetryBatch{
		Fields: fields(FieldSerial, FieldModel, "OUT Line Power"),
		Records: []RawRecord{
			{Values: []any{"SN-1", "BOA-1", -3.0}},
			{Values: []any{"SN-1", "PRA-1", -9.0}},
			{Values: []any{"SN-1", "BOA-1", -4.0}},
		},
	}

	cards, _ := Pivot(batch, nil)

	require.Len(t, cards, 2)
	assert.Equal(t, -4.0, cards[0].Metrics["OUT Line Power"])
	assert.Equal(t, "PRA-1", cards[1].CardModel)
}

func TestPivot_NilBatch(t *testing.T) {
	cards, dropped := Pivot(nil, nil)
	assert.Nil(t, cards)
	assert.Zero(t, dropped)
}
