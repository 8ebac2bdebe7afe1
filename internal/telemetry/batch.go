package telemetry

import "errors"

// ErrAdapter marks an upstream failure: the NMS was unreachable, refused
// the credentials or returned an unusable payload. The cycle is skipped and
// the fetch is tried again on the next one.
var ErrAdapter = errors.New("telemetry adapter error")

// Identity fields of a performance record. Every other numeric field is a
// metric.
const (
	FieldSerial = "Serial"
	FieldModel  = "Card Type"
	FieldSite   = "Site"
)

// FieldMeta describes one column of the performance payload.
type FieldMeta struct {
	Name string `json:"name"`
}

// RawRecord holds positional values matching RawTelemetryBatch.Fields.
type RawRecord struct {
	Values []any `json:"values"`
}

// RawTelemetryBatch is the columnar performance payload of the NMS.
type RawTelemetryBatch struct {
	Fields  []FieldMeta `json:"fields"`
	Records []RawRecord `json:"records"`
}
