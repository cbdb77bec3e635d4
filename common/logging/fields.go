package logging

import (
	"log/slog"
	"time"
)

// Common field names for consistent logging across flowlake components.
const (
	FieldService   = "service"
	FieldComponent = "component"
	FieldCycleID   = "cycle_id"
	FieldTable     = "table"
	FieldFlow      = "flow"
	FieldDID       = "did"
	FieldWatermark = "watermark"
	FieldRows      = "rows"
	FieldState     = "state"
	FieldDuration  = "duration_ms"
	FieldError     = "error"
	FieldPath      = "path"
	FieldStatus    = "status"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// Component returns a slog attribute naming the replicator component.
func Component(name string) slog.Attr {
	return slog.String(FieldComponent, name)
}

// CycleID returns a slog attribute for a sync cycle ID.
func CycleID(id string) slog.Attr {
	return slog.String(FieldCycleID, id)
}

// Table returns a slog attribute for a destination or source table name.
func Table(name string) slog.Attr {
	return slog.String(FieldTable, name)
}

// Flow returns a slog attribute for a flow name.
func Flow(name string) slog.Attr {
	return slog.String(FieldFlow, name)
}

// DID returns a slog attribute for a delta file identifier.
func DID(id string) slog.Attr {
	return slog.String(FieldDID, id)
}

// Watermark returns a slog attribute for a replication watermark, formatted as RFC3339Nano in UTC.
func Watermark(t time.Time) slog.Attr {
	return slog.String(FieldWatermark, t.UTC().Format(time.RFC3339Nano))
}

// Rows returns a slog attribute for a row count.
func Rows(n int) slog.Attr {
	return slog.Int(FieldRows, n)
}

// State returns a slog attribute for a scheduler state.
func State(s string) slog.Attr {
	return slog.String(FieldState, s)
}

// Duration returns a slog attribute for a duration in milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Int64(FieldDuration, d.Milliseconds())
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}

// Path returns a slog attribute for the HTTP path.
func Path(path string) slog.Attr {
	return slog.String(FieldPath, path)
}

// Status returns a slog attribute for the HTTP status code.
func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}
