package logging

import (
	"errors"
	"log/slog"
	"testing"
	"time"
)

func TestStringFields(t *testing.T) {
	tests := []struct {
		name  string
		attr  slog.Attr
		key   string
		value string
	}{
		{"Service", Service("replicator"), FieldService, "replicator"},
		{"Component", Component("scheduler"), FieldComponent, "scheduler"},
		{"CycleID", CycleID("cycle-1"), FieldCycleID, "cycle-1"},
		{"Table", Table("deltafile_analytics"), FieldTable, "deltafile_analytics"},
		{"Flow", Flow("smoke"), FieldFlow, "smoke"},
		{"DID", DID("did-123"), FieldDID, "did-123"},
		{"State", State("RUNNING"), FieldState, "RUNNING"},
		{"Path", Path("/healthz"), FieldPath, "/healthz"},
		{"Error", Error(errors.New("boom")), FieldError, "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.attr.Key != tt.key {
				t.Errorf("expected key %q, got %q", tt.key, tt.attr.Key)
			}
			if tt.attr.Value.String() != tt.value {
				t.Errorf("expected value %q, got %q", tt.value, tt.attr.Value.String())
			}
		})
	}
}

func TestWatermark(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 500, time.FixedZone("CET", 3600))
	attr := Watermark(ts)
	if attr.Key != FieldWatermark {
		t.Errorf("expected key %q, got %q", FieldWatermark, attr.Key)
	}
	if attr.Value.String() != "2024-03-01T11:30:00.0000005Z" {
		t.Errorf("expected UTC RFC3339Nano value, got %q", attr.Value.String())
	}
}

func TestRowsAndStatus(t *testing.T) {
	if got := Rows(42).Value.Int64(); got != 42 {
		t.Errorf("expected 42 rows, got %d", got)
	}
	if got := Status(503).Value.Int64(); got != 503 {
		t.Errorf("expected status 503, got %d", got)
	}
}

func TestDuration(t *testing.T) {
	attr := Duration(1500 * time.Millisecond)
	if attr.Key != FieldDuration {
		t.Errorf("expected key %q, got %q", FieldDuration, attr.Key)
	}
	if attr.Value.Int64() != 1500 {
		t.Errorf("expected 1500ms, got %d", attr.Value.Int64())
	}
}

func TestError_Nil(t *testing.T) {
	attr := Error(nil)
	if attr.Value.String() != "" {
		t.Errorf("expected empty value for nil error, got %q", attr.Value.String())
	}
}
