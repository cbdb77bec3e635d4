package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func TestNewSyncWindow(t *testing.T) {
	w := NewSyncWindow(t0, t0.Add(time.Minute), 30*time.Second)

	assert.Equal(t, t0, w.Start)
	assert.Equal(t, t0.Add(30*time.Second), w.End)
	assert.False(t, w.IsEmpty())
}

func TestSyncWindow_Contains(t *testing.T) {
	w := SyncWindow{Start: t0, End: t0.Add(10 * time.Second)}

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"start is inclusive", t0, true},
		{"inside", t0.Add(5 * time.Second), true},
		{"end is exclusive", t0.Add(10 * time.Second), false},
		{"before start", t0.Add(-time.Nanosecond), false},
		{"just before end", t0.Add(10*time.Second - time.Nanosecond), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.Contains(tt.at))
		})
	}
}

func TestSyncWindow_IsEmpty(t *testing.T) {
	assert.True(t, SyncWindow{Start: t0, End: t0}.IsEmpty())
	assert.True(t, SyncWindow{Start: t0, End: t0.Add(-time.Second)}.IsEmpty())
	assert.False(t, SyncWindow{Start: t0, End: t0.Add(time.Nanosecond)}.IsEmpty())

	// A watermark ahead of now-lag yields nothing to do.
	assert.True(t, NewSyncWindow(t0, t0.Add(10*time.Second), 30*time.Second).IsEmpty())
}

func TestSyncWindow_ZeroLag(t *testing.T) {
	now := t0.Add(time.Hour)
	w := NewSyncWindow(t0, now, 0)
	assert.Equal(t, now, w.End)
	assert.False(t, w.Contains(now))
}

func TestSyncWindow_String(t *testing.T) {
	w := SyncWindow{Start: t0, End: t0.Add(time.Second)}
	assert.Equal(t, "[2024-05-01T10:00:00Z, 2024-05-01T10:00:01Z)", w.String())
}

func TestAnalyticsRow_Key(t *testing.T) {
	row := AnalyticsRow{Flow: "ingest", DID: "d-1", Timestamp: t0, UpdateTimestamp: t0.Add(time.Hour)}
	assert.Equal(t, Key{Flow: "ingest", DID: "d-1", Timestamp: t0}, row.Key())
}
