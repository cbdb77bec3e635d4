// Package models holds the records the replicator moves from the operational
// store into the analytics table.
package models

import "time"

// MutationRecord is one row of the operational delta_files table.
// Records are read-only to the replicator.
type MutationRecord struct {
	DID          string
	Flow         string
	Created      time.Time
	Modified     time.Time
	IngressBytes int64
	TotalBytes   int64
	Errored      bool
	Filtered     bool
	Egressed     bool
	Annotations  map[string]string
}

// AnalyticsRow is one row of the ReplacingMergeTree analytics table.
// The ch tags must match the destination column names exactly.
type AnalyticsRow struct {
	Timestamp       time.Time         `ch:"timestamp" json:"timestamp"`
	UpdateTimestamp time.Time         `ch:"update_timestamp" json:"update_timestamp"`
	Flow            string            `ch:"flow" json:"flow"`
	DID             string            `ch:"did" json:"did"`
	Files           uint64            `ch:"files" json:"files"`
	IngressBytes    uint64            `ch:"ingressBytes" json:"ingressBytes"`
	TotalBytes      uint64            `ch:"totalBytes" json:"totalBytes"`
	Errored         uint64            `ch:"errored" json:"errored"`
	Filtered        uint64            `ch:"filtered" json:"filtered"`
	Egressed        uint64            `ch:"egressed" json:"egressed"`
	Annotations     map[string]string `ch:"annotations" json:"annotations"`
}

// Key is the de-duplication key of the analytics table (its ORDER BY tuple).
type Key struct {
	Flow      string
	DID       string
	Timestamp time.Time
}

// Key returns the row's de-duplication key.
func (r AnalyticsRow) Key() Key {
	return Key{Flow: r.Flow, DID: r.DID, Timestamp: r.Timestamp}
}

// SyncWindow is the half-open interval [Start, End) of modification
// timestamps a sync cycle replicates.
type SyncWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewSyncWindow builds [watermark, now-lag).
func NewSyncWindow(watermark, now time.Time, lag time.Duration) SyncWindow {
	return SyncWindow{Start: watermark, End: now.Add(-lag)}
}

// Contains reports whether Start <= t < End.
func (w SyncWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// IsEmpty reports whether the window holds no instant at all.
func (w SyncWindow) IsEmpty() bool {
	return !w.End.After(w.Start)
}

// String renders the window for logs.
func (w SyncWindow) String() string {
	return "[" + w.Start.UTC().Format(time.RFC3339Nano) + ", " + w.End.UTC().Format(time.RFC3339Nano) + ")"
}
