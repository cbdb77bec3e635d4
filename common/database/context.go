// Package database holds the bounded-timeout helpers used for every call
// to the operational and analytical stores.
package database

import (
	"context"
	"time"
)

// Standard timeout durations for store operations
const (
	// DefaultQueryTimeout is the timeout for read queries against either store
	DefaultQueryTimeout = 5 * time.Second

	// DefaultBulkTimeout is the timeout for batched inserts
	DefaultBulkTimeout = 30 * time.Second

	// DefaultDDLTimeout is the timeout for schema statements
	DefaultDDLTimeout = 30 * time.Second
)

// QueryContext creates a context with DefaultQueryTimeout.
// Use this for SELECT queries and read operations.
func QueryContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultQueryTimeout)
}

// BulkContext creates a context with DefaultBulkTimeout.
// Use this for batched inserts.
func BulkContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultBulkTimeout)
}

// TimeoutContext creates a context bounded by d, falling back to fallback when d is not positive.
func TimeoutContext(parent context.Context, d, fallback time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = fallback
	}
	return context.WithTimeout(parent, d)
}

// DetachedContext returns a context that keeps parent's values but ignores its
// cancellation, bounded by d. In-flight writes use it so a shutdown signal
// does not abort a half-sent batch.
func DetachedContext(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultBulkTimeout
	}
	return context.WithTimeout(context.WithoutCancel(parent), d)
}
