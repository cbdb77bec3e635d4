// Package source reads mutation records from the operational store in
// ascending (modified, did) order, one bounded page at a time.
package source

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/flowlake/flowlake/replicator/internal/models"
)

// ErrInvalidLimit is returned when a page size is not positive.
var ErrInvalidLimit = errors.New("page limit must be positive")

// PageQuerier returns up to limit records with modified in window, ordered by
// (modified, did) and strictly after the after record when it is non-nil.
type PageQuerier interface {
	QueryPage(ctx context.Context, window models.SyncWindow, after *models.MutationRecord, limit int) ([]models.MutationRecord, error)
}

// Source hands out page iterators over a window.
type Source interface {
	Fetch(window models.SyncWindow, limit int) *Pages
}

// Pages iterates a window page by page. A fresh Pages over the same window
// yields the same records, so an aborted cycle can simply start over.
type Pages struct {
	querier PageQuerier
	window  models.SyncWindow
	limit   int
	after   *models.MutationRecord
	done    bool
}

// NewPages creates an iterator over window using querier.
func NewPages(querier PageQuerier, window models.SyncWindow, limit int) *Pages {
	return &Pages{querier: querier, window: window, limit: limit}
}

// Next returns the next page. Once the window is exhausted it returns an
// empty page and a nil error. A failed read leaves the position unchanged.
func (p *Pages) Next(ctx context.Context) ([]models.MutationRecord, error) {
	if p.limit <= 0 {
		return nil, ErrInvalidLimit
	}
	if p.done || p.window.IsEmpty() {
		return nil, nil
	}

	records, err := p.querier.QueryPage(ctx, p.window, p.after, p.limit)
	if err != nil {
		return nil, err
	}

	if len(records) < p.limit {
		p.done = true
	}
	if len(records) > 0 {
		last := records[len(records)-1]
		p.after = &last
	}
	return records, nil
}

// Window returns the window being iterated.
func (p *Pages) Window() models.SyncWindow {
	return p.window
}

// Less orders records by (modified, did), the keyset order of every page.
func Less(a, b models.MutationRecord) bool {
	if !a.Modified.Equal(b.Modified) {
		return a.Modified.Before(b.Modified)
	}
	return a.DID < b.DID
}

// MemorySource is an in-memory operational store. Records may be upserted
// concurrently with reads, which is how tests model a live table.
type MemorySource struct {
	mu      sync.RWMutex
	records map[string]models.MutationRecord
	fail    error
}

// NewMemorySource creates a MemorySource holding records.
func NewMemorySource(records ...models.MutationRecord) *MemorySource {
	m := &MemorySource{records: make(map[string]models.MutationRecord)}
	m.Upsert(records...)
	return m
}

// Upsert inserts or replaces records by DID.
func (m *MemorySource) Upsert(records ...models.MutationRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		m.records[r.DID] = r
	}
}

// FailWith makes every subsequent query fail with err; nil restores service.
func (m *MemorySource) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// Fetch implements Source.
func (m *MemorySource) Fetch(window models.SyncWindow, limit int) *Pages {
	return NewPages(m, window, limit)
}

// QueryPage implements PageQuerier.
func (m *MemorySource) QueryPage(ctx context.Context, window models.SyncWindow, after *models.MutationRecord, limit int) ([]models.MutationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.fail != nil {
		return nil, m.fail
	}

	matched := make([]models.MutationRecord, 0, len(m.records))
	for _, r := range m.records {
		if !window.Contains(r.Modified) {
			continue
		}
		if after != nil && !Less(*after, r) {
			continue
		}
		matched = append(matched, r)
	}

	sort.Slice(matched, func(i, j int) bool { return Less(matched[i], matched[j]) })
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}
