// Package seeder generates synthetic delta file mutations for development
// databases.
package seeder

import (
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/flowlake/flowlake/replicator/internal/models"
)

// DefaultFlows are used when no flow names are configured.
var DefaultFlows = []string{"smoke", "passthrough", "decompress", "split-merge", "egress-sink"}

// Config controls generation.
type Config struct {
	Count  int
	Flows  []string
	Spread time.Duration
	End    time.Time
	Seed   int64
}

// Generator produces MutationRecords.
type Generator struct {
	cfg   Config
	faker *gofakeit.Faker
}

// NewGenerator validates cfg and creates a Generator. A zero Seed draws a
// random one; a zero End means now.
func NewGenerator(cfg Config) (*Generator, error) {
	if cfg.Count <= 0 {
		return nil, fmt.Errorf("count must be positive, got %d", cfg.Count)
	}
	if cfg.Spread <= 0 {
		return nil, fmt.Errorf("spread must be positive, got %s", cfg.Spread)
	}
	if len(cfg.Flows) == 0 {
		cfg.Flows = DefaultFlows
	}
	if cfg.End.IsZero() {
		cfg.End = time.Now()
	}
	cfg.End = cfg.End.UTC()
	return &Generator{cfg: cfg, faker: gofakeit.New(cfg.Seed)}, nil
}

// Generate returns Count records with modification times spread over
// [End-Spread, End). Records are returned in no particular order.
func (g *Generator) Generate() []models.MutationRecord {
	start := g.cfg.End.Add(-g.cfg.Spread)
	out := make([]models.MutationRecord, g.cfg.Count)
	for i := range out {
		out[i] = g.record(start)
	}
	return out
}

func (g *Generator) record(start time.Time) models.MutationRecord {
	f := g.faker
	modified := f.DateRange(start, g.cfg.End.Add(-time.Microsecond)).UTC().Truncate(time.Microsecond)
	created := modified.Add(-time.Duration(f.Number(0, 3600)) * time.Second)
	ingress := int64(f.Number(1, 1<<24))

	rec := models.MutationRecord{
		DID:          f.UUID(),
		Flow:         f.RandomString(g.cfg.Flows),
		Created:      created,
		Modified:     modified,
		IngressBytes: ingress,
		TotalBytes:   ingress + int64(f.Number(0, 1<<24)),
		Errored:      f.Number(1, 100) <= 5,
		Filtered:     f.Number(1, 100) <= 10,
		Egressed:     f.Bool(),
	}
	if f.Bool() {
		rec.Annotations = map[string]string{
			"customer": f.Company(),
			"source":   f.DomainName(),
		}
	}
	return rec
}
