package pipeline

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/airml/aodimpute/internal/dataset"
	"github.com/airml/aodimpute/internal/metrics"
)

type SampleConfig struct {
	Fraction     float64 // per-cell sampling fraction
	Seed         int64
	GroupColumn  string // coarse grid group
	DateColumn   string
	BucketColumn string // derived year-month column
}

func DefaultSampleConfig() SampleConfig {
	return SampleConfig{
		Fraction:     0.03,
		Seed:         42,
		GroupColumn:  "grid_id_50km",
		DateColumn:   "date",
		BucketColumn: "year_month",
	}
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

func yearMonth(s string) (string, error) {
	for _, layout := range dateLayouts {
		if tm, err := time.Parse(layout, s); err == nil {
			return tm.Format("2006-01"), nil
		}
	}
	return "", fmt.Errorf("unparseable date %q", s)
}

// cellSeed derives a per-cell RNG seed from the run seed and the cell key,
// so each cell draws from its own stream instead of one shared RNG whose
// state would couple every cell's draw to iteration order.
func cellSeed(seed int64, key string) int64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return seed ^ int64(h.Sum64())
}

// SampleByCell draws round(fraction x cell_size) rows without replacement
// from every (coarse group, year-month) cell. The bucket column is appended
// to the input table as a derived attribute; rows with an empty coarse group
// are excluded from cell formation. Cells small enough that the rounded
// count is zero contribute no rows, preserving proportional representation
// over minimum per-cell counts.
func SampleByCell(t *dataset.Table, cfg SampleConfig) (*dataset.Table, error) {
	if cfg.Fraction <= 0 || cfg.Fraction > 1 {
		return nil, fmt.Errorf("sampling fraction %v outside (0,1]", cfg.Fraction)
	}

	groups, err := t.Column(cfg.GroupColumn)
	if err != nil {
		return nil, fmt.Errorf("%w (was the grid mapping table provided?)", err)
	}
	dates, err := t.Column(cfg.DateColumn)
	if err != nil {
		return nil, err
	}

	buckets := make([]string, len(dates))
	for i, d := range dates {
		ym, err := yearMonth(d)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		buckets[i] = ym
	}
	if !t.HasColumn(cfg.BucketColumn) {
		if err := t.AppendColumn(cfg.BucketColumn, buckets); err != nil {
			return nil, err
		}
	}

	// Cells in first-appearance order keep the output deterministic for a
	// given input ordering.
	type cell struct {
		rows []int
	}
	order := make([]string, 0)
	cells := make(map[string]*cell)
	for i, g := range groups {
		if g == "" {
			continue
		}
		key := g + "\x00" + buckets[i]
		c, ok := cells[key]
		if !ok {
			c = &cell{}
			cells[key] = c
			order = append(order, key)
		}
		c.rows = append(c.rows, i)
	}

	var selected []int
	for _, key := range order {
		c := cells[key]
		k := int(math.Round(cfg.Fraction * float64(len(c.rows))))
		if k == 0 {
			continue
		}
		rng := rand.New(rand.NewSource(cellSeed(cfg.Seed, key)))
		picks := rng.Perm(len(c.rows))[:k]
		sort.Ints(picks)
		for _, p := range picks {
			selected = append(selected, c.rows[p])
		}
	}

	out, err := t.Select(selected)
	if err != nil {
		return nil, err
	}
	metrics.RowsSampled.Set(float64(out.Len()))
	return out, nil
}
