package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"math"
	"strconv"
	"strings"

	"github.com/airml/aodimpute/internal/dataset"
	"github.com/airml/aodimpute/internal/metrics"
)

// ErrUnmappedExceeded reports that too many rows failed to resolve a coarse
// grid group during the merge.
var ErrUnmappedExceeded = errors.New("unmapped row fraction exceeds limit")

type MergeConfig struct {
	FineColumn      string  // fine grid column in the feature table
	MappingFine     string  // fine grid column in the mapping table
	CoarseColumn    string  // coarse grid column added by the merge
	MaxUnmappedFrac float64 // fatal above this unmapped fraction
}

func DefaultMergeConfig() MergeConfig {
	return MergeConfig{
		FineColumn:      "grid_id",
		MappingFine:     "grid_id_10km",
		CoarseColumn:    "grid_id_50km",
		MaxUnmappedFrac: 0.5,
	}
}

// CanonicalID normalizes a grid identifier to its integer string form.
// Upstream exports write the same identifier as "12", "12.0", or " 12"
// depending on the tool that produced the file; joining on the raw strings
// would silently drop every mismatched row.
func CanonicalID(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", errors.New("empty identifier")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return strconv.FormatInt(n, 10), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return "", fmt.Errorf("identifier %q is not numeric", raw)
	}
	if f != math.Trunc(f) {
		return "", fmt.Errorf("identifier %q is not an integer", raw)
	}
	return strconv.FormatInt(int64(f), 10), nil
}

// ReadMapping loads the optional fine-to-coarse grid mapping table. A
// missing file returns (nil, nil) so the merge step can be skipped; any
// other failure (unreadable file, malformed CSV) is surfaced rather than
// being mistaken for an absent mapping.
func ReadMapping(path string) (*dataset.Table, error) {
	t, err := dataset.ReadCSV(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// MergeGrid left-joins the feature table with the fine-to-coarse grid
// mapping, adding the coarse group column. The fine column is rewritten to
// canonical form. Rows without a mapping keep an empty coarse group; they
// are tolerated up to MaxUnmappedFrac and excluded from grouped sampling.
func MergeGrid(t *dataset.Table, mapping *dataset.Table, cfg MergeConfig) error {
	fine, err := t.Column(cfg.FineColumn)
	if err != nil {
		return err
	}
	mapFine, err := mapping.Column(cfg.MappingFine)
	if err != nil {
		return fmt.Errorf("mapping table: %w", err)
	}
	mapCoarse, err := mapping.Column(cfg.CoarseColumn)
	if err != nil {
		return fmt.Errorf("mapping table: %w", err)
	}

	lookup := make(map[string]string, len(mapFine))
	for i, raw := range mapFine {
		id, err := CanonicalID(raw)
		if err != nil {
			return fmt.Errorf("mapping row %d: %w", i, err)
		}
		// First mapping wins so duplicate mapping rows cannot reorder
		// the join result between runs.
		if _, ok := lookup[id]; !ok {
			lookup[id] = strings.TrimSpace(mapCoarse[i])
		}
	}

	coarse := make([]string, len(fine))
	canonical := make([]string, len(fine))
	unmapped := 0
	for i, raw := range fine {
		id, err := CanonicalID(raw)
		if err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		canonical[i] = id
		if g, ok := lookup[id]; ok {
			coarse[i] = g
		} else {
			unmapped++
		}
	}

	if err := t.SetColumn(cfg.FineColumn, canonical); err != nil {
		return err
	}
	if err := t.AppendColumn(cfg.CoarseColumn, coarse); err != nil {
		return err
	}

	metrics.RowsUnmapped.Set(float64(unmapped))
	log.Printf("merge: %d rows in, %d rows out, %d unmapped (%.1f%%)",
		len(fine), t.Len(), unmapped, 100*frac(unmapped, len(fine)))

	if unmapped > 0 && frac(unmapped, len(fine)) > cfg.MaxUnmappedFrac {
		return fmt.Errorf("%w: %.2f > %.2f",
			ErrUnmappedExceeded, frac(unmapped, len(fine)), cfg.MaxUnmappedFrac)
	}
	return nil
}

func frac(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}
