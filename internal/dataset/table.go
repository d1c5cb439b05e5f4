package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"gonum.org/v1/gonum/mat"
)

// ErrMissingColumn reports a required column absent from a table. Callers
// treat it as a schema violation and abort before any modeling.
var ErrMissingColumn = errors.New("missing column")

// Table is an in-memory CSV table: a header plus string-valued rows.
// Numeric access parses on demand; empty cells parse to NaN so that
// upstream exports with sparse covariates load without special casing.
type Table struct {
	cols []string
	idx  map[string]int
	rows [][]string
}

func New(cols []string) (*Table, error) {
	idx := make(map[string]int, len(cols))
	for i, c := range cols {
		if _, dup := idx[c]; dup {
			return nil, fmt.Errorf("duplicate column %q", c)
		}
		idx[c] = i
	}
	return &Table{cols: append([]string(nil), cols...), idx: idx}, nil
}

func ReadCSV(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	t, err := ReadCSVFrom(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

func ReadCSVFrom(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.New("empty input")
	}
	if err != nil {
		return nil, err
	}

	t, err := New(header)
	if err != nil {
		return nil, err
	}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		t.rows = append(t.rows, rec)
	}
	return t, nil
}

func (t *Table) WriteCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := t.WriteCSVTo(f); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}

func (t *Table) WriteCSVTo(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.cols); err != nil {
		return err
	}
	for _, row := range t.rows {
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (t *Table) Len() int { return len(t.rows) }

func (t *Table) Columns() []string { return append([]string(nil), t.cols...) }

func (t *Table) HasColumn(name string) bool {
	_, ok := t.idx[name]
	return ok
}

func (t *Table) columnIndex(name string) (int, error) {
	i, ok := t.idx[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrMissingColumn, name)
	}
	return i, nil
}

// Column returns a copy of the named column's raw values.
func (t *Table) Column(name string) ([]string, error) {
	i, err := t.columnIndex(name)
	if err != nil {
		return nil, err
	}
	vals := make([]string, len(t.rows))
	for r, row := range t.rows {
		vals[r] = row[i]
	}
	return vals, nil
}

// FloatColumn parses the named column as float64. Empty cells become NaN;
// any other unparseable cell is an error.
func (t *Table) FloatColumn(name string) ([]float64, error) {
	i, err := t.columnIndex(name)
	if err != nil {
		return nil, err
	}
	vals := make([]float64, len(t.rows))
	for r, row := range t.rows {
		v, err := parseCell(row[i])
		if err != nil {
			return nil, fmt.Errorf("column %q row %d: %w", name, r, err)
		}
		vals[r] = v
	}
	return vals, nil
}

// SetColumn replaces the named column's values in place.
func (t *Table) SetColumn(name string, vals []string) error {
	i, err := t.columnIndex(name)
	if err != nil {
		return err
	}
	if len(vals) != len(t.rows) {
		return fmt.Errorf("column %q: %d values for %d rows", name, len(vals), len(t.rows))
	}
	for r := range t.rows {
		t.rows[r][i] = vals[r]
	}
	return nil
}

// AppendColumn adds a new column with one value per existing row.
func (t *Table) AppendColumn(name string, vals []string) error {
	if t.HasColumn(name) {
		return fmt.Errorf("column %q already exists", name)
	}
	if len(vals) != len(t.rows) {
		return fmt.Errorf("column %q: %d values for %d rows", name, len(vals), len(t.rows))
	}
	t.idx[name] = len(t.cols)
	t.cols = append(t.cols, name)
	for r := range t.rows {
		row := make([]string, len(t.rows[r]), len(t.rows[r])+1)
		copy(row, t.rows[r])
		t.rows[r] = append(row, vals[r])
	}
	return nil
}

// AppendRow adds one row with a value per column.
func (t *Table) AppendRow(vals []string) error {
	if len(vals) != len(t.cols) {
		return fmt.Errorf("%d values for %d columns", len(vals), len(t.cols))
	}
	row := make([]string, len(vals))
	copy(row, vals)
	t.rows = append(t.rows, row)
	return nil
}

// Select returns a new table holding copies of the given rows, in order.
func (t *Table) Select(rows []int) (*Table, error) {
	out, err := New(t.cols)
	if err != nil {
		return nil, err
	}
	out.rows = make([][]string, 0, len(rows))
	for _, r := range rows {
		if r < 0 || r >= len(t.rows) {
			return nil, fmt.Errorf("row index %d out of range [0,%d)", r, len(t.rows))
		}
		row := make([]string, len(t.rows[r]))
		copy(row, t.rows[r])
		out.rows = append(out.rows, row)
	}
	return out, nil
}

// Matrix builds a dense row-major matrix from the named feature columns.
// All columns must be present; absent columns abort before any parsing.
func (t *Table) Matrix(features []string) (*mat.Dense, error) {
	var missing []string
	cols := make([]int, len(features))
	for i, name := range features {
		idx, err := t.columnIndex(name)
		if err != nil {
			missing = append(missing, name)
			continue
		}
		cols[i] = idx
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrMissingColumn, missing)
	}
	if len(t.rows) == 0 {
		return nil, errors.New("no rows")
	}

	data := make([]float64, len(t.rows)*len(features))
	for r, row := range t.rows {
		for c, idx := range cols {
			v, err := parseCell(row[idx])
			if err != nil {
				return nil, fmt.Errorf("column %q row %d: %w", features[c], r, err)
			}
			data[r*len(features)+c] = v
		}
	}
	return mat.NewDense(len(t.rows), len(features), data), nil
}

// TargetVector builds an n-by-1 matrix from the named column, rejecting
// empty or non-numeric cells: a silent NaN target would corrupt a fit.
func (t *Table) TargetVector(name string) (*mat.Dense, error) {
	vals, err := t.FloatColumn(name)
	if err != nil {
		return nil, err
	}
	for r, v := range vals {
		if math.IsNaN(v) {
			return nil, fmt.Errorf("target %q row %d: missing value", name, r)
		}
	}
	return mat.NewDense(len(vals), 1, vals), nil
}

func parseCell(s string) (float64, error) {
	if s == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}
