// Package embedding lays a target record and its reference population out in
// two dimensions.  It prepares a standardized numeric matrix and hands it to
// an Embedder backend.
package embedding

import (
	"strings"

	"github.com/montanaflynn/stats"

	"github.com/turtacn/KidneyMatch/internal/domain/features"
	"github.com/turtacn/KidneyMatch/internal/domain/reference"
)

// deniedColumns are identifier or outcome columns that would leak the label
// into the layout.
var deniedColumns = features.NewColumnSet([]string{
	reference.SequenceField,
	reference.OutcomeField,
	reference.BaselinePlaceholder,
})

// Denied reports whether name is kept out of the embedding matrix.
func Denied(name string) bool {
	return deniedColumns.Contains(name) ||
		strings.HasSuffix(strings.ToLower(name), "_"+reference.BaselinePlaceholder)
}

// Matrix is a dense, row-major feature matrix.  Row 0 is the target.
type Matrix struct {
	Columns []string
	Rows    [][]float64
}

// Dims returns the row and column counts.
func (m *Matrix) Dims() (int, int) { return len(m.Rows), len(m.Columns) }

// BuildMatrix selects the numeric, non-denied columns of names and fills a
// matrix with target first and then rows in order.  A column is numeric when
// at least one row holds a number in it; other cells of that column read 0.
func BuildMatrix(target features.Vector, rows []features.Vector, names []string) *Matrix {
	all := make([]features.Vector, 0, len(rows)+1)
	all = append(all, target)
	all = append(all, rows...)

	var cols []string
	for _, name := range names {
		if Denied(name) {
			continue
		}
		for _, v := range all {
			if _, ok := v.Number(name); ok {
				cols = append(cols, name)
				break
			}
		}
	}

	m := &Matrix{Columns: cols, Rows: make([][]float64, len(all))}
	for i, v := range all {
		row := make([]float64, len(cols))
		for j, c := range cols {
			if f, ok := v.Number(c); ok {
				row[j] = f
			}
		}
		m.Rows[i] = row
	}
	return m
}

// Standardize z-scores every column in place using the population standard
// deviation.  A column with zero spread is divided by 1.
func (m *Matrix) Standardize() {
	n, d := m.Dims()
	if n == 0 {
		return
	}
	col := make([]float64, n)
	for j := 0; j < d; j++ {
		for i := range m.Rows {
			col[i] = m.Rows[i][j]
		}
		mean, _ := stats.Mean(col)
		sd, err := stats.StandardDeviationPopulation(col)
		if err != nil || sd == 0 {
			sd = 1
		}
		for i := range m.Rows {
			m.Rows[i][j] = (m.Rows[i][j] - mean) / sd
		}
	}
}

// Params are the backend tuning knobs derived from the point count.
type Params struct {
	NNeighbors int     `json:"n_neighbors"`
	Perplexity float64 `json:"perplexity"`
	Seed       int64   `json:"seed"`
}

// ParamsFor scales the neighbor count and perplexity down for small point
// sets: neighbors = clamp(min(15, n/10), 2, n-1), perplexity = min(30, n-1).
func ParamsFor(n int, seed int64) Params {
	nn := n / 10
	if nn > 15 {
		nn = 15
	}
	if nn < 2 {
		nn = 2
	}
	if nn > n-1 {
		nn = n - 1
	}
	perp := n - 1
	if perp > 30 {
		perp = 30
	}
	return Params{NNeighbors: nn, Perplexity: float64(perp), Seed: seed}
}
