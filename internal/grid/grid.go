package grid

import (
	"errors"
	"fmt"
)

// ErrShape marks a payload that breaks the row/column alignment invariants.
var ErrShape = errors.New("grid: shape violation")

type Grid struct {
	ColumnNames []string `json:"columnnames"`
	Rows        [][]Cell `json:"rows"`
}

func Empty() Grid {
	return Grid{ColumnNames: []string{}, Rows: [][]Cell{}}
}

// New validates columns and rows and returns them as a grid.
func New(columnNames []string, rows [][]Cell) (Grid, error) {
	if columnNames == nil {
		columnNames = []string{}
	}
	if rows == nil {
		rows = [][]Cell{}
	}
	g := Grid{ColumnNames: columnNames, Rows: rows}
	if err := g.Validate(); err != nil {
		return Grid{}, err
	}
	return g, nil
}

// Validate checks that column names are unique and every row aligns with them.
func (g Grid) Validate() error {
	seen := make(map[string]struct{}, len(g.ColumnNames))
	for _, name := range g.ColumnNames {
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: duplicate column %q", ErrShape, name)
		}
		seen[name] = struct{}{}
	}
	for i, row := range g.Rows {
		if len(row) != len(g.ColumnNames) {
			return fmt.Errorf("%w: row %d has %d cells, want %d", ErrShape, i, len(row), len(g.ColumnNames))
		}
	}
	return nil
}

// UniqueNames renames repeated column names so every name is distinct. The
// first occurrence keeps its name; later ones get "_2", "_3" and so on,
// skipping any suffix another column already uses.
func UniqueNames(names []string) []string {
	taken := make(map[string]struct{}, len(names))
	for _, name := range names {
		taken[name] = struct{}{}
	}
	out := make([]string, len(names))
	seen := make(map[string]int, len(names))
	for i, name := range names {
		seen[name]++
		if seen[name] == 1 {
			out[i] = name
			continue
		}
		n := seen[name]
		candidate := fmt.Sprintf("%s_%d", name, n)
		for {
			if _, used := taken[candidate]; !used {
				break
			}
			n++
			candidate = fmt.Sprintf("%s_%d", name, n)
		}
		taken[candidate] = struct{}{}
		seen[name] = n
		out[i] = candidate
	}
	return out
}

// Columns returns the grid in column-major order.
func (g Grid) Columns() [][]Cell {
	columns := make([][]Cell, len(g.ColumnNames))
	for j := range columns {
		columns[j] = make([]Cell, len(g.Rows))
		for i, row := range g.Rows {
			columns[j][i] = row[j]
		}
	}
	return columns
}

// FromColumns builds a grid from column-major data. Every column must have
// the same length.
func FromColumns(columnNames []string, columns [][]Cell) (Grid, error) {
	if len(columnNames) != len(columns) {
		return Grid{}, fmt.Errorf("%w: %d column names for %d columns", ErrShape, len(columnNames), len(columns))
	}
	rows, err := Transpose(columns)
	if err != nil {
		return Grid{}, err
	}
	return New(columnNames, rows)
}

// Transpose swaps rows and columns: out[i][j] = in[j][i]. Inner slices of
// unequal length are rejected rather than truncated.
func Transpose(in [][]Cell) ([][]Cell, error) {
	if len(in) == 0 {
		return [][]Cell{}, nil
	}
	width := len(in[0])
	for j, inner := range in {
		if len(inner) != width {
			return nil, fmt.Errorf("%w: column %d has %d values, want %d", ErrShape, j, len(inner), width)
		}
	}
	out := make([][]Cell, width)
	for i := range out {
		out[i] = make([]Cell, len(in))
		for j := range in {
			out[i][j] = in[j][i]
		}
	}
	return out, nil
}
