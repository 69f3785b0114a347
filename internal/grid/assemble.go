package grid

import "fmt"

type Field struct {
	Name  string
	Value Cell
}

// Document is one record whose fields keep the order the backend produced.
type Document []Field

// Assemble builds a grid from documents that may each carry a different
// subset of fields. Columns appear in first-seen order across the document
// sequence and absent fields become null cells.
func Assemble(docs []Document) (Grid, error) {
	index := map[string]int{}
	columnNames := []string{}
	for d, doc := range docs {
		local := make(map[string]struct{}, len(doc))
		for _, field := range doc {
			if _, dup := local[field.Name]; dup {
				return Grid{}, fmt.Errorf("%w: document %d repeats field %q", ErrShape, d, field.Name)
			}
			local[field.Name] = struct{}{}
			if _, ok := index[field.Name]; !ok {
				index[field.Name] = len(columnNames)
				columnNames = append(columnNames, field.Name)
			}
		}
	}

	rows := make([][]Cell, 0, len(docs))
	for _, doc := range docs {
		row := make([]Cell, len(columnNames))
		for _, field := range doc {
			row[index[field.Name]] = field.Value
		}
		rows = append(rows, row)
	}
	return Grid{ColumnNames: columnNames, Rows: rows}, nil
}
