package query

import (
	"errors"
	"fmt"

	"github.com/duckmesh/querygrid/internal/aggregation"
	"github.com/duckmesh/querygrid/internal/grid"
)

// Normalize reshapes a backend payload into a grid. An error the backend
// reported inside the payload wins over any reshaping.
func Normalize(backend string, payload Payload) (grid.Grid, error) {
	if message := reportedError(payload); message != "" {
		return grid.Grid{}, BackendQueryError(backend, message, nil)
	}

	var (
		out grid.Grid
		err error
	)
	switch p := payload.(type) {
	case RelationalPayload:
		out, err = grid.New(p.Columns, p.Rows)
	case SearchHitsPayload:
		out, err = grid.Assemble(p.Hits)
	case SearchAggregationPayload:
		out, err = normalizeAggregation(p)
	case FilePayload:
		out, err = normalizeFile(p)
	case SQLFilesPayload:
		out, err = grid.New(p.Columns, p.Rows)
	case nil:
		err = fmt.Errorf("%w: no payload", grid.ErrShape)
	default:
		err = fmt.Errorf("%w: unsupported payload %T", grid.ErrShape, payload)
	}
	if err != nil {
		if errors.Is(err, grid.ErrShape) {
			return grid.Grid{}, ShapeError(backend, err)
		}
		return grid.Grid{}, err
	}
	if out.ColumnNames == nil {
		out.ColumnNames = []string{}
	}
	if out.Rows == nil {
		out.Rows = [][]grid.Cell{}
	}
	return out, nil
}

func reportedError(payload Payload) string {
	switch p := payload.(type) {
	case SearchHitsPayload:
		return p.BackendError
	case SearchAggregationPayload:
		return p.BackendError
	case SQLFilesPayload:
		return p.BackendError
	default:
		return ""
	}
}

func normalizeAggregation(p SearchAggregationPayload) (grid.Grid, error) {
	out, err := aggregation.Flatten(p.Tree)
	if err != nil {
		return grid.Grid{}, err
	}
	if len(out.Rows) == 0 && len(p.Columns) > 0 {
		return grid.New(append([]string(nil), p.Columns...), nil)
	}
	return out, nil
}

func normalizeFile(p FilePayload) (grid.Grid, error) {
	if p.Records == nil {
		return grid.New(p.Columns, p.Rows)
	}
	if len(p.Records) == 0 {
		return grid.Empty(), nil
	}

	header := p.Records[0]
	rows := make([][]grid.Cell, 0, len(p.Records)-1)
	for _, record := range p.Records[1:] {
		row := make([]grid.Cell, len(record))
		for i, value := range record {
			row[i] = grid.String(value)
		}
		rows = append(rows, row)
	}
	return grid.New(append([]string(nil), header...), rows)
}
