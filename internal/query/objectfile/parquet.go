package objectfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/format"

	"github.com/duckmesh/querygrid/internal/grid"
)

const parquetBatchSize = 256

// readParquet returns one column per leaf column of the file schema, named by
// its dotted path. Repeated leaves are kept as JSON array text.
func readParquet(data []byte) ([]string, [][]grid.Cell, error) {
	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, nil, fmt.Errorf("open parquet file: %w", err)
	}
	schema := file.Schema()
	paths := schema.Columns()
	columns := make([]string, len(paths))
	timestamps := make([]*format.TimestampType, len(paths))
	dates := make([]bool, len(paths))
	for i, path := range paths {
		columns[i] = strings.Join(path, ".")
		leaf, ok := schema.Lookup(path...)
		if !ok {
			continue
		}
		if logical := leaf.Node.Type().LogicalType(); logical != nil {
			timestamps[i] = logical.Timestamp
			dates[i] = logical.Date != nil
		}
	}

	reader := parquet.NewReader(file)
	defer func() { _ = reader.Close() }()

	rows := make([][]grid.Cell, 0, file.NumRows())
	buffer := make([]parquet.Row, parquetBatchSize)
	for {
		n, err := reader.ReadRows(buffer)
		for _, row := range buffer[:n] {
			cells, convErr := rowCells(row, len(columns), timestamps, dates)
			if convErr != nil {
				return nil, nil, convErr
			}
			rows = append(rows, cells)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read parquet rows: %w", err)
		}
		if n == 0 {
			break
		}
	}
	return columns, rows, nil
}

func rowCells(row parquet.Row, width int, timestamps []*format.TimestampType, dates []bool) ([]grid.Cell, error) {
	values := make([][]grid.Cell, width)
	for _, value := range row {
		column := value.Column()
		if column < 0 || column >= width {
			return nil, fmt.Errorf("%w: parquet value for column %d, schema has %d", grid.ErrShape, column, width)
		}
		if value.IsNull() {
			continue
		}
		values[column] = append(values[column], valueCell(value, timestamps[column], dates[column]))
	}

	cells := make([]grid.Cell, width)
	for i, collected := range values {
		switch len(collected) {
		case 0:
			cells[i] = grid.Null()
		case 1:
			cells[i] = collected[0]
		default:
			encoded, err := gojson.Marshal(collected)
			if err != nil {
				return nil, err
			}
			cells[i] = grid.String(string(encoded))
		}
	}
	return cells, nil
}

func valueCell(value parquet.Value, timestamp *format.TimestampType, date bool) grid.Cell {
	switch value.Kind() {
	case parquet.Boolean:
		return grid.Bool(value.Boolean())
	case parquet.Int32:
		if date {
			return grid.String(time.Unix(int64(value.Int32())*86400, 0).UTC().Format(time.DateOnly))
		}
		return grid.Number(float64(value.Int32()))
	case parquet.Int64:
		if timestamp != nil {
			return grid.String(timestampOf(value.Int64(), timestamp).Format(time.RFC3339Nano))
		}
		return grid.Number(float64(value.Int64()))
	case parquet.Float:
		return grid.Number(float64(value.Float()))
	case parquet.Double:
		return grid.Number(value.Double())
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return grid.String(string(value.ByteArray()))
	default:
		return grid.String(value.String())
	}
}

func timestampOf(raw int64, timestamp *format.TimestampType) time.Time {
	var t time.Time
	switch {
	case timestamp.Unit.Millis != nil:
		t = time.UnixMilli(raw)
	case timestamp.Unit.Micros != nil:
		t = time.UnixMicro(raw)
	default:
		t = time.Unix(0, raw)
	}
	return t.UTC()
}
