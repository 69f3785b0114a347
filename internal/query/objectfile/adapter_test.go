package objectfile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/parquet-go/parquet-go"

	"github.com/duckmesh/querygrid/internal/grid"
	"github.com/duckmesh/querygrid/internal/query"
	"github.com/duckmesh/querygrid/internal/storage"
	"github.com/duckmesh/querygrid/internal/storage/memstore"
)

func TestIssueParsesCSVWithHeader(t *testing.T) {
	store := memstore.New()
	store.Put("5k-scatter.csv", []byte("x,y\n-0.790276857291,-1.32900495883\n0.5,\"1,5\"\n"))

	out := issueAndNormalize(t, New(store, 0), "5k-scatter.csv")
	if !reflect.DeepEqual(out.ColumnNames, []string{"x", "y"}) {
		t.Fatalf("columns = %v", out.ColumnNames)
	}
	want := [][]grid.Cell{
		{grid.String("-0.790276857291"), grid.String("-1.32900495883")},
		{grid.String("0.5"), grid.String("1,5")},
	}
	if !reflect.DeepEqual(out.Rows, want) {
		t.Fatalf("rows = %v", out.Rows)
	}
}

func TestIssueParsesTSVAndStripsByteOrderMark(t *testing.T) {
	store := memstore.New()
	store.Put("exports/cities.tsv", []byte("\ufeffcity\tcountry\nNYC\tUSA\n"))

	out := issueAndNormalize(t, New(store, 0), " exports/cities.tsv ")
	if !reflect.DeepEqual(out.ColumnNames, []string{"city", "country"}) {
		t.Fatalf("columns = %v", out.ColumnNames)
	}
	if len(out.Rows) != 1 || out.Rows[0][1] != grid.String("USA") {
		t.Fatalf("rows = %v", out.Rows)
	}
}

func TestIssueRaggedCSVIsShapeViolation(t *testing.T) {
	store := memstore.New()
	store.Put("bad.csv", []byte("a,b\n1,2\n3\n"))

	payload, err := New(store, 0).Issue(context.Background(), "bad.csv")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	_, err = query.Normalize(backendName, payload)
	if query.ClassOf(err) != query.ClassShapeViolation {
		t.Fatalf("Normalize() error = %v", err)
	}
}

func TestIssueEmptyObjectIsEmptyGrid(t *testing.T) {
	store := memstore.New()
	store.Put("empty.csv", nil)

	out := issueAndNormalize(t, New(store, 0), "empty.csv")
	encoded, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	if string(encoded) != `{"columnnames":[],"rows":[]}` {
		t.Fatalf("grid = %s", encoded)
	}
}

type cityRow struct {
	City       string  `parquet:"city"`
	Population int64   `parquet:"population"`
	Capital    bool    `parquet:"capital"`
	Density    float64 `parquet:"density"`
	Note       *string `parquet:"note,optional"`
}

func TestIssueReadsParquetTypedColumns(t *testing.T) {
	note := "largest"
	var buf bytes.Buffer
	writer := parquet.NewGenericWriter[cityRow](&buf)
	if _, err := writer.Write([]cityRow{
		{City: "NYC", Population: 8400000, Density: 10715.5, Note: &note},
		{City: "Albany", Population: 99000, Capital: true, Density: 1795.25},
	}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	store := memstore.New()
	store.Put("cities.parquet", buf.Bytes())

	out := issueAndNormalize(t, New(store, 0), "cities.parquet")
	if !reflect.DeepEqual(out.ColumnNames, []string{"city", "population", "capital", "density", "note"}) {
		t.Fatalf("columns = %v", out.ColumnNames)
	}
	want := [][]grid.Cell{
		{grid.String("NYC"), grid.Number(8400000), grid.Bool(false), grid.Number(10715.5), grid.String("largest")},
		{grid.String("Albany"), grid.Number(99000), grid.Bool(true), grid.Number(1795.25), grid.Null()},
	}
	if !reflect.DeepEqual(out.Rows, want) {
		t.Fatalf("rows = %v", out.Rows)
	}
}

func TestIssueCorruptParquetIsBackendQueryError(t *testing.T) {
	store := memstore.New()
	store.Put("broken.parquet", []byte("not parquet at all"))

	_, err := New(store, 0).Issue(context.Background(), "broken.parquet")
	if query.ClassOf(err) != query.ClassBackendQuery {
		t.Fatalf("Issue() error = %v", err)
	}
}

func TestIssueMissingObjectIsBackendQueryError(t *testing.T) {
	_, err := New(memstore.New(), 0).Issue(context.Background(), "missing.csv")
	if query.ClassOf(err) != query.ClassBackendQuery {
		t.Fatalf("Issue() error = %v", err)
	}
	if !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Issue() error = %v, want ErrObjectNotFound", err)
	}
}

func TestIssueRejectsObjectsAboveLimit(t *testing.T) {
	store := memstore.New()
	store.Put("big.csv", bytes.Repeat([]byte("a\n"), 64))

	_, err := New(store, 16).Issue(context.Background(), "big.csv")
	if query.ClassOf(err) != query.ClassResourceExhaustion {
		t.Fatalf("Issue() error = %v", err)
	}
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("Issue() error = %v, want ErrTooLarge", err)
	}
}

func TestIssueRequiresKey(t *testing.T) {
	_, err := New(memstore.New(), 0).Issue(context.Background(), "  ")
	if query.ClassOf(err) != query.ClassBackendQuery {
		t.Fatalf("Issue() error = %v", err)
	}
}

func TestListFilesAndPing(t *testing.T) {
	store := memstore.New()
	store.Put("sales/2024.csv", []byte("a\n1\n"))
	store.Put("sales/2025.parquet", []byte("x"))
	store.Put("other/readme.txt", []byte("x"))
	adapter := New(store, 0)

	files, err := adapter.ListFiles(context.Background(), "sales/")
	if err != nil {
		t.Fatalf("ListFiles() error = %v", err)
	}
	if len(files) != 2 || files[0].Key != "sales/2024.csv" {
		t.Fatalf("ListFiles() = %+v", files)
	}

	if err := adapter.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	store.PingErr = errors.New("dial tcp: connection refused")
	if err := adapter.Ping(context.Background()); query.ClassOf(err) != query.ClassTransport {
		t.Fatalf("Ping() error = %v", err)
	}
}

func issueAndNormalize(t *testing.T, adapter *Adapter, key string) grid.Grid {
	t.Helper()
	payload, err := adapter.Issue(context.Background(), key)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	out, err := query.Normalize(backendName, payload)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	return out
}
