package query

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/duckmesh/querygrid/internal/grid"
	"github.com/duckmesh/querygrid/internal/observability"
	"github.com/duckmesh/querygrid/internal/scroll"
	"github.com/duckmesh/querygrid/internal/storage"
)

func TestExecuteNormalizesAdapterPayload(t *testing.T) {
	adapter := &fakeAdapter{payload: RelationalPayload{
		Columns: []string{"id", "name"},
		Rows:    [][]grid.Cell{{grid.Number(1), grid.String("a")}},
	}}
	service := NewService(fakeRegistry{"warehouse": {Name: "warehouse", Dialect: "postgres", Adapter: adapter}}, nil)

	result, err := service.Execute(context.Background(), "warehouse", "SELECT id, name FROM t")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if adapter.lastQuery != "SELECT id, name FROM t" {
		t.Fatalf("query = %q", adapter.lastQuery)
	}
	if len(result.Grid.Rows) != 1 || result.Stats.Pages != 1 {
		t.Fatalf("result = %+v", result)
	}
}

func TestExecuteReportsScrollPagesAndLogsReleaseFailure(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	adapter := &fakeAdapter{payload: SearchHitsPayload{
		Hits:       []grid.Document{{{Name: "a", Value: grid.Number(1)}}},
		Pages:      3,
		ReleaseErr: errors.New("clear scroll failed"),
	}}
	service := NewService(fakeRegistry{"search": {Name: "search", Dialect: "elasticsearch", Adapter: adapter}}, logger)

	result, err := service.Execute(context.Background(), "search", `{"index":"x"}`)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Stats.Pages != 3 {
		t.Fatalf("pages = %d", result.Stats.Pages)
	}
	if !strings.Contains(logs.String(), "scroll_release_failed") {
		t.Fatalf("logs = %s", logs.String())
	}
}

func TestExecuteUnknownConnection(t *testing.T) {
	service := NewService(fakeRegistry{}, nil)
	if _, err := service.Execute(context.Background(), "missing", "SELECT 1"); !errors.Is(err, ErrUnknownConnection) {
		t.Fatalf("Execute() error = %v", err)
	}
}

func TestExecuteClassifiesAdapterErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Class
	}{
		{"classified", BackendQueryError("postgres", `relation "t" does not exist`, nil), ClassBackendQuery},
		{"deadline", fmt.Errorf("dial: %w", context.DeadlineExceeded), ClassTransport},
		{"unclassified", errors.New("connection reset by peer"), ClassTransport},
		{"scroll ceiling", fmt.Errorf("%w: size 2000000", scroll.ErrResourceExhausted), ClassResourceExhaustion},
		{"shape", fmt.Errorf("%w: bad tree", grid.ErrShape), ClassShapeViolation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service := NewService(fakeRegistry{"c": {Name: "c", Dialect: "postgres", Adapter: &fakeAdapter{err: tc.err}}}, nil)
			_, err := service.Execute(context.Background(), "c", "SELECT 1")
			if got := ClassOf(err); got != tc.want {
				t.Fatalf("ClassOf() = %q, want %q (err = %v)", got, tc.want, err)
			}
			if !errors.Is(err, tc.err) {
				t.Fatalf("original error lost: %v", err)
			}
		})
	}
}

func TestExecuteReturnsNoGridOnShapeViolation(t *testing.T) {
	adapter := &fakeAdapter{payload: SQLFilesPayload{Columns: []string{"a"}, Rows: [][]grid.Cell{{}}}}
	service := NewService(fakeRegistry{"drill": {Name: "drill", Dialect: "drill", Adapter: adapter}}, nil)

	result, err := service.Execute(context.Background(), "drill", "SELECT a FROM t")
	if ClassOf(err) != ClassShapeViolation {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Grid.ColumnNames != nil || result.Grid.Rows != nil {
		t.Fatalf("partial grid returned: %+v", result.Grid)
	}
}

func TestConnectClassifiesPingFailure(t *testing.T) {
	adapter := &fakeAdapter{pingErr: errors.New("dial tcp: connection refused")}
	service := NewService(fakeRegistry{"c": {Name: "c", Dialect: "mysql", Adapter: adapter}}, nil)
	if err := service.Connect(context.Background(), "c"); ClassOf(err) != ClassTransport {
		t.Fatalf("Connect() error = %v", err)
	}
}

func TestConnectCountsChecksByKind(t *testing.T) {
	service := NewService(fakeRegistry{
		"up":   {Name: "up", Dialect: "sqlite", Adapter: &fakeAdapter{}},
		"down": {Name: "down", Dialect: "sqlite", Adapter: &fakeAdapter{pingErr: errors.New("dial tcp: connection refused")}},
	}, nil)
	okLabels := map[string]string{"kind": "relational", "dialect": "sqlite", "outcome": "ok"}
	failedLabels := map[string]string{"kind": "relational", "dialect": "sqlite", "outcome": string(ClassTransport)}
	okBefore := counterValue(t, "querygrid_connection_checks_total", okLabels)
	failedBefore := counterValue(t, "querygrid_connection_checks_total", failedLabels)

	if err := service.Connect(context.Background(), "up"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := service.Connect(context.Background(), "down"); err == nil {
		t.Fatal("Connect() error = nil")
	}
	if got := counterValue(t, "querygrid_connection_checks_total", okLabels) - okBefore; got != 1 {
		t.Fatalf("ok checks = %v, want 1", got)
	}
	if got := counterValue(t, "querygrid_connection_checks_total", failedLabels) - failedBefore; got != 1 {
		t.Fatalf("failed checks = %v, want 1", got)
	}
}

func TestExecuteLabelsQueriesByKind(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	adapter := &fakeAdapter{payload: RelationalPayload{Columns: []string{"id"}, Rows: [][]grid.Cell{{grid.Number(1)}}}}
	service := NewService(fakeRegistry{"warehouse": {Name: "warehouse", Dialect: "postgres", Adapter: adapter}}, logger)
	labels := map[string]string{"kind": "relational", "dialect": "postgres", "outcome": "ok"}
	before := counterValue(t, "querygrid_queries_total", labels)

	ctx := observability.ContextWithTraceID(context.Background(), "trace-7")
	if _, err := service.Execute(ctx, "warehouse", "SELECT id FROM t"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := counterValue(t, "querygrid_queries_total", labels) - before; got != 1 {
		t.Fatalf("queries = %v, want 1", got)
	}
	for _, want := range []string{
		`"trace_id":"trace-7"`,
		`"connection":{"name":"warehouse","kind":"relational","dialect":"postgres"}`,
		`"msg":"query_completed"`,
	} {
		if !strings.Contains(logs.String(), want) {
			t.Fatalf("logs = %s, want %s", logs.String(), want)
		}
	}
}

func TestListFilesRequiresFileLister(t *testing.T) {
	service := NewService(fakeRegistry{
		"db":    {Name: "db", Dialect: "sqlite", Adapter: &fakeAdapter{}},
		"files": {Name: "files", Dialect: "s3", Adapter: &fakeFileAdapter{files: []storage.ObjectInfo{{Key: "a.csv", Size: 3}}}},
	}, nil)

	if _, err := service.ListFiles(context.Background(), "db", ""); !errors.Is(err, ErrFilesUnsupported) {
		t.Fatalf("ListFiles() error = %v", err)
	}
	files, err := service.ListFiles(context.Background(), "files", "")
	if err != nil {
		t.Fatalf("ListFiles() error = %v", err)
	}
	if len(files) != 1 || files[0].Key != "a.csv" {
		t.Fatalf("files = %+v", files)
	}
}

type fakeRegistry map[string]Connection

func (r fakeRegistry) Lookup(name string) (Connection, bool) {
	conn, ok := r[name]
	return conn, ok
}

func (r fakeRegistry) List() []Connection {
	out := make([]Connection, 0, len(r))
	for _, conn := range r {
		out = append(out, conn)
	}
	return out
}

type fakeAdapter struct {
	payload   Payload
	err       error
	pingErr   error
	lastQuery string
}

func (f *fakeAdapter) Kind() Kind { return KindRelational }

func (f *fakeAdapter) Issue(_ context.Context, query string) (Payload, error) {
	f.lastQuery = query
	if f.err != nil {
		return nil, f.err
	}
	return f.payload, nil
}

func (f *fakeAdapter) Ping(context.Context) error { return f.pingErr }

type fakeFileAdapter struct {
	fakeAdapter
	files []storage.ObjectInfo
}

func (f *fakeFileAdapter) ListFiles(context.Context, string) ([]storage.ObjectInfo, error) {
	return f.files, nil
}

func counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			matched := 0
			for _, pair := range metric.GetLabel() {
				if want, ok := labels[pair.GetName()]; ok && want == pair.GetValue() {
					matched++
				}
			}
			if matched == len(labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}
