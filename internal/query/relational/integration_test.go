//go:build integration

package relational

import (
	"context"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/duckmesh/querygrid/internal/grid"
	"github.com/duckmesh/querygrid/internal/query"
)

func TestIssueAgainstLiveDatabases(t *testing.T) {
	targets := []struct {
		dialect string
		envKey  string
		sql     string
	}{
		{"postgres", "QUERYGRID_TEST_POSTGRES_DSN", "SELECT 1 AS one, 'x'::text AS label, NULL::int AS missing, true AS flag"},
		{"mysql", "QUERYGRID_TEST_MYSQL_DSN", "SELECT 1 AS one, 'x' AS label, NULL AS missing, TRUE AS flag"},
	}
	for _, target := range targets {
		t.Run(target.dialect, func(t *testing.T) {
			dsn := strings.TrimSpace(os.Getenv(target.envKey))
			if dsn == "" {
				t.Skipf("%s is not set", target.envKey)
			}
			db, err := Open(DBConfig{Dialect: target.dialect, DSN: dsn, MaxOpenConns: 2})
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			adapter := New(db, target.dialect)
			defer func() { _ = adapter.Close() }()

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			defer cancel()
			if err := adapter.Ping(ctx); err != nil {
				t.Fatalf("Ping() error = %v", err)
			}

			payload, err := adapter.Issue(ctx, target.sql)
			if err != nil {
				t.Fatalf("Issue() error = %v", err)
			}
			out, err := query.Normalize(target.dialect, payload)
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if !reflect.DeepEqual(out.ColumnNames, []string{"one", "label", "missing", "flag"}) {
				t.Fatalf("columns = %v", out.ColumnNames)
			}
			if len(out.Rows) != 1 || out.Rows[0][0] != grid.Number(1) || out.Rows[0][1] != grid.String("x") || !out.Rows[0][2].IsNull() {
				t.Fatalf("rows = %v", out.Rows)
			}

			_, err = adapter.Issue(ctx, "SELECT * FROM querygrid_missing_table")
			if query.ClassOf(err) != query.ClassBackendQuery {
				t.Fatalf("Issue() error = %v, want backend_query", err)
			}
		})
	}
}
