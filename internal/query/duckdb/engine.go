// Package duckdb runs SQL over object-store files with an embedded DuckDB.
// Each configured table is a view over the files found under its prefix.
package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/duckmesh/querygrid/internal/grid"
	"github.com/duckmesh/querygrid/internal/query"
	"github.com/duckmesh/querygrid/internal/storage"
)

const (
	backendName     = "duckdb"
	DefaultMaxBytes = 1 << 30
)

var ErrTooLarge = errors.New("table files exceed the download limit")

type Config struct {
	// Tables maps a view name to the object prefix holding its files.
	Tables map[string]string
	// MaxBytes caps the total size of files downloaded for one query.
	MaxBytes int64
	// RowLimit wraps the statement in an outer LIMIT when positive.
	RowLimit int
}

type Engine struct {
	store    storage.ObjectStore
	tables   map[string]string
	maxBytes int64
	rowLimit int
}

func NewEngine(store storage.ObjectStore, cfg Config) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	tables := make(map[string]string, len(cfg.Tables))
	for name, prefix := range cfg.Tables {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("table name is required")
		}
		tables[name] = prefix
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Engine{store: store, tables: tables, maxBytes: maxBytes, rowLimit: cfg.RowLimit}, nil
}

// MaxBytes reports the per-query download limit in effect.
func (e *Engine) MaxBytes() int64 {
	return e.maxBytes
}

func (e *Engine) Kind() query.Kind {
	return query.KindSQLFiles
}

type tableFiles struct {
	name   string
	format storage.Format
	paths  []string
}

func (e *Engine) Issue(ctx context.Context, sqlText string) (query.Payload, error) {
	sqlText = stripTrailingSemicolons(sqlText)
	if sqlText == "" {
		return nil, query.BackendQueryError(backendName, "sql is required", nil)
	}

	workDir, err := os.MkdirTemp("", "querygrid-duckdb-")
	if err != nil {
		return nil, query.TransportError(backendName, fmt.Errorf("create query temp dir: %w", err))
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	views, err := e.download(ctx, workDir, referencedTables(sqlText, e.tables))
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, query.TransportError(backendName, fmt.Errorf("open duckdb: %w", err))
	}
	defer func() { _ = db.Close() }()

	for _, view := range views {
		viewSQL := fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS SELECT * FROM %s`, quoteIdent(view.name), scanFunction(view))
		if _, err := db.ExecContext(ctx, viewSQL); err != nil {
			return nil, classify(fmt.Errorf("create view for table %q: %w", view.name, err))
		}
	}

	if e.rowLimit > 0 {
		sqlText = fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", sqlText, e.rowLimit)
	}
	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, classify(err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, classify(fmt.Errorf("query columns: %w", err))
	}
	out := make([][]grid.Cell, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, classify(fmt.Errorf("scan row: %w", err))
		}
		row := make([]grid.Cell, len(values))
		for i, value := range values {
			row[i] = grid.FromValue(value)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("iterate rows: %w", err))
	}
	return query.SQLFilesPayload{Columns: grid.UniqueNames(columns), Rows: out}, nil
}

// download copies the tabular files of each named table into workDir.
// Tables without files get no view.
func (e *Engine) download(ctx context.Context, workDir string, names []string) ([]tableFiles, error) {
	var views []tableFiles
	var total int64
	for _, name := range names {
		objects, err := e.store.List(ctx, e.tables[name])
		if err != nil {
			return nil, classifyStore(fmt.Errorf("list files for table %q: %w", name, err))
		}

		view := tableFiles{name: name}
		for index, object := range objects {
			if !storage.IsTabular(object.Key) {
				continue
			}
			format := storage.FormatOf(object.Key)
			if view.format == "" {
				view.format = format
			} else if view.format != format {
				return nil, query.BackendQueryError(backendName, fmt.Sprintf("table %q mixes %s and %s files", name, view.format, format), nil)
			}
			total += object.Size
			if total > e.maxBytes {
				return nil, query.ResourceError(backendName, fmt.Errorf("%w: table %q, limit %d bytes", ErrTooLarge, name, e.maxBytes))
			}

			localPath := filepath.Join(workDir, fmt.Sprintf("%s_%d.%s", sanitizeFileComponent(name), index, format))
			if err := e.fetch(ctx, object.Key, localPath); err != nil {
				return nil, err
			}
			view.paths = append(view.paths, localPath)
		}
		if len(view.paths) > 0 {
			views = append(views, view)
		}
	}
	return views, nil
}

func (e *Engine) fetch(ctx context.Context, key, localPath string) error {
	reader, err := e.store.Get(ctx, key)
	if err != nil {
		return classifyStore(fmt.Errorf("get object %q: %w", key, err))
	}
	defer func() { _ = reader.Close() }()

	file, err := os.Create(localPath)
	if err != nil {
		return query.TransportError(backendName, fmt.Errorf("create local file: %w", err))
	}
	defer func() { _ = file.Close() }()
	if _, err := io.Copy(file, reader); err != nil {
		return classifyStore(fmt.Errorf("copy object %q: %w", key, err))
	}
	return nil
}

func (e *Engine) ListFiles(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	objects, err := e.store.List(ctx, prefix)
	if err != nil {
		return nil, classifyStore(err)
	}
	return objects, nil
}

func (e *Engine) Ping(ctx context.Context) error {
	if err := e.store.Ping(ctx); err != nil {
		return classifyStore(err)
	}
	return nil
}

// Tables lists the configured view names.
func (e *Engine) Tables() []string {
	names := make([]string, 0, len(e.tables))
	for name := range e.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// classify treats everything DuckDB itself rejects as a query error.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return query.TransportError(backendName, err)
	}
	return query.BackendQueryError(backendName, "", err)
}

func classifyStore(err error) error {
	var classified *query.Error
	switch {
	case errors.As(err, &classified):
		return err
	case errors.Is(err, storage.ErrObjectNotFound):
		return query.BackendQueryError(backendName, "", err)
	default:
		return query.TransportError(backendName, err)
	}
}

// referencedTables returns the configured tables whose name appears as a
// word in sqlText, sorted.
func referencedTables(sqlText string, tables map[string]string) []string {
	lower := strings.ToLower(sqlText)
	var names []string
	for name := range tables {
		pattern := `(^|[^a-z0-9_])` + regexp.QuoteMeta(strings.ToLower(name)) + `($|[^a-z0-9_])`
		if regexp.MustCompile(pattern).MatchString(lower) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func scanFunction(view tableFiles) string {
	paths := quoteStringArray(view.paths)
	switch view.format {
	case storage.FormatParquet:
		return fmt.Sprintf("read_parquet(%s)", paths)
	case storage.FormatTSV:
		return fmt.Sprintf("read_csv_auto(%s, delim='\t', header=true)", paths)
	default:
		return fmt.Sprintf("read_csv_auto(%s, header=true)", paths)
	}
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteStringArray(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, `'`+strings.ReplaceAll(value, `'`, `''`)+`'`)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

func sanitizeFileComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" {
		return "table"
	}
	return value
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
