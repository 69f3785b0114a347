package connections

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/duckmesh/querygrid/internal/config"
	"github.com/duckmesh/querygrid/internal/query"
	"github.com/duckmesh/querygrid/internal/query/drill"
	"github.com/duckmesh/querygrid/internal/query/duckdb"
	"github.com/duckmesh/querygrid/internal/query/elasticsearch"
	"github.com/duckmesh/querygrid/internal/query/objectfile"
	"github.com/duckmesh/querygrid/internal/query/relational"
	"github.com/duckmesh/querygrid/internal/storage/s3"
)

// Options carries the service-wide settings applied to every connection.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	ScrollPageSize  int
	ScrollKeepAlive time.Duration
	ScrollMaxRows   int

	ObjectMaxBytes int64
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		MaxOpenConns:    cfg.SQL.MaxOpenConns,
		MaxIdleConns:    cfg.SQL.MaxIdleConns,
		ConnMaxIdleTime: cfg.SQL.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.SQL.ConnMaxLifetime,
		ScrollPageSize:  cfg.Scroll.PageSize,
		ScrollKeepAlive: cfg.Scroll.KeepAlive,
		ScrollMaxRows:   cfg.Scroll.MaxRows,
		ObjectMaxBytes:  cfg.Objects.MaxBytes,
	}
}

// Registry holds the built connections in declaration order.
type Registry struct {
	order   []string
	byName  map[string]query.Connection
	closers []io.Closer
}

// NewRegistry wraps already built connections.
func NewRegistry(conns ...query.Connection) (*Registry, error) {
	r := &Registry{byName: make(map[string]query.Connection, len(conns))}
	for _, conn := range conns {
		if err := r.add(conn); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Build constructs an adapter per spec. Nothing is dialed here; backends
// are first contacted by a query or a connect check.
func Build(specs []Spec, opts Options) (*Registry, error) {
	r := &Registry{byName: make(map[string]query.Connection, len(specs))}
	for _, spec := range specs {
		adapter, err := build(spec, opts)
		if err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("connection %q: %w", spec.Name, err)
		}
		if closer, ok := adapter.(io.Closer); ok {
			r.closers = append(r.closers, closer)
		}
		if err := r.add(query.Connection{Name: spec.Name, Dialect: spec.Dialect, Adapter: adapter}); err != nil {
			_ = r.Close()
			return nil, err
		}
	}
	return r, nil
}

func build(spec Spec, opts Options) (query.Adapter, error) {
	switch spec.Dialect {
	case DialectPostgres, DialectMySQL, DialectSQLite:
		db, err := relational.Open(relational.DBConfig{
			Dialect:         spec.Dialect,
			DSN:             spec.DSN,
			MaxOpenConns:    opts.MaxOpenConns,
			MaxIdleConns:    opts.MaxIdleConns,
			ConnMaxIdleTime: opts.ConnMaxIdleTime,
			ConnMaxLifetime: opts.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		return relational.New(db, spec.Dialect), nil
	case DialectElasticsearch:
		return elasticsearch.New(elasticsearch.Config{
			Addresses: spec.Addresses,
			Username:  spec.Username,
			Password:  spec.Password,
			PageSize:  opts.ScrollPageSize,
			KeepAlive: opts.ScrollKeepAlive,
			MaxRows:   opts.ScrollMaxRows,
		})
	case DialectS3:
		store, err := objectStore(spec)
		if err != nil {
			return nil, err
		}
		return objectfile.New(store, opts.ObjectMaxBytes), nil
	case DialectDuckDB:
		store, err := objectStore(spec)
		if err != nil {
			return nil, err
		}
		return duckdb.NewEngine(store, duckdb.Config{
			Tables:   spec.Tables,
			MaxBytes: opts.ObjectMaxBytes,
			RowLimit: spec.RowLimit,
		})
	case DialectDrill:
		cfg := drill.Config{URL: spec.URL, Username: spec.Username, Password: spec.Password}
		if spec.hasObjectStore() {
			store, err := objectStore(spec)
			if err != nil {
				return nil, err
			}
			cfg.Files = store
		}
		return drill.New(cfg)
	default:
		return nil, fmt.Errorf("unsupported dialect %q", spec.Dialect)
	}
}

func objectStore(spec Spec) (*s3.Store, error) {
	region := spec.Region
	if region == "" {
		region = "us-east-1"
	}
	return s3.New(s3.Config{
		Endpoint:        spec.Endpoint,
		Region:          region,
		Bucket:          spec.Bucket,
		AccessKeyID:     spec.AccessKeyID,
		SecretAccessKey: spec.SecretAccessKey,
		UseSSL:          spec.UseSSL,
		Prefix:          spec.Prefix,
	})
}

func (r *Registry) add(conn query.Connection) error {
	if conn.Name == "" || conn.Adapter == nil {
		return fmt.Errorf("connection name and adapter are required")
	}
	if _, dup := r.byName[conn.Name]; dup {
		return fmt.Errorf("connection %q is declared twice", conn.Name)
	}
	r.byName[conn.Name] = conn
	r.order = append(r.order, conn.Name)
	return nil
}

func (r *Registry) Lookup(name string) (query.Connection, bool) {
	conn, ok := r.byName[name]
	return conn, ok
}

func (r *Registry) List() []query.Connection {
	out := make([]query.Connection, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Close releases connection pools.
func (r *Registry) Close() error {
	var errs []error
	for _, closer := range r.closers {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}
