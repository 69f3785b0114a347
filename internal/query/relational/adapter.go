// Package relational runs SQL against Postgres, MySQL and SQLite through
// database/sql and returns positional rowsets.
package relational

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"

	"github.com/duckmesh/querygrid/internal/grid"
	"github.com/duckmesh/querygrid/internal/query"
)

type Adapter struct {
	db      *sql.DB
	dialect string
}

func New(db *sql.DB, dialect string) *Adapter {
	return &Adapter{db: db, dialect: dialect}
}

func (a *Adapter) Kind() query.Kind {
	return query.KindRelational
}

func (a *Adapter) Issue(ctx context.Context, text string) (query.Payload, error) {
	if strings.TrimSpace(text) == "" {
		return nil, query.BackendQueryError(a.dialect, "sql is required", nil)
	}

	rows, err := a.db.QueryContext(ctx, text)
	if err != nil {
		return nil, a.classify(err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, a.classify(fmt.Errorf("query columns: %w", err))
	}

	resultRows := make([][]grid.Cell, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, a.classify(fmt.Errorf("scan row: %w", err))
		}
		// NUMERIC and DECIMAL values that drivers return as text stay strings.
		row := make([]grid.Cell, len(values))
		for i, value := range values {
			row[i] = grid.FromValue(value)
		}
		resultRows = append(resultRows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, a.classify(fmt.Errorf("iterate rows: %w", err))
	}

	return query.RelationalPayload{Columns: grid.UniqueNames(columns), Rows: resultRows}, nil
}

func (a *Adapter) Ping(ctx context.Context) error {
	if err := a.db.PingContext(ctx); err != nil {
		return a.classify(fmt.Errorf("ping %s db: %w", a.dialect, err))
	}
	return nil
}

func (a *Adapter) Close() error {
	return a.db.Close()
}

func (a *Adapter) classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return query.BackendQueryError(a.dialect, pgErr.Message, err)
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return query.BackendQueryError(a.dialect, myErr.Message, err)
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return query.BackendQueryError(a.dialect, liteErr.Error(), err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return query.TransportError(a.dialect, err)
	}
	return query.BackendQueryError(a.dialect, "", err)
}
