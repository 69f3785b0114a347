package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/duckmesh/querygrid/internal/grid"
	"github.com/duckmesh/querygrid/internal/observability"
	"github.com/duckmesh/querygrid/internal/storage"
)

type Stats struct {
	Duration time.Duration
	Pages    int
}

type Result struct {
	Grid  grid.Grid
	Stats Stats
}

// Service resolves named connections and runs queries through their adapters.
type Service struct {
	Connections Registry
	Logger      *slog.Logger
}

func NewService(connections Registry, logger *slog.Logger) *Service {
	return &Service{Connections: connections, Logger: logger}
}

// Execute issues text against the named connection and returns the
// normalized grid. A failure never yields a partial grid.
func (s *Service) Execute(ctx context.Context, name, text string) (Result, error) {
	conn, err := s.lookup(name)
	if err != nil {
		return Result{}, err
	}

	start := time.Now()
	result, err := s.execute(ctx, conn, text)
	result.Stats.Duration = time.Since(start)

	kind := string(conn.Adapter.Kind())
	logger := observability.ConnectionLogger(ctx, s.Logger, conn.Name, kind, conn.Dialect).With(
		slog.String("duration", result.Stats.Duration.String()),
	)
	if err != nil {
		class := ClassOf(err)
		observability.ObserveQuery(kind, conn.Dialect, outcomeLabel(class), 0, result.Stats.Duration)
		logger.WarnContext(ctx, "query_failed",
			slog.String("error_class", string(class)),
			slog.String("error", err.Error()),
		)
		return Result{}, err
	}

	observability.ObserveQuery(kind, conn.Dialect, observability.OutcomeOK, len(result.Grid.Rows), result.Stats.Duration)
	logger.InfoContext(ctx, "query_completed",
		slog.Int("rows", len(result.Grid.Rows)),
		slog.Int("columns", len(result.Grid.ColumnNames)),
		slog.Int("pages", result.Stats.Pages),
	)
	return result, nil
}

func (s *Service) execute(ctx context.Context, conn Connection, text string) (Result, error) {
	payload, err := conn.Adapter.Issue(ctx, text)
	if err != nil {
		return Result{}, classify(conn.Dialect, err)
	}

	pages := 1
	if hits, ok := payload.(SearchHitsPayload); ok {
		pages = hits.Pages
		observability.ObserveScrollPages(hits.Pages)
		if hits.ReleaseErr != nil {
			observability.IncrementScrollReleaseFailure()
			observability.ConnectionLogger(ctx, s.Logger, conn.Name, string(conn.Adapter.Kind()), conn.Dialect).
				WarnContext(ctx, "scroll_release_failed", slog.String("error", hits.ReleaseErr.Error()))
		}
	}

	out, err := Normalize(conn.Dialect, payload)
	if err != nil {
		return Result{}, err
	}
	return Result{Grid: out, Stats: Stats{Pages: pages}}, nil
}

// Connect checks that the named backend is reachable.
func (s *Service) Connect(ctx context.Context, name string) error {
	conn, err := s.lookup(name)
	if err != nil {
		return err
	}
	kind := string(conn.Adapter.Kind())
	if err := conn.Adapter.Ping(ctx); err != nil {
		err = classify(conn.Dialect, err)
		observability.ObserveConnectionCheck(kind, conn.Dialect, outcomeLabel(ClassOf(err)))
		observability.ConnectionLogger(ctx, s.Logger, conn.Name, kind, conn.Dialect).WarnContext(ctx, "connect_failed",
			slog.String("error_class", string(ClassOf(err))),
			slog.String("error", err.Error()),
		)
		return err
	}
	observability.ObserveConnectionCheck(kind, conn.Dialect, observability.OutcomeOK)
	return nil
}

// ListFiles lists objects under prefix for connections backed by an object store.
func (s *Service) ListFiles(ctx context.Context, name, prefix string) ([]storage.ObjectInfo, error) {
	conn, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	lister, ok := conn.Adapter.(FileLister)
	if !ok {
		return nil, fmt.Errorf("%w: %s (%s)", ErrFilesUnsupported, conn.Name, conn.Dialect)
	}
	files, err := lister.ListFiles(ctx, prefix)
	if err != nil {
		if errors.Is(err, ErrFilesUnsupported) {
			return nil, fmt.Errorf("%w: %s (%s)", ErrFilesUnsupported, conn.Name, conn.Dialect)
		}
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, BackendQueryError(conn.Dialect, "", err)
		}
		return nil, classify(conn.Dialect, err)
	}
	return files, nil
}

// Storage returns the storage configuration reported by the named engine.
func (s *Service) Storage(ctx context.Context, name string) (json.RawMessage, error) {
	conn, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	describer, ok := conn.Adapter.(StorageDescriber)
	if !ok {
		return nil, fmt.Errorf("%w: %s (%s)", ErrStorageUnsupported, conn.Name, conn.Dialect)
	}
	raw, err := describer.Storage(ctx)
	if err != nil {
		return nil, classify(conn.Dialect, err)
	}
	return raw, nil
}

func (s *Service) List() []Connection {
	if s.Connections == nil {
		return nil
	}
	return s.Connections.List()
}

func (s *Service) lookup(name string) (Connection, error) {
	if s.Connections == nil {
		return Connection{}, fmt.Errorf("%w: %q", ErrUnknownConnection, name)
	}
	conn, ok := s.Connections.Lookup(name)
	if !ok || conn.Adapter == nil {
		return Connection{}, fmt.Errorf("%w: %q", ErrUnknownConnection, name)
	}
	return conn, nil
}

func outcomeLabel(class Class) string {
	if class == "" {
		return "error"
	}
	return string(class)
}
