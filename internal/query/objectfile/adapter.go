// Package objectfile reads delimited text and parquet objects from an
// object store. The query is the object key.
package objectfile

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/duckmesh/querygrid/internal/query"
	"github.com/duckmesh/querygrid/internal/storage"
)

const (
	backendName     = "s3"
	DefaultMaxBytes = 256 << 20
)

// ErrTooLarge is returned for objects above the configured size limit.
var ErrTooLarge = errors.New("object exceeds the size limit")

type Adapter struct {
	store    storage.ObjectStore
	maxBytes int64
}

func New(store storage.ObjectStore, maxBytes int64) *Adapter {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Adapter{store: store, maxBytes: maxBytes}
}

func (a *Adapter) MaxBytes() int64 {
	return a.maxBytes
}

func (a *Adapter) Kind() query.Kind {
	return query.KindObjectFile
}

func (a *Adapter) Issue(ctx context.Context, text string) (query.Payload, error) {
	key := strings.TrimSpace(text)
	if key == "" {
		return nil, query.BackendQueryError(backendName, "object key is required", nil)
	}

	info, err := a.store.Stat(ctx, key)
	if err != nil {
		return nil, classify(err)
	}
	if info.Size > a.maxBytes {
		return nil, query.ResourceError(backendName, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrTooLarge, key, info.Size, a.maxBytes))
	}

	data, err := a.read(ctx, key)
	if err != nil {
		return nil, err
	}

	switch storage.FormatOf(key) {
	case storage.FormatParquet:
		columns, rows, err := readParquet(data)
		if err != nil {
			return nil, query.BackendQueryError(backendName, fmt.Sprintf("read parquet %s: %v", key, err), err)
		}
		return query.FilePayload{Columns: columns, Rows: rows}, nil
	case storage.FormatTSV:
		records, err := readDelimited(data, '\t')
		if err != nil {
			return nil, query.BackendQueryError(backendName, fmt.Sprintf("read %s: %v", key, err), err)
		}
		return query.FilePayload{Records: records}, nil
	default:
		records, err := readDelimited(data, ',')
		if err != nil {
			return nil, query.BackendQueryError(backendName, fmt.Sprintf("read %s: %v", key, err), err)
		}
		return query.FilePayload{Records: records}, nil
	}
}

func (a *Adapter) read(ctx context.Context, key string) ([]byte, error) {
	reader, err := a.store.Get(ctx, key)
	if err != nil {
		return nil, classify(err)
	}
	defer func() { _ = reader.Close() }()

	// The object may have grown since Stat.
	data, err := io.ReadAll(io.LimitReader(reader, a.maxBytes+1))
	if err != nil {
		return nil, classify(fmt.Errorf("read %s: %w", key, err))
	}
	if int64(len(data)) > a.maxBytes {
		return nil, query.ResourceError(backendName, fmt.Errorf("%w: %s, limit %d", ErrTooLarge, key, a.maxBytes))
	}
	return data, nil
}

func (a *Adapter) ListFiles(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	objects, err := a.store.List(ctx, prefix)
	if err != nil {
		return nil, classify(err)
	}
	return objects, nil
}

// Ping checks that the bucket is reachable.
func (a *Adapter) Ping(ctx context.Context) error {
	if err := a.store.Ping(ctx); err != nil {
		return classify(err)
	}
	return nil
}

func classify(err error) error {
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

// readDelimited returns every record, header first. Records may differ in
// length; the normalizer rejects the ones that do not match the header.
func readDelimited(data []byte, delimiter rune) ([][]string, error) {
	data = bytes.TrimPrefix(data, []byte("\ufeff"))
	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1
	if delimiter == '\t' {
		reader.LazyQuotes = true
	}
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = [][]string{}
	}
	return records, nil
}
