// Package query runs a query against a named connection and normalizes the
// backend's native response into a grid.
package query

import (
	"context"
	"encoding/json"

	"github.com/duckmesh/querygrid/internal/storage"
)

// Kind selects how a backend payload is reshaped.
type Kind string

const (
	KindRelational  Kind = "relational"
	KindSearchIndex Kind = "search_index"
	KindObjectFile  Kind = "object_file"
	KindSQLFiles    Kind = "sql_files"
)

// Adapter issues raw requests against one backend. Issue returns either a
// payload or an error classified with this package's error classes.
type Adapter interface {
	Kind() Kind
	Issue(ctx context.Context, query string) (Payload, error)
	Ping(ctx context.Context) error
}

// FileLister is implemented by adapters backed by an object store.
type FileLister interface {
	ListFiles(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
}

// StorageDescriber is implemented by engines that report their storage
// plugin configuration.
type StorageDescriber interface {
	Storage(ctx context.Context) (json.RawMessage, error)
}

type Connection struct {
	Name    string
	Dialect string
	Adapter Adapter
}

type Registry interface {
	Lookup(name string) (Connection, bool)
	List() []Connection
}
