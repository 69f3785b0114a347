package query

import (
	"github.com/duckmesh/querygrid/internal/aggregation"
	"github.com/duckmesh/querygrid/internal/grid"
)

// Payload is a backend-native response. The set of implementations is closed.
type Payload interface {
	isPayload()
}

// RelationalPayload is a rowset: column names plus positional rows.
type RelationalPayload struct {
	Columns []string
	Rows    [][]grid.Cell
}

// SearchHitsPayload holds the flattened hits of a search, accumulated across
// scroll pages when the requested size exceeded one window.
type SearchHitsPayload struct {
	Hits         []grid.Document
	Pages        int
	BackendError string
	ReleaseErr   error
}

// SearchAggregationPayload holds a bucket/metric tree. Columns are the names
// the request declared and are used when the tree yields no rows.
type SearchAggregationPayload struct {
	Tree         *aggregation.Node
	Columns      []string
	BackendError string
}

// FilePayload is the content of one object-store file. Delimited files set
// Records with the header first; typed formats set Columns and Rows.
type FilePayload struct {
	Records [][]string
	Columns []string
	Rows    [][]grid.Cell
}

type SQLFilesPayload struct {
	Columns      []string
	Rows         [][]grid.Cell
	BackendError string
}

func (RelationalPayload) isPayload()        {}
func (SearchHitsPayload) isPayload()        {}
func (SearchAggregationPayload) isPayload() {}
func (FilePayload) isPayload()              {}
func (SQLFilesPayload) isPayload()          {}
