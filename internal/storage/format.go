package storage

import (
	"path"
	"strings"
)

type Format string

const (
	FormatCSV     Format = "csv"
	FormatTSV     Format = "tsv"
	FormatParquet Format = "parquet"
)

// FormatOf infers the file format from the key's extension. Keys without a
// known extension are read as CSV.
func FormatOf(key string) Format {
	switch strings.ToLower(path.Ext(key)) {
	case ".parquet", ".parq":
		return FormatParquet
	case ".tsv", ".tab":
		return FormatTSV
	default:
		return FormatCSV
	}
}

// IsTabular reports whether key has an extension this service can read.
func IsTabular(key string) bool {
	switch strings.ToLower(path.Ext(key)) {
	case ".csv", ".tsv", ".tab", ".parquet", ".parq":
		return true
	default:
		return false
	}
}
