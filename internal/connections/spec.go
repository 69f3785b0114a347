// Package connections loads the named backend connections from a YAML file
// and builds an adapter for each of them.
package connections

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DialectPostgres      = "postgres"
	DialectMySQL         = "mysql"
	DialectSQLite        = "sqlite"
	DialectElasticsearch = "elasticsearch"
	DialectS3            = "s3"
	DialectDrill         = "drill"
	DialectDuckDB        = "duckdb"
)

type document struct {
	Connections []Spec `yaml:"connections"`
}

// Spec declares one connection. Which fields apply depends on Dialect.
type Spec struct {
	Name    string `yaml:"name"`
	Dialect string `yaml:"dialect"`

	DSN string `yaml:"dsn,omitempty"`

	Addresses []string `yaml:"addresses,omitempty"`
	URL       string   `yaml:"url,omitempty"`
	Username  string   `yaml:"username,omitempty"`
	Password  string   `yaml:"password,omitempty"`

	Endpoint        string `yaml:"endpoint,omitempty"`
	Region          string `yaml:"region,omitempty"`
	Bucket          string `yaml:"bucket,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
	UseSSL          bool   `yaml:"use_ssl,omitempty"`
	Prefix          string `yaml:"prefix,omitempty"`

	// Tables maps DuckDB view names to object prefixes.
	Tables   map[string]string `yaml:"tables,omitempty"`
	RowLimit int               `yaml:"row_limit,omitempty"`
}

func (s Spec) hasObjectStore() bool {
	return strings.TrimSpace(s.Bucket) != ""
}

// LoadFile reads and validates a connections file. ${VAR} references are
// expanded from the environment before parsing.
func LoadFile(path string) ([]Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read connections file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) ([]Spec, error) {
	expanded := os.ExpandEnv(string(data))

	decoder := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	decoder.KnownFields(true)
	var doc document
	if err := decoder.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse connections file: %w", err)
	}

	seen := make(map[string]struct{}, len(doc.Connections))
	for i := range doc.Connections {
		spec := &doc.Connections[i]
		spec.Name = strings.TrimSpace(spec.Name)
		spec.Dialect = strings.ToLower(strings.TrimSpace(spec.Dialect))
		if err := spec.validate(); err != nil {
			return nil, fmt.Errorf("connection %d: %w", i, err)
		}
		if _, dup := seen[spec.Name]; dup {
			return nil, fmt.Errorf("connection %q is declared twice", spec.Name)
		}
		seen[spec.Name] = struct{}{}
	}
	return doc.Connections, nil
}

func (s Spec) validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	switch s.Dialect {
	case DialectPostgres, DialectMySQL, DialectSQLite:
		if strings.TrimSpace(s.DSN) == "" {
			return fmt.Errorf("%s: dsn is required", s.Name)
		}
	case DialectElasticsearch:
		if len(s.Addresses) == 0 {
			return fmt.Errorf("%s: addresses are required", s.Name)
		}
	case DialectS3, DialectDuckDB:
		if strings.TrimSpace(s.Endpoint) == "" || !s.hasObjectStore() {
			return fmt.Errorf("%s: endpoint and bucket are required", s.Name)
		}
	case DialectDrill:
		if strings.TrimSpace(s.URL) == "" {
			return fmt.Errorf("%s: url is required", s.Name)
		}
		if s.hasObjectStore() && strings.TrimSpace(s.Endpoint) == "" {
			return fmt.Errorf("%s: endpoint is required with bucket", s.Name)
		}
	case "":
		return fmt.Errorf("%s: dialect is required", s.Name)
	default:
		return fmt.Errorf("%s: unsupported dialect %q", s.Name, s.Dialect)
	}
	if len(s.Tables) > 0 && s.Dialect != DialectDuckDB {
		return fmt.Errorf("%s: tables apply to duckdb connections only", s.Name)
	}
	return nil
}
