// Package drill runs SQL through the Apache Drill REST API.
package drill

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/duckmesh/querygrid/internal/grid"
	"github.com/duckmesh/querygrid/internal/query"
	"github.com/duckmesh/querygrid/internal/storage"
)

const (
	backendName    = "drill"
	defaultTimeout = 5 * time.Minute
	maxErrorBody   = 512
)

type Config struct {
	URL        string
	Username   string
	Password   string
	HTTPClient *http.Client
	// Files is the object store Drill reads from, when there is one. It
	// backs file listing only.
	Files storage.ObjectStore
}

type Adapter struct {
	baseURL  string
	username string
	password string
	client   *http.Client
	files    storage.ObjectStore
}

func New(cfg Config) (*Adapter, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("drill url is required")
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Adapter{
		baseURL:  baseURL,
		username: cfg.Username,
		password: cfg.Password,
		client:   client,
		files:    cfg.Files,
	}, nil
}

func (a *Adapter) Kind() query.Kind {
	return query.KindSQLFiles
}

type queryRequest struct {
	QueryType string `json:"queryType"`
	Query     string `json:"query"`
}

type queryResponse struct {
	Columns      []string         `json:"columns"`
	Rows         []map[string]any `json:"rows"`
	ErrorMessage string           `json:"errorMessage"`
	QueryState   string           `json:"queryState"`
}

func (a *Adapter) Issue(ctx context.Context, sql string) (query.Payload, error) {
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return nil, query.BackendQueryError(backendName, "sql is required", nil)
	}
	body, err := gojson.Marshal(queryRequest{QueryType: "SQL", Query: sql})
	if err != nil {
		return nil, query.BackendQueryError(backendName, "", err)
	}

	status, raw, err := a.do(ctx, http.MethodPost, "/query.json", body)
	if err != nil {
		return nil, query.TransportError(backendName, err)
	}

	var decoded queryResponse
	decoder := gojson.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if decodeErr := decoder.Decode(&decoded); decodeErr != nil {
		if status >= http.StatusInternalServerError {
			return nil, query.TransportError(backendName, fmt.Errorf("drill returned status %d: %s", status, truncate(raw)))
		}
		if status >= http.StatusBadRequest {
			return nil, query.BackendQueryError(backendName, truncate(raw), nil)
		}
		return nil, query.ShapeError(backendName, fmt.Errorf("%w: decode drill response: %v", grid.ErrShape, decodeErr))
	}
	if message := strings.TrimSpace(decoded.ErrorMessage); message != "" {
		return query.SQLFilesPayload{BackendError: message}, nil
	}
	if status >= http.StatusBadRequest {
		return nil, query.TransportError(backendName, fmt.Errorf("drill returned status %d", status))
	}
	if decoded.QueryState != "" && decoded.QueryState != "COMPLETED" {
		return query.SQLFilesPayload{BackendError: "query ended in state " + decoded.QueryState}, nil
	}

	columns := decoded.Columns
	if columns == nil {
		columns = []string{}
	}
	rows := make([][]grid.Cell, 0, len(decoded.Rows))
	for _, record := range decoded.Rows {
		row := make([]grid.Cell, len(columns))
		for i, column := range columns {
			row[i] = grid.FromValue(record[column])
		}
		rows = append(rows, row)
	}
	return query.SQLFilesPayload{Columns: grid.UniqueNames(columns), Rows: rows}, nil
}

// Ping fetches the drillbit status page.
func (a *Adapter) Ping(ctx context.Context) error {
	status, raw, err := a.do(ctx, http.MethodGet, "/status", nil)
	if err != nil {
		return query.TransportError(backendName, err)
	}
	switch {
	case status >= http.StatusInternalServerError:
		return query.TransportError(backendName, fmt.Errorf("drill returned status %d: %s", status, truncate(raw)))
	case status >= http.StatusBadRequest:
		return query.BackendQueryError(backendName, fmt.Sprintf("drill returned status %d: %s", status, truncate(raw)), nil)
	}
	return nil
}

// Storage returns the storage plugin configuration Drill reports.
func (a *Adapter) Storage(ctx context.Context) (json.RawMessage, error) {
	status, raw, err := a.do(ctx, http.MethodGet, "/storage.json", nil)
	if err != nil {
		return nil, query.TransportError(backendName, err)
	}
	if status >= http.StatusBadRequest {
		return nil, query.BackendQueryError(backendName, fmt.Sprintf("drill returned status %d: %s", status, truncate(raw)), nil)
	}
	if !gojson.Valid(raw) {
		return nil, query.ShapeError(backendName, fmt.Errorf("%w: storage response is not JSON", grid.ErrShape))
	}
	return json.RawMessage(raw), nil
}

// ListFiles lists the object store Drill is configured to read.
func (a *Adapter) ListFiles(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	if a.files == nil {
		return nil, query.ErrFilesUnsupported
	}
	objects, err := a.files.List(ctx, prefix)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, query.BackendQueryError(backendName, "", err)
		}
		return nil, query.TransportError(backendName, err)
	}
	return objects, nil
}

func (a *Adapter) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.username != "" {
		req.SetBasicAuth(a.username, a.password)
	}

	res, err := a.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = res.Body.Close() }()
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response body: %w", err)
	}
	return res.StatusCode, raw, nil
}

func truncate(raw []byte) string {
	text := strings.TrimSpace(string(raw))
	if len(text) > maxErrorBody {
		return text[:maxErrorBody]
	}
	return text
}
