package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/duckmesh/querygrid/internal/auth"
	"github.com/duckmesh/querygrid/internal/config"
	"github.com/duckmesh/querygrid/internal/grid"
	"github.com/duckmesh/querygrid/internal/query"
)

type queryRequest struct {
	Connection string          `json:"connection"`
	Query      json.RawMessage `json:"query"`
}

type queryResponse struct {
	ColumnNames []string      `json:"columnnames"`
	Rows        [][]grid.Cell `json:"rows"`
	Stats       queryStats    `json:"stats"`
}

type queryStats struct {
	DurationMs int64 `json:"duration_ms"`
	Pages      int   `json:"pages"`
}

func handleQuery(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Queries == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query service is not configured", false, nil)
		return
	}

	var request queryRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "invalid query request body", false, map[string]any{"details": err.Error()})
		return
	}
	request.Connection = strings.TrimSpace(request.Connection)
	if request.Connection == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "connection is required", false, nil)
		return
	}
	text, err := queryText(request.Query)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), false, nil)
		return
	}
	if err := authorize(r, request.Connection, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	ctx := r.Context()
	if timeout := cfg.Query.Timeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := deps.Queries.Execute(ctx, request.Connection, text)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && r.Context().Err() == nil {
			writeError(r.Context(), w, http.StatusGatewayTimeout, "QUERY_TIMEOUT", "query exceeded the configured timeout", false, map[string]any{
				"connection": request.Connection,
				"timeout":    cfg.Query.Timeout.String(),
			})
			return
		}
		writeQueryError(r.Context(), w, request.Connection, err)
		return
	}

	writeJSON(w, http.StatusOK, queryResponse{
		ColumnNames: result.Grid.ColumnNames,
		Rows:        result.Grid.Rows,
		Stats: queryStats{
			DurationMs: result.Stats.Duration.Milliseconds(),
			Pages:      result.Stats.Pages,
		},
	})
}

// queryText accepts a query given either as a JSON string (SQL or an object
// key) or as a JSON object (a search request document).
func queryText(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", errors.New("query is required")
	}
	switch trimmed[0] {
	case '"':
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return "", fmt.Errorf("decode query: %w", err)
		}
		if strings.TrimSpace(text) == "" {
			return "", errors.New("query is required")
		}
		return text, nil
	case '{':
		return string(trimmed), nil
	default:
		return "", errors.New("query must be a string or an object")
	}
}

// writeQueryError maps classified failures onto status codes. Only
// transport failures are marked retryable.
func writeQueryError(ctx context.Context, w http.ResponseWriter, connection string, err error) {
	details := map[string]any{"connection": connection}
	switch {
	case errors.Is(err, query.ErrUnknownConnection):
		writeError(ctx, w, http.StatusNotFound, "CONNECTION_NOT_FOUND", err.Error(), false, details)
		return
	case errors.Is(err, query.ErrFilesUnsupported):
		writeError(ctx, w, http.StatusBadRequest, "FILES_UNSUPPORTED", err.Error(), false, details)
		return
	case errors.Is(err, query.ErrStorageUnsupported):
		writeError(ctx, w, http.StatusBadRequest, "STORAGE_UNSUPPORTED", err.Error(), false, details)
		return
	}

	message := err.Error()
	var classified *query.Error
	if errors.As(err, &classified) {
		if classified.Message != "" {
			message = classified.Message
		}
		if classified.Backend != "" {
			details["backend"] = classified.Backend
		}
	}
	class := query.ClassOf(err)
	if class != "" {
		details["error_class"] = string(class)
	}

	switch class {
	case query.ClassTransport:
		writeError(ctx, w, http.StatusBadGateway, "TRANSPORT_ERROR", message, true, details)
	case query.ClassBackendQuery:
		writeError(ctx, w, http.StatusBadRequest, "BACKEND_QUERY_ERROR", message, false, details)
	case query.ClassShapeViolation:
		writeError(ctx, w, http.StatusInternalServerError, "SHAPE_VIOLATION", message, false, details)
	case query.ClassResourceExhaustion:
		writeError(ctx, w, http.StatusRequestEntityTooLarge, "RESOURCE_EXHAUSTED", message, false, details)
	default:
		writeError(ctx, w, http.StatusInternalServerError, "INTERNAL_ERROR", message, false, details)
	}
}
