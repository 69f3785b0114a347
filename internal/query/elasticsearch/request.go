package elasticsearch

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	gojson "github.com/goccy/go-json"
)

const defaultSize = 10

// searchRequest is the query document a caller sends for this backend:
// {"body": {...}, "index": "...", "type": "...", "size": N}.
type searchRequest struct {
	Index string
	Type  string
	Size  int
	// Body is re-encoded for every request, so member order is irrelevant.
	Body map[string]any
	Aggs []aggSpec
}

func (r searchRequest) aggregated() bool {
	return len(r.Aggs) > 0
}

type requestDocument struct {
	Body  gojson.RawMessage `json:"body"`
	Index string            `json:"index"`
	Type  string            `json:"type"`
	Size  any               `json:"size"`
}

func parseRequest(text string) (searchRequest, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return searchRequest{}, fmt.Errorf("query document is required")
	}

	var doc requestDocument
	decoder := gojson.NewDecoder(strings.NewReader(text))
	decoder.UseNumber()
	if err := decoder.Decode(&doc); err != nil {
		return searchRequest{}, fmt.Errorf("parse query document: %w", err)
	}
	if strings.TrimSpace(doc.Index) == "" {
		return searchRequest{}, fmt.Errorf("index is required")
	}

	body := map[string]any{}
	if len(doc.Body) > 0 && string(doc.Body) != "null" {
		bodyDecoder := gojson.NewDecoder(strings.NewReader(string(doc.Body)))
		bodyDecoder.UseNumber()
		if err := bodyDecoder.Decode(&body); err != nil {
			return searchRequest{}, fmt.Errorf("parse body: %w", err)
		}
		if body == nil {
			body = map[string]any{}
		}
	}

	size := defaultSize
	for _, candidate := range []any{body["size"], doc.Size} {
		if candidate == nil {
			continue
		}
		parsed, err := parseSize(candidate)
		if err != nil {
			return searchRequest{}, err
		}
		size = parsed
	}

	request := searchRequest{Index: doc.Index, Type: doc.Type, Size: size, Body: body}
	if len(body) > 0 {
		aggs, err := declaredAggregations(doc.Body)
		if err != nil {
			return searchRequest{}, err
		}
		request.Aggs = aggs
	}
	return request, nil
}

// parseSize accepts a JSON number or a numeric string.
func parseSize(value any) (int, error) {
	var text string
	switch typed := value.(type) {
	case json.Number:
		text = typed.String()
	case string:
		text = strings.TrimSpace(typed)
	case float64:
		text = strconv.FormatFloat(typed, 'f', -1, 64)
	default:
		return 0, fmt.Errorf("size must be a number, got %T", value)
	}
	size, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("size must be an integer, got %q", text)
	}
	if size < 0 {
		return 0, fmt.Errorf("size must be >= 0, got %d", size)
	}
	return size, nil
}

// requestBody copies the caller's body with the window size applied. from
// is dropped when a scroll cursor is requested.
func (r searchRequest) requestBody(size int, scrolling bool) ([]byte, error) {
	body := make(map[string]any, len(r.Body)+1)
	for key, value := range r.Body {
		body[key] = value
	}
	body["size"] = size
	if scrolling {
		delete(body, "from")
	}
	return gojson.Marshal(body)
}
