package elasticsearch

import (
	"fmt"
	"strings"

	gojson "github.com/goccy/go-json"
)

type searchResponse struct {
	ScrollID     string            `json:"_scroll_id"`
	TimedOut     bool              `json:"timed_out"`
	Shards       shardStats        `json:"_shards"`
	Hits         hitsEnvelope      `json:"hits"`
	Aggregations gojson.RawMessage `json:"aggregations"`
	Error        gojson.RawMessage `json:"error"`
}

type hitsEnvelope struct {
	Hits []hit `json:"hits"`
}

type hit struct {
	Source gojson.RawMessage `json:"_source"`
}

type shardStats struct {
	Failed   int            `json:"failed"`
	Failures []shardFailure `json:"failures"`
}

type shardFailure struct {
	Index  string      `json:"index"`
	Reason errorDetail `json:"reason"`
}

type errorDetail struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

func (d errorDetail) String() string {
	switch {
	case d.Type != "" && d.Reason != "":
		return d.Type + ": " + d.Reason
	case d.Reason != "":
		return d.Reason
	default:
		return d.Type
	}
}

// reportedError is a failure Elasticsearch described in its response body.
type reportedError struct {
	message string
}

func (e *reportedError) Error() string {
	return e.message
}

// statusError is a failed response without a usable error body.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("elasticsearch returned status %d", e.status)
	}
	return fmt.Sprintf("elasticsearch returned status %d: %s", e.status, e.body)
}

// decodeResponse parses a search or scroll response. Errors described by
// the cluster come back as *reportedError; 5xx responses without one come
// back as *statusError.
func decodeResponse(res response) (searchResponse, error) {
	var parsed searchResponse
	if err := gojson.Unmarshal(res.Body, &parsed); err != nil {
		if res.StatusCode >= 400 {
			return searchResponse{}, failedStatus(res)
		}
		return searchResponse{}, fmt.Errorf("decode elasticsearch response: %w", err)
	}
	if message := errorMessage(parsed.Error); message != "" {
		return searchResponse{}, &reportedError{message: message}
	}
	if res.StatusCode >= 400 {
		return searchResponse{}, failedStatus(res)
	}
	if parsed.TimedOut {
		return searchResponse{}, &reportedError{message: "search timed out before all shards responded"}
	}
	if parsed.Shards.Failed > 0 {
		message := fmt.Sprintf("%d shard(s) failed", parsed.Shards.Failed)
		if len(parsed.Shards.Failures) > 0 {
			message += ": " + parsed.Shards.Failures[0].Reason.String()
		}
		return searchResponse{}, &reportedError{message: message}
	}
	return parsed, nil
}

func failedStatus(res response) error {
	body := strings.TrimSpace(string(res.Body))
	if len(body) > 512 {
		body = body[:512]
	}
	if res.StatusCode >= 500 {
		return &statusError{status: res.StatusCode, body: body}
	}
	if body == "" {
		body = fmt.Sprintf("status %d", res.StatusCode)
	}
	return &reportedError{message: body}
}

// errorMessage reads an "error" member that is either a string or an object
// with type and reason.
func errorMessage(raw gojson.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var text string
	if err := gojson.Unmarshal(raw, &text); err == nil {
		return text
	}
	var detail struct {
		errorDetail
		RootCause []errorDetail `json:"root_cause"`
	}
	if err := gojson.Unmarshal(raw, &detail); err != nil {
		return string(raw)
	}
	if message := detail.errorDetail.String(); message != "" {
		return message
	}
	if len(detail.RootCause) > 0 {
		return detail.RootCause[0].String()
	}
	return string(raw)
}
