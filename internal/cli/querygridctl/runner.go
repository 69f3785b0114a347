package querygridctl

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdin      io.Reader
	Stdout     io.Writer
	Stderr     io.Writer
}

type request struct {
	method string
	path   string
	body   []byte
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("querygridctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "QueryGrid API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 2*time.Minute), "HTTP timeout (e.g. 30s)")
	format := fs.String("format", "json", "output format for query results: json or csv")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}
	if *format != "json" && *format != "csv" {
		_, _ = fmt.Fprintf(stderr, "unknown format %q\n", *format)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	command := strings.TrimSpace(fs.Arg(0))
	req, err := buildRequest(command, fs.Args()[1:], defaults.Stdin)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
		writeUsage(stderr)
		return 2
	}

	endpoint := strings.TrimRight(*baseURL, "/") + req.path
	code, responseBody, err := doRequest(ctx, client, req.method, endpoint, *apiKey, req.body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if command == "query" && *format == "csv" {
		if err := writeGridCSV(stdout, responseBody); err != nil {
			_, _ = fmt.Fprintf(stderr, "render csv: %v\n", err)
			return 1
		}
		return 0
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func buildRequest(command string, args []string, stdin io.Reader) (request, error) {
	switch command {
	case "health":
		return request{method: http.MethodGet, path: "/v1/health"}, nil
	case "ready":
		return request{method: http.MethodGet, path: "/v1/ready"}, nil
	case "connections":
		return request{method: http.MethodGet, path: "/v1/connections"}, nil
	case "connect":
		if len(args) != 1 {
			return request{}, fmt.Errorf("connect requires <name>")
		}
		return request{method: http.MethodPost, path: connectionPath(args[0], "connect")}, nil
	case "storage":
		if len(args) != 1 {
			return request{}, fmt.Errorf("storage requires <name>")
		}
		return request{method: http.MethodGet, path: connectionPath(args[0], "storage")}, nil
	case "files":
		if len(args) < 1 || len(args) > 2 {
			return request{}, fmt.Errorf("files requires <name> [prefix]")
		}
		path := connectionPath(args[0], "files")
		if len(args) == 2 {
			path += "?prefix=" + url.QueryEscape(args[1])
		}
		return request{method: http.MethodGet, path: path}, nil
	case "query":
		if len(args) != 2 {
			return request{}, fmt.Errorf("query requires <name> <query>")
		}
		text := args[1]
		if text == "-" {
			if stdin == nil {
				return request{}, fmt.Errorf("stdin is not available")
			}
			raw, err := io.ReadAll(stdin)
			if err != nil {
				return request{}, fmt.Errorf("read query from stdin: %w", err)
			}
			text = string(raw)
		}
		body, err := queryBody(args[0], text)
		if err != nil {
			return request{}, err
		}
		return request{method: http.MethodPost, path: "/v1/query", body: body}, nil
	default:
		return request{}, fmt.Errorf("unknown command %q", command)
	}
}

// queryBody sends text as a JSON object when it is one, and as a string
// otherwise.
func queryBody(connection, text string) ([]byte, error) {
	var query any = text
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed)) {
		query = json.RawMessage(trimmed)
	}
	return json.Marshal(map[string]any{"connection": connection, "query": query})
}

func connectionPath(name, action string) string {
	return "/v1/connections/" + url.PathEscape(name) + "/" + action
}

func doRequest(ctx context.Context, client *http.Client, method, url, apiKey string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, responseBody, nil
}

func writeGridCSV(w io.Writer, raw []byte) error {
	var result struct {
		ColumnNames []string `json:"columnnames"`
		Rows        [][]any  `json:"rows"`
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&result); err != nil {
		return err
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(result.ColumnNames); err != nil {
		return err
	}
	for _, row := range result.Rows {
		record := make([]string, len(row))
		for i, cell := range row {
			record[i] = csvCell(cell)
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func csvCell(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(encoded)
	}
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: querygridctl [flags] <command>")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                  GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                   GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  connections             GET /v1/connections")
	_, _ = fmt.Fprintln(w, "  connect <name>          POST /v1/connections/{name}/connect")
	_, _ = fmt.Fprintln(w, "  files <name> [prefix]   GET /v1/connections/{name}/files")
	_, _ = fmt.Fprintln(w, "  storage <name>          GET /v1/connections/{name}/storage")
	_, _ = fmt.Fprintln(w, "  query <name> <query>    POST /v1/query (use - to read the query from stdin)")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
