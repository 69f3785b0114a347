package elasticsearch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	gojson "github.com/goccy/go-json"
)

type response struct {
	StatusCode int
	Body       []byte
}

type client interface {
	Search(ctx context.Context, index, docType string, body []byte, keepAlive time.Duration) (response, error)
	Scroll(ctx context.Context, scrollID string, keepAlive time.Duration) (response, error)
	ClearScroll(ctx context.Context, scrollID string) (response, error)
	Info(ctx context.Context) (response, error)
}

type esClient struct {
	es *elasticsearch.Client
}

func newESClient(cfg Config) (*esClient, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return &esClient{es: es}, nil
}

func (c *esClient) Search(ctx context.Context, index, docType string, body []byte, keepAlive time.Duration) (response, error) {
	request := esapi.SearchRequest{
		Index: []string{index},
		Body:  bytes.NewReader(body),
	}
	if docType != "" {
		request.DocumentType = []string{docType}
	}
	if keepAlive > 0 {
		request.Scroll = keepAlive
	}
	return c.do(ctx, request)
}

func (c *esClient) Scroll(ctx context.Context, scrollID string, keepAlive time.Duration) (response, error) {
	body, err := gojson.Marshal(map[string]string{"scroll_id": scrollID})
	if err != nil {
		return response{}, err
	}
	return c.do(ctx, esapi.ScrollRequest{Body: bytes.NewReader(body), Scroll: keepAlive})
}

func (c *esClient) ClearScroll(ctx context.Context, scrollID string) (response, error) {
	body, err := gojson.Marshal(map[string][]string{"scroll_id": {scrollID}})
	if err != nil {
		return response{}, err
	}
	return c.do(ctx, esapi.ClearScrollRequest{Body: bytes.NewReader(body)})
}

func (c *esClient) Info(ctx context.Context) (response, error) {
	return c.do(ctx, esapi.InfoRequest{})
}

func (c *esClient) do(ctx context.Context, request esapi.Request) (response, error) {
	res, err := request.Do(ctx, c.es)
	if err != nil {
		return response{}, err
	}
	defer func() { _ = res.Body.Close() }()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return response{}, fmt.Errorf("read response body: %w", err)
	}
	return response{StatusCode: res.StatusCode, Body: body}, nil
}
