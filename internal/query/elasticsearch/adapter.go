// Package elasticsearch queries an Elasticsearch cluster. Plain searches are
// collected through a scroll cursor when the requested size exceeds one
// result window; aggregated searches are returned as bucket trees.
package elasticsearch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/duckmesh/querygrid/internal/grid"
	"github.com/duckmesh/querygrid/internal/query"
	"github.com/duckmesh/querygrid/internal/scroll"
)

const (
	backendName      = "elasticsearch"
	defaultKeepAlive = time.Minute
)

type Config struct {
	Addresses []string
	Username  string
	Password  string
	// PageSize is the per-request result window.
	PageSize  int
	KeepAlive time.Duration
	MaxRows   int
}

type Adapter struct {
	client      client
	coordinator scroll.Coordinator
	keepAlive   time.Duration
}

func New(cfg Config) (*Adapter, error) {
	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("elasticsearch addresses are required")
	}
	c, err := newESClient(cfg)
	if err != nil {
		return nil, err
	}
	return newWithClient(c, cfg), nil
}

func newWithClient(c client, cfg Config) *Adapter {
	keepAlive := cfg.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	return &Adapter{
		client:      c,
		coordinator: scroll.Coordinator{PageSize: cfg.PageSize, MaxRows: cfg.MaxRows},
		keepAlive:   keepAlive,
	}
}

func (a *Adapter) Kind() query.Kind {
	return query.KindSearchIndex
}

func (a *Adapter) Issue(ctx context.Context, text string) (query.Payload, error) {
	request, err := parseRequest(text)
	if err != nil {
		return nil, query.BackendQueryError(backendName, err.Error(), err)
	}
	if request.aggregated() {
		return a.aggregate(ctx, request)
	}

	result, err := a.coordinator.Collect(ctx, &pager{client: a.client, request: request, keepAlive: a.keepAlive}, request.Size)
	if err != nil {
		var reported *reportedError
		if errors.As(err, &reported) {
			return query.SearchHitsPayload{BackendError: reported.message}, nil
		}
		return nil, classify(err)
	}
	return query.SearchHitsPayload{
		Hits:       result.Hits,
		Pages:      result.Pages,
		ReleaseErr: result.ReleaseErr,
	}, nil
}

func (a *Adapter) aggregate(ctx context.Context, request searchRequest) (query.Payload, error) {
	body, err := request.requestBody(0, false)
	if err != nil {
		return nil, query.BackendQueryError(backendName, "", err)
	}
	res, err := a.client.Search(ctx, request.Index, request.Type, body, 0)
	if err != nil {
		return nil, classify(err)
	}
	parsed, err := decodeResponse(res)
	if err != nil {
		var reported *reportedError
		if errors.As(err, &reported) {
			return query.SearchAggregationPayload{BackendError: reported.message}, nil
		}
		return nil, classify(err)
	}

	aggregations := object{}
	if len(parsed.Aggregations) > 0 && string(parsed.Aggregations) != "null" {
		aggregations, err = decodeObject(parsed.Aggregations)
		if err != nil {
			return nil, query.ShapeError(backendName, fmt.Errorf("%w: aggregations: %v", grid.ErrShape, err))
		}
	}
	tree, err := buildTree(request.Aggs, aggregations)
	if err != nil {
		return nil, classify(err)
	}
	return query.SearchAggregationPayload{Tree: tree, Columns: declaredColumns(request.Aggs)}, nil
}

// Ping fetches the cluster info document.
func (a *Adapter) Ping(ctx context.Context) error {
	res, err := a.client.Info(ctx)
	if err != nil {
		return classify(err)
	}
	if res.StatusCode >= 400 {
		return classify(failedStatus(res))
	}
	return nil
}

func classify(err error) error {
	var classified *query.Error
	var reported *reportedError
	switch {
	case errors.As(err, &classified):
		return err
	case errors.As(err, &reported):
		return query.BackendQueryError(backendName, reported.message, err)
	case errors.Is(err, scroll.ErrResourceExhausted):
		return query.ResourceError(backendName, err)
	case errors.Is(err, grid.ErrShape):
		return query.ShapeError(backendName, err)
	default:
		return query.TransportError(backendName, err)
	}
}

// pager drives one search through the scroll API.
type pager struct {
	client    client
	request   searchRequest
	keepAlive time.Duration
}

func (p *pager) First(ctx context.Context, window int, keepCursor bool) (scroll.Page, error) {
	body, err := p.request.requestBody(window, keepCursor)
	if err != nil {
		return scroll.Page{}, err
	}
	var keepAlive time.Duration
	if keepCursor {
		keepAlive = p.keepAlive
	}
	res, err := p.client.Search(ctx, p.request.Index, p.request.Type, body, keepAlive)
	if err != nil {
		return scroll.Page{}, err
	}
	return pageFrom(res)
}

func (p *pager) Next(ctx context.Context, cursor string) (scroll.Page, error) {
	res, err := p.client.Scroll(ctx, cursor, p.keepAlive)
	if err != nil {
		return scroll.Page{}, err
	}
	return pageFrom(res)
}

func (p *pager) Release(ctx context.Context, cursor string) error {
	res, err := p.client.ClearScroll(ctx, cursor)
	if err != nil {
		return err
	}
	// 404 means the cursor already expired.
	if res.StatusCode >= 400 && res.StatusCode != 404 {
		return failedStatus(res)
	}
	return nil
}

func pageFrom(res response) (scroll.Page, error) {
	parsed, err := decodeResponse(res)
	if err != nil {
		return scroll.Page{}, err
	}
	hits := make([]grid.Document, 0, len(parsed.Hits.Hits))
	for i, h := range parsed.Hits.Hits {
		doc, err := flattenSource(h.Source)
		if err != nil {
			return scroll.Page{}, fmt.Errorf("%w: hit %d: %v", grid.ErrShape, i, err)
		}
		hits = append(hits, doc)
	}
	return scroll.Page{Hits: hits, Cursor: parsed.ScrollID}, nil
}
