// Package scroll collects result sets larger than a backend's per-request
// window by following its cursor page by page.
package scroll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/duckmesh/querygrid/internal/grid"
)

const (
	DefaultPageSize       = 10000
	defaultReleaseTimeout = 5 * time.Second
)

var ErrResourceExhausted = errors.New("scroll: requested size exceeds the allowed maximum")

type Page struct {
	Hits   []grid.Document
	Cursor string
}

// Pager is the backend side of a scroll. First issues the initial search
// with the given window and asks for a cursor only when keepCursor is set.
type Pager interface {
	First(ctx context.Context, window int, keepCursor bool) (Page, error)
	Next(ctx context.Context, cursor string) (Page, error)
	Release(ctx context.Context, cursor string) error
}

type State struct {
	CursorToken    string
	PageSize       int
	TotalRetrieved int
	TargetSize     int
	Exhausted      bool
}

type Result struct {
	Hits  []grid.Document
	Pages int
	State State
	// ReleaseErr is set when the cursor could not be released. It never
	// fails the collection.
	ReleaseErr error
}

type Coordinator struct {
	PageSize       int
	MaxRows        int
	ReleaseTimeout time.Duration
}

// Collect retrieves up to target hits. Pages are fetched one after another
// because every cursor depends on the previous response. The cursor is
// released on every exit path, including errors and cancellation.
func (c Coordinator) Collect(ctx context.Context, pager Pager, target int) (result Result, err error) {
	if target < 0 {
		return Result{}, fmt.Errorf("scroll: size must be >= 0, got %d", target)
	}
	if c.MaxRows > 0 && target > c.MaxRows {
		return Result{}, fmt.Errorf("%w: size %d, maximum %d", ErrResourceExhausted, target, c.MaxRows)
	}

	state := State{PageSize: c.pageSize(), TargetSize: target}
	defer func() {
		if state.CursorToken == "" {
			return
		}
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.releaseTimeout())
		defer cancel()
		if releaseErr := pager.Release(releaseCtx, state.CursorToken); releaseErr != nil {
			result.ReleaseErr = fmt.Errorf("release cursor: %w", releaseErr)
		}
	}()

	page, err := pager.First(ctx, min(target, state.PageSize), target > state.PageSize)
	if err != nil {
		return Result{}, err
	}
	pages := 1
	state.CursorToken = page.Cursor

	hits := make([]grid.Document, 0, min(target, 4*state.PageSize))
	hits = append(hits, page.Hits...)
	state.TotalRetrieved = len(hits)
	state.Exhausted = len(page.Hits) == 0

	for !state.Exhausted && state.TotalRetrieved < target && state.CursorToken != "" {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		page, err = pager.Next(ctx, state.CursorToken)
		if err != nil {
			return Result{}, fmt.Errorf("scroll page %d: %w", pages+1, err)
		}
		pages++
		if page.Cursor != "" {
			state.CursorToken = page.Cursor
		}
		if len(page.Hits) == 0 {
			state.Exhausted = true
			break
		}
		hits = append(hits, page.Hits...)
		state.TotalRetrieved = len(hits)
	}

	if len(hits) > target {
		hits = hits[:target]
	}
	return Result{Hits: hits, Pages: pages, State: state}, nil
}

func (c Coordinator) pageSize() int {
	if c.PageSize > 0 {
		return c.PageSize
	}
	return DefaultPageSize
}

func (c Coordinator) releaseTimeout() time.Duration {
	if c.ReleaseTimeout > 0 {
		return c.ReleaseTimeout
	}
	return defaultReleaseTimeout
}
