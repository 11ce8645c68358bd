package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"apicatalog.org/internal/catalog"
)

// FetchEntity reads one structure, sector or service.
func (c *Client) FetchEntity(ctx context.Context, kind catalog.Kind, id string) (catalog.Entity, error) {
	op := "reference.get"
	data, err := c.do(ctx, call{op: op, method: http.MethodGet, path: "/api/" + string(kind) + "/" + escape(id)})
	if err != nil {
		return catalog.Entity{}, err
	}
	// Some deployments wrap single entities as {"content": {...}}.
	var wrapped struct {
		Content json.RawMessage `json:"content"`
	}
	if json.Unmarshal(data, &wrapped) == nil && len(wrapped.Content) > 0 && strings.HasPrefix(strings.TrimSpace(string(wrapped.Content)), "{") {
		data = wrapped.Content
	}
	e, err := decodeOne[catalog.Entity](op, data)
	if err != nil {
		return catalog.Entity{}, err
	}
	if strings.TrimSpace(e.Name) == "" {
		return catalog.Entity{}, fmt.Errorf("%s: %s %s has no name", op, kind.Label(), id)
	}
	return e, nil
}

// FetchPage returns one raw listing page; catalog.DecodeEntities reads it.
func (c *Client) FetchPage(ctx context.Context, kind catalog.Kind, page, size int) ([]byte, error) {
	return c.do(ctx, call{op: "reference.list", method: http.MethodGet, path: "/api/" + string(kind), query: pageQuery(page, size)})
}

// GetAPI reads one catalog entry.
func (c *Client) GetAPI(ctx context.Context, id string) (catalog.API, error) {
	data, err := c.do(ctx, call{op: "apis.get", method: http.MethodGet, path: "/api/apis/" + escape(id)})
	if errors.Is(err, ErrNotFound) {
		return catalog.API{}, fmt.Errorf("%w: %w", catalog.ErrAPINotFound, err)
	}
	if err != nil {
		return catalog.API{}, err
	}
	return decodeOne[catalog.API]("apis.get", data)
}

// ListAPIs returns one page of catalog entries, published or not.
func (c *Client) ListAPIs(ctx context.Context, page, size int) ([]catalog.API, error) {
	data, err := c.do(ctx, call{op: "apis.list", method: http.MethodGet, path: "/api/apis", query: pageQuery(page, size)})
	if err != nil {
		return nil, err
	}
	items, _, err := decodeList[catalog.API]("apis.list", data)
	return items, err
}

var (
	_ catalog.Fetcher   = (*Client)(nil)
	_ catalog.APISource = (*Client)(nil)
)
