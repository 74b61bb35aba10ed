package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/datallboy/gocdse/internal/domain"
	"github.com/datallboy/gocdse/internal/infra/logger"
)

// DefaultPageSize is the number of records requested per page.
const DefaultPageSize = 900

// ErrMissingCount is returned when the count probe has no @odata.count (the query
// probably lacks $count=True).
var ErrMissingCount = errors.New("catalog: response has no @odata.count")

// StatusError reports a non-2xx answer from the search endpoint.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("catalog: %s returned status %d", e.URL, e.StatusCode)
}

// Options configures the catalog client.
type Options struct {
	// PageSize is the page stride.
	// Default: 900
	PageSize int

	// StrictPagination rejects queries without both top and skip parameters.
	StrictPagination bool
}

// Client enumerates products from an OData search endpoint.
type Client struct {
	client *http.Client
	opts   Options
	log    *logger.Logger
}

func NewClient(client *http.Client, opts Options, log *logger.Logger) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	return &Client{client: client, opts: opts, log: log}
}

// Search probes the total count with the unmodified query, then walks the result set in
// PageSize strides. Any failure aborts the whole search; no partial result is returned.
func (c *Client) Search(ctx context.Context, rawQuery string) ([]domain.Product, error) {
	q, err := ParseQuery(rawQuery)
	if err != nil {
		return nil, err
	}

	if c.opts.StrictPagination && !q.HasPagination() {
		return nil, ErrMissingPagination
	}

	total, err := c.Count(ctx, q)
	if err != nil {
		return nil, err
	}

	if total == 0 {
		c.log.Info("No products matched the search query")
		return []domain.Product{}, nil
	}

	c.log.Info("Found %d products, collecting descriptors", total)

	// total is server input; never size an allocation from it
	products := make([]domain.Product, 0, min(total, c.opts.PageSize))
	for k := 0; k < total; k += c.opts.PageSize {
		c.log.Info("Collecting records %d-%d", k, k+c.opts.PageSize)

		page, err := c.fetch(ctx, q.Page(c.opts.PageSize, k))
		if err != nil {
			return nil, fmt.Errorf("fetch page at skip=%d: %w", k, err)
		}

		if len(page.Value) == 0 {
			c.log.Warn("Empty page at skip=%d, stopping before the reported %d", k, total)
			break
		}

		for _, rec := range page.Value {
			products = append(products, domain.Product{ID: rec.ID, Name: rec.Name})
		}
	}

	if len(products) != total {
		c.log.Warn("Catalog reported %d products but %d were collected", total, len(products))
	}

	c.log.Info("Collected %d product descriptors", len(products))
	return products, nil
}

// Count issues the query unmodified and returns @odata.count.
func (c *Client) Count(ctx context.Context, q *Query) (int, error) {
	resp, err := c.fetch(ctx, q.String())
	if err != nil {
		return 0, fmt.Errorf("count probe: %w", err)
	}
	if resp.Count == nil {
		return 0, ErrMissingCount
	}
	if *resp.Count < 0 {
		return 0, fmt.Errorf("catalog: negative @odata.count %d", *resp.Count)
	}
	return *resp.Count, nil
}

func (c *Client) fetch(ctx context.Context, rawURL string) (*searchResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requote(rawURL), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return &sr, nil
}
