package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// ListPickups fetches one page of pickups.
func (c *Client) ListPickups(ctx context.Context, opts ListPickupsOptions) (*Page[Pickup], error) {
	query := url.Values{}

	if opts.Page > 0 {
		query.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.Status != "" {
		query.Set("status", opts.Status)
	}
	if opts.Worker != "" {
		query.Set("worker", opts.Worker)
	}

	page, err := getList[Pickup](ctx, c, "/pickups/", query)
	if err != nil {
		return nil, fmt.Errorf("list pickups: %w", err)
	}
	return page, nil
}

// ListAllPickups fetches every page of pickups matching opts.
func (c *Client) ListAllPickups(ctx context.Context, opts ListPickupsOptions) ([]Pickup, error) {
	var all []Pickup
	opts.Page = 1

	for {
		page, err := c.ListPickups(ctx, opts)
		if err != nil {
			return nil, err
		}

		all = append(all, page.Results...)

		if page.Next == nil || *page.Next == "" {
			break
		}
		opts.Page++
	}

	return all, nil
}

// GetPickup fetches a single pickup.
func (c *Client) GetPickup(ctx context.Context, id int64) (*Pickup, error) {
	var p Pickup
	if err := c.get(ctx, fmt.Sprintf("/pickups/%d/", id), nil, &p); err != nil {
		return nil, fmt.Errorf("get pickup %d: %w", id, err)
	}
	return &p, nil
}

// ListBins fetches one page of bins.
func (c *Client) ListBins(ctx context.Context, opts ListBinsOptions) (*Page[Bin], error) {
	query := url.Values{}

	if opts.Page > 0 {
		query.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.Status != "" {
		query.Set("status", opts.Status)
	}

	page, err := getList[Bin](ctx, c, "/bins/", query)
	if err != nil {
		return nil, fmt.Errorf("list bins: %w", err)
	}
	return page, nil
}

func getList[T any](ctx context.Context, c *Client, path string, query url.Values) (*Page[T], error) {
	body, err := c.doWithRetry(ctx, request{method: http.MethodGet, path: path, query: query})
	if err != nil {
		return nil, err
	}
	page, err := decodeList[T](body)
	if err != nil {
		return nil, err
	}
	return &page, nil
}
