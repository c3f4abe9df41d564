package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ProductClient talks to the product service over HTTP.
type ProductClient struct {
	baseURL string
	client  *http.Client
	retries int
}

// ProductClientOption customises the client.
type ProductClientOption func(*ProductClient)

// WithProductHTTPClient overrides the underlying HTTP client.
func WithProductHTTPClient(client *http.Client) ProductClientOption {
	return func(c *ProductClient) {
		if client != nil {
			c.client = client
		}
	}
}

// WithProductRetries bounds how many times a failed request is reissued.
func WithProductRetries(retries int) ProductClientOption {
	return func(c *ProductClient) {
		if retries >= 0 {
			c.retries = retries
		}
	}
}

// WithProductTimeout bounds every request issued by the client.
func WithProductTimeout(timeout time.Duration) ProductClientOption {
	return func(c *ProductClient) {
		if timeout > 0 {
			c.client.Timeout = timeout
		}
	}
}

// NewProductClient constructs a client rooted at the service base URL.
func NewProductClient(baseURL string, opts ...ProductClientOption) (*ProductClient, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errors.New("remote: product service url is required")
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("remote: invalid product service url: %w", err)
	}

	client := &ProductClient{
		baseURL: trimmed,
		client:  &http.Client{Timeout: defaultClientTimeout},
		retries: defaultClientRetries,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// GetProduct fetches a product by ID. A 404 maps to ErrNotFound; any
// transport failure or unexpected status maps to ErrUnavailable.
func (c *ProductClient) GetProduct(ctx context.Context, id string) (Product, error) {
	if strings.TrimSpace(id) == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrNotFound)
	}

	endpoint := fmt.Sprintf("%s/api/products/%s", c.baseURL, url.PathEscape(id))
	resp, err := send(ctx, c.client, c.retries, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return Product{}, fmt.Errorf("%w: product service: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Product{}, fmt.Errorf("%w: product %s", ErrNotFound, id)
	case resp.StatusCode != http.StatusOK:
		return Product{}, fmt.Errorf("%w: product service returned %d", ErrUnavailable, resp.StatusCode)
	}

	var product Product
	if err := json.NewDecoder(resp.Body).Decode(&product); err != nil {
		return Product{}, fmt.Errorf("%w: decode product response: %v", ErrUnavailable, err)
	}
	if product.ID == "" {
		product.ID = id
	}
	return product, nil
}

// UpdateProductStock replaces the product record, typically after adjusting
// its stock quantity.
func (c *ProductClient) UpdateProductStock(ctx context.Context, product Product) error {
	if strings.TrimSpace(product.ID) == "" {
		return fmt.Errorf("%w: product id is required", ErrNotFound)
	}

	payload, err := json.Marshal(product)
	if err != nil {
		return fmt.Errorf("%w: encode product: %v", ErrUnavailable, err)
	}

	endpoint := fmt.Sprintf("%s/api/products/%s", c.baseURL, url.PathEscape(product.ID))
	resp, err := send(ctx, c.client, c.retries, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("%w: product service: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: product %s", ErrNotFound, product.ID)
	case resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices:
		return nil
	default:
		return fmt.Errorf("%w: product service returned %d", ErrUnavailable, resp.StatusCode)
	}
}
