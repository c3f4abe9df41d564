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

const (
	defaultClientTimeout = 5 * time.Second
	defaultClientRetries = 2
)

// CustomerClient talks to the customer service over HTTP.
type CustomerClient struct {
	baseURL string
	client  *http.Client
	retries int
}

// CustomerClientOption customises the client.
type CustomerClientOption func(*CustomerClient)

// WithCustomerHTTPClient overrides the underlying HTTP client.
func WithCustomerHTTPClient(client *http.Client) CustomerClientOption {
	return func(c *CustomerClient) {
		if client != nil {
			c.client = client
		}
	}
}

// WithCustomerRetries bounds how many times a failed request is reissued.
func WithCustomerRetries(retries int) CustomerClientOption {
	return func(c *CustomerClient) {
		if retries >= 0 {
			c.retries = retries
		}
	}
}

// WithCustomerTimeout bounds every request issued by the client.
func WithCustomerTimeout(timeout time.Duration) CustomerClientOption {
	return func(c *CustomerClient) {
		if timeout > 0 {
			c.client.Timeout = timeout
		}
	}
}

// NewCustomerClient constructs a client rooted at the service base URL.
func NewCustomerClient(baseURL string, opts ...CustomerClientOption) (*CustomerClient, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errors.New("remote: customer service url is required")
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("remote: invalid customer service url: %w", err)
	}

	client := &CustomerClient{
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

// GetCustomer fetches a customer by ID. A 404 maps to ErrNotFound; any
// transport failure or unexpected status maps to ErrUnavailable.
func (c *CustomerClient) GetCustomer(ctx context.Context, id string) (Customer, error) {
	if strings.TrimSpace(id) == "" {
		return Customer{}, fmt.Errorf("%w: customer id is required", ErrNotFound)
	}

	endpoint := fmt.Sprintf("%s/api/customers/%s", c.baseURL, url.PathEscape(id))
	resp, err := send(ctx, c.client, c.retries, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return Customer{}, fmt.Errorf("%w: customer service: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Customer{}, fmt.Errorf("%w: customer %s", ErrNotFound, id)
	case resp.StatusCode != http.StatusOK:
		return Customer{}, fmt.Errorf("%w: customer service returned %d", ErrUnavailable, resp.StatusCode)
	}

	var customer Customer
	if err := json.NewDecoder(resp.Body).Decode(&customer); err != nil {
		return Customer{}, fmt.Errorf("%w: decode customer response: %v", ErrUnavailable, err)
	}
	if customer.ID == "" {
		customer.ID = id
	}
	return customer, nil
}

// CreditLoyaltyPoints records loyalty points for a delivered order.
func (c *CustomerClient) CreditLoyaltyPoints(ctx context.Context, customerID string, credit LoyaltyCredit) error {
	if strings.TrimSpace(customerID) == "" {
		return fmt.Errorf("%w: customer id is required", ErrNotFound)
	}

	payload, err := json.Marshal(credit)
	if err != nil {
		return fmt.Errorf("%w: encode loyalty credit: %v", ErrUnavailable, err)
	}

	endpoint := fmt.Sprintf("%s/api/customers/%s/loyalty/points", c.baseURL, url.PathEscape(customerID))
	resp, err := send(ctx, c.client, c.retries, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("%w: customer service: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: customer %s", ErrNotFound, customerID)
	case resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices:
		return nil
	default:
		return fmt.Errorf("%w: customer service returned %d", ErrUnavailable, resp.StatusCode)
	}
}
