// Package remote contains HTTP clients for the upstream customer and
// product services the order engine depends on.
package remote

import (
	"context"
	"errors"
	"net/http"
	"time"
)

var (
	// ErrNotFound indicates the upstream service does not know the requested resource.
	ErrNotFound = errors.New("remote: resource not found")
	// ErrUnavailable indicates the upstream service could not be reached or
	// answered with an unexpected status.
	ErrUnavailable = errors.New("remote: service unavailable")
)

// Customer is the customer-service representation of an account.
type Customer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Product is the product-service representation of a catalogue entry. The
// full document round-trips through stock updates, which replace the upstream
// record wholesale.
type Product struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	Price         float64 `json:"price"`
	StockQuantity int     `json:"quantity"`
	Category      string  `json:"category"`
	ImageURL      string  `json:"imageUrl"`
	Barcode       string  `json:"barcode"`
}

// LoyaltyCredit is the activity record posted to the customer service when a
// delivered order earns points. ReferenceID carries the order ID.
type LoyaltyCredit struct {
	Type        string    `json:"type"`
	Points      int       `json:"points"`
	Amount      float64   `json:"amount"`
	Description string    `json:"description"`
	ReferenceID string    `json:"referenceId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// LoyaltyActivityPurchase marks points earned by a completed purchase.
const LoyaltyActivityPurchase = "PURCHASE"

// send issues the request produced by build, reissuing it on transport
// failures and 5xx answers up to retries additional attempts. build runs once
// per attempt so request bodies can be replayed. A 5xx answer on the final
// attempt is returned to the caller for status mapping.
func send(ctx context.Context, client *http.Client, retries int, build func() (*http.Request, error)) (*http.Response, error) {
	if retries < 0 {
		retries = 0
	}
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		req, err := build()
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, lastErr
			}
			continue
		}
		if resp.StatusCode >= http.StatusInternalServerError && attempt < retries {
			resp.Body.Close()
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}
