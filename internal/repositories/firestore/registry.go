package firestore

import (
	"errors"

	pfirestore "github.com/orderdesk/api/internal/platform/firestore"
	"github.com/orderdesk/api/internal/repositories"
)

// Registry bundles the Firestore repositories behind the repositories.Registry contract.
type Registry struct {
	orders   *OrderRepository
	invoices *InvoiceRepository
}

// NewRegistry wires the repositories against a shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	invoices, err := NewInvoiceRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		orders:   orders,
		invoices: invoices,
	}, nil
}

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// Invoices returns the invoice repository.
func (r *Registry) Invoices() repositories.InvoiceRepository { return r.invoices }
