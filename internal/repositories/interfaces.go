// Package repositories defines the persistence contracts consumed by the
// service layer. Implementations live in subpackages per storage backend.
package repositories

import (
	"context"
	"time"

	"github.com/orderdesk/api/internal/domain"
)

// Registry groups the repositories required by the services.
type Registry interface {
	Orders() OrderRepository
	Invoices() InvoiceRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderMutator inspects the current order inside a transactional read-modify-write
// cycle and returns the state to persist. Returning an error aborts the update.
type OrderMutator func(current domain.Order) (domain.Order, error)

// OrderRepository persists orders together with their embedded line items.
type OrderRepository interface {
	// InsertWithInvoice stores the order and its generated invoice in one
	// transaction. Either both documents commit or neither does.
	InsertWithInvoice(ctx context.Context, order domain.Order, invoice domain.Invoice) error
	Update(ctx context.Context, order domain.Order) error
	// UpdateGuarded re-reads the order inside a transaction, applies mutate
	// and persists the result, so concurrent status changes serialise.
	UpdateGuarded(ctx context.Context, orderID string, mutate OrderMutator) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// Delete removes the order and, when invoiceID is non-empty, the linked
	// invoice in the same transaction.
	Delete(ctx context.Context, orderID string, invoiceID string) error
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// OrderListFilter narrows and paginates order listings.
type OrderListFilter struct {
	CustomerID string
	Status     *domain.OrderStatus
	OrderedAt  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// InvoiceRepository persists invoices generated for orders. Invoice documents
// are created through OrderRepository.InsertWithInvoice; this contract only
// reads and settles them.
type InvoiceRepository interface {
	Update(ctx context.Context, invoice domain.Invoice) error
	FindByID(ctx context.Context, invoiceID string) (domain.Invoice, error)
	FindByOrderID(ctx context.Context, orderID string) (domain.Invoice, error)
	FindByNumber(ctx context.Context, invoiceNumber string) (domain.Invoice, error)
	List(ctx context.Context, filter InvoiceListFilter) (domain.CursorPage[domain.Invoice], error)
}

// InvoiceListFilter narrows and paginates invoice listings.
type InvoiceListFilter struct {
	PaymentStatus *domain.PaymentStatus
	IssuedAt      domain.RangeQuery[time.Time]
	Pagination    domain.Pagination
}
