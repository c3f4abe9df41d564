// Package services contains the order lifecycle orchestration and invoice
// generation logic, independent of transport and storage.
package services

import (
	"context"
	"time"

	"github.com/orderdesk/api/internal/domain"
	"github.com/orderdesk/api/internal/remote"
)

// CustomerGateway abstracts the remote customer service.
type CustomerGateway interface {
	GetCustomer(ctx context.Context, id string) (remote.Customer, error)
	CreditLoyaltyPoints(ctx context.Context, customerID string, credit remote.LoyaltyCredit) error
}

// ProductGateway abstracts the remote product service.
type ProductGateway interface {
	GetProduct(ctx context.Context, id string) (remote.Product, error)
	UpdateProductStock(ctx context.Context, product remote.Product) error
}

// OrderItemInput names a product and quantity on an incoming order.
type OrderItemInput struct {
	ProductID string
	Quantity  int
}

// CreateOrderCommand captures the payload to create a new order. Prices and
// product names are never taken from the caller; they are snapshotted from
// the product service.
type CreateOrderCommand struct {
	CustomerID         string
	Items              []OrderItemInput
	DiscountPercentage *float64
	DiscountAmount     *float64
}

// UpdateOrderCommand patches an existing order. Only the status field is
// applied; the rest of the patch is informational.
type UpdateOrderCommand struct {
	OrderID string
	Status  string
}

// OrderStatusCommand requests a lifecycle transition.
type OrderStatusCommand struct {
	OrderID   string
	NewStatus string
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	CustomerID string
	Status     *domain.OrderStatus
	From       *time.Time
	To         *time.Time
	Pagination domain.Pagination
}

// OrderDetails is an order enriched with the customer display name plus any
// warnings collected from best-effort side effects.
type OrderDetails struct {
	Order        domain.Order
	CustomerName string
	Warnings     []string
}

// DeleteOrderResult reports warnings from best-effort stock restoration.
type DeleteOrderResult struct {
	Warnings []string
}

// OrderService orchestrates order creation, reads, lifecycle transitions and
// deletion against remote collaborators and local storage.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (OrderDetails, error)
	GetOrder(ctx context.Context, orderID string) (OrderDetails, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[OrderDetails], error)
	UpdateOrder(ctx context.Context, cmd UpdateOrderCommand) (OrderDetails, error)
	UpdateOrderStatus(ctx context.Context, cmd OrderStatusCommand) (OrderDetails, error)
	DeleteOrder(ctx context.Context, orderID string) (DeleteOrderResult, error)
}

// InvoiceListFilter narrows invoice listings.
type InvoiceListFilter struct {
	PaymentStatus *domain.PaymentStatus
	From          *time.Time
	To            *time.Time
	Pagination    domain.Pagination
}

// InvoiceService exposes invoice reads and settlement updates. Invoices are
// only ever created by the order orchestrator.
type InvoiceService interface {
	GetInvoice(ctx context.Context, invoiceID string) (domain.Invoice, error)
	GetInvoiceByOrder(ctx context.Context, orderID string) (domain.Invoice, error)
	GetInvoiceByNumber(ctx context.Context, invoiceNumber string) (domain.Invoice, error)
	ListInvoices(ctx context.Context, filter InvoiceListFilter) (domain.CursorPage[domain.Invoice], error)
	UpdatePaymentStatus(ctx context.Context, invoiceID string, status string) (domain.Invoice, error)
}
