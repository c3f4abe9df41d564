package domain

import (
	"math"
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage wraps a page of results together with the token for the next page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// RangeQuery represents inclusive range filters for timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order has been accepted but not yet picked for processing.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusProcessing indicates the order is being prepared.
	OrderStatusProcessing OrderStatus = "PROCESSING"
	// OrderStatusShipped indicates the order has left the warehouse.
	OrderStatusShipped OrderStatus = "SHIPPED"
	// OrderStatusDelivered indicates the order reached the customer. Terminal.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled indicates the order was cancelled before delivery. Terminal.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// ValidOrderStatus reports whether raw names a known lifecycle state.
func ValidOrderStatus(raw string) bool {
	switch OrderStatus(raw) {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// Order is the aggregate root. It exclusively owns its items and at most one
// invoice; deleting an order removes both.
type Order struct {
	ID                 string
	CustomerID         string
	OrderDate          time.Time
	Status             OrderStatus
	TotalAmount        float64
	DiscountPercentage *float64
	DiscountAmount     *float64
	Items              []OrderItem
	InvoiceID          *string
	UpdatedAt          time.Time
}

// Subtotal sums the item subtotals before any discount.
func (o Order) Subtotal() float64 {
	var sum float64
	for _, item := range o.Items {
		sum += item.Subtotal
	}
	return sum
}

// RecalculateTotal recomputes every item subtotal and the order total,
// reapplying the stored discount amount. TotalAmount is always derived,
// never trusted from input.
func (o *Order) RecalculateTotal() {
	for i := range o.Items {
		o.Items[i].RecalculateSubtotal()
	}
	total := o.Subtotal()
	if o.DiscountAmount != nil {
		total -= *o.DiscountAmount
	}
	o.TotalAmount = total
}

// LoyaltyPoints computes the points awarded on delivery: one point per unit
// of currency, truncated toward zero.
func (o Order) LoyaltyPoints() int {
	return int(math.Trunc(o.TotalAmount))
}

// OrderItem snapshots a product line at order time. ProductName and Price are
// intentionally decoupled from later product changes.
type OrderItem struct {
	ID          string
	ProductID   string
	ProductName string
	Quantity    int
	Price       float64
	Subtotal    float64
}

// RecalculateSubtotal derives the subtotal from price and quantity. Callers
// must invoke it after mutating either field and before persistence.
func (i *OrderItem) RecalculateSubtotal() {
	i.Subtotal = i.Price * float64(i.Quantity)
}

// PaymentStatus enumerates invoice settlement states.
type PaymentStatus string

const (
	// PaymentStatusUnpaid is the initial state of every generated invoice.
	PaymentStatusUnpaid PaymentStatus = "UNPAID"
	// PaymentStatusPaid indicates the invoice has been settled.
	PaymentStatusPaid PaymentStatus = "PAID"
)

// ValidPaymentStatus reports whether raw names a known settlement state.
func ValidPaymentStatus(raw string) bool {
	switch PaymentStatus(raw) {
	case PaymentStatusUnpaid, PaymentStatusPaid:
		return true
	}
	return false
}

// Invoice is generated exactly once, when an order is first persisted. The
// order owns the invoice; OrderID is a lookup reference, not ownership.
type Invoice struct {
	ID            string
	InvoiceNumber string
	OrderID       string
	IssueDate     time.Time
	DueDate       time.Time
	TotalAmount   float64
	TaxAmount     float64
	PaymentStatus PaymentStatus
	UpdatedAt     time.Time
}
