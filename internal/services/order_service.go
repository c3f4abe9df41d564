package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/orderdesk/api/internal/domain"
	"github.com/orderdesk/api/internal/remote"
	"github.com/orderdesk/api/internal/repositories"
)

const (
	orderEventCreated          = "order.created"
	orderEventStatusChanged    = "order.status.changed"
	orderEventDeleted          = "order.deleted"
	orderEventSideEffectFailed = "order.sideeffect.failed"

	orderIDPrefix     = "ord_"
	orderItemIDPrefix = "itm_"

	unknownCustomerName = "Unknown Customer"

	defaultInvoiceTaxRate   = 0.15
	defaultInvoiceDueInDays = 30
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderConflict indicates concurrent mutations collided in storage.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrCustomerNotFound indicates the customer service does not know the customer.
	ErrCustomerNotFound = errors.New("order: customer not found")
	// ErrProductNotFound indicates the product service does not know a referenced product.
	ErrProductNotFound = errors.New("order: product not found")
	// ErrInsufficientStock indicates a product cannot cover the requested quantity.
	ErrInsufficientStock = errors.New("order: insufficient stock")
	// ErrInvalidTransition indicates an illegal lifecycle transition was attempted.
	ErrInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderNotModifiable indicates the order is in a terminal state.
	ErrOrderNotModifiable = errors.New("order: not modifiable")
	// ErrOrderNotDeletable indicates the order has progressed beyond PENDING.
	ErrOrderNotDeletable = errors.New("order: not deletable")
)

// orderStateTransitions is the single source of truth for the lifecycle.
// Identity transitions are always legal no-ops; terminal states admit nothing.
var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered, domain.OrderStatusCancelled},
	domain.OrderStatusDelivered:  {},
	domain.OrderStatusCancelled:  {},
}

func canTransition(current, target domain.OrderStatus) bool {
	if current == target {
		return true
	}
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	CustomerID     string
	PreviousStatus string
	CurrentStatus  string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders           repositories.OrderRepository
	Invoices         repositories.InvoiceRepository
	Customers        CustomerGateway
	Products         ProductGateway
	Clock            func() time.Time
	IDGenerator      func() string
	Events           OrderEventPublisher
	Logger           func(ctx context.Context, event string, fields map[string]any)
	InvoiceTaxRate   float64
	InvoiceDueInDays int
}

type orderService struct {
	orders     repositories.OrderRepository
	invoices   repositories.InvoiceRepository
	customers  CustomerGateway
	products   ProductGateway
	clock      func() time.Time
	newID      func() string
	events     OrderEventPublisher
	logger     func(context.Context, string, map[string]any)
	taxRate    float64
	dueInDays  int
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Invoices == nil {
		return nil, errors.New("order service: invoice repository is required")
	}
	if deps.Customers == nil {
		return nil, errors.New("order service: customer gateway is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product gateway is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	taxRate := deps.InvoiceTaxRate
	if taxRate <= 0 {
		taxRate = defaultInvoiceTaxRate
	}
	dueInDays := deps.InvoiceDueInDays
	if dueInDays <= 0 {
		dueInDays = defaultInvoiceDueInDays
	}

	return &orderService{
		orders:     deps.Orders,
		invoices:   deps.Invoices,
		customers:  deps.Customers,
		products:   deps.Products,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:     idGen,
		events:    deps.Events,
		logger:    logger,
		taxRate:   taxRate,
		dueInDays: dueInDays,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (OrderDetails, error) {
	customerID := strings.TrimSpace(cmd.CustomerID)
	if customerID == "" {
		return OrderDetails{}, fmt.Errorf("%w: customer id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return OrderDetails{}, fmt.Errorf("%w: order must contain at least one item", ErrOrderInvalidInput)
	}
	for i, item := range cmd.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return OrderDetails{}, fmt.Errorf("%w: item %d is missing a product id", ErrOrderInvalidInput, i)
		}
		if item.Quantity < 1 {
			return OrderDetails{}, fmt.Errorf("%w: item %d quantity must be at least 1", ErrOrderInvalidInput, i)
		}
	}
	if cmd.DiscountPercentage != nil && (*cmd.DiscountPercentage < 0 || *cmd.DiscountPercentage > 100) {
		return OrderDetails{}, fmt.Errorf("%w: discount percentage must be between 0 and 100", ErrOrderInvalidInput)
	}
	if cmd.DiscountAmount != nil && *cmd.DiscountAmount < 0 {
		return OrderDetails{}, fmt.Errorf("%w: discount amount must not be negative", ErrOrderInvalidInput)
	}

	// Any customer fetch failure, missing or unreachable, aborts creation
	// before local writes so no partial state exists to compensate.
	customer, err := s.customers.GetCustomer(ctx, customerID)
	if err != nil {
		return OrderDetails{}, fmt.Errorf("%w: %s: %w", ErrCustomerNotFound, customerID, err)
	}

	products, err := s.fetchProducts(ctx, cmd.Items)
	if err != nil {
		return OrderDetails{}, err
	}

	for i, item := range cmd.Items {
		if products[i].StockQuantity < item.Quantity {
			return OrderDetails{}, fmt.Errorf("%w: product %s has %d in stock, %d requested",
				ErrInsufficientStock, item.ProductID, products[i].StockQuantity, item.Quantity)
		}
	}

	now := s.now()
	order := domain.Order{
		ID:         orderIDPrefix + s.newID(),
		CustomerID: customerID,
		OrderDate:  now,
		Status:     domain.OrderStatusPending,
		UpdatedAt:  now,
	}
	order.Items = make([]domain.OrderItem, 0, len(cmd.Items))
	for i, item := range cmd.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ID:          orderItemIDPrefix + s.newID(),
			ProductID:   strings.TrimSpace(item.ProductID),
			ProductName: products[i].Name,
			Quantity:    item.Quantity,
			Price:       products[i].Price,
		})
	}

	applyDiscount(&order, cmd.DiscountPercentage, cmd.DiscountAmount)
	order.RecalculateTotal()

	invoice := BuildInvoice(order, now, s.newID, s.taxRate, s.dueInDays)
	invoiceID := invoice.ID
	order.InvoiceID = &invoiceID

	if err := s.orders.InsertWithInvoice(ctx, order, invoice); err != nil {
		return OrderDetails{}, s.mapRepositoryError(err)
	}

	warnings := s.pushStockDecrements(ctx, order, products, cmd.Items)

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		CustomerID:    order.CustomerID,
		CurrentStatus: string(order.Status),
		OccurredAt:    now,
		Metadata: map[string]any{
			"totalAmount": order.TotalAmount,
			"invoiceId":   invoice.ID,
			"itemCount":   len(order.Items),
		},
	})

	name := strings.TrimSpace(customer.Name)
	if name == "" {
		name = unknownCustomerName
	}
	return OrderDetails{Order: order, CustomerName: name, Warnings: warnings}, nil
}

// fetchProducts resolves every referenced product concurrently. Results keep
// the command's item ordering.
func (s *orderService) fetchProducts(ctx context.Context, items []OrderItemInput) ([]remote.Product, error) {
	products := make([]remote.Product, len(items))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, item := range items {
		i, item := i, item
		group.Go(func() error {
			product, err := s.products.GetProduct(groupCtx, item.ProductID)
			if err != nil {
				return fmt.Errorf("%w: %s: %w", ErrProductNotFound, item.ProductID, err)
			}
			products[i] = product
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return products, nil
}

// applyDiscount stores the discount on the order. The discount applies only
// when a positive percentage is supplied; an explicit amount then overrides
// the value computed from the pre-discount subtotal. Both fields persist.
func applyDiscount(order *domain.Order, percentage, amount *float64) {
	if percentage == nil || *percentage <= 0 {
		return
	}
	pct := *percentage
	order.DiscountPercentage = &pct
	for i := range order.Items {
		order.Items[i].RecalculateSubtotal()
	}
	discount := order.Subtotal() * pct / 100
	if amount != nil {
		discount = *amount
	}
	order.DiscountAmount = &discount
}

func (s *orderService) pushStockDecrements(ctx context.Context, order domain.Order, products []remote.Product, items []OrderItemInput) []string {
	var warnings []string
	for i, item := range items {
		product := products[i]
		product.StockQuantity -= item.Quantity
		if err := s.products.UpdateProductStock(ctx, product); err != nil {
			warning := fmt.Sprintf("stock update failed for product %s: %v", product.ID, err)
			warnings = append(warnings, warning)
			s.reportSideEffectFailure(ctx, order, "stock.decrement", warning)
		}
	}
	return warnings
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (OrderDetails, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return OrderDetails{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return OrderDetails{}, s.mapRepositoryError(err)
	}

	return OrderDetails{Order: order, CustomerName: s.customerName(ctx, order.CustomerID)}, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[OrderDetails], error) {
	repoFilter := repositories.OrderListFilter{
		CustomerID: strings.TrimSpace(filter.CustomerID),
		Status:     filter.Status,
		Pagination: filter.Pagination,
	}
	repoFilter.OrderedAt.From = filter.From
	repoFilter.OrderedAt.To = filter.To

	page, err := s.orders.List(ctx, repoFilter)
	if err != nil {
		return domain.CursorPage[OrderDetails]{}, s.mapRepositoryError(err)
	}

	// Display names resolve once per distinct customer on the page.
	names := make(map[string]string)
	items := make([]OrderDetails, 0, len(page.Items))
	for _, order := range page.Items {
		name, ok := names[order.CustomerID]
		if !ok {
			name = s.customerName(ctx, order.CustomerID)
			names[order.CustomerID] = name
		}
		items = append(items, OrderDetails{Order: order, CustomerName: name})
	}

	return domain.CursorPage[OrderDetails]{
		Items:         items,
		NextPageToken: page.NextPageToken,
	}, nil
}

func (s *orderService) UpdateOrder(ctx context.Context, cmd UpdateOrderCommand) (OrderDetails, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return OrderDetails{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target := strings.ToUpper(strings.TrimSpace(cmd.Status))
	if target == "" {
		return OrderDetails{}, fmt.Errorf("%w: status is required", ErrOrderInvalidInput)
	}
	if !domain.ValidOrderStatus(target) {
		return OrderDetails{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Status)
	}

	now := s.now()
	updated, err := s.orders.UpdateGuarded(ctx, orderID, func(current domain.Order) (domain.Order, error) {
		if current.Status.Terminal() {
			return domain.Order{}, fmt.Errorf("%w: order is %s", ErrOrderNotModifiable, current.Status)
		}
		current.Status = domain.OrderStatus(target)
		current.UpdatedAt = now
		return current, nil
	})
	if err != nil {
		return OrderDetails{}, s.mapRepositoryError(err)
	}

	return OrderDetails{Order: updated, CustomerName: s.customerName(ctx, updated.CustomerID)}, nil
}

func (s *orderService) UpdateOrderStatus(ctx context.Context, cmd OrderStatusCommand) (OrderDetails, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return OrderDetails{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	raw := strings.ToUpper(strings.TrimSpace(cmd.NewStatus))
	if raw == "" {
		return OrderDetails{}, fmt.Errorf("%w: status is required", ErrOrderInvalidInput)
	}
	if !domain.ValidOrderStatus(raw) {
		return OrderDetails{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.NewStatus)
	}
	target := domain.OrderStatus(raw)

	now := s.now()
	var prevStatus domain.OrderStatus
	updated, err := s.orders.UpdateGuarded(ctx, orderID, func(current domain.Order) (domain.Order, error) {
		prevStatus = current.Status
		if current.Status == target {
			return current, nil
		}
		if !canTransition(current.Status, target) {
			return domain.Order{}, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current.Status, target)
		}
		current.Status = target
		current.UpdatedAt = now
		return current, nil
	})
	if err != nil {
		return OrderDetails{}, s.mapRepositoryError(err)
	}

	var warnings []string
	if target == domain.OrderStatusDelivered && prevStatus != domain.OrderStatusDelivered {
		warnings = s.runDeliverySideEffects(ctx, updated)
	}

	if prevStatus != updated.Status {
		s.publishEvent(ctx, OrderEvent{
			Type:           orderEventStatusChanged,
			OrderID:        updated.ID,
			CustomerID:     updated.CustomerID,
			PreviousStatus: string(prevStatus),
			CurrentStatus:  string(updated.Status),
			OccurredAt:     now,
		})
	}

	return OrderDetails{
		Order:        updated,
		CustomerName: s.customerName(ctx, updated.CustomerID),
		Warnings:     warnings,
	}, nil
}

// runDeliverySideEffects awards loyalty points and settles the invoice after
// an order first lands on DELIVERED. Failures are reported, never propagated.
func (s *orderService) runDeliverySideEffects(ctx context.Context, order domain.Order) []string {
	var warnings []string

	credit := remote.LoyaltyCredit{
		Type:        remote.LoyaltyActivityPurchase,
		Points:      order.LoyaltyPoints(),
		Amount:      order.TotalAmount,
		Description: fmt.Sprintf("Points awarded for order %s", order.ID),
		ReferenceID: order.ID,
		CreatedAt:   s.now(),
	}
	if err := s.customers.CreditLoyaltyPoints(ctx, order.CustomerID, credit); err != nil {
		warning := fmt.Sprintf("loyalty award failed for customer %s: %v", order.CustomerID, err)
		warnings = append(warnings, warning)
		s.reportSideEffectFailure(ctx, order, "loyalty.award", warning)
	}

	if err := s.settleInvoice(ctx, order); err != nil {
		warning := fmt.Sprintf("invoice settlement failed for order %s: %v", order.ID, err)
		warnings = append(warnings, warning)
		s.reportSideEffectFailure(ctx, order, "invoice.settlement", warning)
	}

	return warnings
}

func (s *orderService) settleInvoice(ctx context.Context, order domain.Order) error {
	var invoice domain.Invoice
	var err error
	if order.InvoiceID != nil && strings.TrimSpace(*order.InvoiceID) != "" {
		invoice, err = s.invoices.FindByID(ctx, *order.InvoiceID)
	} else {
		invoice, err = s.invoices.FindByOrderID(ctx, order.ID)
	}
	if err != nil {
		return err
	}

	if invoice.PaymentStatus == domain.PaymentStatusPaid {
		return nil
	}
	invoice.PaymentStatus = domain.PaymentStatusPaid
	invoice.UpdatedAt = s.now()
	return s.invoices.Update(ctx, invoice)
}

func (s *orderService) DeleteOrder(ctx context.Context, orderID string) (DeleteOrderResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return DeleteOrderResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return DeleteOrderResult{}, s.mapRepositoryError(err)
	}
	if order.Status != domain.OrderStatusPending {
		return DeleteOrderResult{}, fmt.Errorf("%w: order is %s", ErrOrderNotDeletable, order.Status)
	}

	warnings := s.restoreStock(ctx, order)

	invoiceID := ""
	if order.InvoiceID != nil {
		invoiceID = *order.InvoiceID
	}
	if err := s.orders.Delete(ctx, orderID, invoiceID); err != nil {
		return DeleteOrderResult{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventDeleted,
		OrderID:        order.ID,
		CustomerID:     order.CustomerID,
		PreviousStatus: string(order.Status),
		OccurredAt:     s.now(),
	})

	return DeleteOrderResult{Warnings: warnings}, nil
}

// restoreStock pushes reserved quantities back to the product service before
// the order is deleted. Every failure is a warning; deletion proceeds.
func (s *orderService) restoreStock(ctx context.Context, order domain.Order) []string {
	var warnings []string
	for _, item := range order.Items {
		product, err := s.products.GetProduct(ctx, item.ProductID)
		if err != nil {
			warning := fmt.Sprintf("stock restore failed for product %s: %v", item.ProductID, err)
			warnings = append(warnings, warning)
			s.reportSideEffectFailure(ctx, order, "stock.restore", warning)
			continue
		}
		product.StockQuantity += item.Quantity
		if err := s.products.UpdateProductStock(ctx, product); err != nil {
			warning := fmt.Sprintf("stock restore failed for product %s: %v", item.ProductID, err)
			warnings = append(warnings, warning)
			s.reportSideEffectFailure(ctx, order, "stock.restore", warning)
		}
	}
	return warnings
}

func (s *orderService) customerName(ctx context.Context, customerID string) string {
	customer, err := s.customers.GetCustomer(ctx, customerID)
	if err != nil {
		s.logger(ctx, "order.customer.enrichment.failed", map[string]any{
			"customer": customerID,
			"error":    err.Error(),
		})
		return unknownCustomerName
	}
	if name := strings.TrimSpace(customer.Name); name != "" {
		return name
	}
	return unknownCustomerName
}

func (s *orderService) reportSideEffectFailure(ctx context.Context, order domain.Order, effect, detail string) {
	s.logger(ctx, "order.sideeffect.failed", map[string]any{
		"order":  order.ID,
		"effect": effect,
		"detail": detail,
	})
	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventSideEffectFailed,
		OrderID:       order.ID,
		CustomerID:    order.CustomerID,
		CurrentStatus: string(order.Status),
		OccurredAt:    s.now(),
		Metadata: map[string]any{
			"effect": effect,
			"detail": detail,
		},
	})
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}
