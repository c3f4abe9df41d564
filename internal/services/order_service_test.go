package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/orderdesk/api/internal/domain"
	"github.com/orderdesk/api/internal/remote"
	"github.com/orderdesk/api/internal/repositories"
)

type stubOrderRepo struct {
	insertFn        func(context.Context, domain.Order, domain.Invoice) error
	updateFn        func(context.Context, domain.Order) error
	updateGuardedFn func(context.Context, string, repositories.OrderMutator) (domain.Order, error)
	findFn          func(context.Context, string) (domain.Order, error)
	deleteFn        func(context.Context, string, string) error
	listFn          func(context.Context, repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
}

func (s *stubOrderRepo) InsertWithInvoice(ctx context.Context, order domain.Order, invoice domain.Invoice) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, order, invoice)
	}
	return nil
}

func (s *stubOrderRepo) Update(ctx context.Context, order domain.Order) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) UpdateGuarded(ctx context.Context, orderID string, mutate repositories.OrderMutator) (domain.Order, error) {
	if s.updateGuardedFn != nil {
		return s.updateGuardedFn(ctx, orderID, mutate)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFn != nil {
		return s.findFn(ctx, orderID)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepo) Delete(ctx context.Context, orderID string, invoiceID string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, orderID, invoiceID)
	}
	return nil
}

func (s *stubOrderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

type stubInvoiceRepo struct {
	updateFn       func(context.Context, domain.Invoice) error
	findFn         func(context.Context, string) (domain.Invoice, error)
	findByOrderFn  func(context.Context, string) (domain.Invoice, error)
	findByNumberFn func(context.Context, string) (domain.Invoice, error)
	listFn         func(context.Context, repositories.InvoiceListFilter) (domain.CursorPage[domain.Invoice], error)
}

func (s *stubInvoiceRepo) Update(ctx context.Context, invoice domain.Invoice) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, invoice)
	}
	return nil
}

func (s *stubInvoiceRepo) FindByID(ctx context.Context, invoiceID string) (domain.Invoice, error) {
	if s.findFn != nil {
		return s.findFn(ctx, invoiceID)
	}
	return domain.Invoice{}, errors.New("not implemented")
}

func (s *stubInvoiceRepo) FindByOrderID(ctx context.Context, orderID string) (domain.Invoice, error) {
	if s.findByOrderFn != nil {
		return s.findByOrderFn(ctx, orderID)
	}
	return domain.Invoice{}, errors.New("not implemented")
}

func (s *stubInvoiceRepo) FindByNumber(ctx context.Context, invoiceNumber string) (domain.Invoice, error) {
	if s.findByNumberFn != nil {
		return s.findByNumberFn(ctx, invoiceNumber)
	}
	return domain.Invoice{}, errors.New("not implemented")
}

func (s *stubInvoiceRepo) List(ctx context.Context, filter repositories.InvoiceListFilter) (domain.CursorPage[domain.Invoice], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Invoice]{}, nil
}

type stubCustomerGateway struct {
	getFn    func(context.Context, string) (remote.Customer, error)
	creditFn func(context.Context, string, remote.LoyaltyCredit) error
}

func (s *stubCustomerGateway) GetCustomer(ctx context.Context, id string) (remote.Customer, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id)
	}
	return remote.Customer{ID: id, Name: "Ada Lovelace"}, nil
}

func (s *stubCustomerGateway) CreditLoyaltyPoints(ctx context.Context, customerID string, credit remote.LoyaltyCredit) error {
	if s.creditFn != nil {
		return s.creditFn(ctx, customerID, credit)
	}
	return nil
}

type stubProductGateway struct {
	getFn    func(context.Context, string) (remote.Product, error)
	updateFn func(context.Context, remote.Product) error
}

func (s *stubProductGateway) GetProduct(ctx context.Context, id string) (remote.Product, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id)
	}
	return remote.Product{}, errors.New("not implemented")
}

func (s *stubProductGateway) UpdateProductStock(ctx context.Context, product remote.Product) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, product)
	}
	return nil
}

type capturingPublisher struct {
	events []OrderEvent
	err    error
}

func (p *capturingPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	p.events = append(p.events, event)
	return p.err
}

func (p *capturingPublisher) eventsOfType(eventType string) []OrderEvent {
	var out []OrderEvent
	for _, event := range p.events {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

type stubRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *stubRepoError) Error() string       { return "repo error" }
func (e *stubRepoError) IsNotFound() bool    { return e.notFound }
func (e *stubRepoError) IsConflict() bool    { return e.conflict }
func (e *stubRepoError) IsUnavailable() bool { return e.unavailable }

var testClock = func() time.Time {
	return time.Date(2026, time.August, 31, 12, 0, 0, 0, time.UTC)
}

func sequentialIDs() func() string {
	var n int
	return func() string {
		n++
		return fmt.Sprintf("%07d", n)
	}
}

func newTestOrderService(t *testing.T, deps OrderServiceDeps) OrderService {
	t.Helper()
	if deps.Orders == nil {
		deps.Orders = &stubOrderRepo{}
	}
	if deps.Invoices == nil {
		deps.Invoices = &stubInvoiceRepo{}
	}
	if deps.Customers == nil {
		deps.Customers = &stubCustomerGateway{}
	}
	if deps.Products == nil {
		deps.Products = &stubProductGateway{}
	}
	if deps.Clock == nil {
		deps.Clock = testClock
	}
	if deps.IDGenerator == nil {
		deps.IDGenerator = sequentialIDs()
	}
	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}
	return svc
}

func float64Ptr(v float64) *float64 { return &v }

func TestCreateOrderComputesTotalsAndInvoice(t *testing.T) {
	var insertedOrder domain.Order
	var insertedInvoice domain.Invoice
	var pushedProducts []remote.Product

	orders := &stubOrderRepo{
		insertFn: func(_ context.Context, order domain.Order, invoice domain.Invoice) error {
			insertedOrder = order
			insertedInvoice = invoice
			return nil
		},
	}
	products := &stubProductGateway{
		getFn: func(_ context.Context, id string) (remote.Product, error) {
			return remote.Product{ID: id, Name: "Widget", Price: 10.0, StockQuantity: 10}, nil
		},
		updateFn: func(_ context.Context, product remote.Product) error {
			pushedProducts = append(pushedProducts, product)
			return nil
		},
	}
	publisher := &capturingPublisher{}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:   orders,
		Products: products,
		Events:   publisher,
	})

	details, err := svc.CreateOrder(context.Background(), CreateOrderCommand{
		CustomerID: "cust-1",
		Items:      []OrderItemInput{{ProductID: "prod-1", Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}

	order := details.Order
	if order.Status != domain.OrderStatusPending {
		t.Errorf("expected PENDING status, got %s", order.Status)
	}
	if order.TotalAmount != 20.0 {
		t.Errorf("expected total 20.0, got %v", order.TotalAmount)
	}
	if len(order.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(order.Items))
	}
	item := order.Items[0]
	if item.ProductName != "Widget" || item.Price != 10.0 || item.Subtotal != 20.0 {
		t.Errorf("unexpected item snapshot: %+v", item)
	}
	if !strings.HasPrefix(order.ID, "ord_") {
		t.Errorf("unexpected order id: %s", order.ID)
	}
	if details.CustomerName != "Ada Lovelace" {
		t.Errorf("unexpected customer name: %s", details.CustomerName)
	}
	if len(details.Warnings) != 0 {
		t.Errorf("expected no warnings, got %v", details.Warnings)
	}

	if insertedOrder.ID != order.ID {
		t.Error("order was not persisted")
	}
	if order.InvoiceID == nil || *order.InvoiceID != insertedInvoice.ID {
		t.Error("order does not reference the generated invoice")
	}

	wantNumber := "INV-20260831-" + order.ID
	if insertedInvoice.InvoiceNumber != wantNumber {
		t.Errorf("expected invoice number %s, got %s", wantNumber, insertedInvoice.InvoiceNumber)
	}
	if insertedInvoice.TaxAmount != 3.0 {
		t.Errorf("expected tax 3.0, got %v", insertedInvoice.TaxAmount)
	}
	if insertedInvoice.TotalAmount != 23.0 {
		t.Errorf("expected invoice total 23.0, got %v", insertedInvoice.TotalAmount)
	}
	if insertedInvoice.PaymentStatus != domain.PaymentStatusUnpaid {
		t.Errorf("expected UNPAID, got %s", insertedInvoice.PaymentStatus)
	}
	wantDue := testClock().AddDate(0, 0, 30)
	if !insertedInvoice.DueDate.Equal(wantDue) {
		t.Errorf("expected due date %s, got %s", wantDue, insertedInvoice.DueDate)
	}

	if len(pushedProducts) != 1 {
		t.Fatalf("expected 1 stock push, got %d", len(pushedProducts))
	}
	if pushedProducts[0].StockQuantity != 8 {
		t.Errorf("expected stock pushed to 8, got %d", pushedProducts[0].StockQuantity)
	}

	if len(publisher.eventsOfType(orderEventCreated)) != 1 {
		t.Error("expected one order.created event")
	}
}

func TestCreateOrderExplicitDiscountWinsOverPercentage(t *testing.T) {
	products := &stubProductGateway{
		getFn: func(_ context.Context, id string) (remote.Product, error) {
			return remote.Product{ID: id, Name: "Widget", Price: 10.0, StockQuantity: 10}, nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{Products: products})

	details, err := svc.CreateOrder(context.Background(), CreateOrderCommand{
		CustomerID:         "cust-1",
		Items:              []OrderItemInput{{ProductID: "prod-1", Quantity: 2}},
		DiscountPercentage: float64Ptr(50),
		DiscountAmount:     float64Ptr(5),
	})
	if err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}
	if details.Order.TotalAmount != 15.0 {
		t.Errorf("expected total 15.0 with explicit discount, got %v", details.Order.TotalAmount)
	}
	if details.Order.DiscountPercentage == nil || *details.Order.DiscountPercentage != 50 {
		t.Error("supplied percentage must persist alongside the explicit amount")
	}
	if details.Order.DiscountAmount == nil || *details.Order.DiscountAmount != 5 {
		t.Errorf("expected persisted discount amount 5, got %v", details.Order.DiscountAmount)
	}
}

func TestCreateOrderAmountWithoutPercentageIsIgnored(t *testing.T) {
	products := &stubProductGateway{
		getFn: func(_ context.Context, id string) (remote.Product, error) {
			return remote.Product{ID: id, Name: "Widget", Price: 10.0, StockQuantity: 10}, nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{Products: products})

	details, err := svc.CreateOrder(context.Background(), CreateOrderCommand{
		CustomerID:     "cust-1",
		Items:          []OrderItemInput{{ProductID: "prod-1", Quantity: 2}},
		DiscountAmount: float64Ptr(5),
	})
	if err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}
	if details.Order.TotalAmount != 20.0 {
		t.Errorf("expected undiscounted total 20.0, got %v", details.Order.TotalAmount)
	}
	if details.Order.DiscountPercentage != nil || details.Order.DiscountAmount != nil {
		t.Error("no discount fields expected without a percentage")
	}
}

func TestCreateOrderPercentageDiscount(t *testing.T) {
	products := &stubProductGateway{
		getFn: func(_ context.Context, id string) (remote.Product, error) {
			return remote.Product{ID: id, Name: "Widget", Price: 10.0, StockQuantity: 10}, nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{Products: products})

	details, err := svc.CreateOrder(context.Background(), CreateOrderCommand{
		CustomerID:         "cust-1",
		Items:              []OrderItemInput{{ProductID: "prod-1", Quantity: 2}},
		DiscountPercentage: float64Ptr(10),
	})
	if err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}
	if details.Order.TotalAmount != 18.0 {
		t.Errorf("expected total 18.0 with 10%% discount, got %v", details.Order.TotalAmount)
	}
}

func TestCreateOrderInsufficientStockAbortsEverything(t *testing.T) {
	inserted := false
	stockPushed := false

	orders := &stubOrderRepo{
		insertFn: func(context.Context, domain.Order, domain.Invoice) error {
			inserted = true
			return nil
		},
	}
	products := &stubProductGateway{
		getFn: func(_ context.Context, id string) (remote.Product, error) {
			return remote.Product{ID: id, Name: "Widget", Price: 10.0, StockQuantity: 1}, nil
		},
		updateFn: func(context.Context, remote.Product) error {
			stockPushed = true
			return nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders, Products: products})

	_, err := svc.CreateOrder(context.Background(), CreateOrderCommand{
		CustomerID: "cust-1",
		Items:      []OrderItemInput{{ProductID: "prod-1", Quantity: 2}},
	})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if inserted {
		t.Error("order must not be persisted on insufficient stock")
	}
	if stockPushed {
		t.Error("stock must not be pushed on insufficient stock")
	}
}

func TestCreateOrderPersistFailureLeavesNoPartialState(t *testing.T) {
	var persistedInvoice domain.Invoice
	orders := &stubOrderRepo{
		insertFn: func(_ context.Context, order domain.Order, invoice domain.Invoice) error {
			persistedInvoice = invoice
			return &stubRepoError{unavailable: true}
		},
	}
	stockPushed := false
	products := &stubProductGateway{
		getFn: func(_ context.Context, id string) (remote.Product, error) {
			return remote.Product{ID: id, Name: "Widget", Price: 10.0, StockQuantity: 10}, nil
		},
		updateFn: func(context.Context, remote.Product) error {
			stockPushed = true
			return nil
		},
	}
	publisher := &capturingPublisher{}

	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders, Products: products, Events: publisher})

	details, err := svc.CreateOrder(context.Background(), CreateOrderCommand{
		CustomerID: "cust-1",
		Items:      []OrderItemInput{{ProductID: "prod-1", Quantity: 2}},
	})
	if err == nil {
		t.Fatal("expected error when the order and invoice cannot be persisted")
	}
	if details.Order.ID != "" {
		t.Error("no order must be returned on persist failure")
	}
	if stockPushed {
		t.Error("stock must not be pushed when persistence fails")
	}
	if len(publisher.events) != 0 {
		t.Errorf("no events expected on persist failure, got %d", len(publisher.events))
	}
	if persistedInvoice.ID == "" || persistedInvoice.OrderID == "" {
		t.Error("the invoice must travel with the order into the single persist call")
	}
}

func TestCreateOrderCustomerNotFound(t *testing.T) {
	customers := &stubCustomerGateway{
		getFn: func(_ context.Context, id string) (remote.Customer, error) {
			return remote.Customer{}, fmt.Errorf("%w: customer %s", remote.ErrNotFound, id)
		},
	}
	products := &stubProductGateway{
		getFn: func(_ context.Context, id string) (remote.Product, error) {
			return remote.Product{ID: id, StockQuantity: 10}, nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{Customers: customers, Products: products})

	_, err := svc.CreateOrder(context.Background(), CreateOrderCommand{
		CustomerID: "missing",
		Items:      []OrderItemInput{{ProductID: "prod-1", Quantity: 1}},
	})
	if !errors.Is(err, ErrCustomerNotFound) {
		t.Fatalf("expected ErrCustomerNotFound, got %v", err)
	}
}

func TestCreateOrderCustomerServiceUnavailable(t *testing.T) {
	customers := &stubCustomerGateway{
		getFn: func(context.Context, string) (remote.Customer, error) {
			return remote.Customer{}, fmt.Errorf("%w: connection refused", remote.ErrUnavailable)
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{Customers: customers})

	_, err := svc.CreateOrder(context.Background(), CreateOrderCommand{
		CustomerID: "cust-1",
		Items:      []OrderItemInput{{ProductID: "prod-1", Quantity: 1}},
	})
	if !errors.Is(err, ErrCustomerNotFound) {
		t.Fatalf("expected ErrCustomerNotFound, got %v", err)
	}
	if !errors.Is(err, remote.ErrUnavailable) {
		t.Fatalf("expected wrapped ErrUnavailable cause, got %v", err)
	}
}

func TestCreateOrderProductNotFound(t *testing.T) {
	products := &stubProductGateway{
		getFn: func(_ context.Context, id string) (remote.Product, error) {
			return remote.Product{}, fmt.Errorf("%w: product %s", remote.ErrNotFound, id)
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{Products: products})

	_, err := svc.CreateOrder(context.Background(), CreateOrderCommand{
		CustomerID: "cust-1",
		Items:      []OrderItemInput{{ProductID: "ghost", Quantity: 1}},
	})
	if !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestCreateOrderStockPushFailureBecomesWarning(t *testing.T) {
	products := &stubProductGateway{
		getFn: func(_ context.Context, id string) (remote.Product, error) {
			return remote.Product{ID: id, Name: "Widget", Price: 10.0, StockQuantity: 10}, nil
		},
		updateFn: func(context.Context, remote.Product) error {
			return fmt.Errorf("%w: timeout", remote.ErrUnavailable)
		},
	}
	publisher := &capturingPublisher{}

	svc := newTestOrderService(t, OrderServiceDeps{Products: products, Events: publisher})

	details, err := svc.CreateOrder(context.Background(), CreateOrderCommand{
		CustomerID: "cust-1",
		Items:      []OrderItemInput{{ProductID: "prod-1", Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("CreateOrder must succeed despite stock push failure, got %v", err)
	}
	if len(details.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got %v", details.Warnings)
	}
	if len(publisher.eventsOfType(orderEventSideEffectFailed)) != 1 {
		t.Error("expected a side-effect failure event")
	}
}

func TestCreateOrderValidation(t *testing.T) {
	svc := newTestOrderService(t, OrderServiceDeps{})

	cases := []struct {
		name string
		cmd  CreateOrderCommand
	}{
		{"missing customer", CreateOrderCommand{Items: []OrderItemInput{{ProductID: "p", Quantity: 1}}}},
		{"no items", CreateOrderCommand{CustomerID: "cust-1"}},
		{"zero quantity", CreateOrderCommand{CustomerID: "cust-1", Items: []OrderItemInput{{ProductID: "p", Quantity: 0}}}},
		{"missing product id", CreateOrderCommand{CustomerID: "cust-1", Items: []OrderItemInput{{Quantity: 1}}}},
		{"bad percentage", CreateOrderCommand{CustomerID: "cust-1", Items: []OrderItemInput{{ProductID: "p", Quantity: 1}}, DiscountPercentage: float64Ptr(150)}},
		{"negative amount", CreateOrderCommand{CustomerID: "cust-1", Items: []OrderItemInput{{ProductID: "p", Quantity: 1}}, DiscountAmount: float64Ptr(-1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.CreateOrder(context.Background(), tc.cmd); !errors.Is(err, ErrOrderInvalidInput) {
				t.Errorf("expected ErrOrderInvalidInput, got %v", err)
			}
		})
	}
}

func TestStateMachineTable(t *testing.T) {
	all := []domain.OrderStatus{
		domain.OrderStatusPending,
		domain.OrderStatusProcessing,
		domain.OrderStatusShipped,
		domain.OrderStatusDelivered,
		domain.OrderStatusCancelled,
	}
	allowed := map[domain.OrderStatus][]domain.OrderStatus{
		domain.OrderStatusPending:    {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
		domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
		domain.OrderStatusShipped:    {domain.OrderStatusDelivered, domain.OrderStatusCancelled},
		domain.OrderStatusDelivered:  {},
		domain.OrderStatusCancelled:  {},
	}

	for _, from := range all {
		for _, to := range all {
			want := from == to
			for _, legal := range allowed[from] {
				if to == legal {
					want = true
				}
			}
			if got := canTransition(from, to); got != want {
				t.Errorf("canTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func guardedRepo(order domain.Order, saved *domain.Order) *stubOrderRepo {
	return &stubOrderRepo{
		updateGuardedFn: func(_ context.Context, orderID string, mutate repositories.OrderMutator) (domain.Order, error) {
			current := order
			current.ID = orderID
			next, err := mutate(current)
			if err != nil {
				return domain.Order{}, err
			}
			if saved != nil {
				*saved = next
			}
			return next, nil
		},
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			found := order
			found.ID = orderID
			return found, nil
		},
	}
}

func TestUpdateOrderStatusInvalidTransition(t *testing.T) {
	orders := guardedRepo(domain.Order{CustomerID: "cust-1", Status: domain.OrderStatusPending}, nil)
	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	_, err := svc.UpdateOrderStatus(context.Background(), OrderStatusCommand{OrderID: "ord-1", NewStatus: "DELIVERED"})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestUpdateOrderStatusCancelledAdmitsNothing(t *testing.T) {
	orders := guardedRepo(domain.Order{CustomerID: "cust-1", Status: domain.OrderStatusCancelled}, nil)
	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	_, err := svc.UpdateOrderStatus(context.Background(), OrderStatusCommand{OrderID: "ord-1", NewStatus: "PROCESSING"})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition from CANCELLED, got %v", err)
	}
}

func TestUpdateOrderStatusDeliveredRunsSideEffects(t *testing.T) {
	invoiceID := "inv_1"
	order := domain.Order{
		CustomerID:  "cust-1",
		Status:      domain.OrderStatusShipped,
		TotalAmount: 23.5,
		InvoiceID:   &invoiceID,
	}
	orders := guardedRepo(order, nil)

	var credited *remote.LoyaltyCredit
	customers := &stubCustomerGateway{
		creditFn: func(_ context.Context, customerID string, credit remote.LoyaltyCredit) error {
			if customerID != "cust-1" {
				t.Errorf("unexpected customer %s", customerID)
			}
			credited = &credit
			return nil
		},
	}

	var settledInvoice *domain.Invoice
	invoices := &stubInvoiceRepo{
		findFn: func(_ context.Context, id string) (domain.Invoice, error) {
			return domain.Invoice{ID: id, OrderID: "ord-1", PaymentStatus: domain.PaymentStatusUnpaid}, nil
		},
		updateFn: func(_ context.Context, invoice domain.Invoice) error {
			settledInvoice = &invoice
			return nil
		},
	}
	publisher := &capturingPublisher{}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:    orders,
		Invoices:  invoices,
		Customers: customers,
		Events:    publisher,
	})

	details, err := svc.UpdateOrderStatus(context.Background(), OrderStatusCommand{OrderID: "ord-1", NewStatus: "DELIVERED"})
	if err != nil {
		t.Fatalf("UpdateOrderStatus returned error: %v", err)
	}
	if details.Order.Status != domain.OrderStatusDelivered {
		t.Errorf("expected DELIVERED, got %s", details.Order.Status)
	}
	if credited == nil {
		t.Fatal("expected loyalty credit")
	}
	if credited.Points != 23 {
		t.Errorf("expected 23 points for total 23.5, got %d", credited.Points)
	}
	if credited.Type != remote.LoyaltyActivityPurchase || credited.ReferenceID != "ord-1" {
		t.Errorf("unexpected loyalty activity: %+v", credited)
	}
	if credited.Amount != 23.5 {
		t.Errorf("expected activity amount 23.5, got %v", credited.Amount)
	}
	if settledInvoice == nil {
		t.Fatal("expected invoice settlement")
	}
	if settledInvoice.PaymentStatus != domain.PaymentStatusPaid {
		t.Errorf("expected invoice PAID, got %s", settledInvoice.PaymentStatus)
	}
	if len(publisher.eventsOfType(orderEventStatusChanged)) != 1 {
		t.Error("expected one status-changed event")
	}
	if len(details.Warnings) != 0 {
		t.Errorf("expected no warnings, got %v", details.Warnings)
	}
}

func TestUpdateOrderStatusIdempotentRedeliverySkipsSideEffects(t *testing.T) {
	order := domain.Order{CustomerID: "cust-1", Status: domain.OrderStatusDelivered, TotalAmount: 23.0}
	orders := guardedRepo(order, nil)

	customers := &stubCustomerGateway{
		creditFn: func(context.Context, string, remote.LoyaltyCredit) error {
			t.Error("loyalty must not fire on idempotent re-delivery")
			return nil
		},
	}
	invoices := &stubInvoiceRepo{
		updateFn: func(context.Context, domain.Invoice) error {
			t.Error("invoice must not be settled again on idempotent re-delivery")
			return nil
		},
	}
	publisher := &capturingPublisher{}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:    orders,
		Invoices:  invoices,
		Customers: customers,
		Events:    publisher,
	})

	details, err := svc.UpdateOrderStatus(context.Background(), OrderStatusCommand{OrderID: "ord-1", NewStatus: "DELIVERED"})
	if err != nil {
		t.Fatalf("idempotent re-delivery must succeed, got %v", err)
	}
	if details.Order.Status != domain.OrderStatusDelivered {
		t.Errorf("unexpected status %s", details.Order.Status)
	}
	if len(publisher.eventsOfType(orderEventStatusChanged)) != 0 {
		t.Error("no status-changed event expected for a no-op transition")
	}
}

func TestUpdateOrderStatusSideEffectFailuresBecomeWarnings(t *testing.T) {
	invoiceID := "inv_1"
	order := domain.Order{
		CustomerID:  "cust-1",
		Status:      domain.OrderStatusShipped,
		TotalAmount: 20.0,
		InvoiceID:   &invoiceID,
	}
	var saved domain.Order
	orders := guardedRepo(order, &saved)

	customers := &stubCustomerGateway{
		creditFn: func(context.Context, string, remote.LoyaltyCredit) error {
			return fmt.Errorf("%w: loyalty down", remote.ErrUnavailable)
		},
	}
	invoices := &stubInvoiceRepo{
		findFn: func(context.Context, string) (domain.Invoice, error) {
			return domain.Invoice{}, &stubRepoError{unavailable: true}
		},
	}
	publisher := &capturingPublisher{}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:    orders,
		Invoices:  invoices,
		Customers: customers,
		Events:    publisher,
	})

	details, err := svc.UpdateOrderStatus(context.Background(), OrderStatusCommand{OrderID: "ord-1", NewStatus: "DELIVERED"})
	if err != nil {
		t.Fatalf("transition must not fail on side-effect errors, got %v", err)
	}
	if saved.Status != domain.OrderStatusDelivered {
		t.Errorf("transition must persist, got %s", saved.Status)
	}
	if len(details.Warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %v", details.Warnings)
	}
	if len(publisher.eventsOfType(orderEventSideEffectFailed)) != 2 {
		t.Error("expected two side-effect failure events")
	}
}

func TestUpdateOrderTerminalNotModifiable(t *testing.T) {
	orders := guardedRepo(domain.Order{CustomerID: "cust-1", Status: domain.OrderStatusDelivered}, nil)
	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	_, err := svc.UpdateOrder(context.Background(), UpdateOrderCommand{OrderID: "ord-1", Status: "PROCESSING"})
	if !errors.Is(err, ErrOrderNotModifiable) {
		t.Fatalf("expected ErrOrderNotModifiable, got %v", err)
	}
}

func TestUpdateOrderAppliesStatus(t *testing.T) {
	var saved domain.Order
	orders := guardedRepo(domain.Order{CustomerID: "cust-1", Status: domain.OrderStatusPending}, &saved)
	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	details, err := svc.UpdateOrder(context.Background(), UpdateOrderCommand{OrderID: "ord-1", Status: "processing"})
	if err != nil {
		t.Fatalf("UpdateOrder returned error: %v", err)
	}
	if details.Order.Status != domain.OrderStatusProcessing {
		t.Errorf("expected PROCESSING, got %s", details.Order.Status)
	}
	if saved.Status != domain.OrderStatusProcessing {
		t.Errorf("expected persisted PROCESSING, got %s", saved.Status)
	}
}

func TestUpdateOrderUnknownStatus(t *testing.T) {
	svc := newTestOrderService(t, OrderServiceDeps{})

	_, err := svc.UpdateOrder(context.Background(), UpdateOrderCommand{OrderID: "ord-1", Status: "TELEPORTED"})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
}

func TestDeleteOrderRestoresStockAndCascades(t *testing.T) {
	invoiceID := "inv_1"
	order := domain.Order{
		ID:         "ord-1",
		CustomerID: "cust-1",
		Status:     domain.OrderStatusPending,
		InvoiceID:  &invoiceID,
		Items: []domain.OrderItem{
			{ProductID: "prod-1", Quantity: 2},
			{ProductID: "prod-2", Quantity: 1},
		},
	}

	var deletedOrderID, deletedInvoiceID string
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return order, nil
		},
		deleteFn: func(_ context.Context, orderID string, invID string) error {
			deletedOrderID = orderID
			deletedInvoiceID = invID
			return nil
		},
	}

	restored := map[string]int{}
	products := &stubProductGateway{
		getFn: func(_ context.Context, id string) (remote.Product, error) {
			return remote.Product{ID: id, StockQuantity: 5}, nil
		},
		updateFn: func(_ context.Context, product remote.Product) error {
			restored[product.ID] = product.StockQuantity
			return nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders, Products: products})

	result, err := svc.DeleteOrder(context.Background(), "ord-1")
	if err != nil {
		t.Fatalf("DeleteOrder returned error: %v", err)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("expected no warnings, got %v", result.Warnings)
	}
	if deletedOrderID != "ord-1" || deletedInvoiceID != "inv_1" {
		t.Errorf("expected cascade delete of order and invoice, got %q %q", deletedOrderID, deletedInvoiceID)
	}
	if restored["prod-1"] != 7 {
		t.Errorf("expected prod-1 stock restored to 7, got %d", restored["prod-1"])
	}
	if restored["prod-2"] != 6 {
		t.Errorf("expected prod-2 stock restored to 6, got %d", restored["prod-2"])
	}
}

func TestDeleteOrderProceedsDespiteFailedRestore(t *testing.T) {
	order := domain.Order{
		ID:         "ord-1",
		CustomerID: "cust-1",
		Status:     domain.OrderStatusPending,
		Items:      []domain.OrderItem{{ProductID: "prod-1", Quantity: 2}},
	}

	deleted := false
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return order, nil
		},
		deleteFn: func(context.Context, string, string) error {
			deleted = true
			return nil
		},
	}
	products := &stubProductGateway{
		getFn: func(context.Context, string) (remote.Product, error) {
			return remote.Product{}, fmt.Errorf("%w: timeout", remote.ErrUnavailable)
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders, Products: products})

	result, err := svc.DeleteOrder(context.Background(), "ord-1")
	if err != nil {
		t.Fatalf("delete must proceed despite failed restore, got %v", err)
	}
	if !deleted {
		t.Error("order was not deleted")
	}
	if len(result.Warnings) != 1 {
		t.Errorf("expected 1 warning, got %v", result.Warnings)
	}
}

func TestDeleteOrderRejectedWhenNotPending(t *testing.T) {
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{ID: "ord-1", Status: domain.OrderStatusProcessing}, nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	_, err := svc.DeleteOrder(context.Background(), "ord-1")
	if !errors.Is(err, ErrOrderNotDeletable) {
		t.Fatalf("expected ErrOrderNotDeletable, got %v", err)
	}
}

func TestGetOrderNotFound(t *testing.T) {
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{}, &stubRepoError{notFound: true}
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	_, err := svc.GetOrder(context.Background(), "ghost")
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestGetOrderEnrichmentDegradesToUnknownCustomer(t *testing.T) {
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, CustomerID: "cust-1", Status: domain.OrderStatusPending}, nil
		},
	}
	customers := &stubCustomerGateway{
		getFn: func(context.Context, string) (remote.Customer, error) {
			return remote.Customer{}, fmt.Errorf("%w: boom", remote.ErrUnavailable)
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders, Customers: customers})

	details, err := svc.GetOrder(context.Background(), "ord-1")
	if err != nil {
		t.Fatalf("read must not fail on enrichment failure, got %v", err)
	}
	if details.CustomerName != unknownCustomerName {
		t.Errorf("expected %q, got %q", unknownCustomerName, details.CustomerName)
	}
}

func TestListOrdersMapsFilterAndEnriches(t *testing.T) {
	from := time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, time.August, 31, 0, 0, 0, 0, time.UTC)
	status := domain.OrderStatusPending

	var gotFilter repositories.OrderListFilter
	orders := &stubOrderRepo{
		listFn: func(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
			gotFilter = filter
			return domain.CursorPage[domain.Order]{
				Items: []domain.Order{
					{ID: "ord-1", CustomerID: "cust-1", Status: domain.OrderStatusPending},
					{ID: "ord-2", CustomerID: "cust-1", Status: domain.OrderStatusPending},
				},
				NextPageToken: "next",
			}, nil
		},
	}

	lookups := 0
	customers := &stubCustomerGateway{
		getFn: func(_ context.Context, id string) (remote.Customer, error) {
			lookups++
			return remote.Customer{ID: id, Name: "Ada Lovelace"}, nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders, Customers: customers})

	page, err := svc.ListOrders(context.Background(), OrderListFilter{
		CustomerID: "cust-1",
		Status:     &status,
		From:       &from,
		To:         &to,
		Pagination: domain.Pagination{PageSize: 10},
	})
	if err != nil {
		t.Fatalf("ListOrders returned error: %v", err)
	}
	if gotFilter.CustomerID != "cust-1" || gotFilter.Status == nil || *gotFilter.Status != status {
		t.Errorf("filter not mapped: %+v", gotFilter)
	}
	if gotFilter.OrderedAt.From == nil || !gotFilter.OrderedAt.From.Equal(from) {
		t.Error("date range from not mapped")
	}
	if len(page.Items) != 2 || page.NextPageToken != "next" {
		t.Errorf("unexpected page: %+v", page)
	}
	if lookups != 1 {
		t.Errorf("expected 1 customer lookup for a single distinct customer, got %d", lookups)
	}
	if page.Items[0].CustomerName != "Ada Lovelace" {
		t.Errorf("unexpected enrichment: %s", page.Items[0].CustomerName)
	}
}

func TestShippedCancelThenProcessingFails(t *testing.T) {
	state := domain.Order{ID: "ord-1", CustomerID: "cust-1", Status: domain.OrderStatusShipped}
	orders := &stubOrderRepo{
		updateGuardedFn: func(_ context.Context, orderID string, mutate repositories.OrderMutator) (domain.Order, error) {
			next, err := mutate(state)
			if err != nil {
				return domain.Order{}, err
			}
			state = next
			return next, nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	if _, err := svc.UpdateOrderStatus(context.Background(), OrderStatusCommand{OrderID: "ord-1", NewStatus: "CANCELLED"}); err != nil {
		t.Fatalf("SHIPPED to CANCELLED must be legal, got %v", err)
	}
	_, err := svc.UpdateOrderStatus(context.Background(), OrderStatusCommand{OrderID: "ord-1", NewStatus: "PROCESSING"})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition after cancellation, got %v", err)
	}
}
