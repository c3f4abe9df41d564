package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/orderdesk/api/internal/domain"
	"github.com/orderdesk/api/internal/platform/httpx"
	"github.com/orderdesk/api/internal/remote"
	"github.com/orderdesk/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 64 * 1024
)

type createOrderRequest struct {
	CustomerID         string                   `json:"customer_id"`
	Items              []createOrderItemRequest `json:"items"`
	DiscountPercentage *float64                 `json:"discount_percentage"`
	DiscountAmount     *float64                 `json:"discount_amount"`
}

type createOrderItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type updateOrderRequest struct {
	Status string `json:"status"`
}

// OrderHandlers exposes the order lifecycle endpoints.
type OrderHandlers struct {
	orders          services.OrderService
	defaultPageSize int
	maxPageSize     int
}

// OrderHandlersOption customises the handlers.
type OrderHandlersOption func(*OrderHandlers)

// WithOrderPageLimits overrides the default and maximum list page sizes.
func WithOrderPageLimits(defaultSize, maxSize int) OrderHandlersOption {
	return func(h *OrderHandlers) {
		if defaultSize > 0 {
			h.defaultPageSize = defaultSize
		}
		if maxSize > 0 {
			h.maxPageSize = maxSize
		}
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{
		orders:          orders,
		defaultPageSize: defaultOrderPageSize,
		maxPageSize:     maxOrderPageSize,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/customer/{customerID}", h.listOrdersByCustomer)
	r.Get("/status/{status}", h.listOrdersByStatus)
	r.Get("/date-range", h.listOrdersByDateRange)
	r.Get("/{orderID}", h.getOrder)
	r.Put("/{orderID}", h.updateOrder)
	r.Patch("/{orderID}/status", h.updateOrderStatus)
	r.Delete("/{orderID}", h.deleteOrder)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		}
		return
	}

	var req createOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	cmd := services.CreateOrderCommand{
		CustomerID:         strings.TrimSpace(req.CustomerID),
		DiscountPercentage: req.DiscountPercentage,
		DiscountAmount:     req.DiscountAmount,
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.OrderItemInput{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
		})
	}

	details, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildOrderResponse(details))
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	h.runList(w, r, func(*services.OrderListFilter) error { return nil })
}

func (h *OrderHandlers) listOrdersByCustomer(w http.ResponseWriter, r *http.Request) {
	customerID := strings.TrimSpace(chi.URLParam(r, "customerID"))
	if customerID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "customer id is required", http.StatusBadRequest))
		return
	}
	h.runList(w, r, func(filter *services.OrderListFilter) error {
		filter.CustomerID = customerID
		return nil
	})
}

func (h *OrderHandlers) listOrdersByStatus(w http.ResponseWriter, r *http.Request) {
	raw := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "status")))
	if !domain.ValidOrderStatus(raw) {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest))
		return
	}
	status := domain.OrderStatus(raw)
	h.runList(w, r, func(filter *services.OrderListFilter) error {
		filter.Status = &status
		return nil
	})
}

func (h *OrderHandlers) listOrdersByDateRange(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	from, to, err := parseDateRange(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	h.runList(w, r, func(filter *services.OrderListFilter) error {
		filter.From = &from
		filter.To = &to
		return nil
	})
}

func (h *OrderHandlers) runList(w http.ResponseWriter, r *http.Request, configure func(*services.OrderListFilter) error) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	pageSize, err := parsePageSize(query.Get("page_size"), h.defaultPageSize, h.maxPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.OrderListFilter{
		Pagination: domain.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	}
	if err := configure(&filter); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(page.Items))
	for _, details := range page.Items {
		items = append(items, buildOrderPayload(details))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	details, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderResponse(details))
}

func (h *OrderHandlers) updateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		}
		return
	}

	var req updateOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	details, err := h.orders.UpdateOrder(ctx, services.UpdateOrderCommand{
		OrderID: orderID,
		Status:  strings.TrimSpace(req.Status),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderResponse(details))
}

func (h *OrderHandlers) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	status := strings.TrimSpace(r.URL.Query().Get("status"))
	if status == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status query parameter is required", http.StatusBadRequest))
		return
	}

	details, err := h.orders.UpdateOrderStatus(ctx, services.OrderStatusCommand{
		OrderID:   orderID,
		NewStatus: status,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderResponse(details))
}

func (h *OrderHandlers) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	result, err := h.orders.DeleteOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, deleteOrderResponse{
		OrderID:  orderID,
		Warnings: result.Warnings,
	})
}

func parseDateRange(r *http.Request) (time.Time, time.Time, error) {
	query := r.URL.Query()
	from, err := parseTimeParam(strings.TrimSpace(query.Get("start")))
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("start must be a valid RFC3339 timestamp")
	}
	to, err := parseTimeParam(strings.TrimSpace(query.Get("end")))
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("end must be a valid RFC3339 timestamp")
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, errors.New("end must not precede start")
	}
	return from, to, nil
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type orderResponse struct {
	Order    orderPayload `json:"order"`
	Warnings []string     `json:"warnings,omitempty"`
}

type deleteOrderResponse struct {
	OrderID  string   `json:"order_id"`
	Warnings []string `json:"warnings,omitempty"`
}

type orderPayload struct {
	ID                 string             `json:"id"`
	CustomerID         string             `json:"customer_id"`
	CustomerName       string             `json:"customer_name,omitempty"`
	OrderDate          string             `json:"order_date"`
	Status             string             `json:"status"`
	TotalAmount        float64            `json:"total_amount"`
	DiscountPercentage *float64           `json:"discount_percentage,omitempty"`
	DiscountAmount     *float64           `json:"discount_amount,omitempty"`
	Items              []orderItemPayload `json:"items"`
	InvoiceID          string             `json:"invoice_id,omitempty"`
	UpdatedAt          string             `json:"updated_at,omitempty"`
}

type orderItemPayload struct {
	ID          string  `json:"id"`
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name"`
	Quantity    int     `json:"quantity"`
	Price       float64 `json:"price"`
	Subtotal    float64 `json:"subtotal"`
}

func buildOrderResponse(details services.OrderDetails) orderResponse {
	return orderResponse{
		Order:    buildOrderPayload(details),
		Warnings: details.Warnings,
	}
}

func buildOrderPayload(details services.OrderDetails) orderPayload {
	order := details.Order
	payload := orderPayload{
		ID:                 order.ID,
		CustomerID:         order.CustomerID,
		CustomerName:       details.CustomerName,
		OrderDate:          formatTime(order.OrderDate),
		Status:             string(order.Status),
		TotalAmount:        order.TotalAmount,
		DiscountPercentage: order.DiscountPercentage,
		DiscountAmount:     order.DiscountAmount,
		Items:              make([]orderItemPayload, 0, len(order.Items)),
		UpdatedAt:          formatTime(order.UpdatedAt),
	}
	if order.InvoiceID != nil {
		payload.InvoiceID = *order.InvoiceID
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			Price:       item.Price,
			Subtotal:    item.Subtotal,
		})
	}
	return payload
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCustomerNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("customer_not_found", "customer not found", http.StatusNotFound))
	case errors.Is(err, services.ErrProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderNotModifiable):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_modifiable", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderNotDeletable):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_deletable", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, remote.ErrUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("upstream_unavailable", "a dependent service is unavailable", http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
