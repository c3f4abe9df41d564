package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/orderdesk/api/internal/domain"
	"github.com/orderdesk/api/internal/platform/httpx"
	"github.com/orderdesk/api/internal/services"
)

const (
	defaultInvoicePageSize = 20
	maxInvoicePageSize     = 100
)

// InvoiceHandlers exposes invoice read and settlement endpoints.
type InvoiceHandlers struct {
	invoices        services.InvoiceService
	defaultPageSize int
	maxPageSize     int
}

// InvoiceHandlersOption customises the handlers.
type InvoiceHandlersOption func(*InvoiceHandlers)

// WithInvoicePageLimits overrides the default and maximum list page sizes.
func WithInvoicePageLimits(defaultSize, maxSize int) InvoiceHandlersOption {
	return func(h *InvoiceHandlers) {
		if defaultSize > 0 {
			h.defaultPageSize = defaultSize
		}
		if maxSize > 0 {
			h.maxPageSize = maxSize
		}
	}
}

// NewInvoiceHandlers constructs a new InvoiceHandlers instance.
func NewInvoiceHandlers(invoices services.InvoiceService, opts ...InvoiceHandlersOption) *InvoiceHandlers {
	h := &InvoiceHandlers{
		invoices:        invoices,
		defaultPageSize: defaultInvoicePageSize,
		maxPageSize:     maxInvoicePageSize,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /invoices endpoints.
func (h *InvoiceHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listInvoices)
	r.Get("/order/{orderID}", h.getInvoiceByOrder)
	r.Get("/number/{invoiceNumber}", h.getInvoiceByNumber)
	r.Get("/date-range", h.listInvoicesByDateRange)
	r.Get("/{invoiceID}", h.getInvoice)
	r.Patch("/{invoiceID}/payment-status", h.updatePaymentStatus)
}

func (h *InvoiceHandlers) listInvoices(w http.ResponseWriter, r *http.Request) {
	h.runList(w, r, func(filter *services.InvoiceListFilter) error {
		raw := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("payment_status")))
		if raw == "" {
			return nil
		}
		if !domain.ValidPaymentStatus(raw) {
			return errors.New("payment_status must be a valid payment status")
		}
		status := domain.PaymentStatus(raw)
		filter.PaymentStatus = &status
		return nil
	})
}

func (h *InvoiceHandlers) listInvoicesByDateRange(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	from, to, err := parseDateRange(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	h.runList(w, r, func(filter *services.InvoiceListFilter) error {
		filter.From = &from
		filter.To = &to
		return nil
	})
}

func (h *InvoiceHandlers) runList(w http.ResponseWriter, r *http.Request, configure func(*services.InvoiceListFilter) error) {
	ctx := r.Context()
	if h.invoices == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invoice_service_unavailable", "invoice service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	pageSize, err := parsePageSize(query.Get("page_size"), h.defaultPageSize, h.maxPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.InvoiceListFilter{
		Pagination: domain.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	}
	if err := configure(&filter); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.invoices.ListInvoices(ctx, filter)
	if err != nil {
		writeInvoiceError(ctx, w, err)
		return
	}

	items := make([]invoicePayload, 0, len(page.Items))
	for _, invoice := range page.Items {
		items = append(items, buildInvoicePayload(invoice))
	}
	writeJSONResponse(w, http.StatusOK, invoiceListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *InvoiceHandlers) getInvoice(w http.ResponseWriter, r *http.Request) {
	h.runGet(w, r, "invoiceID", "invoice id is required", h.lookupByID)
}

func (h *InvoiceHandlers) getInvoiceByOrder(w http.ResponseWriter, r *http.Request) {
	h.runGet(w, r, "orderID", "order id is required", h.lookupByOrder)
}

func (h *InvoiceHandlers) getInvoiceByNumber(w http.ResponseWriter, r *http.Request) {
	h.runGet(w, r, "invoiceNumber", "invoice number is required", h.lookupByNumber)
}

func (h *InvoiceHandlers) lookupByID(ctx context.Context, key string) (domain.Invoice, error) {
	return h.invoices.GetInvoice(ctx, key)
}

func (h *InvoiceHandlers) lookupByOrder(ctx context.Context, key string) (domain.Invoice, error) {
	return h.invoices.GetInvoiceByOrder(ctx, key)
}

func (h *InvoiceHandlers) lookupByNumber(ctx context.Context, key string) (domain.Invoice, error) {
	return h.invoices.GetInvoiceByNumber(ctx, key)
}

func (h *InvoiceHandlers) runGet(w http.ResponseWriter, r *http.Request, param, missingMsg string, lookup func(context.Context, string) (domain.Invoice, error)) {
	ctx := r.Context()
	if h.invoices == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invoice_service_unavailable", "invoice service unavailable", http.StatusServiceUnavailable))
		return
	}

	key := strings.TrimSpace(chi.URLParam(r, param))
	if key == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", missingMsg, http.StatusBadRequest))
		return
	}

	invoice, err := lookup(ctx, key)
	if err != nil {
		writeInvoiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, invoiceResponse{Invoice: buildInvoicePayload(invoice)})
}

func (h *InvoiceHandlers) updatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.invoices == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invoice_service_unavailable", "invoice service unavailable", http.StatusServiceUnavailable))
		return
	}

	invoiceID := strings.TrimSpace(chi.URLParam(r, "invoiceID"))
	if invoiceID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invoice id is required", http.StatusBadRequest))
		return
	}

	status := strings.TrimSpace(r.URL.Query().Get("paymentStatus"))
	if status == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "paymentStatus query parameter is required", http.StatusBadRequest))
		return
	}

	invoice, err := h.invoices.UpdatePaymentStatus(ctx, invoiceID, status)
	if err != nil {
		writeInvoiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, invoiceResponse{Invoice: buildInvoicePayload(invoice)})
}

type invoiceListResponse struct {
	Items         []invoicePayload `json:"items"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

type invoiceResponse struct {
	Invoice invoicePayload `json:"invoice"`
}

type invoicePayload struct {
	ID            string  `json:"id"`
	InvoiceNumber string  `json:"invoice_number"`
	OrderID       string  `json:"order_id"`
	IssueDate     string  `json:"issue_date"`
	DueDate       string  `json:"due_date"`
	TotalAmount   float64 `json:"total_amount"`
	TaxAmount     float64 `json:"tax_amount"`
	PaymentStatus string  `json:"payment_status"`
	UpdatedAt     string  `json:"updated_at,omitempty"`
}

func buildInvoicePayload(invoice domain.Invoice) invoicePayload {
	return invoicePayload{
		ID:            invoice.ID,
		InvoiceNumber: invoice.InvoiceNumber,
		OrderID:       invoice.OrderID,
		IssueDate:     formatTime(invoice.IssueDate),
		DueDate:       formatTime(invoice.DueDate),
		TotalAmount:   invoice.TotalAmount,
		TaxAmount:     invoice.TaxAmount,
		PaymentStatus: string(invoice.PaymentStatus),
		UpdatedAt:     formatTime(invoice.UpdatedAt),
	}
}

func writeInvoiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrInvoiceInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrInvoiceNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("invoice_not_found", "invoice not found", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invoice_error", "failed to process invoice request", http.StatusInternalServerError))
	}
}
