package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/orderdesk/api/internal/domain"
	"github.com/orderdesk/api/internal/repositories"
)

const invoiceIDPrefix = "inv_"

var (
	// ErrInvoiceInvalidInput signals the caller provided invalid data.
	ErrInvoiceInvalidInput = errors.New("invoice: invalid input")
	// ErrInvoiceNotFound indicates the invoice could not be located.
	ErrInvoiceNotFound = errors.New("invoice: not found")
)

// BuildInvoice derives the invoice for a newly created order. Pure: the
// caller supplies the clock value and ID source. The invoice number embeds
// the order's creation date; tax applies once to the discounted order total.
func BuildInvoice(order domain.Order, now time.Time, newID func() string, taxRate float64, dueInDays int) domain.Invoice {
	tax := order.TotalAmount * taxRate
	return domain.Invoice{
		ID:            invoiceIDPrefix + newID(),
		InvoiceNumber: fmt.Sprintf("INV-%s-%s", order.OrderDate.UTC().Format("20060102"), order.ID),
		OrderID:       order.ID,
		IssueDate:     now,
		DueDate:       now.AddDate(0, 0, dueInDays),
		TotalAmount:   order.TotalAmount + tax,
		TaxAmount:     tax,
		PaymentStatus: domain.PaymentStatusUnpaid,
		UpdatedAt:     now,
	}
}

// InvoiceServiceDeps bundles collaborators required to construct the invoice service.
type InvoiceServiceDeps struct {
	Invoices    repositories.InvoiceRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type invoiceService struct {
	invoices repositories.InvoiceRepository
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewInvoiceService wires dependencies into a concrete InvoiceService implementation.
func NewInvoiceService(deps InvoiceServiceDeps) (InvoiceService, error) {
	if deps.Invoices == nil {
		return nil, errors.New("invoice service: invoice repository is required")
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

	return &invoiceService{
		invoices: deps.Invoices,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *invoiceService) GetInvoice(ctx context.Context, invoiceID string) (domain.Invoice, error) {
	invoiceID = strings.TrimSpace(invoiceID)
	if invoiceID == "" {
		return domain.Invoice{}, fmt.Errorf("%w: invoice id is required", ErrInvoiceInvalidInput)
	}
	invoice, err := s.invoices.FindByID(ctx, invoiceID)
	if err != nil {
		return domain.Invoice{}, s.mapRepositoryError(err)
	}
	return invoice, nil
}

func (s *invoiceService) GetInvoiceByOrder(ctx context.Context, orderID string) (domain.Invoice, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Invoice{}, fmt.Errorf("%w: order id is required", ErrInvoiceInvalidInput)
	}
	invoice, err := s.invoices.FindByOrderID(ctx, orderID)
	if err != nil {
		return domain.Invoice{}, s.mapRepositoryError(err)
	}
	return invoice, nil
}

func (s *invoiceService) GetInvoiceByNumber(ctx context.Context, invoiceNumber string) (domain.Invoice, error) {
	invoiceNumber = strings.TrimSpace(invoiceNumber)
	if invoiceNumber == "" {
		return domain.Invoice{}, fmt.Errorf("%w: invoice number is required", ErrInvoiceInvalidInput)
	}
	invoice, err := s.invoices.FindByNumber(ctx, invoiceNumber)
	if err != nil {
		return domain.Invoice{}, s.mapRepositoryError(err)
	}
	return invoice, nil
}

func (s *invoiceService) ListInvoices(ctx context.Context, filter InvoiceListFilter) (domain.CursorPage[domain.Invoice], error) {
	repoFilter := repositories.InvoiceListFilter{
		PaymentStatus: filter.PaymentStatus,
		Pagination:    filter.Pagination,
	}
	repoFilter.IssuedAt.From = filter.From
	repoFilter.IssuedAt.To = filter.To

	page, err := s.invoices.List(ctx, repoFilter)
	if err != nil {
		return domain.CursorPage[domain.Invoice]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *invoiceService) UpdatePaymentStatus(ctx context.Context, invoiceID string, status string) (domain.Invoice, error) {
	invoiceID = strings.TrimSpace(invoiceID)
	if invoiceID == "" {
		return domain.Invoice{}, fmt.Errorf("%w: invoice id is required", ErrInvoiceInvalidInput)
	}
	normalized := strings.ToUpper(strings.TrimSpace(status))
	if !domain.ValidPaymentStatus(normalized) {
		return domain.Invoice{}, fmt.Errorf("%w: unknown payment status %q", ErrInvoiceInvalidInput, status)
	}

	invoice, err := s.invoices.FindByID(ctx, invoiceID)
	if err != nil {
		return domain.Invoice{}, s.mapRepositoryError(err)
	}

	invoice.PaymentStatus = domain.PaymentStatus(normalized)
	invoice.UpdatedAt = s.clock()
	if err := s.invoices.Update(ctx, invoice); err != nil {
		return domain.Invoice{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "invoice.payment_status.updated", map[string]any{
		"invoice": invoice.ID,
		"status":  normalized,
	})
	return invoice, nil
}

func (s *invoiceService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrInvoiceNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("invoice: repository unavailable: %w", err)
		}
	}

	return err
}
