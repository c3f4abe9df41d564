package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/orderdesk/api/internal/domain"
	pfirestore "github.com/orderdesk/api/internal/platform/firestore"
	"github.com/orderdesk/api/internal/repositories"
)

// InvoiceRepository persists invoices generated for orders.
type InvoiceRepository struct {
	base     *pfirestore.BaseRepository[invoiceDocument]
	provider *pfirestore.Provider
}

// NewInvoiceRepository constructs a Firestore-backed invoice repository.
func NewInvoiceRepository(provider *pfirestore.Provider) (*InvoiceRepository, error) {
	if provider == nil {
		return nil, errors.New("invoice repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[invoiceDocument](provider, invoicesCollection, nil)
	return &InvoiceRepository{
		base:     base,
		provider: provider,
	}, nil
}

// Update replaces the stored invoice document. New invoices are written by
// OrderRepository.InsertWithInvoice together with their order.
func (r *InvoiceRepository) Update(ctx context.Context, invoice domain.Invoice) error {
	if r == nil || r.base == nil {
		return errors.New("invoice repository not initialised")
	}
	invoiceID := strings.TrimSpace(invoice.ID)
	if invoiceID == "" {
		return errors.New("invoice repository: invoice id is required")
	}
	_, err := r.base.Set(ctx, invoiceID, encodeInvoiceDocument(invoice))
	return err
}

// FindByID fetches a single invoice.
func (r *InvoiceRepository) FindByID(ctx context.Context, invoiceID string) (domain.Invoice, error) {
	if r == nil || r.base == nil {
		return domain.Invoice{}, errors.New("invoice repository not initialised")
	}
	invoiceID = strings.TrimSpace(invoiceID)
	if invoiceID == "" {
		return domain.Invoice{}, errors.New("invoice repository: invoice id is required")
	}
	doc, err := r.base.Get(ctx, invoiceID)
	if err != nil {
		return domain.Invoice{}, err
	}
	return decodeInvoiceDocument(invoiceID, doc.Data), nil
}

// FindByOrderID fetches the invoice linked to an order.
func (r *InvoiceRepository) FindByOrderID(ctx context.Context, orderID string) (domain.Invoice, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Invoice{}, errors.New("invoice repository: order id is required")
	}
	return r.findOne(ctx, "orderId", orderID)
}

// FindByNumber fetches an invoice by its business invoice number.
func (r *InvoiceRepository) FindByNumber(ctx context.Context, invoiceNumber string) (domain.Invoice, error) {
	invoiceNumber = strings.TrimSpace(invoiceNumber)
	if invoiceNumber == "" {
		return domain.Invoice{}, errors.New("invoice repository: invoice number is required")
	}
	return r.findOne(ctx, "invoiceNumber", invoiceNumber)
}

func (r *InvoiceRepository) findOne(ctx context.Context, field, value string) (domain.Invoice, error) {
	if r == nil || r.base == nil {
		return domain.Invoice{}, errors.New("invoice repository not initialised")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where(field, "==", value).Limit(1)
	})
	if err != nil {
		return domain.Invoice{}, err
	}
	if len(docs) == 0 {
		return domain.Invoice{}, notFoundError("invoices.query", "invoice with %s %q not found", field, value)
	}
	return decodeInvoiceDocument(docs[0].ID, docs[0].Data), nil
}

// List returns invoices matching the filter, newest first.
func (r *InvoiceRepository) List(ctx context.Context, filter repositories.InvoiceListFilter) (domain.CursorPage[domain.Invoice], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Invoice]{}, errors.New("invoice repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Invoice]{}, fmt.Errorf("invoice repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.PaymentStatus != nil {
			q = q.Where("paymentStatus", "==", string(*filter.PaymentStatus))
		}
		if filter.IssuedAt.From != nil {
			q = q.Where("issueDate", ">=", filter.IssuedAt.From.UTC())
		}
		if filter.IssuedAt.To != nil {
			q = q.Where("issueDate", "<=", filter.IssuedAt.To.UTC())
		}

		q = q.OrderBy("issueDate", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Invoice]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		nextToken = encodeListToken(last.Data.IssueDate, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.Invoice, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeInvoiceDocument(doc.ID, doc.Data))
	}

	return domain.CursorPage[domain.Invoice]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

type invoiceDocument struct {
	InvoiceNumber string    `firestore:"invoiceNumber"`
	OrderID       string    `firestore:"orderId"`
	IssueDate     time.Time `firestore:"issueDate"`
	DueDate       time.Time `firestore:"dueDate"`
	TotalAmount   float64   `firestore:"totalAmount"`
	TaxAmount     float64   `firestore:"taxAmount"`
	PaymentStatus string    `firestore:"paymentStatus"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

func encodeInvoiceDocument(invoice domain.Invoice) invoiceDocument {
	doc := invoiceDocument{
		InvoiceNumber: strings.TrimSpace(invoice.InvoiceNumber),
		OrderID:       strings.TrimSpace(invoice.OrderID),
		IssueDate:     invoice.IssueDate.UTC(),
		DueDate:       invoice.DueDate.UTC(),
		TotalAmount:   invoice.TotalAmount,
		TaxAmount:     invoice.TaxAmount,
		PaymentStatus: string(invoice.PaymentStatus),
		UpdatedAt:     invoice.UpdatedAt.UTC(),
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now().UTC()
	}
	return doc
}

func decodeInvoiceDocument(invoiceID string, doc invoiceDocument) domain.Invoice {
	return domain.Invoice{
		ID:            invoiceID,
		InvoiceNumber: doc.InvoiceNumber,
		OrderID:       doc.OrderID,
		IssueDate:     doc.IssueDate,
		DueDate:       doc.DueDate,
		TotalAmount:   doc.TotalAmount,
		TaxAmount:     doc.TaxAmount,
		PaymentStatus: domain.PaymentStatus(doc.PaymentStatus),
		UpdatedAt:     doc.UpdatedAt,
	}
}
