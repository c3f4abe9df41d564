// Package firestore provides Firestore-backed implementations of the
// repository contracts.
package firestore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/orderdesk/api/internal/domain"
	pfirestore "github.com/orderdesk/api/internal/platform/firestore"
	"github.com/orderdesk/api/internal/repositories"
)

const (
	ordersCollection   = "orders"
	invoicesCollection = "invoices"
)

// OrderRepository persists orders with their embedded line items.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil)
	return &OrderRepository{
		base:     base,
		provider: provider,
	}, nil
}

// InsertWithInvoice stores the order and its generated invoice in one
// Firestore transaction, so a failed invoice write rolls the order back.
func (r *OrderRepository) InsertWithInvoice(ctx context.Context, order domain.Order, invoice domain.Invoice) error {
	if r == nil || r.base == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	invoiceID := strings.TrimSpace(invoice.ID)
	if invoiceID == "" {
		return errors.New("order repository: invoice id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}

	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := r.base.TxSet(ctx, tx, orderID, encodeOrderDocument(order)); err != nil {
			return err
		}
		if err := tx.Set(client.Collection(invoicesCollection).Doc(invoiceID), encodeInvoiceDocument(invoice)); err != nil {
			return pfirestore.WrapError("invoices.txset", err)
		}
		return nil
	})
}

// Update replaces the stored order document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	_, err := r.base.Set(ctx, orderID, encodeOrderDocument(order))
	return err
}

// UpdateGuarded re-reads the order inside a transaction, applies mutate and
// persists the result. Concurrent mutations of the same order serialise on
// the document, so exactly one caller observes any given prior state.
func (r *OrderRepository) UpdateGuarded(ctx context.Context, orderID string, mutate repositories.OrderMutator) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	if mutate == nil {
		return domain.Order{}, errors.New("order repository: mutator is required")
	}

	var updated domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := r.base.TxGet(ctx, tx, orderID)
		if err != nil {
			return err
		}
		current := decodeOrderDocument(orderID, doc.Data)

		next, err := mutate(current)
		if err != nil {
			return err
		}
		next.ID = orderID

		if err := r.base.TxSet(ctx, tx, orderID, encodeOrderDocument(next)); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return updated, nil
}

// FindByID fetches a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrderDocument(orderID, doc.Data), nil
}

// Delete removes the order and, when invoiceID is non-empty, the linked
// invoice document in the same transaction.
func (r *OrderRepository) Delete(ctx context.Context, orderID string, invoiceID string) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	invoiceID = strings.TrimSpace(invoiceID)

	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}

	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := r.base.TxDelete(ctx, tx, orderID); err != nil {
			return err
		}
		if invoiceID != "" {
			if err := tx.Delete(client.Collection(invoicesCollection).Doc(invoiceID)); err != nil {
				return pfirestore.WrapError("invoices.txdelete", err)
			}
		}
		return nil
	})
}

// List returns orders matching the filter, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
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
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	customerID := strings.TrimSpace(filter.CustomerID)

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if customerID != "" {
			q = q.Where("customerId", "==", customerID)
		}
		if filter.Status != nil {
			q = q.Where("status", "==", string(*filter.Status))
		}
		if filter.OrderedAt.From != nil {
			q = q.Where("orderDate", ">=", filter.OrderedAt.From.UTC())
		}
		if filter.OrderedAt.To != nil {
			q = q.Where("orderDate", "<=", filter.OrderedAt.To.UTC())
		}

		q = q.OrderBy("orderDate", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		nextToken = encodeListToken(last.Data.OrderDate, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.Order, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeOrderDocument(doc.ID, doc.Data))
	}

	return domain.CursorPage[domain.Order]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

type orderDocument struct {
	CustomerID         string              `firestore:"customerId"`
	OrderDate          time.Time           `firestore:"orderDate"`
	Status             string              `firestore:"status"`
	TotalAmount        float64             `firestore:"totalAmount"`
	DiscountPercentage *float64            `firestore:"discountPercentage,omitempty"`
	DiscountAmount     *float64            `firestore:"discountAmount,omitempty"`
	Items              []orderItemDocument `firestore:"items"`
	InvoiceID          string              `firestore:"invoiceId,omitempty"`
	UpdatedAt          time.Time           `firestore:"updatedAt"`
}

type orderItemDocument struct {
	ID          string  `firestore:"id"`
	ProductID   string  `firestore:"productId"`
	ProductName string  `firestore:"productName"`
	Quantity    int     `firestore:"quantity"`
	Price       float64 `firestore:"price"`
	Subtotal    float64 `firestore:"subtotal"`
}

func encodeOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		CustomerID:         strings.TrimSpace(order.CustomerID),
		OrderDate:          order.OrderDate.UTC(),
		Status:             string(order.Status),
		TotalAmount:        order.TotalAmount,
		DiscountPercentage: order.DiscountPercentage,
		DiscountAmount:     order.DiscountAmount,
		UpdatedAt:          order.UpdatedAt.UTC(),
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now().UTC()
	}
	if order.InvoiceID != nil {
		doc.InvoiceID = strings.TrimSpace(*order.InvoiceID)
	}
	doc.Items = make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			Price:       item.Price,
			Subtotal:    item.Subtotal,
		})
	}
	return doc
}

func decodeOrderDocument(orderID string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:                 orderID,
		CustomerID:         doc.CustomerID,
		OrderDate:          doc.OrderDate,
		Status:             domain.OrderStatus(doc.Status),
		TotalAmount:        doc.TotalAmount,
		DiscountPercentage: doc.DiscountPercentage,
		DiscountAmount:     doc.DiscountAmount,
		UpdatedAt:          doc.UpdatedAt,
	}
	if doc.InvoiceID != "" {
		invoiceID := doc.InvoiceID
		order.InvoiceID = &invoiceID
	}
	order.Items = make([]domain.OrderItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			Price:       item.Price,
			Subtotal:    item.Subtotal,
		})
	}
	return order
}

func encodeListToken(ts time.Time, docID string) string {
	payload := fmt.Sprintf("%s|%s", ts.UTC().Format(time.RFC3339Nano), docID)
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

func decodeListToken(token string) (time.Time, string, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, "", err
	}
	parts := strings.SplitN(string(data), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", errors.New("invalid token structure")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", err
	}
	return ts, parts[1], nil
}

func notFoundError(op, format string, args ...any) error {
	return pfirestore.WrapError(op, status.Errorf(codes.NotFound, format, args...))
}
