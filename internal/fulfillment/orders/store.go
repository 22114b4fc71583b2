// internal/fulfillment/orders/store.go
package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	apperrors "order-fulfillment/internal/common/errors"
	"order-fulfillment/internal/common/logger"
	"order-fulfillment/internal/common/metrics"
	"order-fulfillment/internal/models"

	"github.com/lib/pq"
)

const (
	orderColumns = `id, created_at, customer_name, customer_phone, branch_id, order_type,
		payment_method, total_amount, items, delivery_location, order_status, payment_status`

	insertOrderQuery = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	getOrderQuery = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	activeOrdersQuery = `SELECT ` + orderColumns + ` FROM orders
		WHERE branch_id = $1 AND order_status <> 'completed'
		ORDER BY created_at ASC, id ASC`

	recentOrdersQuery = `SELECT ` + orderColumns + ` FROM orders
		WHERE branch_id = $1
		  AND ($2 = '' OR customer_name ILIKE '%' || $2 || '%' OR id ILIKE '%' || $2 || '%')
		ORDER BY created_at DESC
		LIMIT $3`

	// Compare-and-set: only the immediate predecessor may move to the target.
	advanceQuery = `UPDATE orders SET order_status = $2
		WHERE id = $1 AND order_status = $3
		RETURNING ` + orderColumns

	// Payment status leaves pending at most once.
	paymentStatusQuery = `UPDATE orders SET payment_status = $2
		WHERE id = $1 AND payment_status = 'pending'
		RETURNING ` + orderColumns

	insertPaymentRequestQuery = `INSERT INTO payment_requests (checkout_request_id, merchant_request_id, order_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (checkout_request_id) DO NOTHING`

	paymentRequestOrderQuery = `SELECT order_id FROM payment_requests WHERE checkout_request_id = $1`

	uniqueViolation = "23505"
)

// ReferenceGenerator produces customer-facing order references.
type ReferenceGenerator func() string

// RandomReference returns prefix followed by four digits in 1000-9999.
// Safe for concurrent use.
func RandomReference(prefix string) ReferenceGenerator {
	return func() string {
		return fmt.Sprintf("%s%d", prefix, 1000+rand.Intn(9000))
	}
}

type Options struct {
	References ReferenceGenerator
	Attempts   int
	Now        func() time.Time
}

// Store is the system of record for orders. It never publishes events;
// callers publish after a successful mutation.
type Store struct {
	db       *sql.DB
	logger   logger.Logger
	refs     ReferenceGenerator
	attempts int
	now      func() time.Time
}

func NewStore(db *sql.DB, opts Options, log logger.Logger) *Store {
	if opts.References == nil {
		opts.References = RandomReference("KG-")
	}
	if opts.Attempts < 1 {
		opts.Attempts = 5
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		db:       db,
		logger:   logger.ForComponent(log, "order-store"),
		refs:     opts.References,
		attempts: opts.Attempts,
		now:      opts.Now,
	}
}

// Create persists a new order with status new and payment pending. The id is
// generated here and regenerated on collision.
func (s *Store) Create(ctx context.Context, order *models.Order) (*models.Order, error) {
	created := *order
	created.OrderStatus = models.StatusNew
	created.PaymentStatus = models.PaymentPending
	created.CreatedAt = s.now().UTC()
	if created.Items == nil {
		created.Items = []models.OrderItem{}
	}

	items, err := json.Marshal(created.Items)
	if err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("encode items: %v", err))
	}

	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		created.ID = s.refs()

		_, err := s.db.ExecContext(ctx, insertOrderQuery,
			created.ID,
			created.CreatedAt,
			created.CustomerName,
			created.CustomerPhone,
			created.BranchID,
			string(created.OrderType),
			string(created.PaymentMethod),
			created.TotalAmount,
			items,
			nullString(created.DeliveryLocation),
			string(created.OrderStatus),
			string(created.PaymentStatus),
		)
		if err == nil {
			s.logger.Info("order created", map[string]interface{}{
				"orderId":  created.ID,
				"branchId": created.BranchID,
				"total":    created.TotalAmount,
			})
			return &created, nil
		}

		if !isUniqueViolation(err) {
			return nil, apperrors.NewPersistenceFailedError("insert order", err)
		}
		lastErr = err
		s.logger.Warn("order reference collision, regenerating", map[string]interface{}{
			"orderId": created.ID,
			"attempt": attempt,
		})
	}

	return nil, apperrors.NewPersistenceFailedError("insert order",
		fmt.Errorf("no free reference after %d attempts: %w", s.attempts, lastErr))
}

func (s *Store) Get(ctx context.Context, id string) (*models.Order, error) {
	order, err := scanOrder(s.db.QueryRowContext(ctx, getOrderQuery, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewOrderNotFoundError(id)
		}
		return nil, apperrors.NewPersistenceFailedError("get order", err)
	}
	return order, nil
}

// ActiveOrders returns every non-completed order of the branch, oldest first.
func (s *Store) ActiveOrders(ctx context.Context, branchID string) ([]models.Order, error) {
	return s.list(ctx, "active orders", activeOrdersQuery, branchID)
}

// RecentOrders returns the newest orders of the branch, optionally filtered by
// a case-insensitive match on customer name or order id.
func (s *Store) RecentOrders(ctx context.Context, branchID, search string, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.list(ctx, "recent orders", recentOrdersQuery, branchID, search, limit)
}

func (s *Store) list(ctx context.Context, op, query string, args ...interface{}) ([]models.Order, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewPersistenceFailedError(op, err)
	}
	defer rows.Close()

	out := []models.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, apperrors.NewPersistenceFailedError(op, err)
		}
		out = append(out, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewPersistenceFailedError(op, err)
	}
	return out, nil
}

// Advance moves the order to target if it currently sits at target's
// predecessor. Reaching a status the order already has (or has passed) is a
// no-op reported with changed=false.
func (s *Store) Advance(ctx context.Context, id string, target models.OrderStatus) (*models.Order, bool, error) {
	prev, ok := target.Previous()
	if !ok {
		return nil, false, apperrors.NewInvalidStatusTransitionError(id, "", string(target))
	}

	order, err := scanOrder(s.db.QueryRowContext(ctx, advanceQuery, id, string(target), string(prev)))
	if err == nil {
		metrics.OrderTransitions.WithLabelValues(string(target)).Inc()
		s.logger.Info("order advanced", map[string]interface{}{
			"orderId": id,
			"from":    string(prev),
			"to":      string(target),
		})
		return order, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, apperrors.NewPersistenceFailedError("advance order", err)
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if current.OrderStatus.Rank() >= target.Rank() {
		return current, false, nil
	}
	return nil, false, apperrors.NewInvalidStatusTransitionError(id, string(current.OrderStatus), string(target))
}

// SetPaymentStatus settles a pending payment. Once paid or failed the status
// never changes again; later calls return the order with changed=false.
func (s *Store) SetPaymentStatus(ctx context.Context, id string, status models.PaymentStatus) (*models.Order, bool, error) {
	if status != models.PaymentPaid && status != models.PaymentFailed {
		return nil, false, apperrors.NewValidationError(fmt.Sprintf("payment status %q is not terminal", status))
	}

	order, err := scanOrder(s.db.QueryRowContext(ctx, paymentStatusQuery, id, string(status)))
	if err == nil {
		s.logger.Info("payment settled", map[string]interface{}{
			"orderId": id,
			"status":  string(status),
		})
		return order, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, apperrors.NewPersistenceFailedError("set payment status", err)
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

// RecordPaymentRequest links a provider checkout request to the order it pays for.
func (s *Store) RecordPaymentRequest(ctx context.Context, checkoutRequestID, merchantRequestID, orderID string) error {
	if _, err := s.db.ExecContext(ctx, insertPaymentRequestQuery, checkoutRequestID, merchantRequestID, orderID); err != nil {
		return apperrors.NewPersistenceFailedError("record payment request", err)
	}
	return nil
}

// OrderForPaymentRequest resolves a provider checkout request to its order id.
func (s *Store) OrderForPaymentRequest(ctx context.Context, checkoutRequestID string) (string, error) {
	var orderID string
	err := s.db.QueryRowContext(ctx, paymentRequestOrderQuery, checkoutRequestID).Scan(&orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", apperrors.NewOrderNotFoundError("checkout:" + checkoutRequestID)
		}
		return "", apperrors.NewPersistenceFailedError("payment request lookup", err)
	}
	return orderID, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var (
		o             models.Order
		orderType     string
		paymentMethod string
		orderStatus   string
		paymentStatus string
		items         []byte
		location      sql.NullString
	)
	if err := row.Scan(
		&o.ID, &o.CreatedAt, &o.CustomerName, &o.CustomerPhone, &o.BranchID, &orderType,
		&paymentMethod, &o.TotalAmount, &items, &location, &orderStatus, &paymentStatus,
	); err != nil {
		return nil, err
	}

	o.OrderType = models.OrderType(orderType)
	o.PaymentMethod = models.PaymentMethod(paymentMethod)
	o.OrderStatus = models.OrderStatus(orderStatus)
	o.PaymentStatus = models.PaymentStatus(paymentStatus)
	if location.Valid {
		loc := location.String
		o.DeliveryLocation = &loc
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &o.Items); err != nil {
			return nil, fmt.Errorf("decode items of %s: %w", o.ID, err)
		}
	}
	if o.Items == nil {
		o.Items = []models.OrderItem{}
	}
	return &o, nil
}

func nullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
