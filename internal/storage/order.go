package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/baha0x13/E-commerce/internal/domain/models"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	// ErrTokenNotFound — активного заказа с таким токеном нет: токен погашен или никогда не существовал.
	ErrTokenNotFound = errors.New("verification token not found")
	// ErrTokenTaken — столкновение с уникальным индексом по verification_token.
	ErrTokenTaken = errors.New("verification token already in use")
)

// OrderStorage описывает методы для работы с заказами.
// Все мутации выполняются внутри переданной транзакции: заказ и его позиции
// записываются и изменяются только атомарно.
type OrderStorage interface {
	// CreateOrder вставляет заказ вместе со всеми позициями и возвращает id заказа.
	CreateOrder(ctx context.Context, tx *sql.Tx, order *models.Order) (int64, error)
	// LockOrderByTokenTx находит заказ по активному токену и держит блокировку строки
	// до конца транзакции, чтобы конкурирующие переходы сериализовались.
	LockOrderByTokenTx(ctx context.Context, tx *sql.Tx, token string) (*models.Order, error)
	// LockOrderByIDTx — то же самое, но по идентификатору заказа.
	LockOrderByIDTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Order, error)
	// UpdateOrderStateTx записывает новый статус и токен; token == nil гасит токен.
	UpdateOrderStateTx(ctx context.Context, tx *sql.Tx, id int64, status models.OrderStatus, token *string) error
	// TokenInUseTx проверяет, занят ли токен активным заказом; уникальный индекс
	// по verification_token остаётся последней линией защиты от гонки.
	TokenInUseTx(ctx context.Context, tx *sql.Tx, token string) (bool, error)
	// GetOrderByID возвращает заказ вместе с позициями.
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	// GetOrdersByUserID возвращает список заказов пользователя, новые первыми.
	GetOrdersByUserID(ctx context.Context, userID int64) ([]*models.Order, error)
}

// orderRepository — конкретная реализация OrderStorage.
type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт новый репозиторий заказов.
func NewOrderRepository(db *sql.DB) OrderStorage {
	return &orderRepository{db: db}
}

// isUniqueViolation проверяет код ошибки Postgres 23505 (unique_violation).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func (r *orderRepository) CreateOrder(ctx context.Context, tx *sql.Tx, order *models.Order) (int64, error) {
	query := `INSERT INTO orders (user_id, status, verification_token, total_cents, created_at)
	          VALUES ($1, $2, $3, $4, NOW()) RETURNING id`
	var id int64
	err := tx.QueryRowContext(ctx, query,
		order.UserID, order.Status, nullableToken(order.VerificationToken), order.TotalCents,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrTokenTaken
		}
		return 0, fmt.Errorf("failed to create order: %w", err)
	}

	itemQuery := `INSERT INTO order_items (order_id, product_id, quantity, price_cents)
	              VALUES ($1, $2, $3, $4)`
	for _, item := range order.Items {
		if _, err := tx.ExecContext(ctx, itemQuery, id, item.ProductID, item.Quantity, item.PriceCents); err != nil {
			return 0, fmt.Errorf("failed to create order item: %w", err)
		}
	}
	return id, nil
}

func (r *orderRepository) LockOrderByTokenTx(ctx context.Context, tx *sql.Tx, token string) (*models.Order, error) {
	query := `SELECT id, user_id, status, verification_token, total_cents, created_at
	          FROM orders WHERE verification_token = $1 FOR UPDATE`
	order, err := scanOrder(tx.QueryRowContext(ctx, query, token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	return order, nil
}

func (r *orderRepository) LockOrderByIDTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Order, error) {
	query := `SELECT id, user_id, status, verification_token, total_cents, created_at
	          FROM orders WHERE id = $1 FOR UPDATE`
	order, err := scanOrder(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return order, nil
}

func (r *orderRepository) UpdateOrderStateTx(ctx context.Context, tx *sql.Tx, id int64, status models.OrderStatus, token *string) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE orders SET status = $1, verification_token = $2 WHERE id = $3",
		status, nullableToken(token), id,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrTokenTaken
		}
		return fmt.Errorf("failed to update order state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *orderRepository) TokenInUseTx(ctx context.Context, tx *sql.Tx, token string) (bool, error) {
	var inUse bool
	row := tx.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM orders WHERE verification_token = $1)", token)
	if err := row.Scan(&inUse); err != nil {
		return false, fmt.Errorf("failed to check token: %w", err)
	}
	return inUse, nil
}

func (r *orderRepository) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	query := `SELECT id, user_id, status, verification_token, total_cents, created_at
	          FROM orders WHERE id = $1`
	order, err := scanOrder(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	items, err := r.getOrderItems(ctx, id)
	if err != nil {
		return nil, err
	}
	order.Items = items
	return order, nil
}

func (r *orderRepository) GetOrdersByUserID(ctx context.Context, userID int64) ([]*models.Order, error) {
	query := `SELECT id, user_id, status, verification_token, total_cents, created_at
	          FROM orders WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order := &models.Order{}
		var token sql.NullString
		if err := rows.Scan(&order.ID, &order.UserID, &order.Status, &token, &order.TotalCents, &order.CreatedAt); err != nil {
			return nil, err
		}
		if token.Valid {
			order.VerificationToken = &token.String
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

// getOrderItems возвращает позиции заказа с JOIN, чтобы получить имя товара.
func (r *orderRepository) getOrderItems(ctx context.Context, orderID int64) ([]*models.OrderItem, error) {
	query := `
		SELECT i.id, i.order_id, i.product_id, p.name, i.quantity, i.price_cents
		FROM order_items i
		JOIN products p ON i.product_id = p.id
		WHERE i.order_id = $1
		ORDER BY i.id`
	rows, err := r.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	var items []*models.OrderItem
	for rows.Next() {
		item := &models.OrderItem{}
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.ProductName, &item.Quantity, &item.PriceCents); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	order := &models.Order{}
	var token sql.NullString
	if err := row.Scan(&order.ID, &order.UserID, &order.Status, &token, &order.TotalCents, &order.CreatedAt); err != nil {
		return nil, err
	}
	if token.Valid {
		order.VerificationToken = &token.String
	}
	return order, nil
}

func nullableToken(token *string) sql.NullString {
	if token == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *token, Valid: true}
}
