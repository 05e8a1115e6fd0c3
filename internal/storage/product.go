package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/baha0x13/E-commerce/internal/domain/models"
)

// ProductStorage описывает методы для работы с каталогом товаров.
type ProductStorage interface {
	// GetProductByIDTx получает товар по идентификатору внутри транзакции создания заказа.
	// Снятые с продажи товары не возвращаются.
	GetProductByIDTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Product, error)
}

// productRepository — конкретная реализация интерфейса ProductStorage.
type productRepository struct {
	db *sql.DB
}

// NewProductRepository создаёт новый репозиторий каталога.
func NewProductRepository(db *sql.DB) ProductStorage {
	return &productRepository{db: db}
}

var ErrProductNotFound = errors.New("product not found")

// GetProductByIDTx ищет товар по id в таблице products.
func (r *productRepository) GetProductByIDTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Product, error) {
	product := &models.Product{}
	query := "SELECT id, name, price_cents, is_deleted FROM products WHERE id = $1 AND is_deleted = FALSE"
	row := tx.QueryRowContext(ctx, query, id)
	if err := row.Scan(&product.ID, &product.Name, &product.PriceCents, &product.IsDeleted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return product, nil
}
