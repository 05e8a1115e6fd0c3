package models

// Product представляет товар каталога; цена хранится в центах
type Product struct {
	ID         int64  // Уникальный идентификатор товара
	Name       string // Название товара (уникальное)
	PriceCents int64  // Текущая цена товара в центах
	IsDeleted  bool   // Снятые с продажи товары не участвуют в заказах
}
