package models

import "time"

// OrderStatus — статус заказа в жизненном цикле оплаты
type OrderStatus string

const (
	OrderStatusCreated                     OrderStatus = "created"
	OrderStatusAwaitingPayment             OrderStatus = "awaiting_payment"
	OrderStatusAwaitingPaymentConfirmation OrderStatus = "awaiting_payment_confirmation"
	OrderStatusConfirmed                   OrderStatus = "confirmed"
)

// verifyTransitions — явная таблица переходов, выполняемых по ссылке из письма.
// Статус вне таблицы означает, что заказ уже обработан, переход не выполняется.
var verifyTransitions = map[OrderStatus]OrderStatus{
	OrderStatusCreated:                     OrderStatusAwaitingPayment,
	OrderStatusAwaitingPaymentConfirmation: OrderStatusConfirmed,
}

// NextOnVerify возвращает статус, в который заказ переходит при подтверждении по токену,
// и false, если для текущего статуса перехода нет.
func (s OrderStatus) NextOnVerify() (OrderStatus, bool) {
	next, ok := verifyTransitions[s]
	return next, ok
}

// Order представляет заказ: набор позиций с замороженными ценами и статус оплаты.
// Сумма и позиции фиксируются при создании и после этого не меняются.
type Order struct {
	ID                int64        `json:"id"`
	UserID            int64        `json:"user_id"`
	Status            OrderStatus  `json:"status"`
	VerificationToken *string      `json:"-"` // одноразовый токен из письма; NULL после погашения
	TotalCents        int64        `json:"total"`
	CreatedAt         time.Time    `json:"created_at"`
	Items             []*OrderItem `json:"items,omitempty"`
}

// OrderItem — позиция заказа. Цена снимается с каталога в момент создания заказа
// и не пересчитывается при последующих изменениях каталога.
type OrderItem struct {
	ID          int64  `json:"id"`
	OrderID     int64  `json:"order_id"`
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"` // заполняется через JOIN с таблицей products
	Quantity    int    `json:"quantity"`
	PriceCents  int64  `json:"price"`
}

// ItemsTotalCents считает сумму заказа по позициям.
func (o *Order) ItemsTotalCents() int64 {
	var total int64
	for _, item := range o.Items {
		total += item.PriceCents * int64(item.Quantity)
	}
	return total
}

// CanBePaidBy — явная проверка права на оплату: платить может только владелец заказа.
func (o *Order) CanBePaidBy(userID int64) bool {
	return o.UserID == userID
}
