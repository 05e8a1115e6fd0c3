package models_test

import (
	"testing"

	"github.com/baha0x13/E-commerce/internal/domain/models"
	"github.com/stretchr/testify/assert"
)

func TestOrderStatus_NextOnVerify(t *testing.T) {
	tests := []struct {
		name     string
		status   models.OrderStatus
		wantNext models.OrderStatus
		wantOK   bool
	}{
		{
			name:     "created goes to awaiting payment",
			status:   models.OrderStatusCreated,
			wantNext: models.OrderStatusAwaitingPayment,
			wantOK:   true,
		},
		{
			name:     "awaiting confirmation goes to confirmed",
			status:   models.OrderStatusAwaitingPaymentConfirmation,
			wantNext: models.OrderStatusConfirmed,
			wantOK:   true,
		},
		{
			name:   "awaiting payment has no verify transition",
			status: models.OrderStatusAwaitingPayment,
			wantOK: false,
		},
		{
			name:   "confirmed is terminal",
			status: models.OrderStatusConfirmed,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, ok := tt.status.NextOnVerify()
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantNext, next)
			}
		})
	}
}

func TestOrder_ItemsTotalCents(t *testing.T) {
	order := &models.Order{
		Items: []*models.OrderItem{
			{ProductID: 7, Quantity: 2, PriceCents: 1000},
			{ProductID: 9, Quantity: 1, PriceCents: 500},
		},
	}
	assert.Equal(t, int64(2500), order.ItemsTotalCents())

	empty := &models.Order{}
	assert.Equal(t, int64(0), empty.ItemsTotalCents())
}

func TestOrder_CanBePaidBy(t *testing.T) {
	order := &models.Order{ID: 5, UserID: 1}
	assert.True(t, order.CanBePaidBy(1))
	assert.False(t, order.CanBePaidBy(2))
}

func TestFormatCents(t *testing.T) {
	assert.Equal(t, "25.00", models.FormatCents(2500))
	assert.Equal(t, "0.05", models.FormatCents(5))
	assert.Equal(t, "999.99", models.FormatCents(99999))
	assert.Equal(t, "0.00", models.FormatCents(0))
	assert.Equal(t, "-1.50", models.FormatCents(-150))
}
