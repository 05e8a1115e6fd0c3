package service_test

import (
	"errors"
	"testing"

	"github.com/baha0x13/E-commerce/internal/service"
	"github.com/stretchr/testify/assert"
)

func TestValidateCard(t *testing.T) {
	tests := []struct {
		name       string
		card       service.CardDetails
		wantField  string
		wantReason string
	}{
		{
			name: "valid card",
			card: service.CardDetails{CardNumber: "4111111111111111", Expiry: "12/27", CVC: "123"},
		},
		{
			name: "valid card, january",
			card: service.CardDetails{CardNumber: "5555555555554444", Expiry: "01/30", CVC: "000"},
		},
		{
			name:       "card number too short",
			card:       service.CardDetails{CardNumber: "41111111", Expiry: "12/27", CVC: "123"},
			wantField:  "cardNumber",
			wantReason: "must be exactly 16 digits",
		},
		{
			name:       "card number with letters",
			card:       service.CardDetails{CardNumber: "41111111111111ab", Expiry: "12/27", CVC: "123"},
			wantField:  "cardNumber",
			wantReason: "must be exactly 16 digits",
		},
		{
			name:       "card number missing",
			card:       service.CardDetails{Expiry: "12/27", CVC: "123"},
			wantField:  "cardNumber",
			wantReason: "is required",
		},
		{
			name:       "expiry month zero",
			card:       service.CardDetails{CardNumber: "4111111111111111", Expiry: "00/27", CVC: "123"},
			wantField:  "expiry",
			wantReason: "must match MM/YY with month 01-12",
		},
		{
			name:       "expiry month thirteen",
			card:       service.CardDetails{CardNumber: "4111111111111111", Expiry: "13/27", CVC: "123"},
			wantField:  "expiry",
			wantReason: "must match MM/YY with month 01-12",
		},
		{
			name:       "expiry with four digit year",
			card:       service.CardDetails{CardNumber: "4111111111111111", Expiry: "12/2027", CVC: "123"},
			wantField:  "expiry",
			wantReason: "must match MM/YY with month 01-12",
		},
		{
			name:       "expiry with wrong separator",
			card:       service.CardDetails{CardNumber: "4111111111111111", Expiry: "12-27", CVC: "123"},
			wantField:  "expiry",
			wantReason: "must match MM/YY with month 01-12",
		},
		{
			name:       "cvc too short",
			card:       service.CardDetails{CardNumber: "4111111111111111", Expiry: "12/27", CVC: "12"},
			wantField:  "cvc",
			wantReason: "must be exactly 3 digits",
		},
		{
			name:       "cvc with letters",
			card:       service.CardDetails{CardNumber: "4111111111111111", Expiry: "12/27", CVC: "12a"},
			wantField:  "cvc",
			wantReason: "must be exactly 3 digits",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := service.ValidateCard(tt.card)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var validationErr *service.ValidationError
			assert.True(t, errors.As(err, &validationErr), "expected a *ValidationError, got %v", err)
			assert.Equal(t, tt.wantField, validationErr.Field)
			assert.Equal(t, tt.wantReason, validationErr.Reason)
		})
	}
}
