package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/baha0x13/E-commerce/internal/jwt-new/jwtmiddleware"
	"github.com/baha0x13/E-commerce/internal/service"
	"github.com/baha0x13/E-commerce/internal/storage"
)

// PaymentResponse — ответ при принятой оплате.
type PaymentResponse struct {
	Message string `json:"message"`
}

// PaymentHandler обрабатывает POST /order/{id}/payment.
// Поля приходят form-encoded: cardNumber, expiry, cvc.
func PaymentHandler(log *slog.Logger, orderService service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.PaymentHandler"
		logger := log.With(slog.String("op", op))

		userID, ok := jwtmiddleware.FromContext(r.Context())
		if !ok {
			logger.Error("userID not found in context")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid order id")
			return
		}

		if err := r.ParseForm(); err != nil {
			logger.Error("failed to parse form", slog.Any("error", err))
			writeError(w, http.StatusBadRequest, "invalid form data")
			return
		}

		card := service.CardDetails{
			CardNumber: r.PostFormValue("cardNumber"),
			Expiry:     r.PostFormValue("expiry"),
			CVC:        r.PostFormValue("cvc"),
		}

		if err := orderService.SubmitPayment(r.Context(), orderID, userID, card); err != nil {
			var validationErr *service.ValidationError
			switch {
			case errors.As(err, &validationErr):
				// Исправимая ошибка формата: заказ остаётся в ожидании оплаты, можно повторить
				_ = writeJSON(w, http.StatusBadRequest, ErrorResponse{
					Error: validationErr.Reason,
					Field: validationErr.Field,
				})
			case errors.Is(err, storage.ErrOrderNotFound):
				writeError(w, http.StatusNotFound, "order not found")
			case errors.Is(err, service.ErrForbidden):
				writeError(w, http.StatusForbidden, "access denied")
			case errors.Is(err, service.ErrInvalidOrderState):
				writeError(w, http.StatusConflict, "order is not awaiting payment")
			default:
				logger.Error("failed to submit payment", slog.Any("error", err))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
			return
		}

		resp := PaymentResponse{Message: "Payment accepted. Please confirm via email."}
		if err := writeJSON(w, http.StatusOK, resp); err != nil {
			logger.Error("failed to encode response", slog.Any("error", err))
		}
	}
}
