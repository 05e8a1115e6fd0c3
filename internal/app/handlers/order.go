package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/baha0x13/E-commerce/internal/domain/models"
	"github.com/baha0x13/E-commerce/internal/jwt-new/jwtmiddleware"
	"github.com/baha0x13/E-commerce/internal/service"
	"github.com/baha0x13/E-commerce/internal/storage"
)

// CreateOrderResponse — ответ при успешном создании заказа.
type CreateOrderResponse struct {
	OrderID int64  `json:"orderId"`
	Total   int64  `json:"total"`
	Message string `json:"message"`
}

// CreateOrderHandler обрабатывает POST /api/order.
// Тело запроса — JSON-объект "id товара -> количество"; некорректная корзина
// отклоняется целиком, без частичного принятия.
func CreateOrderHandler(log *slog.Logger, orderService service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.CreateOrderHandler"
		logger := log.With(slog.String("op", op))

		userID, ok := jwtmiddleware.FromContext(r.Context())
		if !ok {
			logger.Error("userID not found in context")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		var raw map[string]int
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			logger.Error("invalid request: decoding error", slog.Any("error", err))
			writeError(w, http.StatusBadRequest, "invalid or empty cart")
			return
		}

		// Ключи приходят строками (JSON-объект); нечисловой ключ — ошибка всей корзины
		cart := make(models.Cart, len(raw))
		for key, quantity := range raw {
			productID, err := strconv.ParseInt(key, 10, 64)
			if err != nil {
				logger.Error("invalid product id in cart", slog.String("key", key))
				writeError(w, http.StatusBadRequest, "invalid product data")
				return
			}
			cart[productID] = quantity
		}

		result, err := orderService.CreateOrder(r.Context(), userID, cart)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrEmptyCart):
				writeError(w, http.StatusBadRequest, "invalid or empty cart")
			case errors.Is(err, service.ErrInvalidQuantity):
				writeError(w, http.StatusBadRequest, "invalid product data")
			case errors.Is(err, storage.ErrProductNotFound):
				writeError(w, http.StatusNotFound, "product not found")
			default:
				logger.Error("failed to create order", slog.Any("error", err))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
			return
		}

		resp := CreateOrderResponse{
			OrderID: result.OrderID,
			Total:   result.TotalCents,
			Message: "Order created. Please verify via email.",
		}
		if err := writeJSON(w, http.StatusOK, resp); err != nil {
			logger.Error("failed to encode response", slog.Any("error", err))
		}
	}
}

// OrderListHandler обрабатывает GET /api/order/user — заказы текущего пользователя.
func OrderListHandler(log *slog.Logger, orderService service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.OrderListHandler"
		logger := log.With(slog.String("op", op))

		userID, ok := jwtmiddleware.FromContext(r.Context())
		if !ok {
			logger.Error("userID not found in context")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		orders, err := orderService.ListUserOrders(r.Context(), userID)
		if err != nil {
			logger.Error("failed to list orders", slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if orders == nil {
			orders = []*models.Order{}
		}

		if err := writeJSON(w, http.StatusOK, orders); err != nil {
			logger.Error("failed to encode response", slog.Any("error", err))
		}
	}
}

// OrderDetailHandler обрабатывает GET /api/order/{id} — заказ с позициями, только владельцу.
func OrderDetailHandler(log *slog.Logger, orderService service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.OrderDetailHandler"
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

		order, err := orderService.GetOrder(r.Context(), orderID, userID)
		if err != nil {
			switch {
			case errors.Is(err, storage.ErrOrderNotFound):
				writeError(w, http.StatusNotFound, "order not found")
			case errors.Is(err, service.ErrForbidden):
				writeError(w, http.StatusForbidden, "access denied")
			default:
				logger.Error("failed to get order", slog.Any("error", err))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
			return
		}

		if err := writeJSON(w, http.StatusOK, order); err != nil {
			logger.Error("failed to encode response", slog.Any("error", err))
		}
	}
}
