package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/baha0x13/E-commerce/internal/service"
	"github.com/baha0x13/E-commerce/internal/storage"
)

// VerifyOrderHandler обрабатывает GET /order/verify/{token} — переход по ссылке из письма.
// Авторизация не требуется: сам токен и есть предъявляемое полномочие.
// Повторные и устаревшие токены не ошибка, а редирект на безопасную страницу:
// письма перечитывают, по ссылкам кликают дважды.
func VerifyOrderHandler(log *slog.Logger, orderService service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.VerifyOrderHandler"
		logger := log.With(slog.String("op", op))

		verificationToken := chi.URLParam(r, "token")
		if verificationToken == "" {
			http.Redirect(w, r, "/order", http.StatusFound)
			return
		}

		result, err := orderService.Verify(r.Context(), verificationToken)
		if err != nil {
			if errors.Is(err, storage.ErrTokenNotFound) {
				// Токен неизвестен или уже погашен — спокойный редирект, не страница ошибки
				http.Redirect(w, r, "/order", http.StatusFound)
				return
			}
			logger.Error("failed to verify token", slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		switch result.Outcome {
		case service.VerifyOutcomePaymentRequired:
			http.Redirect(w, r, fmt.Sprintf("/order/%d/payment", result.OrderID), http.StatusFound)
		case service.VerifyOutcomeConfirmed:
			http.Redirect(w, r, fmt.Sprintf("/order/confirmed/%d", result.OrderID), http.StatusFound)
		default:
			http.Redirect(w, r, "/order/user", http.StatusFound)
		}
	}
}
