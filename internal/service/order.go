package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/baha0x13/E-commerce/internal/domain/models"
	"github.com/baha0x13/E-commerce/internal/lib/token"
	"github.com/baha0x13/E-commerce/internal/notify"
	"github.com/baha0x13/E-commerce/internal/storage"
)

var (
	// ErrEmptyCart — корзина пуста или некорректна, заказ не создаётся.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrInvalidQuantity — количество должно быть положительным целым.
	ErrInvalidQuantity = errors.New("quantity must be a positive integer")
	// ErrForbidden — операция доступна только владельцу заказа.
	ErrForbidden = errors.New("operation is not permitted for this user")
	// ErrInvalidOrderState — заказ не в том статусе, которого требует операция.
	ErrInvalidOrderState = errors.New("order is not in the expected status")
)

// maxTokenAttempts — сколько раз перевыпускаем токен при столкновении с уже активным.
const maxTokenAttempts = 5

// VerifyOutcome — результат погашения токена, определяет дальнейший редирект.
type VerifyOutcome string

const (
	VerifyOutcomePaymentRequired  VerifyOutcome = "payment_required"
	VerifyOutcomeConfirmed        VerifyOutcome = "confirmed"
	VerifyOutcomeAlreadyProcessed VerifyOutcome = "already_processed"
)

type VerifyResult struct {
	OrderID int64
	Outcome VerifyOutcome
}

type CreateOrderResult struct {
	OrderID    int64
	TotalCents int64
}

// OrderService — машина состояний заказа: создание, подтверждение по токену,
// оплата и финальное подтверждение оплаты.
type OrderService interface {
	CreateOrder(ctx context.Context, userID int64, cart models.Cart) (*CreateOrderResult, error)
	Verify(ctx context.Context, verificationToken string) (*VerifyResult, error)
	SubmitPayment(ctx context.Context, orderID, userID int64, card CardDetails) error
	GetOrder(ctx context.Context, orderID, userID int64) (*models.Order, error)
	ListUserOrders(ctx context.Context, userID int64) ([]*models.Order, error)
}

type orderService struct {
	log         *slog.Logger
	db          *sql.DB
	userRepo    storage.UserStorage
	productRepo storage.ProductStorage
	orderRepo   storage.OrderStorage
	issuer      token.Issuer
	dispatcher  notify.Dispatcher
	baseURL     string
}

func NewOrderService(
	log *slog.Logger,
	db *sql.DB,
	userRepo storage.UserStorage,
	productRepo storage.ProductStorage,
	orderRepo storage.OrderStorage,
	issuer token.Issuer,
	dispatcher notify.Dispatcher,
	baseURL string,
) OrderService {
	return &orderService{
		log:         log,
		db:          db,
		userRepo:    userRepo,
		productRepo: productRepo,
		orderRepo:   orderRepo,
		issuer:      issuer,
		dispatcher:  dispatcher,
		baseURL:     strings.TrimRight(baseURL, "/"),
	}
}

// mailContext — данные для писем подтверждения.
type mailContext struct {
	OrderID         int64
	Total           string
	VerificationURL string
}

// CreateOrder создаёт заказ по снимку корзины: цены снимаются с каталога сейчас,
// сумма считается один раз, заказ и позиции записываются одной транзакцией.
// Письмо со ссылкой подтверждения уходит после коммита; сбой отправки не фатален.
func (s *orderService) CreateOrder(ctx context.Context, userID int64, cart models.Cart) (*CreateOrderResult, error) {
	const op = "service.OrderService.CreateOrder"
	logger := s.log.With(slog.String("op", op), slog.Int64("userID", userID))
	logger.Info("starting order creation")

	if len(cart) == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrEmptyCart)
	}
	// Фиксируем порядок позиций: обходим корзину по возрастанию id товара
	productIDs := make([]int64, 0, len(cart))
	for productID, quantity := range cart {
		if quantity <= 0 {
			return nil, fmt.Errorf("%s: product %d: %w", op, productID, ErrInvalidQuantity)
		}
		productIDs = append(productIDs, productID)
	}
	sort.Slice(productIDs, func(i, j int) bool { return productIDs[i] < productIDs[j] })

	user, err := s.userRepo.GetUserByID(ctx, userID)
	if err != nil {
		logger.Error("failed to get user", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to get user: %w", op, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}

	order := &models.Order{
		UserID: userID,
		Status: models.OrderStatusCreated,
	}
	for _, productID := range productIDs {
		product, err := s.productRepo.GetProductByIDTx(ctx, tx, productID)
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logger.Error("transaction rollback failed", slog.Any("error", rbErr))
			}
			logger.Error("failed to get product", slog.Int64("productID", productID), slog.Any("error", err))
			return nil, fmt.Errorf("%s: product %d: %w", op, productID, err)
		}
		// Снимок цены каталога: позиция не зависит от последующих изменений цены
		order.Items = append(order.Items, &models.OrderItem{
			ProductID:  product.ID,
			Quantity:   cart[productID],
			PriceCents: product.PriceCents,
		})
	}
	order.TotalCents = order.ItemsTotalCents()

	verificationToken, err := s.issueUniqueToken(ctx, tx)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to issue verification token", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to issue verification token: %w", op, err)
	}
	order.VerificationToken = &verificationToken

	orderID, err := s.orderRepo.CreateOrder(ctx, tx, order)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to create order", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to create order: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}

	// Заказ уже зафиксирован: ошибка письма оставляет заказ без уведомления, но не ломает его
	s.sendVerificationMail(ctx, logger, user.Email, "Order verification", "order_verification", mailContext{
		OrderID:         orderID,
		Total:           models.FormatCents(order.TotalCents),
		VerificationURL: s.verificationURL(verificationToken),
	})

	logger.Info("order created", slog.Int64("orderID", orderID), slog.Int64("totalCents", order.TotalCents))
	return &CreateOrderResult{OrderID: orderID, TotalCents: order.TotalCents}, nil
}

// Verify гасит токен подтверждения и продвигает заказ по таблице переходов.
// Повторное предъявление токена безопасно: погашенный токен больше не находится,
// а статус перепроверяется под блокировкой строки при каждом использовании.
func (s *orderService) Verify(ctx context.Context, verificationToken string) (*VerifyResult, error) {
	const op = "service.OrderService.Verify"
	logger := s.log.With(slog.String("op", op))
	logger.Info("verifying order token")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}

	order, err := s.orderRepo.LockOrderByTokenTx(ctx, tx, verificationToken)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		if errors.Is(err, storage.ErrTokenNotFound) {
			logger.Info("token not found or already consumed")
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		logger.Error("failed to lock order by token", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to lock order by token: %w", op, err)
	}

	next, ok := order.Status.NextOnVerify()
	if !ok {
		// Для текущего статуса перехода нет — заказ уже обработан, ничего не меняем
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Info("no transition for current status", slog.String("status", string(order.Status)))
		return &VerifyResult{OrderID: order.ID, Outcome: VerifyOutcomeAlreadyProcessed}, nil
	}

	// Переход и погашение токена — одна запись: статус и токен не расходятся
	if err := s.orderRepo.UpdateOrderStateTx(ctx, tx, order.ID, next, nil); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to update order state", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to update order state: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}

	outcome := VerifyOutcomePaymentRequired
	if next == models.OrderStatusConfirmed {
		outcome = VerifyOutcomeConfirmed
	}
	logger.Info("order transitioned",
		slog.Int64("orderID", order.ID),
		slog.String("from", string(order.Status)),
		slog.String("to", string(next)),
	)
	return &VerifyResult{OrderID: order.ID, Outcome: outcome}, nil
}

// SubmitPayment проверяет формат карты, затем под блокировкой строки проверяет
// владельца и статус, выпускает новый токен и переводит заказ в ожидание
// подтверждения оплаты. Письмо уходит после коммита.
func (s *orderService) SubmitPayment(ctx context.Context, orderID, userID int64, card CardDetails) error {
	const op = "service.OrderService.SubmitPayment"
	logger := s.log.With(slog.String("op", op), slog.Int64("orderID", orderID), slog.Int64("userID", userID))
	logger.Info("processing payment submission")

	// Чистая проверка формата до любых обращений к БД: при ошибке состояние не трогаем
	if err := ValidateCard(card); err != nil {
		logger.Warn("payment fields validation failed", slog.Any("error", err))
		return err
	}

	user, err := s.userRepo.GetUserByID(ctx, userID)
	if err != nil {
		logger.Error("failed to get user", slog.Any("error", err))
		return fmt.Errorf("%s: failed to get user: %w", op, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("failed to begin transaction", slog.Any("error", err))
		return fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}

	order, err := s.orderRepo.LockOrderByIDTx(ctx, tx, orderID)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to lock order", slog.Any("error", err))
		return fmt.Errorf("%s: failed to lock order: %w", op, err)
	}

	if !order.CanBePaidBy(userID) {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Warn("payment attempt by non-owner")
		return fmt.Errorf("%s: %w", op, ErrForbidden)
	}

	if order.Status != models.OrderStatusAwaitingPayment {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Warn("payment attempt in wrong status", slog.String("status", string(order.Status)))
		return fmt.Errorf("%s: %w", op, ErrInvalidOrderState)
	}

	// Токен создания заказа на этом этапе уже погашен; для подтверждения оплаты
	// выпускается новый, привязанный к этому переходу
	verificationToken, err := s.issueUniqueToken(ctx, tx)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to issue verification token", slog.Any("error", err))
		return fmt.Errorf("%s: failed to issue verification token: %w", op, err)
	}

	if err := s.orderRepo.UpdateOrderStateTx(ctx, tx, orderID, models.OrderStatusAwaitingPaymentConfirmation, &verificationToken); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", slog.Any("error", rbErr))
		}
		logger.Error("failed to update order state", slog.Any("error", err))
		return fmt.Errorf("%s: failed to update order state: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		logger.Error("failed to commit transaction", slog.Any("error", err))
		return fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}

	s.sendVerificationMail(ctx, logger, user.Email, "Payment verification", "payment_verification", mailContext{
		OrderID:         orderID,
		Total:           models.FormatCents(order.TotalCents),
		VerificationURL: s.verificationURL(verificationToken),
	})

	logger.Info("payment accepted, awaiting confirmation")
	return nil
}

// GetOrder возвращает заказ с позициями; доступен только владельцу.
func (s *orderService) GetOrder(ctx context.Context, orderID, userID int64) (*models.Order, error) {
	const op = "service.OrderService.GetOrder"

	order, err := s.orderRepo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if order.UserID != userID {
		return nil, fmt.Errorf("%s: %w", op, ErrForbidden)
	}
	return order, nil
}

// ListUserOrders возвращает заказы пользователя, новые первыми.
func (s *orderService) ListUserOrders(ctx context.Context, userID int64) ([]*models.Order, error) {
	const op = "service.OrderService.ListUserOrders"

	orders, err := s.orderRepo.GetOrdersByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to get orders: %w", op, err)
	}
	return orders, nil
}

// issueUniqueToken выпускает токен и проверяет, что он не занят активным заказом.
// Сам Issuer без состояния, поэтому уникальность обеспечивается здесь,
// с уникальным индексом в БД как страховкой от гонки.
func (s *orderService) issueUniqueToken(ctx context.Context, tx *sql.Tx) (string, error) {
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		verificationToken, err := s.issuer.Issue()
		if err != nil {
			return "", err
		}
		inUse, err := s.orderRepo.TokenInUseTx(ctx, tx, verificationToken)
		if err != nil {
			return "", err
		}
		if !inUse {
			return verificationToken, nil
		}
	}
	return "", fmt.Errorf("failed to issue a unique token after %d attempts", maxTokenAttempts)
}

func (s *orderService) verificationURL(verificationToken string) string {
	return fmt.Sprintf("%s/order/verify/%s", s.baseURL, verificationToken)
}

func (s *orderService) sendVerificationMail(ctx context.Context, logger *slog.Logger, to, subject, templateName string, data mailContext) {
	if err := s.dispatcher.Send(ctx, to, subject, templateName, data); err != nil {
		// Статус уже зафиксирован: заказ остаётся без уведомления, но в согласованном состоянии
		logger.Warn("failed to send notification", slog.String("template", templateName), slog.Any("error", err))
	}
}
