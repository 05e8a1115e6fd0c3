package service_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/baha0x13/E-commerce/internal/domain/models"
	"github.com/baha0x13/E-commerce/internal/service"
	"github.com/baha0x13/E-commerce/internal/storage"
	"github.com/stretchr/testify/assert"
)

// fakeIssuer выдает предсказуемую последовательность токенов
type fakeIssuer struct {
	n int
}

func (f *fakeIssuer) Issue() (string, error) {
	f.n++
	return fmt.Sprintf("tok-%d", f.n), nil
}

type sentMail struct {
	To       string
	Subject  string
	Template string
}

// fakeDispatcher фиксирует отправленные письма; может эмулировать сбой доставки
type fakeDispatcher struct {
	err  error
	sent []sentMail
}

func (d *fakeDispatcher) Send(ctx context.Context, to, subject, templateName string, data any) error {
	d.sent = append(d.sent, sentMail{To: to, Subject: subject, Template: templateName})
	return d.err
}

type fakeUserRepo struct {
	users map[string]*models.User // ключ — email
}

var _ storage.UserStorage = (*fakeUserRepo)(nil)

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*models.User)}
}

func (f *fakeUserRepo) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	user, ok := f.users[email]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	return user, nil
}

func (f *fakeUserRepo) CreateUser(ctx context.Context, user *models.User) (*models.User, error) {
	user.ID = int64(len(f.users) + 1)
	f.users[user.Email] = user
	return user, nil
}

func (f *fakeUserRepo) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, storage.ErrUserNotFound
}

type fakeProductRepo struct {
	products map[int64]*models.Product
}

var _ storage.ProductStorage = (*fakeProductRepo)(nil)

func newFakeProductRepo() *fakeProductRepo {
	return &fakeProductRepo{products: make(map[int64]*models.Product)}
}

func (f *fakeProductRepo) GetProductByIDTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Product, error) {
	product, ok := f.products[id]
	if !ok || product.IsDeleted {
		return nil, storage.ErrProductNotFound
	}
	return product, nil
}

type fakeOrderRepo struct {
	nextID int64
	orders map[int64]*models.Order
}

var _ storage.OrderStorage = (*fakeOrderRepo)(nil)

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{orders: make(map[int64]*models.Order)}
}

func cloneOrder(o *models.Order) *models.Order {
	clone := *o
	if o.VerificationToken != nil {
		token := *o.VerificationToken
		clone.VerificationToken = &token
	}
	return &clone
}

func (f *fakeOrderRepo) CreateOrder(ctx context.Context, tx *sql.Tx, order *models.Order) (int64, error) {
	f.nextID++
	stored := cloneOrder(order)
	stored.ID = f.nextID
	for _, item := range stored.Items {
		item.OrderID = f.nextID
	}
	f.orders[f.nextID] = stored
	return f.nextID, nil
}

func (f *fakeOrderRepo) LockOrderByTokenTx(ctx context.Context, tx *sql.Tx, token string) (*models.Order, error) {
	for _, o := range f.orders {
		if o.VerificationToken != nil && *o.VerificationToken == token {
			return cloneOrder(o), nil
		}
	}
	return nil, storage.ErrTokenNotFound
}

func (f *fakeOrderRepo) LockOrderByIDTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, storage.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (f *fakeOrderRepo) UpdateOrderStateTx(ctx context.Context, tx *sql.Tx, id int64, status models.OrderStatus, token *string) error {
	o, ok := f.orders[id]
	if !ok {
		return storage.ErrOrderNotFound
	}
	o.Status = status
	if token == nil {
		o.VerificationToken = nil
	} else {
		t := *token
		o.VerificationToken = &t
	}
	return nil
}

func (f *fakeOrderRepo) TokenInUseTx(ctx context.Context, tx *sql.Tx, token string) (bool, error) {
	for _, o := range f.orders {
		if o.VerificationToken != nil && *o.VerificationToken == token {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeOrderRepo) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, storage.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (f *fakeOrderRepo) GetOrdersByUserID(ctx context.Context, userID int64) ([]*models.Order, error) {
	var orders []*models.Order
	for _, o := range f.orders {
		if o.UserID == userID {
			orders = append(orders, cloneOrder(o))
		}
	}
	return orders, nil
}

type orderServiceEnv struct {
	db         *sql.DB
	mock       sqlmock.Sqlmock
	userRepo   *fakeUserRepo
	products   *fakeProductRepo
	orders     *fakeOrderRepo
	dispatcher *fakeDispatcher
	svc        service.OrderService
}

func newOrderServiceEnv(t *testing.T) *orderServiceEnv {
	t.Helper()

	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	userRepo := newFakeUserRepo()
	productRepo := newFakeProductRepo()
	orderRepo := newFakeOrderRepo()
	dispatcher := &fakeDispatcher{}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	svc := service.NewOrderService(
		logger, db, userRepo, productRepo, orderRepo,
		&fakeIssuer{}, dispatcher, "http://localhost:8080/",
	)

	return &orderServiceEnv{
		db:         db,
		mock:       mock,
		userRepo:   userRepo,
		products:   productRepo,
		orders:     orderRepo,
		dispatcher: dispatcher,
		svc:        svc,
	}
}

func (e *orderServiceEnv) addUser(id int64, email string) {
	e.userRepo.users[email] = &models.User{ID: id, Email: email, PassHash: []byte("hashed")}
}

func (e *orderServiceEnv) addProduct(id int64, name string, priceCents int64) {
	e.products.products[id] = &models.Product{ID: id, Name: name, PriceCents: priceCents}
}

func TestOrderService_CreateOrder_Success(t *testing.T) {
	env := newOrderServiceEnv(t)
	env.addUser(1, "buyer@example.com")
	// каталог: товар 7 по 10.00, товар 9 по 5.00
	env.addProduct(7, "t-shirt", 1000)
	env.addProduct(9, "mug", 500)

	env.mock.ExpectBegin()
	env.mock.ExpectCommit()

	result, err := env.svc.CreateOrder(context.Background(), 1, models.Cart{7: 2, 9: 1})
	assert.NoError(t, err)
	assert.Equal(t, int64(2500), result.TotalCents, "total should be 2*10.00 + 1*5.00 = 25.00")

	stored := env.orders.orders[result.OrderID]
	assert.Equal(t, models.OrderStatusCreated, stored.Status)
	assert.NotNil(t, stored.VerificationToken, "a fresh token must be attached")
	assert.Len(t, stored.Items, 2)
	// позиции идут в порядке возрастания id товара
	assert.Equal(t, int64(7), stored.Items[0].ProductID)
	assert.Equal(t, 2, stored.Items[0].Quantity)
	assert.Equal(t, int64(1000), stored.Items[0].PriceCents)
	assert.Equal(t, int64(9), stored.Items[1].ProductID)

	// ровно одно письмо со ссылкой подтверждения
	assert.Len(t, env.dispatcher.sent, 1)
	assert.Equal(t, "buyer@example.com", env.dispatcher.sent[0].To)
	assert.Equal(t, "order_verification", env.dispatcher.sent[0].Template)

	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestOrderService_CreateOrder_PriceSnapshotFrozen(t *testing.T) {
	env := newOrderServiceEnv(t)
	env.addUser(1, "buyer@example.com")
	env.addProduct(7, "t-shirt", 1000)

	env.mock.ExpectBegin()
	env.mock.ExpectCommit()

	result, err := env.svc.CreateOrder(context.Background(), 1, models.Cart{7: 3})
	assert.NoError(t, err)
	assert.Equal(t, int64(3000), result.TotalCents)

	// цена каталога меняется после создания заказа
	env.products.products[7].PriceCents = 99999

	stored := env.orders.orders[result.OrderID]
	assert.Equal(t, int64(3000), stored.TotalCents, "order total must not follow catalog price changes")
	assert.Equal(t, int64(1000), stored.Items[0].PriceCents, "item price is a snapshot taken at creation")
}

func TestOrderService_CreateOrder_EmptyCart(t *testing.T) {
	env := newOrderServiceEnv(t)
	env.addUser(1, "buyer@example.com")

	_, err := env.svc.CreateOrder(context.Background(), 1, models.Cart{})
	assert.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrEmptyCart))
	assert.Empty(t, env.dispatcher.sent, "no mail for rejected cart")
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestOrderService_CreateOrder_InvalidQuantity(t *testing.T) {
	env := newOrderServiceEnv(t)
	env.addUser(1, "buyer@example.com")
	env.addProduct(7, "t-shirt", 1000)

	_, err := env.svc.CreateOrder(context.Background(), 1, models.Cart{7: 0})
	assert.True(t, errors.Is(err, service.ErrInvalidQuantity))

	_, err = env.svc.CreateOrder(context.Background(), 1, models.Cart{7: -2})
	assert.True(t, errors.Is(err, service.ErrInvalidQuantity))
	assert.Empty(t, env.orders.orders, "no order may be created")
}

func TestOrderService_CreateOrder_UnknownProduct(t *testing.T) {
	env := newOrderServiceEnv(t)
	env.addUser(1, "buyer@example.com")
	env.addProduct(7, "t-shirt", 1000)

	env.mock.ExpectBegin()
	env.mock.ExpectRollback()

	_, err := env.svc.CreateOrder(context.Background(), 1, models.Cart{7: 1, 404: 1})
	assert.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrProductNotFound))
	assert.Empty(t, env.orders.orders, "rejected wholesale, no partial acceptance")
	assert.Empty(t, env.dispatcher.sent)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestOrderService_CreateOrder_MailFailureIsNotFatal(t *testing.T) {
	env := newOrderServiceEnv(t)
	env.addUser(1, "buyer@example.com")
	env.addProduct(7, "t-shirt", 1000)
	env.dispatcher.err = errors.New("smtp unreachable")

	env.mock.ExpectBegin()
	env.mock.ExpectCommit()

	result, err := env.svc.CreateOrder(context.Background(), 1, models.Cart{7: 1})
	assert.NoError(t, err, "order creation survives a notification failure")
	assert.NotNil(t, env.orders.orders[result.OrderID])
}

func TestOrderService_Verify_CreatedGoesToAwaitingPayment(t *testing.T) {
	env := newOrderServiceEnv(t)
	token := "tok-create"
	env.orders.orders[5] = &models.Order{
		ID: 5, UserID: 1, Status: models.OrderStatusCreated,
		VerificationToken: &token, TotalCents: 2500,
	}

	env.mock.ExpectBegin()
	env.mock.ExpectCommit()

	result, err := env.svc.Verify(context.Background(), token)
	assert.NoError(t, err)
	assert.Equal(t, int64(5), result.OrderID)
	assert.Equal(t, service.VerifyOutcomePaymentRequired, result.Outcome)

	stored := env.orders.orders[5]
	assert.Equal(t, models.OrderStatusAwaitingPayment, stored.Status)
	assert.Nil(t, stored.VerificationToken, "token is consumed by the transition")
	assert.Empty(t, env.dispatcher.sent, "verify never sends mail")
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestOrderService_Verify_AwaitingConfirmationGoesToConfirmed(t *testing.T) {
	env := newOrderServiceEnv(t)
	token := "tok-pay"
	env.orders.orders[5] = &models.Order{
		ID: 5, UserID: 1, Status: models.OrderStatusAwaitingPaymentConfirmation,
		VerificationToken: &token, TotalCents: 2500,
	}

	env.mock.ExpectBegin()
	env.mock.ExpectCommit()

	result, err := env.svc.Verify(context.Background(), token)
	assert.NoError(t, err)
	assert.Equal(t, service.VerifyOutcomeConfirmed, result.Outcome)

	stored := env.orders.orders[5]
	assert.Equal(t, models.OrderStatusConfirmed, stored.Status)
	assert.Nil(t, stored.VerificationToken)
}

func TestOrderService_Verify_SecondCallIsNoOp(t *testing.T) {
	env := newOrderServiceEnv(t)
	token := "tok-once"
	env.orders.orders[5] = &models.Order{
		ID: 5, UserID: 1, Status: models.OrderStatusCreated,
		VerificationToken: &token, TotalCents: 2500,
	}

	env.mock.ExpectBegin()
	env.mock.ExpectCommit()
	env.mock.ExpectBegin()
	env.mock.ExpectRollback()

	_, err := env.svc.Verify(context.Background(), token)
	assert.NoError(t, err)

	// повторный клик по той же ссылке: токен уже погашен
	_, err = env.svc.Verify(context.Background(), token)
	assert.True(t, errors.Is(err, storage.ErrTokenNotFound))

	stored := env.orders.orders[5]
	assert.Equal(t, models.OrderStatusAwaitingPayment, stored.Status, "no double transition")
	assert.Empty(t, env.dispatcher.sent, "no duplicate notification")
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestOrderService_Verify_UnknownToken(t *testing.T) {
	env := newOrderServiceEnv(t)

	env.mock.ExpectBegin()
	env.mock.ExpectRollback()

	_, err := env.svc.Verify(context.Background(), "no-such-token")
	assert.True(t, errors.Is(err, storage.ErrTokenNotFound))
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestOrderService_Verify_NoTransitionForStatus(t *testing.T) {
	env := newOrderServiceEnv(t)
	// защитная ветка: токен почему-то остался у уже обработанного заказа
	token := "tok-stale"
	env.orders.orders[5] = &models.Order{
		ID: 5, UserID: 1, Status: models.OrderStatusConfirmed,
		VerificationToken: &token, TotalCents: 2500,
	}

	env.mock.ExpectBegin()
	env.mock.ExpectRollback()

	result, err := env.svc.Verify(context.Background(), token)
	assert.NoError(t, err)
	assert.Equal(t, service.VerifyOutcomeAlreadyProcessed, result.Outcome)
	assert.Equal(t, models.OrderStatusConfirmed, env.orders.orders[5].Status, "status is untouched")
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func validCard() service.CardDetails {
	return service.CardDetails{
		CardNumber: "4111111111111111",
		Expiry:     "12/27",
		CVC:        "123",
	}
}

func TestOrderService_SubmitPayment_Success(t *testing.T) {
	env := newOrderServiceEnv(t)
	env.addUser(1, "buyer@example.com")
	env.orders.orders[5] = &models.Order{
		ID: 5, UserID: 1, Status: models.OrderStatusAwaitingPayment, TotalCents: 2500,
	}

	env.mock.ExpectBegin()
	env.mock.ExpectCommit()

	err := env.svc.SubmitPayment(context.Background(), 5, 1, validCard())
	assert.NoError(t, err)

	stored := env.orders.orders[5]
	assert.Equal(t, models.OrderStatusAwaitingPaymentConfirmation, stored.Status)
	assert.NotNil(t, stored.VerificationToken, "a new token is minted for the payment confirmation step")

	assert.Len(t, env.dispatcher.sent, 1)
	assert.Equal(t, "payment_verification", env.dispatcher.sent[0].Template)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestOrderService_SubmitPayment_InvalidCardLeavesStateUntouched(t *testing.T) {
	env := newOrderServiceEnv(t)
	env.addUser(1, "buyer@example.com")
	env.orders.orders[5] = &models.Order{
		ID: 5, UserID: 1, Status: models.OrderStatusAwaitingPayment, TotalCents: 2500,
	}

	card := validCard()
	card.CardNumber = "1234"

	err := env.svc.SubmitPayment(context.Background(), 5, 1, card)
	var validationErr *service.ValidationError
	assert.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "cardNumber", validationErr.Field)

	stored := env.orders.orders[5]
	assert.Equal(t, models.OrderStatusAwaitingPayment, stored.Status, "resubmission stays possible")
	assert.Nil(t, stored.VerificationToken)
	assert.Empty(t, env.dispatcher.sent)
	// до БД дело не доходит: формат проверяется первым
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestOrderService_SubmitPayment_NotOwner(t *testing.T) {
	env := newOrderServiceEnv(t)
	env.addUser(2, "stranger@example.com")
	env.orders.orders[5] = &models.Order{
		ID: 5, UserID: 1, Status: models.OrderStatusAwaitingPayment, TotalCents: 2500,
	}

	env.mock.ExpectBegin()
	env.mock.ExpectRollback()

	err := env.svc.SubmitPayment(context.Background(), 5, 2, validCard())
	assert.True(t, errors.Is(err, service.ErrForbidden))
	assert.Equal(t, models.OrderStatusAwaitingPayment, env.orders.orders[5].Status)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestOrderService_SubmitPayment_WrongStatus(t *testing.T) {
	env := newOrderServiceEnv(t)
	env.addUser(1, "buyer@example.com")
	env.orders.orders[5] = &models.Order{
		ID: 5, UserID: 1, Status: models.OrderStatusConfirmed, TotalCents: 2500,
	}

	env.mock.ExpectBegin()
	env.mock.ExpectRollback()

	err := env.svc.SubmitPayment(context.Background(), 5, 1, validCard())
	assert.True(t, errors.Is(err, service.ErrInvalidOrderState))
	assert.Equal(t, models.OrderStatusConfirmed, env.orders.orders[5].Status, "already-confirmed order is unchanged")
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestOrderService_GetOrder_OwnerOnly(t *testing.T) {
	env := newOrderServiceEnv(t)
	env.orders.orders[5] = &models.Order{ID: 5, UserID: 1, Status: models.OrderStatusConfirmed, TotalCents: 2500}

	order, err := env.svc.GetOrder(context.Background(), 5, 1)
	assert.NoError(t, err)
	assert.Equal(t, int64(5), order.ID)

	_, err = env.svc.GetOrder(context.Background(), 5, 2)
	assert.True(t, errors.Is(err, service.ErrForbidden))

	_, err = env.svc.GetOrder(context.Background(), 404, 1)
	assert.True(t, errors.Is(err, storage.ErrOrderNotFound))
}
