package main

import (
	"context"

	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"

	"github.com/baha0x13/E-commerce/internal/app"
	"github.com/baha0x13/E-commerce/internal/app/handlers"
	"github.com/baha0x13/E-commerce/internal/config"
	"github.com/baha0x13/E-commerce/internal/jwt-new/jwtmiddleware"
	"github.com/baha0x13/E-commerce/internal/lib/logger"
	"github.com/baha0x13/E-commerce/internal/lib/logger/handlers/urllog"
	"github.com/baha0x13/E-commerce/internal/lib/token"
	"github.com/baha0x13/E-commerce/internal/notify"
	"github.com/baha0x13/E-commerce/internal/service"
	"github.com/baha0x13/E-commerce/internal/storage"
)

func main() {
	// загрузка конфигурации
	cfg := config.MustLoad()

	// инициализация логгера, зависит от настройки окружения
	log := logger.SetupLogger(cfg.Env)
	log.Info("starting app", slog.String("env", cfg.Env))

	// загружаем объект приложения, конфигом и подключением к БД
	application, err := app.NewApp(log, cfg)
	if err != nil {
		log.Error("failed to initialize app", slog.Any("error", err))
		panic(errors.Wrap(err, "failed to initialize app"))
	}
	defer application.DB.Close()

	router := chi.NewRouter()
	// настройка middleware
	router.Use(middleware.RequestID)
	router.Use(urllog.CustomLoggerMiddleware(log))
	router.Use(middleware.Recoverer)
	router.Use(middleware.URLFormat)

	// реализация слоев по работе с БД по каждому направлению
	userRepo := storage.NewUserRepository(application.DB)
	productRepo := storage.NewProductRepository(application.DB)
	orderRepo := storage.NewOrderRepository(application.DB)

	// для локальной разработки письма пишутся в лог вместо SMTP
	var dispatcher notify.Dispatcher
	if cfg.Env == logger.EnvLocal {
		dispatcher, err = notify.NewLogDispatcher(log)
	} else {
		dispatcher, err = notify.NewSMTPDispatcher(log, cfg.Mail)
	}
	if err != nil {
		log.Error("failed to initialize mail dispatcher", slog.Any("error", err))
		panic(errors.Wrap(err, "failed to initialize mail dispatcher"))
	}

	authService := service.NewAuthService(application.Logger, userRepo, time.Duration(application.Config.JWT.TokenTTL)*time.Minute)
	orderService := service.NewOrderService(
		application.Logger,
		application.DB,
		userRepo,
		productRepo,
		orderRepo,
		token.NewIssuer(),
		dispatcher,
		cfg.App.BaseURL,
	)

	// эндпоинт для аутентификации
	router.Post("/api/auth", handlers.AuthHandler(application.Logger, authService))

	// переход по ссылке из письма: без сессии, токен сам по себе полномочие
	router.Get("/order/verify/{token}", handlers.VerifyOrderHandler(application.Logger, orderService))

	router.Group(func(r chi.Router) {
		jwtMW := jwtmiddleware.NewJWTMiddleware()
		r.Use(jwtMW)
		// создание заказа из снимка корзины
		r.Post("/api/order", handlers.CreateOrderHandler(application.Logger, orderService))
		// заказы текущего пользователя
		r.Get("/api/order/user", handlers.OrderListHandler(application.Logger, orderService))
		// заказ с позициями (только владельцу)
		r.Get("/api/order/{id}", handlers.OrderDetailHandler(application.Logger, orderService))
		// отправка платёжных полей по заказу
		r.Post("/order/{id}/payment", handlers.PaymentHandler(application.Logger, orderService))
	})

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		log.Info("starting server", slog.String("address", cfg.HTTPServer.Address))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.Any("error", err))
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	stopSign := <-stop
	log.Info("received shutdown signal", slog.String("signal", stopSign.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server shutdown failed", slog.Any("error", err))
	}
	log.Info("server gracefully stopped")
}
