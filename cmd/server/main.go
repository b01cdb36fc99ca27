package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/ignatzorin/escrow-backend/internal/config"
	"github.com/ignatzorin/escrow-backend/internal/db"
	"github.com/ignatzorin/escrow-backend/internal/domain/repository"
	"github.com/ignatzorin/escrow-backend/internal/events"
	"github.com/ignatzorin/escrow-backend/internal/goroutine"
	httpHandlers "github.com/ignatzorin/escrow-backend/internal/http/handlers"
	httpRouter "github.com/ignatzorin/escrow-backend/internal/http/router"
	"github.com/ignatzorin/escrow-backend/internal/infrastructure/memory"
	"github.com/ignatzorin/escrow-backend/internal/infrastructure/persistence"
	"github.com/ignatzorin/escrow-backend/internal/ledger"
	"github.com/ignatzorin/escrow-backend/internal/lock"
	"github.com/ignatzorin/escrow-backend/internal/logger"
	"github.com/ignatzorin/escrow-backend/internal/metrics"
	"github.com/ignatzorin/escrow-backend/internal/scheduler"
	"github.com/ignatzorin/escrow-backend/internal/service"
	"github.com/ignatzorin/escrow-backend/internal/storage"
	"github.com/ignatzorin/escrow-backend/internal/ws"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}
	logger.Init(cfg.LogLevel, cfg.IsProduction())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	health := map[string]httpHandlers.Pinger{}

	// Хранилище.
	var st repository.UnitOfWork
	switch cfg.StorageDriver {
	case config.StorageMemory:
		logger.Log.Warn("main: используется in-memory хранилище, данные не переживут перезапуск")
		st = memory.NewStore()
	default:
		dbConn, err := db.NewPostgres(ctx, cfg.DatabaseURL, db.DefaultPool)
		if err != nil {
			logger.Log.Fatalf("main: ошибка подключения к базе: %v", err)
		}
		defer safeClose(dbConn)

		if err := db.RunMigrations(ctx, dbConn, cfg.MigrationsPath); err != nil {
			logger.Log.Fatalf("main: ошибка миграций: %v", err)
		}
		st = persistence.NewPostgresStore(dbConn)
		health["database"] = dbConn
	}

	// Блокировки заказов и планировщика.
	var locker lock.Locker
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Log.Fatalf("main: некорректный REDIS_URL: %v", err)
		}
		client := redis.NewClient(opts)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Log.Fatalf("main: redis недоступен: %v", err)
		}
		locker, err = lock.NewRedisLocker(client, cfg.LockTTL, cfg.LockWait)
		if err != nil {
			logger.Log.Fatalf("main: %v", err)
		}
		health["redis"] = httpHandlers.PingFunc(func(ctx context.Context) error { return client.Ping(ctx).Err() })
	} else {
		logger.Log.Warn("main: REDIS_URL не задан, блокировки работают только внутри процесса")
		locker = lock.NewLocalLocker(cfg.LockWait)
	}

	provider, err := newLedger(cfg)
	if err != nil {
		logger.Log.Fatalf("main: %v", err)
	}
	provider = ledger.Instrument(provider, metrics.NewLedgerMetrics(reg))

	// Доставка событий: вебсокеты и лог.
	hub := ws.NewHub()
	goroutine.SafeGoWithContext(ctx, hub.Run)
	dispatcher := events.NewDispatcher(st.Events(), hub, events.LogSink{})
	goroutine.SafeGoWithContext(ctx, dispatcher.Run)

	evidence, err := storage.NewEvidenceStorage(cfg.EvidenceStoragePath, cfg.MaxUploadSizeMB)
	if err != nil {
		logger.Log.Fatalf("main: не удалось подготовить хранилище доказательств: %v", err)
	}

	// Сервисы.
	deps := service.Deps{
		Store:    st,
		Ledger:   provider,
		Locker:   locker,
		Notifier: dispatcher,
	}
	orderService := service.NewOrderService(deps)
	disputeService := service.NewDisputeService(deps, service.DisputePolicy{
		AutoResolutionWindow: cfg.AutoResolutionWindow,
		MediationWindow:      cfg.MediationWindow,
		Default:              cfg.DisputeDefaultPolicy,
	}, evidence)
	orderService.UseSettlements(disputeService)
	ledgerService := service.NewLedgerService(deps)
	tokenManager := service.NewTokenManager(cfg.JWTSecret, 24*time.Hour)

	// Планировщик фоновых задач.
	sched, err := scheduler.NewService(scheduler.Params{
		Registry: scheduler.NewRegistry(scheduler.DefaultJobs(orderService, disputeService, dispatcher, cfg.SchedulerBatchSize)...),
		Locker:   locker,
		Metrics:  metrics.NewSchedulerMetrics(reg),
		Interval: cfg.SchedulerInterval,
	})
	if err != nil {
		logger.Log.Fatalf("main: %v", err)
	}
	goroutine.SafeGoWithContext(ctx, func(ctx context.Context) {
		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Log.WithError(err).Error("main: планировщик остановлен с ошибкой")
		}
	})

	// HTTP.
	engine := httpRouter.SetupRouter(cfg, httpRouter.Handlers{
		Orders:   httpHandlers.NewOrderHandler(orderService),
		Disputes: httpHandlers.NewDisputeHandler(disputeService, cfg.MaxUploadSizeMB),
		Ledger:   httpHandlers.NewLedgerHandler(ledgerService),
		Health:   httpHandlers.NewHealthHandler(health),
		WS:       httpHandlers.NewWSHandler(hub, tokenManager, cfg.AllowedOrigins),
	}, tokenManager, reg)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Завершаем сервер при получении сигнала.
	goroutine.SafeGo(func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Log.WithError(err).Error("main: ошибка остановки http сервера")
		}
	})

	logger.Log.Infof("main: HTTP сервер запущен на порту %s", cfg.HTTPPort)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Log.Fatalf("main: сервер завершился с ошибкой: %v", err)
	}
}

func newLedger(cfg *config.Config) (ledger.Provider, error) {
	switch cfg.LedgerDriver {
	case config.LedgerSandbox:
		logger.Log.Warn("main: используется sandbox провайдер, реальные деньги не двигаются")
		return ledger.NewSandbox(), nil
	case config.LedgerHTTP:
		return ledger.NewHTTPGateway(ledger.HTTPGatewayConfig{
			BaseURL:  cfg.LedgerBaseURL,
			APIKey:   cfg.LedgerAPIKey,
			Currency: cfg.Currency,
			Timeout:  cfg.LedgerTimeout,
			RPS:      cfg.LedgerRPS,
			Burst:    int(max(cfg.LedgerRPS, 1)),
		}), nil
	default:
		return nil, fmt.Errorf("неизвестный LEDGER_DRIVER %q", cfg.LedgerDriver)
	}
}

// safeClose закрывает соединение с базой.
func safeClose(conn *sqlx.DB) {
	if err := conn.Close(); err != nil {
		logger.Log.WithError(err).Error("main: ошибка закрытия базы")
	}
}
