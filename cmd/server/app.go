package main

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/application/contracts"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/application/controller"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/application/worker"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/domain/event"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/domain/extdata"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/infra/config"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/infra/logging"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/infra/metrics"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/infrastructure/encryption"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/infrastructure/eventbus"
	httpapi "github.com/rcarvalho-pb/payment_orchestrator-go/internal/infrastructure/http"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/infrastructure/lock"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/infrastructure/outbox"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/infrastructure/persistence/sqlite"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/plugins/gateway"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/plugins/sandbox"
)

type app struct {
	db         *sql.DB
	bus        *eventbus.InMemoryBus
	controller *controller.Controller
	repo       *sqlite.PaymentRepository
	dispatcher *outbox.Dispatcher
	recovery   *worker.Recovery
	attention  *worker.AttentionHandler
	logger     logging.Logger

	kafka *eventbus.KafkaPublisher
	redis *redis.Client
}

func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sqlite.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := sqlite.RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func newCodec(cfg config.EncryptionConfig) (*extdata.Codec, error) {
	if !cfg.Enabled {
		return extdata.NewCodec(nil), nil
	}
	svc, err := encryption.New(encryption.Config{
		Provider: encryption.Provider(cfg.Provider),
		Secret:   cfg.Secret,
		Cipher:   cfg.Cipher,
		Mode:     cfg.Mode,
	})
	if err != nil {
		return nil, err
	}
	return extdata.NewCodec(svc), nil
}

func newRegistry(cfg config.PluginsConfig) (*controller.Registry, error) {
	var entries []controller.Entry

	if len(cfg.Sandbox.Methods) > 0 {
		sbx := sandbox.New(cfg.Sandbox.Methods, cfg.Sandbox.ApprovalRate, cfg.Sandbox.PendingRate)
		for _, m := range cfg.Sandbox.Methods {
			entries = append(entries, controller.Entry{Method: m, Plugin: sbx})
		}
	}
	if len(cfg.Gateway.Methods) > 0 {
		gw := gateway.New(cfg.Gateway.URL, cfg.Gateway.Methods, cfg.Gateway.Timeout)
		for _, m := range cfg.Gateway.Methods {
			entries = append(entries, controller.Entry{Method: m, Plugin: gw})
		}
	}

	return controller.NewRegistry(entries...)
}

// build assembles the application. Nothing is started; serve runs the
// dispatcher and the HTTP server.
func build(cfg *config.Config, logger logging.Logger, reg prometheus.Registerer) (*app, error) {
	db, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{db: db, logger: logger}

	codec, err := newCodec(cfg.Encryption)
	if err != nil {
		a.Close()
		return nil, err
	}
	registry, err := newRegistry(cfg.Plugins)
	if err != nil {
		a.Close()
		return nil, err
	}

	prom, err := metrics.NewPrometheus(reg)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.repo = sqlite.NewPaymentRepository(db, codec)
	outboxRepo := outbox.NewSQLiteRepository(db)
	a.bus = eventbus.NewInMemoryBus()

	var publisher contracts.EventPublisher = a.bus
	if len(cfg.Kafka.Brokers) > 0 {
		a.kafka = &eventbus.KafkaPublisher{
			Writer:  eventbus.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic),
			Timeout: 5 * time.Second,
		}
		publisher = eventbus.Fanout{a.bus, a.kafka}
	}

	var locker controller.Locker
	if cfg.Redis.Addr != "" {
		a.redis = lock.NewRedisClient(cfg.Redis.Addr)
		locker = &lock.RedisLocker{Client: a.redis, TTL: cfg.Redis.LockTTL, Logger: logger}
	}

	retry := &worker.RetryScheduler{
		EventBus:  a.bus,
		MaxRetry:  cfg.Retry.MaxAttempts,
		BaseDelay: cfg.Retry.BaseDelay,
		MaxDelay:  cfg.Retry.MaxDelay,
		Logger:    logger,
	}

	a.controller = &controller.Controller{
		Registry: registry,
		Repo:     a.repo,
		Locker:   locker,
		Events:   &outbox.Recorder{Repo: outboxRepo},
		Retry:    retry,
		Logger:   logger,
		Metrics:  prom,
	}

	a.attention = &worker.AttentionHandler{Logger: logger}
	retryHandler := &worker.RetryHandler{
		Controller: a.controller,
		Scheduler:  retry,
		Logger:     logger,
		Timeout:    30 * time.Second,
	}

	a.bus.Subscribe(event.TransactionPending, retry.Handle)
	a.bus.Subscribe(event.TransactionRetryRequested, retryHandler.Handle)
	a.bus.Subscribe(event.AttentionRequired, a.attention.Handle)

	a.dispatcher = &outbox.Dispatcher{
		Repo:         outboxRepo,
		EventBus:     publisher,
		Logger:       logger,
		PollInterval: cfg.Outbox.PollInterval,
		BatchSize:    cfg.Outbox.BatchSize,
	}
	a.recovery = &worker.Recovery{
		Source:    a.repo,
		EventBus:  a.bus,
		Logger:    logger,
		BatchSize: cfg.Outbox.BatchSize,
	}

	logger.Info("application assembled", map[string]any{
		"payment_methods": registry.Methods(),
		"encryption":      codec.Encrypted(),
		"kafka":           a.kafka != nil,
		"redis_lock":      a.redis != nil,
	})
	return a, nil
}

func (a *app) router(serviceName string, metricsHandler http.Handler) *gin.Engine {
	return httpapi.NewRouter(serviceName, &httpapi.PaymentHandler{
		Controller: a.controller,
		Repo:       a.repo,
		Attention:  a.attention,
		Logger:     a.logger,
	}, metricsHandler)
}

func (a *app) Close() error {
	var errs []error
	if a.kafka != nil {
		errs = append(errs, a.kafka.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
