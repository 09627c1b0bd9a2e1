// Package service wires the check-in engine together from configuration.
package service

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/mithzak/are-you-dead/common/database"
	commonmqtt "github.com/mithzak/are-you-dead/common/mqtt"
	commonredis "github.com/mithzak/are-you-dead/common/redis"
	"github.com/mithzak/are-you-dead/internal/checkin"
	"github.com/mithzak/are-you-dead/internal/clock"
	"github.com/mithzak/are-you-dead/internal/config"
	"github.com/mithzak/are-you-dead/internal/dispatcher"
	"github.com/mithzak/are-you-dead/internal/httpapi"
	"github.com/mithzak/are-you-dead/internal/metrics"
	"github.com/mithzak/are-you-dead/internal/models"
	"github.com/mithzak/are-you-dead/internal/repository"
	"github.com/mithzak/are-you-dead/internal/seed"
	"github.com/mithzak/are-you-dead/internal/store"
	"github.com/mithzak/are-you-dead/internal/watchdog"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// SafeCheckService owns every component and its connections
type SafeCheckService struct {
	config *config.Config
	clock  clock.Clock
	logger *zap.Logger

	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *commonmqtt.Client

	metrics  *metrics.Metrics
	store    store.LivenessStore
	checkin  *checkin.Service
	async    *dispatcher.AsyncDispatcher
	watchdog *watchdog.Watchdog
	relay    *dispatcher.StreamRelay
	router   *httpapi.Router

	stopOnce sync.Once
}

// NewSafeCheckService connects the configured backends. clk nil means the real clock.
func NewSafeCheckService(ctx context.Context, cfg *config.Config, clk clock.Clock, logger *zap.Logger) (*SafeCheckService, error) {
	if clk == nil {
		clk = clock.Real()
	}
	s := &SafeCheckService{
		config:  cfg,
		clock:   clk,
		logger:  logger,
		metrics: metrics.NewMetrics(),
	}
	if err := s.init(ctx); err != nil {
		s.closeConnections()
		return nil, err
	}
	return s, nil
}

func (s *SafeCheckService) init(ctx context.Context) error {
	cfg := s.config

	// 1. connections
	if cfg.StoreBackend == config.StorePostgres {
		db, err := database.NewPostgresDB(&cfg.Database)
		if err != nil {
			return err
		}
		s.db = db
	}
	if cfg.StoreBackend == config.StoreRedis || cfg.Dispatch.Mode == config.DispatchStream {
		client, err := commonredis.Connect(ctx, &cfg.Redis)
		if err != nil {
			return err
		}
		s.redisClient = client
	}
	if cfg.MQTT.Broker != "" && cfg.Dispatch.Mode != config.DispatchLog {
		client, err := commonmqtt.NewClient(&cfg.MQTT, s.logger)
		if err != nil {
			return err
		}
		s.mqttClient = client
	}

	// 2. store and history
	var history repository.CheckInLogRepository
	var events *repository.EscalationEventsRepository
	switch cfg.StoreBackend {
	case config.StorePostgres:
		pg := store.NewPostgresStore(s.db, s.logger)
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		checkIns := repository.NewPostgresCheckInLog(s.db, s.logger)
		if err := checkIns.EnsureSchema(ctx); err != nil {
			return err
		}
		s.store = pg
		history = checkIns
		if cfg.EscalationLogEnabled {
			events = repository.NewEscalationEventsRepository(s.db, s.logger)
			if err := events.EnsureSchema(ctx); err != nil {
				return err
			}
		}
	case config.StoreRedis:
		s.store = store.NewRedisStore(s.redisClient, cfg.RedisKeyPrefix, s.logger)
		history = repository.NewMemoryCheckInLog(cfg.HistoryPerUser)
	default:
		s.store = store.NewMemoryStore()
		history = repository.NewMemoryCheckInLog(cfg.HistoryPerUser)
	}

	var recorder dispatcher.OutcomeRecorder
	var escalationLog checkin.EscalationLog
	if events != nil {
		recorder = events
		escalationLog = events
	}

	// 3. dispatch
	var next dispatcher.Dispatcher
	switch cfg.Dispatch.Mode {
	case config.DispatchRouter:
		next = s.newRouter()
	case config.DispatchStream:
		next = dispatcher.NewStreamDispatcher(s.redisClient, cfg.Dispatch.Stream, s.logger)
		if cfg.Dispatch.StreamRelay {
			hostname, _ := os.Hostname()
			s.relay = dispatcher.NewStreamRelay(
				s.redisClient,
				cfg.Dispatch.Stream,
				cfg.Dispatch.StreamGroup,
				hostname,
				s.newRouter(),
				recorder,
				s.logger,
			)
			// the relay records the delivery outcome; the hand-off is not recorded twice
			recorder = nil
		}
	default:
		next = dispatcher.NewLogDispatcher(s.logger)
	}
	s.async = dispatcher.NewAsyncDispatcher(next, recorder, cfg.Dispatch.Concurrency, s.metrics, s.logger)

	// 4. engine
	s.checkin = checkin.NewService(s.store, history, escalationLog, s.clock, cfg.Watchdog.InactivityLimit, s.metrics, s.logger)
	s.watchdog = watchdog.NewWatchdog(
		s.store,
		s.async,
		s.clock,
		watchdog.Config{
			ScanInterval:    cfg.Watchdog.ScanInterval,
			InactivityLimit: cfg.Watchdog.InactivityLimit,
		},
		s.metrics,
		s.logger,
	)

	// 5. HTTP
	s.router = httpapi.NewRouter(s.metrics, s.logger)
	s.router.RegisterRoutes(httpapi.NewHandler(s.checkin, s.logger))
	s.router.HandleHandler("/metrics", s.metrics.Handler())

	s.logger.Info("Safecheck service initialized",
		zap.String("store_backend", cfg.StoreBackend),
		zap.String("dispatch_mode", cfg.Dispatch.Mode),
		zap.Bool("stream_relay", s.relay != nil),
		zap.Bool("escalation_log", events != nil),
		zap.Bool("mqtt", s.mqttClient != nil),
	)
	return nil
}

// newRouter per-channel senders; channels without a configured gateway stay unrouted
func (s *SafeCheckService) newRouter() *dispatcher.Router {
	cfg := s.config
	router := dispatcher.NewRouter(s.logger)
	if cfg.Dispatch.WebhookURL != "" {
		webhook := dispatcher.NewWebhookSender(dispatcher.WebhookConfig{
			URL:        cfg.Dispatch.WebhookURL,
			Timeout:    cfg.Dispatch.WebhookTimeout,
			RetryCount: cfg.Dispatch.WebhookRetryCount,
			AuthToken:  cfg.Dispatch.WebhookAuthToken,
		}, s.logger)
		router.Handle(models.ChannelPhone, webhook).Handle(models.ChannelEmail, webhook)
	}
	if s.mqttClient != nil {
		router.Handle(models.ChannelAppUser, dispatcher.NewMQTTSender(s.mqttClient, cfg.Dispatch.MQTTTopicPrefix, s.logger))
	}
	return router
}

// Seed registers users from path (or seed.Demo)
func (s *SafeCheckService) Seed(ctx context.Context, path string) error {
	f, err := seed.Load(path)
	if err != nil {
		return err
	}
	_, err = seed.Apply(ctx, s.checkin, f, s.clock.Now(), s.logger)
	return err
}

// Handler HTTP API
func (s *SafeCheckService) Handler() http.Handler {
	return s.router
}

// CheckIn application service
func (s *SafeCheckService) CheckIn() *checkin.Service {
	return s.checkin
}

// Watchdog escalation scanner
func (s *SafeCheckService) Watchdog() *watchdog.Watchdog {
	return s.watchdog
}

// Start runs the watchdog (and the stream relay) until ctx is cancelled
func (s *SafeCheckService) Start(ctx context.Context) error {
	s.logger.Info("Starting safecheck service")

	var wg sync.WaitGroup
	if s.relay != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.relay.Run(ctx); err != nil {
				s.logger.Error("Stream relay exited", zap.Error(err))
			}
		}()
	}

	err := s.watchdog.Start(ctx)
	wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to start watchdog: %w", err)
	}
	return nil
}

// Stop waits for in-flight deliveries (bounded by ctx) and closes connections
func (s *SafeCheckService) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping safecheck service")
		if s.async != nil {
			if err = s.async.Close(ctx); err != nil {
				s.logger.Error("Deliveries still in flight at shutdown", zap.Error(err))
			}
		}
		s.closeConnections()
	})
	return err
}

func (s *SafeCheckService) closeConnections() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("Failed to close store", zap.Error(err))
		}
	}
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if s.redisClient != nil {
		if err := commonredis.Close(s.redisClient); err != nil {
			s.logger.Error("Failed to close redis", zap.Error(err))
		}
	}
	if err := database.Close(s.db); err != nil {
		s.logger.Error("Failed to close database", zap.Error(err))
	}
}
