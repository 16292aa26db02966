package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hadadahealth/reports/internal/config"
	"github.com/hadadahealth/reports/internal/domain/aicache"
	"github.com/hadadahealth/reports/internal/domain/clinical"
	"github.com/hadadahealth/reports/internal/domain/report"
	"github.com/hadadahealth/reports/internal/platform/db"
	"github.com/hadadahealth/reports/internal/platform/hipaa"
	"github.com/hadadahealth/reports/internal/platform/llm"
	"github.com/hadadahealth/reports/internal/platform/metrics"
	"github.com/hadadahealth/reports/internal/platform/notification"
	"github.com/hadadahealth/reports/internal/platform/websocket"
)

// app holds the wired services shared by serve and sweep.
type app struct {
	cache         *aicache.Service
	reports       *report.Service
	notifications *notification.Dispatcher
	live          *websocket.Hub
	redis         *redis.Client
	closers       []func() error
}

func newApp(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger, m *metrics.Metrics) (*app, error) {
	a := &app{}

	sinks := []hipaa.Sink{hipaa.NewLogSink(logger), hipaa.NewPGSink(pool)}
	if len(cfg.KafkaBrokers) > 0 {
		ks := hipaa.NewKafkaSink(cfg.KafkaBrokers, cfg.AuditTopic)
		sinks = append(sinks, ks)
		a.closers = append(a.closers, ks.Close)
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.AuditTopic).Msg("audit stream publishing to kafka")
	}
	trail := hipaa.NewTrail(logger, sinks...)

	var gen llm.Generator = llm.OfflineGenerator{}
	if cfg.GeneratorURL != "" {
		gen = llm.NewHTTPGenerator(llm.HTTPConfig{
			Endpoint: cfg.GeneratorURL,
			APIKey:   cfg.GeneratorAPIKey,
			Model:    cfg.GeneratorModel,
			Timeout:  cfg.GeneratorTimeout,
			RPS:      cfg.GeneratorRPS,
		})
	}

	var locker aicache.Locker
	if cfg.RedisURL != "" {
		rl, client, err := aicache.NewRedisLocker(ctx, cfg.RedisURL, 2*cfg.GeneratorTimeout)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		locker = rl
		a.redis = client
		a.closers = append(a.closers, client.Close)
	}

	records := clinical.NewRecordSourcePG(pool)
	a.cache = aicache.NewService(aicache.NewRepoPG(pool), clinical.NewAggregator(records), gen, logger, aicache.Config{
		TTL:              cfg.AICacheTTL,
		GeneratorTimeout: cfg.GeneratorTimeout,
		Locker:           locker,
		Trail:            trail,
		Metrics:          m,
	})

	a.live = websocket.NewHub(logger)
	a.notifications = notification.NewDispatcher(notification.NewRepoPG(pool), logger, m).WithPublisher(a.live)

	a.reports = report.NewService(report.Deps{
		Repo:           report.NewRepoPG(pool),
		Templates:      report.NewTemplateSourcePG(pool),
		Tx:             db.NewTxRunner(pool),
		Patients:       records,
		Content:        a.cache,
		Cache:          a.cache,
		Notifier:       a.notifications,
		Metrics:        m,
		Logger:         logger,
		ReminderWindow: cfg.ReminderWindow,
	})
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}
