package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/BenoitPrmt/terrarium-monitor/internal/aggregate"
	"github.com/BenoitPrmt/terrarium-monitor/internal/alert"
	"github.com/BenoitPrmt/terrarium-monitor/internal/auth"
	"github.com/BenoitPrmt/terrarium-monitor/internal/config"
	"github.com/BenoitPrmt/terrarium-monitor/internal/consumer"
	"github.com/BenoitPrmt/terrarium-monitor/internal/database"
	httpapi "github.com/BenoitPrmt/terrarium-monitor/internal/http"
	"github.com/BenoitPrmt/terrarium-monitor/internal/logger"
	"github.com/BenoitPrmt/terrarium-monitor/internal/mqtt"
	"github.com/BenoitPrmt/terrarium-monitor/internal/ratelimit"
	"github.com/BenoitPrmt/terrarium-monitor/internal/repository"
	"github.com/BenoitPrmt/terrarium-monitor/internal/service"
	"github.com/BenoitPrmt/terrarium-monitor/internal/store"
	"github.com/BenoitPrmt/terrarium-monitor/internal/webhook"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, "terrarium-monitor")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// repositories: Postgres when available, in-memory fallback so the
	// ingest pipeline stays usable in local dev without a database
	var (
		db             *sql.DB
		terrariumsRepo repository.TerrariumRepo
		samplesRepo    repository.SampleRepo
		aggregatesRepo repository.AggregateRepo
		rulesRepo      repository.AlertRuleRepo
	)
	if cfg.DBEnabled {
		if d, err := database.Open(&cfg.Database); err == nil {
			db = d
			log.Info("DB enabled for terrarium-monitor")
		} else {
			log.Warn("DB enabled but connection failed, falling back to memory repositories", zap.Error(err))
		}
	}
	if db != nil {
		if err := repository.EnsureSchema(db); err != nil {
			log.Fatal("failed to ensure schema", zap.Error(err))
		}
		terrariumsRepo = repository.NewPostgresTerrariumRepo(db)
		samplesRepo = repository.NewPostgresSampleRepo(db)
		aggregatesRepo = repository.NewPostgresAggregateRepo(db)
		rulesRepo = repository.NewPostgresAlertRuleRepo(db)
	} else {
		terrariums := repository.NewMemoryTerrariumRepo()
		samples := repository.NewMemorySampleRepo()
		aggregates := repository.NewMemoryAggregateRepo()
		rules := repository.NewMemoryAlertRuleRepo()
		terrariums.AttachCascade(samples, aggregates, rules)
		terrariumsRepo = terrariums
		samplesRepo = samples
		aggregatesRepo = aggregates
		rulesRepo = rules
	}

	// optional Redis rule cache
	var kv store.KV
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		kv = store.NewRedisKV(redisClient)
		log.Info("rule cache enabled", zap.String("redis_addr", cfg.Redis.Addr))
	}

	// unsigned webhooks are easy to spoof; generate an ephemeral secret
	// when none is configured and tell the operator
	signingSecret := cfg.Webhook.SigningSecret
	if signingSecret == "" {
		generated, err := auth.NewSigningSecret(32)
		if err != nil {
			log.Fatal("failed to generate webhook signing secret", zap.Error(err))
		}
		signingSecret = generated
		log.Warn("WEBHOOK_SIGNATURE_SECRET not set, using an ephemeral secret; receivers cannot verify signatures across restarts")
	}

	dispatcher := webhook.NewDispatcher(
		cfg.Webhook.UserAgent,
		time.Duration(cfg.Webhook.TimeoutSec)*time.Second,
		cfg.Webhook.MaxRetries,
		log,
	)
	engine := aggregate.NewEngine(aggregatesRepo, log)
	ruleSource := alert.NewRuleSource(rulesRepo, kv, time.Duration(cfg.Ingest.RuleCacheTTLSec)*time.Second, log)
	evaluator := alert.NewEvaluator(ruleSource, dispatcher, signingSecret, log)
	monitor := alert.NewMonitor(terrariumsRepo, samplesRepo, dispatcher, signingSecret, log)

	limiter := ratelimit.NewLimiter()
	ingestSvc := service.NewIngestService(terrariumsRepo, samplesRepo, engine, evaluator, limiter, cfg.Ingest.RatePerMinute, log)
	terrariumSvc := service.NewTerrariumService(terrariumsRepo, log)
	ruleSvc := service.NewRuleService(rulesRepo, terrariumsRepo, ruleSource, log)

	router := httpapi.NewRouter(log)
	router.RegisterRecordRoutes(httpapi.NewRecordHandler(ingestSvc, cfg.Ingest.MaxBodyBytes, log))
	router.RegisterHealthCheckRoutes(httpapi.NewHealthCheckHandler(monitor, cfg.HealthCheck.CronSecret, log))
	router.RegisterAdminRoutes(
		httpapi.NewAdminHandler(terrariumSvc, ruleSvc, cfg.Admin.Token, log),
		httpapi.NewAggregatesHandler(samplesRepo, aggregatesRepo, log),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// raw sample retention
	sweeper := service.NewRetentionSweeper(samplesRepo, cfg.Ingest.RetentionDays, time.Hour, log)
	go sweeper.Run(ctx)

	// rate limiter window cleanup
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ingestSvc.PruneRateLimiter()
			}
		}
	}()

	// optional MQTT ingestion bridge
	var mqttConsumer *consumer.MQTTConsumer
	if cfg.MQTT.Enabled {
		client, err := mqtt.NewClient(&cfg.MQTT, log)
		if err != nil {
			log.Fatal("failed to connect MQTT broker", zap.Error(err))
		}
		defer client.Disconnect()

		mqttConsumer = consumer.NewMQTTConsumer(&cfg.MQTT, client, ingestSvc, log)
		go func() {
			if err := mqttConsumer.Start(ctx); err != nil {
				log.Error("MQTT consumer stopped with error", zap.Error(err))
			}
		}()
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", cfg.HTTP.Addr))
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("HTTP server failed", zap.Error(err))
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	if mqttConsumer != nil {
		_ = mqttConsumer.Stop(shutdownCtx)
	}

	// let in-flight aggregation and alert tasks finish
	ingestSvc.Flush()

	if redisClient != nil {
		_ = redisClient.Close()
	}
	if db != nil {
		_ = db.Close()
	}
}
