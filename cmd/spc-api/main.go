package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/system-policy-control/internal/audit"
	"github.com/xela07ax/system-policy-control/internal/console/handler"
	"github.com/xela07ax/system-policy-control/internal/console/server"
	"github.com/xela07ax/system-policy-control/internal/console/service"
	"github.com/xela07ax/system-policy-control/internal/engine"
	"github.com/xela07ax/system-policy-control/internal/infra"
	"github.com/xela07ax/system-policy-control/internal/repository/postgres"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// 2. Метрики на отдельном листенере
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(reg)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("metrics listener started", zap.String("addr", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", zap.Error(err))
		}
	}()

	// 3. Журнал изменений: Postgres, если настроен, иначе лог
	var storage audit.StorageInterface = audit.NewLogStorage(logger)
	if cfg.Audit.DatabaseURL != "" {
		repo, err := postgres.NewAuditRepo(cfg.Audit.DatabaseURL)
		if err != nil {
			logger.Fatal("audit database init failed", zap.Error(err))
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := repo.Ping(ctx); err != nil {
			logger.Fatal("audit database unreachable", zap.Error(err))
		}
		cancel()
		defer repo.Close()
		storage = repo
	}
	journal := audit.NewJournal(storage, cfg.Audit.BufferSize, cfg.Audit.BatchSize, cfg.Audit.FlushInterval,
		metrics.AuditBufferFill, logger)
	journal.Start()

	// 4. Уведомления об изменениях (опционально)
	var notifier service.Notifier = service.NopNotifier{}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		notifier = service.NewRedisNotifier(rdb, engine.DefaultRetryPolicy(), logger)
	}

	// 5. Граница с агентом и оркестратор
	invoker := engine.NewInvoker(engine.InvokerSettings{
		Timeout:       cfg.Agent.Timeout,
		RateLimit:     cfg.Agent.RateLimit,
		RateBurst:     cfg.Agent.RateBurst,
		CBMaxRequests: cfg.Agent.CBMaxRequests,
		CBInterval:    cfg.Agent.CBInterval,
		CBTimeout:     cfg.Agent.CBTimeout,
		CBFailures:    cfg.Agent.CBFailures,
	}, metrics, logger)
	policyService := service.NewPolicyService(cfg, invoker, journal, notifier, metrics, logger)

	// Версия протокола агента: несовместимость не фатальна, агент могут доставить позже
	checkCtx, checkCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if v, err := policyService.CheckAgentProtocol(checkCtx); err != nil {
		logger.Warn("agent protocol check failed", zap.String("agent_version", v), zap.Error(err))
	} else {
		logger.Info("agent protocol compatible", zap.String("agent_version", v))
	}
	checkCancel()

	// 6. HTTP Server
	api := server.NewPolicyServer(logger, metrics, handler.NewPolicyHandler(policyService, metrics, logger))
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 7. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("policy API started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("policy API stopping...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", zap.Error(err))
	}
	journal.Stop()
	logger.Info("policy API exited properly")
}
