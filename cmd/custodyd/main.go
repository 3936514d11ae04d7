package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"chain-custody/internal/api"
	"chain-custody/internal/audit"
	"chain-custody/internal/chain"
	"chain-custody/internal/chain/registry"
	"chain-custody/internal/config"
	"chain-custody/internal/custody"
	"chain-custody/internal/ledger"
	"chain-custody/internal/observability/alerting"
	"chain-custody/internal/reconciler"
	"chain-custody/pkg/logger"
)

// main 是托管守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("custodyd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("CUSTODY_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "custody.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logger.Level,
		Format:      cfg.Logger.Format,
		OutputPaths: cfg.Logger.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logger.Audit.Enabled,
			Path:       cfg.Logger.Audit.Path,
			MaxSizeMB:  cfg.Logger.Audit.MaxSizeMB,
			MaxBackups: cfg.Logger.Audit.MaxBackups,
			MaxAgeDays: cfg.Logger.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	store, err := createStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	defs, err := chain.LoadDefinitions(cfg.Chains.DefinitionsFile)
	if err != nil {
		return err
	}

	rpcTimeout := time.Duration(cfg.Reconciler.RPCTimeoutSeconds) * time.Second
	chains := registry.New(defs, rpcTimeout)
	defer chains.Close()

	sink, err := createAuditSink(cfg)
	if err != nil {
		return err
	}
	trail := audit.NewTrail(sink)
	defer trail.Close()

	alerts := createAlerts(cfg)

	orchestrator := custody.NewOrchestrator(store, chains, defs.CollectionAddresses(),
		custody.WithTimeout(rpcTimeout),
		custody.WithAuditTrail(trail),
		custody.WithAlerts(alerts),
	)
	service := custody.NewService(store, chains, trail)

	sweeper := reconciler.New(store, chains,
		reconciler.WithInterval(time.Duration(cfg.Reconciler.IntervalSeconds)*time.Second),
		reconciler.WithRPCTimeout(rpcTimeout),
		reconciler.WithAuditTrail(trail),
	)

	reconcilerCtx, reconcilerCancel := context.WithCancel(ctx)
	defer reconcilerCancel()
	go sweeper.Run(reconcilerCtx)

	server := api.NewServer(cfg.Server.Address, service, orchestrator)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func createStore(cfg *config.Config) (ledger.Store, error) {
	switch cfg.Ledger.Driver {
	case "memory":
		return ledger.NewMemoryStore(), nil
	case "", "sqlite":
		return ledger.NewSQLiteStore(cfg.Ledger.Path)
	case "mysql":
		return ledger.NewMySQLStore(cfg.Ledger.DSN)
	default:
		return nil, fmt.Errorf("未知的账本驱动: %s", cfg.Ledger.Driver)
	}
}

func createAuditSink(cfg *config.Config) (audit.Sink, error) {
	switch cfg.Audit.Driver {
	case "", "log":
		return audit.NewLogSink(), nil
	case "redis":
		return audit.NewRedisSink(audit.RedisSinkConfig{
			Address:   cfg.Audit.Redis.Address,
			Password:  cfg.Audit.Redis.Password,
			DB:        cfg.Audit.Redis.DB,
			Key:       cfg.Audit.Redis.Key,
			MaxEvents: cfg.Audit.Redis.MaxEvents,
		})
	case "rabbitmq":
		return audit.NewRabbitMQSink(audit.RabbitMQSinkConfig{
			URL:      cfg.Audit.RabbitMQ.URL,
			Exchange: cfg.Audit.RabbitMQ.Exchange,
		})
	default:
		return nil, fmt.Errorf("未知的审计驱动: %s", cfg.Audit.Driver)
	}
}

func createAlerts(cfg *config.Config) alerting.Dispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			Sender: alerting.NewHTTPSender(cfg.Alerting.WebhookURL),
		})
	}
	return alerting.NewFanout(notifiers...)
}
