package main

import (
	"database/sql"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/wakala/tradeguard/internal/alerts"
	"github.com/wakala/tradeguard/internal/api"
	"github.com/wakala/tradeguard/internal/config"
	"github.com/wakala/tradeguard/internal/disputes"
	"github.com/wakala/tradeguard/internal/ingestion"
	"github.com/wakala/tradeguard/internal/metrics"
	"github.com/wakala/tradeguard/internal/notify"
	"github.com/wakala/tradeguard/internal/reconciliation"
	"github.com/wakala/tradeguard/internal/repository"
	"github.com/wakala/tradeguard/internal/rules"
)

// app holds the wired services for one process.
type app struct {
	db         *sql.DB
	log        *zap.Logger
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	dispatcher *notify.Dispatcher
	auditor    *notify.Auditor

	transactions  *repository.TransactionRepo
	trades        *repository.TradeRepo
	users         *repository.UserRepo
	notifications *repository.NotificationRepo
	audit         *repository.AuditRepo
	disputeRepo   *repository.DisputeRepo

	alerts    *alerts.Service
	disputes  *disputes.Service
	ingestion *ingestion.Service
	recon     *reconciliation.Service
}

func newApp(cfg *config.Config, log *zap.Logger) (*app, error) {
	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return nil, err
	}
	disputeCfg, err := cfg.DisputeConfig()
	if err != nil {
		return nil, err
	}
	conv, err := cfg.Converter()
	if err != nil {
		return nil, err
	}

	log.Info("initializing database", zap.String("path", cfg.Database.Path))
	db, err := repository.InitDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("init db: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	a := &app{
		db:            db,
		log:           log,
		registry:      reg,
		metrics:       m,
		transactions:  repository.NewTransactionRepo(db),
		trades:        repository.NewTradeRepo(db),
		users:         repository.NewUserRepo(db),
		notifications: repository.NewNotificationRepo(db),
		audit:         repository.NewAuditRepo(db),
		disputeRepo:   repository.NewDisputeRepo(db),
	}
	a.dispatcher = notify.NewDispatcher(a.notifications, cfg.Notify.QueueSize, log, m)
	a.auditor = notify.NewAuditor(a.audit, log, m)
	retryOpts := cfg.RetryOptions()

	a.alerts = alerts.NewService(alerts.Deps{
		Rules:        repository.NewRuleRepo(db),
		Transactions: a.transactions,
		Alerts:       repository.NewAlertRepo(db),
		Flags:        repository.NewFlagRepo(db),
		Engine:       rules.NewEngine(engineCfg),
		Audit:        a.auditor,
		Logger:       log,
		Metrics:      m,
		Retry:        retryOpts,
	})
	a.disputes = disputes.NewService(disputes.Deps{
		Disputes:  a.disputeRepo,
		Trades:    a.trades,
		Roles:     a.users,
		Notifier:  a.dispatcher,
		Audit:     a.auditor,
		Converter: conv,
		Config:    disputeCfg,
		Logger:    log,
		Metrics:   m,
		Retry:     retryOpts,
	})
	a.ingestion = ingestion.NewService(a.alerts, log)
	a.recon = reconciliation.NewService(a.disputes, a.disputeRepo, log, m)
	return a, nil
}

func (a *app) apiDeps() api.Deps {
	return api.Deps{
		Alerts:         a.alerts,
		Disputes:       a.disputes,
		Ingestion:      a.ingestion,
		Reconciliation: a.recon,
		Transactions:   a.transactions,
		Trades:         a.trades,
		Users:          a.users,
		Notifications:  a.notifications,
		Audit:          a.audit,
		Logger:         a.log,
		Metrics:        a.metrics,
		Gatherer:       a.registry,
	}
}

// Close drains pending notifications before the database goes away.
func (a *app) Close() error {
	a.dispatcher.Close()
	return a.db.Close()
}
