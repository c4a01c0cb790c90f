package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wakala/tradeguard/internal/alerts"
	"github.com/wakala/tradeguard/internal/disputes"
	"github.com/wakala/tradeguard/internal/ingestion"
	"github.com/wakala/tradeguard/internal/metrics"
	"github.com/wakala/tradeguard/internal/notify"
	"github.com/wakala/tradeguard/internal/reconciliation"
	"github.com/wakala/tradeguard/internal/repository"
)

type Deps struct {
	Alerts         *alerts.Service
	Disputes       *disputes.Service
	Ingestion      *ingestion.Service
	Reconciliation *reconciliation.Service
	Transactions   *repository.TransactionRepo
	Trades         *repository.TradeRepo
	Users          *repository.UserRepo
	Notifications  *repository.NotificationRepo
	Audit          *repository.AuditRepo
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
	// Gatherer backs /metrics. Nil serves the default registry.
	Gatherer prometheus.Gatherer
}

// NewRouter creates the Chi router with all API routes mounted.
func NewRouter(d Deps) http.Handler {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handlers{
		alerts:        d.Alerts,
		disputes:      d.Disputes,
		ingestion:     d.Ingestion,
		recon:         d.Reconciliation,
		transactions:  d.Transactions,
		trades:        d.Trades,
		users:         d.Users,
		notifications: d.Notifications,
		audit:         d.Audit,
		auditor:       notify.NewAuditor(d.Audit, log, d.Metrics),
		validate:      validator.New(),
		log:           log.Named("api"),
		now:           time.Now,
	}
	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.log, d.Metrics))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.SetHeader("Content-Type", "application/json"))
		r.Use(h.requireUser)

		// Disputes. Authorization is per dispute inside the service.
		r.Post("/disputes", h.CreateDispute)
		r.Get("/disputes", h.ListDisputes)
		r.Get("/disputes/{id}", h.GetDispute)
		r.Post("/disputes/{id}/evidence", h.SubmitEvidence)
		r.Post("/disputes/{id}/comments", h.AddComment)
		r.Patch("/disputes/{id}/status", h.UpdateDisputeStatus)
		r.Post("/disputes/{id}/escalate", h.EscalateDispute)
		r.Post("/disputes/{id}/resolve", h.ResolveDispute)

		r.Get("/users/{id}/trading-status", h.GetTradingStatus)
		r.Get("/notifications", h.ListNotifications)
		r.Get("/trades/{ticketID}", h.GetTrade)

		r.Group(func(r chi.Router) {
			r.Use(h.requireStaff)

			// Rules.
			r.Get("/rules", h.ListRules)
			r.Post("/rules", h.CreateRule)
			r.Post("/rules/import", h.ImportRules)
			r.Get("/rules/{id}", h.GetRule)
			r.Put("/rules/{id}", h.UpdateRule)
			r.Post("/rules/{id}/enable", h.EnableRule)
			r.Post("/rules/{id}/disable", h.DisableRule)

			// Transactions.
			r.Get("/transactions", h.ListTransactions)
			r.Post("/transactions", h.ScreenTransaction)
			r.Post("/transactions/evaluate", h.EvaluateTransaction)
			r.Post("/transactions/ingest", h.IngestTransactions)

			// Alerts.
			r.Get("/alerts", h.ListAlerts)
			r.Get("/alerts/{id}", h.GetAlert)
			r.Patch("/alerts/{id}/status", h.UpdateAlertStatus)

			// Users.
			r.Put("/users/{id}/flag", h.FlagUser)
			r.Delete("/users/{id}/flag", h.UnflagUser)
			r.Put("/users/{id}/role", h.SetUserRole)

			// Trades and maintenance.
			r.Post("/trades", h.RegisterTrade)
			r.Post("/admin/reconcile", h.Reconcile)
			r.Get("/audit/{type}/{id}", h.ListAudit)
		})
	})

	return r
}
