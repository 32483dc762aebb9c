package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	billinghttp "github.com/dmitrymomot/billsync/modules/billing"
	"github.com/dmitrymomot/billsync/pkg/billing"
	"github.com/dmitrymomot/billsync/pkg/billing/mongostore"
	"github.com/dmitrymomot/billsync/pkg/billing/pgstore"
	"github.com/dmitrymomot/billsync/pkg/config"
	"github.com/dmitrymomot/billsync/pkg/email"
	"github.com/dmitrymomot/billsync/pkg/httpserver"
	"github.com/dmitrymomot/billsync/pkg/logger"
	"github.com/dmitrymomot/billsync/pkg/mongo"
	"github.com/dmitrymomot/billsync/pkg/pg"
	"github.com/dmitrymomot/billsync/pkg/redis"
	"github.com/dmitrymomot/billsync/pkg/requestid"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("billsync exited", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	if err := config.LoadEnv(); err != nil {
		return err
	}
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		return err
	}
	if err := cfg.validate(); err != nil {
		return err
	}

	log := logger.New(
		logger.WithEnvironment(cfg.AppEnv, cfg.ServiceName),
		logger.WithLevelName(cfg.LogLevel),
		logger.WithContextExtractors(requestid.LoggerExtractor()),
	)
	logger.SetAsDefault(log)

	catalog, err := loadCatalog(ctx, cfg)
	if err != nil {
		return err
	}

	provider, err := billing.NewStripeProvider(cfg.Stripe)
	if err != nil {
		return err
	}

	store, checks, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := billing.NewMetrics(reg)

	intakeOpts := []billing.IntakeOption{
		billing.WithIntakeLogger(log.With(logger.Component("intake"))),
		billing.WithIntakeMetrics(metrics),
		billing.WithIntakeCallTimeout(cfg.DownstreamTimeout),
	}

	ledger, ledgerCheck, closeLedger, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLedger()
	if ledger != nil {
		intakeOpts = append(intakeOpts, billing.WithEventLedger(ledger))
	}
	if ledgerCheck != nil {
		checks = append(checks, *ledgerCheck)
	}

	if cfg.AlertEmailTo != "" {
		sender, err := newSender(cfg.Email)
		if err != nil {
			return err
		}
		intakeOpts = append(intakeOpts, billing.WithAlertNotifier(billing.NewEmailAlertNotifier(sender, cfg.AlertEmailTo)))
	}

	intake := billing.NewIntake(store, provider, intakeOpts...)
	provisioner := billing.NewProvisioner(catalog, provider, store,
		billing.WithProvisionerLogger(log.With(logger.Component("checkout"))),
		billing.WithProvisionerMetrics(metrics),
		billing.WithProvisionerCallTimeout(cfg.DownstreamTimeout),
	)

	r := chi.NewRouter()
	r.Use(requestid.Middleware, middleware.Recoverer)
	r.Get("/healthz", httpserver.LivenessHandler())
	r.Get("/readyz", httpserver.ReadinessHandler(log, checks...))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Mount("/", billinghttp.Router(billinghttp.RouterOptions{
		Intake:        intake,
		Checkout:      provisioner,
		Catalog:       catalog,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		AllowOrigin:   cfg.CORSAllowOrigin,
		Logger:        log.With(logger.Component("http")),
	}))

	srv := httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log))
	return srv.Run(ctx, r)
}

func loadCatalog(ctx context.Context, cfg Config) (billing.Catalog, error) {
	src := billing.NewStaticSource(billing.DefaultCatalog())
	if cfg.PlanCatalogFile != "" {
		src = billing.NewYAMLCatalogSource(cfg.PlanCatalogFile)
	}
	return billing.LoadCatalog(ctx, src)
}

func openStore(ctx context.Context, cfg Config, log *slog.Logger) (billing.CheckoutStore, []httpserver.Check, func(), error) {
	switch cfg.StoreDriver {
	case storePostgres:
		var pgCfg pg.Config
		if err := config.Load(&pgCfg); err != nil {
			return nil, nil, nil, err
		}
		pool, err := pg.Connect(ctx, pgCfg)
		if err != nil {
			return nil, nil, nil, err
		}
		if pgCfg.AutoMigrate {
			if err := pgstore.Migrate(ctx, pool, pgCfg, log); err != nil {
				pool.Close()
				return nil, nil, nil, err
			}
		}
		checks := []httpserver.Check{{Name: "postgres", Probe: pg.Healthcheck(pool)}}
		return pgstore.New(pool), checks, pool.Close, nil

	case storeMongo:
		var mongoCfg mongo.Config
		if err := config.Load(&mongoCfg); err != nil {
			return nil, nil, nil, err
		}
		db, err := mongo.NewWithDatabase(ctx, mongoCfg)
		if err != nil {
			return nil, nil, nil, err
		}
		closeFn := func() { _ = db.Client().Disconnect(context.Background()) }
		if err := mongostore.EnsureIndexes(ctx, db); err != nil {
			closeFn()
			return nil, nil, nil, err
		}
		checks := []httpserver.Check{{Name: "mongo", Probe: mongo.Healthcheck(db.Client())}}
		return mongostore.New(db), checks, closeFn, nil

	default:
		log.Warn("using in-memory record store, state is lost on restart")
		return billing.NewMemoryStore(), nil, func() {}, nil
	}
}

func openLedger(ctx context.Context, cfg Config) (billing.EventLedger, *httpserver.Check, func(), error) {
	switch cfg.EventLedger {
	case ledgerRedis:
		var redisCfg redis.Config
		if err := config.Load(&redisCfg); err != nil {
			return nil, nil, nil, err
		}
		client, err := redis.Connect(ctx, redisCfg)
		if err != nil {
			return nil, nil, nil, err
		}
		check := &httpserver.Check{Name: "redis", Probe: redis.Healthcheck(client)}
		return redis.NewEventLedger(client, redisCfg.KeyPrefix, cfg.EventLedgerTTL), check, func() { _ = client.Close() }, nil
	case ledgerMemory:
		return billing.NewMemoryLedger(cfg.EventLedgerSize, cfg.EventLedgerTTL), nil, func() {}, nil
	default:
		return nil, nil, func() {}, nil
	}
}

func newSender(cfg email.Config) (email.EmailSender, error) {
	if cfg.PostmarkEnabled() {
		sender, err := email.NewPostmarkClient(cfg)
		if err != nil {
			return nil, fmt.Errorf("postmark sender: %w", err)
		}
		return sender, nil
	}
	if cfg.DevOutputDir == "" {
		return nil, errors.New("alert email requires postmark tokens or ALERT_EMAIL_DEV_DIR")
	}
	return email.NewDevSender(cfg.DevOutputDir), nil
}
