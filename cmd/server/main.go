package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"clearfund/internal/audit"
	compliancehandler "clearfund/internal/compliance/handler"
	compliancescorer "clearfund/internal/compliance/scorer"
	"clearfund/internal/identity"
	ledgercache "clearfund/internal/ledger/cache"
	ledgerhandler "clearfund/internal/ledger/handler"
	ledgermetrics "clearfund/internal/ledger/metrics"
	ledgerservice "clearfund/internal/ledger/service"
	ledgerstore "clearfund/internal/ledger/store"
	obligationhandler "clearfund/internal/obligation/handler"
	obligationmetrics "clearfund/internal/obligation/metrics"
	obligationservice "clearfund/internal/obligation/service"
	obligationstore "clearfund/internal/obligation/store"
	"clearfund/internal/platform/config"
	"clearfund/internal/platform/httpserver"
	"clearfund/internal/platform/logger"
	platformredis "clearfund/internal/platform/redis"
	reporthandler "clearfund/internal/report/handler"
	reportmetrics "clearfund/internal/report/metrics"
	reportservice "clearfund/internal/report/service"
	reportstore "clearfund/internal/report/store"
	httptransport "clearfund/internal/transport/http"
	"clearfund/pkg/platform/middleware/partyauth"
)

// main wires stores, services, and the HTTP surface. Business logic lives in
// the internal service packages; everything here is assembly and lifecycle.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	slog.SetDefault(log)

	if err := cfg.Compliance.Validate(); err != nil {
		log.Error("invalid compliance configuration", "error", err.Error())
		os.Exit(1)
	}

	var (
		db          *sql.DB
		obligations obligationservice.Store
		entries     ledgerservice.Store
		reports     reportservice.Store
		auditStore  audit.Store
		storeTx     obligationservice.StoreTx
		snapshotTx  reportservice.StoreTx
	)
	if cfg.PostgresDSN != "" {
		var err error
		db, err = sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			log.Error("failed to open postgres", "error", err.Error())
			os.Exit(1)
		}
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			log.Error("failed to ping postgres", "error", err.Error())
			os.Exit(1)
		}
		defer db.Close()

		obligations = obligationstore.NewPostgres(db)
		entries = ledgerstore.NewPostgres(db)
		reports = reportstore.NewPostgres(db)
		auditStore = audit.NewPostgresStore(db)
		storeTx = newPostgresStoreTx(db, cfg.TxTimeout)
		snapshotTx = newPostgresSnapshotTx(db, cfg.TxTimeout)
		log.Info("using postgres stores")
	} else {
		obligations = obligationstore.NewInMemory()
		entries = ledgerstore.NewInMemory()
		reports = reportstore.NewInMemory()
		auditStore = audit.NewInMemoryStore()
		storeTx = obligationservice.NewInMemoryStoreTx()
		snapshotTx = storeTx
		log.Warn("no postgres DSN configured, using in-memory stores")
	}

	publisherOpts := []audit.PublisherOption{audit.WithPublisherLogger(log)}
	kafkaSink, err := audit.NewKafkaSink(cfg.Kafka)
	if err != nil {
		log.Error("failed to connect kafka audit sink", "error", err.Error())
		os.Exit(1)
	}
	if kafkaSink != nil {
		defer kafkaSink.Close()
		publisherOpts = append(publisherOpts, audit.WithSink(kafkaSink))
		log.Info("audit fanout enabled", "topic", cfg.Kafka.Topic)
	}
	publisher := audit.NewPublisher(auditStore, publisherOpts...)

	calcOpts := []ledgerservice.Option{
		ledgerservice.WithLogger(log),
		ledgerservice.WithMetrics(ledgermetrics.New()),
		ledgerservice.WithAuditPublisher(publisher),
	}
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("failed to connect redis", "error", err.Error())
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		calcOpts = append(calcOpts, ledgerservice.WithCache(
			ledgercache.NewRedis(redisClient, ledgercache.WithLogger(log))))
		log.Info("balance summary cache enabled")
	}
	calculator := ledgerservice.NewCalculator(entries, obligations, calcOpts...)

	obligationSvc := obligationservice.NewService(obligations, calculator,
		obligationservice.WithLogger(log),
		obligationservice.WithStoreTx(storeTx),
		obligationservice.WithAuditPublisher(publisher),
		obligationservice.WithMetrics(obligationmetrics.New()))

	scorer := compliancescorer.New(cfg.Compliance, obligations,
		compliancescorer.WithLogger(log))

	reportSvc := reportservice.NewService(reports, obligations, calculator, scorer,
		reportservice.WithLogger(log),
		reportservice.WithStoreTx(snapshotTx),
		reportservice.WithAuditPublisher(publisher),
		reportservice.WithMetrics(reportmetrics.New()),
		reportservice.WithNumbering(cfg.Report.NumberPrefix, cfg.Report.TTL))

	var verifier partyauth.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		verifier = identity.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience)
	} else {
		log.Warn("no JWT secret configured, bearer tokens are ignored")
	}

	router := httptransport.NewRouter(log, verifier,
		obligationhandler.New(obligationSvc, log),
		ledgerhandler.New(calculator, log),
		compliancehandler.New(scorer, log),
		reporthandler.New(reportSvc, log))

	srv := httpserver.New(cfg.Addr, router)
	go func() {
		log.Info("starting clearfund", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err.Error())
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err.Error())
	}
	publisher.Close()
	log.Info("clearfund stopped")
}
