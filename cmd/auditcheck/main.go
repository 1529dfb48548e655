// Command auditcheck replays every case ledger against its stored running
// balances and exits non-zero when any case diverges. Run it from cron; a
// failing exit is a page, not a warning.
package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"

	"clearfund/internal/audit"
	ledgerservice "clearfund/internal/ledger/service"
	ledgerstore "clearfund/internal/ledger/store"
	obligationstore "clearfund/internal/obligation/store"
	"clearfund/internal/platform/config"
	"clearfund/internal/platform/logger"
	id "clearfund/pkg/domain"
	dErrors "clearfund/pkg/domain-errors"
)

func main() {
	parallelism := flag.Int("parallelism", 4, "number of cases reconciled concurrently")
	timeout := flag.Duration("timeout", 10*time.Minute, "overall run deadline")
	flag.Parse()

	log := logger.New()
	cfg := config.FromEnv()
	if cfg.PostgresDSN == "" {
		log.Error("CLEARFUND_POSTGRES_DSN is required")
		os.Exit(2)
	}

	db, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		log.Error("failed to open postgres", "error", err.Error())
		os.Exit(2)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	entries := ledgerstore.NewPostgres(db)
	publisher := audit.NewPublisher(audit.NewPostgresStore(db), audit.WithPublisherLogger(log))
	calculator := ledgerservice.NewCalculator(entries, obligationstore.NewPostgres(db),
		ledgerservice.WithLogger(log),
		ledgerservice.WithAuditPublisher(publisher))

	caseIDs, err := entries.ListCaseIDs(ctx)
	if err != nil {
		log.Error("failed to list ledger cases", "error", err.Error())
		os.Exit(2)
	}

	var (
		mu        sync.Mutex
		divergent []id.CaseID
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(*parallelism)
	for _, caseID := range caseIDs {
		g.Go(func() error {
			err := calculator.Reconcile(gctx, caseID)
			if dErrors.HasCode(err, dErrors.CodeIntegrity) {
				mu.Lock()
				divergent = append(divergent, caseID)
				mu.Unlock()
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		log.Error("reconciliation aborted", "error", err.Error())
		os.Exit(2)
	}

	if len(divergent) > 0 {
		ids := make([]string, 0, len(divergent))
		for _, caseID := range divergent {
			ids = append(ids, caseID.String())
		}
		log.Error("ledger divergence detected", "cases", ids, "checked", len(caseIDs))
		os.Exit(1)
	}
	log.Info("all case ledgers reconciled", "checked", len(caseIDs))
}
