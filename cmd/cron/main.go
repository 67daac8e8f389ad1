package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"github.com/promptstack/promptstack-billing/internal/config"
	"github.com/promptstack/promptstack-billing/internal/costgov"
	"github.com/promptstack/promptstack-billing/internal/db"
	"github.com/promptstack/promptstack-billing/internal/ledger"
	"github.com/promptstack/promptstack-billing/internal/logging"
	"github.com/promptstack/promptstack-billing/internal/settings"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

const jobTimeout = 10 * time.Minute

var flagConfig string

func init() {
	flag.StringVar(&flagConfig, "config", "", "config path, eg: -config config.yaml")
}

func main() {
	flag.Parse()

	cfg, errLoad := config.Load(config.ResolveConfigPath(flagConfig))
	if errLoad != nil {
		log.WithError(errLoad).Fatal("failed to load config")
	}
	logging.Setup(cfg.Log)

	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		log.WithError(errOpen).Fatal("failed to open database")
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		log.WithError(errMigrate).Fatal("failed to migrate database")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if errRefresh := settings.RefreshDBConfigSnapshot(ctx, conn); errRefresh != nil {
		log.WithError(errRefresh).Warn("failed to load settings snapshot, using defaults")
	}

	creditLedger := ledger.NewService(conn, nil)
	governor := costgov.NewService(conn)

	retention := costgov.NewUsageRetentionCleaner(conn)
	retention.Start(ctx)

	scheduler := cron.New()

	// All three jobs filter by due dates, so a daily cadence is enough
	// and reruns are no-ops.
	mustAdd(scheduler, "10 0 * * *", "monthly_reset", func(jobCtx context.Context) {
		result, errRun := creditLedger.ProcessMonthlyReset(jobCtx)
		if errRun != nil {
			log.WithError(errRun).Error("monthly credit reset failed")
			return
		}
		log.Infof("monthly credit reset: processed=%d failed=%d", result.Processed, result.Failed)
	})
	mustAdd(scheduler, "20 0 * * *", "rollover_expiry", func(jobCtx context.Context) {
		result, errRun := creditLedger.ExpireRolloverCredits(jobCtx)
		if errRun != nil {
			log.WithError(errRun).Error("rollover expiry failed")
			return
		}
		log.Infof("rollover expiry: processed=%d failed=%d", result.Processed, result.Failed)
	})
	// Cost caps reset with the calendar month.
	mustAdd(scheduler, "0 0 1 * *", "cost_reset", func(jobCtx context.Context) {
		reset, errRun := governor.ResetMonthlyCosts(jobCtx)
		if errRun != nil {
			log.WithError(errRun).Error("monthly cost reset failed")
			return
		}
		log.Infof("monthly cost reset: users=%d", reset)
	})

	scheduler.Start()
	log.Info("cron scheduler started")

	<-ctx.Done()
	log.Info("shutting down")

	stopCtx := scheduler.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		log.Warn("cron jobs forced to stop after timeout")
	}
}

func mustAdd(scheduler *cron.Cron, spec, name string, job func(context.Context)) {
	_, errAdd := scheduler.AddFunc(spec, func() {
		jobCtx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		job(jobCtx)
	})
	if errAdd != nil {
		log.WithError(errAdd).Fatalf("failed to schedule %s", name)
	}
}
