package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-saga/internal/config"
	"github.com/smarttransit/booking-saga/internal/database"
	"github.com/smarttransit/booking-saga/internal/services"
	"github.com/smarttransit/booking-saga/pkg/clock"
	"github.com/smarttransit/booking-saga/pkg/sms"
)

func main() {
	var (
		skipSweep     bool
		skipReconcile bool
		timeout       time.Duration
	)
	flag.BoolVar(&skipSweep, "skip-sweep", false, "do not close abandoned checkout sessions")
	flag.BoolVar(&skipReconcile, "skip-reconcile", false, "do not re-drive bookings stuck in processing_provider")
	flag.DurationVar(&timeout, "timeout", 5*time.Minute, "overall time limit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetOutput(os.Stdout)

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	gateway, err := services.NewPaymentGateway(&cfg.Payment, logger)
	if err != nil {
		log.Fatalf("failed to initialize payment gateway: %v", err)
	}

	clk := clock.NewRealClock()
	bookings := database.NewProvisionalBookingRepository(db.DB, clk)
	audit := database.NewPaymentAuditRepository(db.DB, logger)
	inventory := services.NewInventoryClient(cfg.Inventory, logger)

	// Outcome messages from a maintenance run are logged only
	notifier := services.NewNotificationService(sms.NewLogGateway(logger), logger)
	coordinator := services.NewOrderCommitCoordinator(bookings, inventory, gateway, notifier, audit, logger)

	sweeper := services.NewHoldExpirationService(bookings, gateway, audit, clk, cfg.Saga.SweepGrace, cfg.Saga.WorkerBatchLimit, logger)
	reconciler := services.NewSagaReconciler(bookings, coordinator, audit, clk, cfg.Saga.ReconcileAfter, cfg.Saga.WorkerBatchLimit, logger)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if !skipSweep {
		report, err := sweeper.RunOnce(ctx)
		if err != nil {
			log.Fatalf("hold sweep failed: %v", err)
		}
		fmt.Printf("Hold sweep: scanned=%d cancelled=%d paid=%d failed=%d\n",
			report.Scanned, report.Cancelled, report.Paid, report.Failed)
	}

	if !skipReconcile {
		report, err := reconciler.RunOnce(ctx)
		if err != nil {
			log.Fatalf("reconcile failed: %v", err)
		}
		fmt.Printf("Reconcile: scanned=%d resolved=%d pending=%d\n",
			report.Scanned, report.Resolved, report.Pending)
	}
}
