package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"backend/internal/compliance"
	"backend/internal/config"
	"backend/internal/gateway"
	"backend/internal/logger"
	"backend/internal/oracle"
	"backend/internal/raffle"
	"backend/internal/storage"
	"backend/internal/tracker"
)

// The reconciler is the background sibling of the API server: it watches
// the escrow account for purchase deposits and sweeps raffles whose
// settlement or refund fan-out stalled.
func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	configuration := config.Load()
	logger.Initialize(logger.Configuration{
		LogFile:   configuration.LogFile,
		ErrorFile: configuration.ErrorFile,
		Level:     configuration.LogLevel,
		Console:   true,
	})

	sqliteStorage := storage.NewSqliteStorage(configuration.DatabasePath)
	recorder := compliance.NewRecorder(sqliteStorage)
	service := buildService(configuration, sqliteStorage, recorder)

	var depositTracker *tracker.Tracker
	if configuration.EscrowAddress != "" {
		depositTracker = tracker.NewTracker(ctx, configuration, sqliteStorage, service)
	}

	interval := time.Duration(configuration.ReconcileIntervalSeconds) * time.Second
	logger.Info("reconciler started", zap.Duration("interval", interval))

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			if depositTracker != nil {
				if err := depositTracker.Run(); err != nil {
					logger.Error("deposit tracking pass failed", zap.Error(err))
				}
			}
			if err := service.Reconcile(ctx); err != nil {
				logger.Error("reconcile pass failed", zap.Error(err))
			}

			select {
			case <-ctx.Done():
				if depositTracker != nil {
					depositTracker.Finalize()
				}
				return
			case <-ticker.C:
			}
		}
	}()

	<-waitForInterrupt()
	logger.Info("interrupt received, stopping...")
	cancel()
}

func buildService(configuration config.Config, st storage.Storage, recorder *compliance.Recorder) *raffle.Service {
	gateways := make(map[storage.PaymentType]gateway.Gateway)
	accounts := make(map[storage.PaymentType]raffle.RailAccounts)

	if configuration.EscrowAddress != "" {
		gateways[storage.PaymentTypeOnchain] = gateway.NewTonGateway(configuration)
		accounts[storage.PaymentTypeOnchain] = raffle.RailAccounts{
			Escrow:   configuration.EscrowAddress,
			Charity:  configuration.CharityAddress,
			Platform: configuration.PlatformAddress,
		}
	}

	if configuration.StripeSecretKey != "" {
		gateways[storage.PaymentTypeFiat] = gateway.NewStripeGateway(configuration)
		accounts[storage.PaymentTypeFiat] = raffle.RailAccounts{
			Charity:  configuration.StripeCharityAccount,
			Platform: configuration.StripePlatformAccount,
		}
	}

	if len(gateways) == 0 {
		logger.Fatal("no payment rail configured: set ESCROW_ADDRESS or STRIPE_SECRET_KEY")
	}

	return raffle.NewService(st, gateways, accounts, oracle.NewCryptoSource(), recorder, raffle.DefaultSplit)
}

func waitForInterrupt() <-chan os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	return sigCh
}
