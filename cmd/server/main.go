package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"backend/internal/api"
	"backend/internal/compliance"
	"backend/internal/config"
	"backend/internal/gateway"
	"backend/internal/logger"
	"backend/internal/oracle"
	"backend/internal/raffle"
	"backend/internal/storage"
)

func main() {
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

	server := &http.Server{
		Addr:    configuration.ListenAddress,
		Handler: api.NewServer(service, recorder, oracle.NewCoinGeckoOracle(), configuration.JWTSecret).Router(),
	}

	go func() {
		logger.Info("http server listening", zap.String("address", configuration.ListenAddress))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-waitForInterrupt()
	logger.Info("interrupt received, shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown did not complete cleanly", zap.Error(err))
	}
	logger.Info("shutting down... done")
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
