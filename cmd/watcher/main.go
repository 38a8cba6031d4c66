/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BesrourMS/solana-usdc-api/internal/common"
	"github.com/BesrourMS/solana-usdc-api/internal/config"
	"github.com/BesrourMS/solana-usdc-api/internal/matcher"
	"github.com/BesrourMS/solana-usdc-api/internal/payments"
	"github.com/BesrourMS/solana-usdc-api/internal/watcher"
	"github.com/BesrourMS/solana-usdc-api/internal/webhook"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	merchantsFile := flag.String("merchants", "", "Optional path to merchants.yaml to seed merchant records on startup")
	flag.Parse()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}
	if *merchantsFile != "" {
		cfg.Watcher.MerchantsFile = *merchantsFile
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zap.L().Info("Starting USDC payment reconciliation service")

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	tolerance, err := decimal.NewFromString(cfg.Watcher.AmountTolerance)
	if err != nil {
		zap.L().Fatal("Invalid AMOUNT_TOLERANCE",
			zap.String("value", cfg.Watcher.AmountTolerance),
			zap.Error(err))
	}

	paymentsSvc := payments.NewService(services.DbService)

	dispatcher, err := webhook.NewDispatcher(webhook.DispatcherConfig{
		IntentStore:     services.DbService,
		PollingInterval: cfg.Webhook.PollingInterval,
		RequestTimeout:  cfg.Webhook.RequestTimeout,
		MaxAttempts:     cfg.Webhook.MaxAttempts,
		BackoffBase:     cfg.Webhook.BackoffBase,
		BackoffCap:      cfg.Webhook.BackoffCap,
	})
	if err != nil {
		zap.L().Fatal("Failed to create webhook dispatcher", zap.Error(err))
	}

	ledgerWatcher := watcher.NewWatcher(watcher.WatcherConfig{
		LedgerClient: services.LedgerClient,
		IntentStore:  services.DbService,
		Matcher: matcher.New(matcher.Config{
			ExpectedMint:      cfg.Ledger.UsdcMint,
			AmountTolerance:   tolerance,
			FinalityThreshold: cfg.Ledger.FinalityThreshold,
		}),
		Payments:        paymentsSvc,
		PollingInterval: cfg.Watcher.PollingInterval,
		SweepInterval:   cfg.Watcher.SweepInterval,
		IntentTtl:       cfg.Watcher.IntentTtl,
	})

	if err := dispatcher.Start(ctx); err != nil {
		zap.L().Fatal("Failed to start webhook dispatcher", zap.Error(err))
	}
	if err := ledgerWatcher.Start(ctx); err != nil {
		zap.L().Fatal("Failed to start ledger watcher", zap.Error(err))
	}

	zap.L().Info("Reconciliation service running",
		zap.Duration("polling_interval", cfg.Watcher.PollingInterval),
		zap.Duration("intent_ttl", cfg.Watcher.IntentTtl))
	zap.L().Info("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	zap.L().Info("Shutdown signal received, stopping...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		ledgerWatcher.Stop()
		dispatcher.Stop()
		close(done)
	}()

	select {
	case <-done:
		zap.L().Info("Shutdown complete")
	case <-shutdownCtx.Done():
		zap.L().Warn("Forced shutdown after timeout")
	}
}
