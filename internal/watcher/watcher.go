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

package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BesrourMS/solana-usdc-api/internal/ledger"
	"github.com/BesrourMS/solana-usdc-api/internal/matcher"
	"github.com/BesrourMS/solana-usdc-api/internal/models"
	"github.com/BesrourMS/solana-usdc-api/internal/payments"
	"github.com/BesrourMS/solana-usdc-api/internal/store"

	"go.uber.org/zap"
)

// WatcherConfig contains configuration for Watcher
type WatcherConfig struct {
	LedgerClient    ledger.Client
	IntentStore     store.IntentStore
	Matcher         *matcher.Matcher
	Payments        *payments.Service
	PollingInterval time.Duration
	SweepInterval   time.Duration
	IntentTtl       time.Duration
}

// Watcher polls the ledger for every pending intent and feeds new transfer
// candidates to the matcher. A separate sweep loop expires intents that
// outlived their TTL.
type Watcher struct {
	ledgerClient ledger.Client
	intentStore  store.IntentStore
	matcher      *matcher.Matcher
	payments     *payments.Service

	pollingInterval time.Duration
	sweepInterval   time.Duration
	intentTtl       time.Duration

	// Control channels
	stopChan      chan struct{}
	pollDoneChan  chan struct{}
	sweepDoneChan chan struct{}
}

func NewWatcher(cfg WatcherConfig) *Watcher {
	return &Watcher{
		ledgerClient:    cfg.LedgerClient,
		intentStore:     cfg.IntentStore,
		matcher:         cfg.Matcher,
		payments:        cfg.Payments,
		pollingInterval: cfg.PollingInterval,
		sweepInterval:   cfg.SweepInterval,
		intentTtl:       cfg.IntentTtl,
		stopChan:        make(chan struct{}),
		pollDoneChan:    make(chan struct{}),
		sweepDoneChan:   make(chan struct{}),
	}
}

// Start begins the polling and sweep loops.
func (w *Watcher) Start(ctx context.Context) error {
	if w.pollingInterval <= 0 || w.sweepInterval <= 0 || w.intentTtl <= 0 {
		return fmt.Errorf("polling interval, sweep interval and intent TTL must be positive")
	}

	go w.pollLoop(ctx)
	go w.sweepLoop(ctx)

	zap.L().Info("Ledger watcher started",
		zap.Duration("polling_interval", w.pollingInterval),
		zap.Duration("sweep_interval", w.sweepInterval),
		zap.Duration("intent_ttl", w.intentTtl))

	return nil
}

// Stop gracefully stops the watcher, letting an in-flight tick finish.
// Returns only after both the poll and sweep loops have exited.
func (w *Watcher) Stop() {
	zap.L().Info("Stopping ledger watcher")
	close(w.stopChan)
	<-w.pollDoneChan
	<-w.sweepDoneChan
	zap.L().Info("Ledger watcher stopped")
}

// pollLoop runs the main polling loop. PollPendingIntents waits for every
// intent's poll to finish before the next tick is consumed, so polls for a
// given intent are never concurrent with each other.
func (w *Watcher) pollLoop(ctx context.Context) {
	defer close(w.pollDoneChan)

	ticker := time.NewTicker(w.pollingInterval)
	defer ticker.Stop()

	w.PollPendingIntents(ctx)

	for {
		select {
		case <-ticker.C:
			w.PollPendingIntents(ctx)
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// PollPendingIntents runs one poll tick across all pending intents.
func (w *Watcher) PollPendingIntents(ctx context.Context) {
	intents, err := w.intentStore.ListPendingIntents(ctx)
	if err != nil {
		zap.L().Error("Failed to load pending intents", zap.Error(err))
		return
	}
	if len(intents) == 0 {
		return
	}

	zap.L().Debug("Polling pending intents", zap.Int("count", len(intents)))

	var wg sync.WaitGroup
	for _, intent := range intents {
		wg.Add(1)

		go func(in models.Intent) {
			defer wg.Done()

			if err := w.pollIntent(ctx, in); err != nil {
				if ledger.IsTransient(err) {
					zap.L().Warn("Transient ledger error, will retry next poll",
						zap.String("payment_id", in.PaymentId),
						zap.String("wallet_address", in.WalletAddress),
						zap.Error(err))
					return
				}
				// Permanent errors are alertable but never fail the
				// payment: the intent stays pending for the operator.
				zap.L().Error("Permanent ledger error while polling intent",
					zap.String("payment_id", in.PaymentId),
					zap.String("wallet_address", in.WalletAddress),
					zap.Error(err))
			}
		}(intent)
	}

	wg.Wait()
}

// pollIntent fetches new transfers for one intent and evaluates them in
// ledger order. The cursor only advances past transfers that received a
// final verdict; a transfer held below the finality threshold keeps the
// cursor behind it so the next poll re-evaluates it.
func (w *Watcher) pollIntent(ctx context.Context, intent models.Intent) error {
	transfers, _, err := w.ledgerClient.ListTransfersSince(ctx, intent.WalletAddress, intent.WatchCursor)
	if err != nil {
		return err
	}
	if len(transfers) == 0 {
		return nil
	}

	cursor := intent.WatchCursor
	confirmed := false

	for _, transfer := range transfers {
		outcome := w.matcher.Evaluate(&intent, transfer)
		if outcome == matcher.Held {
			break
		}

		cursor = transfer.Signature

		if outcome != matcher.Matched {
			continue
		}
		if confirmed {
			// A later transfer that also satisfies the intent: recorded as
			// an ignored duplicate, never a second confirmation.
			zap.L().Info("Ignoring duplicate matching transfer",
				zap.String("payment_id", intent.PaymentId),
				zap.String("signature", transfer.Signature))
			continue
		}

		if err := w.proposeConfirmation(ctx, &intent, transfer); err != nil {
			return err
		}
		confirmed = true
	}

	if cursor != intent.WatchCursor {
		if err := w.intentStore.UpdateWatchCursor(ctx, intent.Id, cursor); err != nil {
			return fmt.Errorf("failed to persist watch cursor: %w", err)
		}
	}
	return nil
}

func (w *Watcher) proposeConfirmation(ctx context.Context, intent *models.Intent, transfer ledger.Transfer) error {
	confirmedIntent, err := w.payments.Confirm(ctx, intent, transfer)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateSignature) {
			zap.L().Info("Transfer signature already bound elsewhere, ignoring",
				zap.String("payment_id", intent.PaymentId),
				zap.String("signature", transfer.Signature))
			return nil
		}
		if payments.IsExpectedRace(err) {
			zap.L().Debug("Confirmation lost the transition race",
				zap.String("payment_id", intent.PaymentId),
				zap.String("signature", transfer.Signature))
			return nil
		}
		return fmt.Errorf("failed to commit confirmation: %w", err)
	}

	zap.L().Info("Payment confirmed from ledger transfer",
		zap.String("payment_id", confirmedIntent.PaymentId),
		zap.String("tx_signature", confirmedIntent.TxSignature),
		zap.String("amount", transfer.Amount.String()),
		zap.Uint64("slot", transfer.Slot),
		zap.String("sender", transfer.Sender))
	return nil
}

// sweepLoop periodically expires pending intents older than the TTL.
func (w *Watcher) sweepLoop(ctx context.Context) {
	defer close(w.sweepDoneChan)

	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.SweepExpired(ctx)
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// SweepExpired marks stale pending intents as expired. Losing the CAS to a
// concurrent confirmation is the correct outcome and logged at debug only.
func (w *Watcher) SweepExpired(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-w.intentTtl)

	stale, err := w.intentStore.ListStalePendingIntents(ctx, cutoff)
	if err != nil {
		zap.L().Error("Failed to load stale intents", zap.Error(err))
		return
	}

	for _, intent := range stale {
		if _, err := w.payments.Expire(ctx, &intent); err != nil {
			if payments.IsExpectedRace(err) {
				zap.L().Debug("Expiry lost the transition race",
					zap.String("payment_id", intent.PaymentId))
				continue
			}
			zap.L().Error("Failed to expire stale intent",
				zap.String("payment_id", intent.PaymentId),
				zap.Error(err))
		}
	}
}
