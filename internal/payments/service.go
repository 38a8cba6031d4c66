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

package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BesrourMS/solana-usdc-api/internal/ledger"
	"github.com/BesrourMS/solana-usdc-api/internal/models"
	"github.com/BesrourMS/solana-usdc-api/internal/store"

	"go.uber.org/zap"
)

// legalTransitions is the whole state machine: pending fans out to the three
// terminal states, nothing else moves.
var legalTransitions = map[models.IntentStatus][]models.IntentStatus{
	models.IntentStatusPending: {
		models.IntentStatusConfirmed,
		models.IntentStatusExpired,
		models.IntentStatusFailed,
	},
}

// CanTransition reports whether from -> to is a legal status transition.
func CanTransition(from, to models.IntentStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Service is the sole arbiter of intent transitions. The watcher, matcher
// and TTL sweep only propose; the store's status-guarded updates decide, and
// webhook events are enqueued only for the transition that actually
// committed.
type Service struct {
	store store.IntentStore
}

func NewService(intentStore store.IntentStore) *Service {
	return &Service{store: intentStore}
}

// Confirm commits pending -> confirmed for the matched transfer. Losing the
// race to another transition, or proposing an already-bound signature,
// returns the corresponding sentinel unchanged so callers can treat it as
// the expected outcome rather than a failure.
func (s *Service) Confirm(ctx context.Context, intent *models.Intent, transfer ledger.Transfer) (*models.Intent, error) {
	if !CanTransition(intent.Status, models.IntentStatusConfirmed) {
		return nil, fmt.Errorf("%w: %s is %s", store.ErrConcurrentTransition, intent.PaymentId, intent.Status)
	}

	confirmedAt := transfer.BlockTime
	if confirmedAt.IsZero() {
		confirmedAt = time.Now().UTC()
	}

	confirmed, err := s.store.ConfirmIntent(ctx, store.ConfirmIntentParams{
		IntentId:    intent.Id,
		TxSignature: transfer.Signature,
		ConfirmedAt: confirmedAt,
	})
	if err != nil {
		return nil, err
	}

	if err := s.enqueueEvent(ctx, confirmed, models.EventPaymentConfirmed); err != nil {
		// The transition is committed; a failed enqueue must not unwind it.
		// The record either exists already (idempotent) or the next restart
		// re-enqueues by hand.
		zap.L().Error("Failed to enqueue confirmation webhook",
			zap.String("payment_id", confirmed.PaymentId),
			zap.Error(err))
	}

	return confirmed, nil
}

// Expire commits pending -> expired from the TTL sweep.
func (s *Service) Expire(ctx context.Context, intent *models.Intent) (*models.Intent, error) {
	expired, err := s.store.ExpireIntent(ctx, intent.Id)
	if err != nil {
		return nil, err
	}

	zap.L().Info("Payment intent expired",
		zap.String("payment_id", expired.PaymentId),
		zap.String("merchant_id", expired.MerchantId))

	if err := s.enqueueEvent(ctx, expired, models.EventPaymentExpired); err != nil {
		zap.L().Error("Failed to enqueue expiry webhook",
			zap.String("payment_id", expired.PaymentId),
			zap.Error(err))
	}

	return expired, nil
}

// Fail commits pending -> failed. Reserved for ledger-reported reversals and
// invalid token transfers; no webhook event is defined for it.
func (s *Service) Fail(ctx context.Context, intent *models.Intent, reason string) (*models.Intent, error) {
	failed, err := s.store.FailIntent(ctx, intent.Id, reason)
	if err != nil {
		return nil, err
	}

	zap.L().Warn("Payment intent failed",
		zap.String("payment_id", failed.PaymentId),
		zap.String("reason", reason))

	return failed, nil
}

// IsExpectedRace reports whether err is the normal loser's outcome of two
// concurrent transition proposals.
func IsExpectedRace(err error) bool {
	return errors.Is(err, store.ErrConcurrentTransition) || errors.Is(err, store.ErrDuplicateSignature)
}

func (s *Service) enqueueEvent(ctx context.Context, intent *models.Intent, event string) error {
	payload, err := json.Marshal(models.NewWebhookPayload(event, intent))
	if err != nil {
		return fmt.Errorf("unable to marshal webhook payload: %w", err)
	}

	_, err = s.store.EnqueueDelivery(ctx, store.EnqueueDeliveryParams{
		IntentId:   intent.Id,
		PaymentId:  intent.PaymentId,
		EventType:  event,
		MerchantId: intent.MerchantId,
		Payload:    payload,
	})
	return err
}
