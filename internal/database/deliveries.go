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

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/BesrourMS/solana-usdc-api/internal/models"
	"github.com/BesrourMS/solana-usdc-api/internal/store"

	"go.uber.org/zap"
)

// EnqueueDelivery inserts a webhook delivery record if none exists for
// (intent_id, event_type). Returns false when the record already existed,
// terminal or not: re-enqueueing is always a no-op.
func (s *Service) EnqueueDelivery(ctx context.Context, params store.EnqueueDeliveryParams) (bool, error) {
	notBefore := params.NotBefore
	if notBefore.IsZero() {
		notBefore = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, queryEnqueueDelivery,
		params.IntentId, params.EventType, params.PaymentId, params.MerchantId, string(params.Payload), notBefore)
	if err != nil {
		return false, fmt.Errorf("failed to enqueue delivery: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check enqueue result: %w", err)
	}

	if affected == 0 {
		zap.L().Debug("Delivery already enqueued, skipping",
			zap.String("payment_id", params.PaymentId),
			zap.String("event_type", params.EventType))
		return false, nil
	}

	zap.L().Info("Webhook delivery enqueued",
		zap.String("payment_id", params.PaymentId),
		zap.String("event_type", params.EventType),
		zap.String("merchant_id", params.MerchantId))
	return true, nil
}

// DueDeliveries returns pending records whose next_retry_at has passed,
// oldest enqueue first.
func (s *Service) DueDeliveries(ctx context.Context, now time.Time, limit int) ([]models.WebhookDelivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, queryDueDeliveries, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []models.WebhookDelivery
	for rows.Next() {
		delivery, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		deliveries = append(deliveries, *delivery)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate deliveries: %w", err)
	}
	return deliveries, nil
}

func (s *Service) GetDelivery(ctx context.Context, intentId, eventType string) (*models.WebhookDelivery, error) {
	row := s.db.QueryRowContext(ctx, queryGetDelivery, intentId, eventType)
	delivery, err := scanDelivery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrDeliveryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get delivery: %w", err)
	}
	return delivery, nil
}

// MarkDelivered flips a pending record to delivered. Guarded on status so a
// record can never leave a terminal state.
func (s *Service) MarkDelivered(ctx context.Context, intentId, eventType, outcome string) error {
	result, err := s.db.ExecContext(ctx, queryMarkDelivered, outcome, intentId, eventType)
	if err != nil {
		return fmt.Errorf("failed to mark delivered: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delivered result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s/%s not pending", store.ErrDeliveryNotFound, intentId, eventType)
	}
	return nil
}

// MarkDeliveryAttempt records a failed attempt: bumps the attempt counter,
// schedules the retry, and dead-letters when the cap is exhausted.
func (s *Service) MarkDeliveryAttempt(ctx context.Context, params store.DeliveryAttemptParams) error {
	status := models.DeliveryStatusPending
	if params.DeadLetter {
		status = models.DeliveryStatusDeadLettered
	}

	result, err := s.db.ExecContext(ctx, queryMarkDeliveryAttempt,
		params.NextRetryAt, params.Outcome, string(status), params.IntentId, params.EventType)
	if err != nil {
		return fmt.Errorf("failed to record delivery attempt: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check attempt result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s/%s not pending", store.ErrDeliveryNotFound, params.IntentId, params.EventType)
	}
	return nil
}

// DeferDelivery pushes a pending record's next_retry_at forward without
// bumping the attempt counter. Used when the failure happened before any
// HTTP call could be made, so no delivery attempt was actually spent.
func (s *Service) DeferDelivery(ctx context.Context, intentId, eventType, outcome string, nextRetryAt time.Time) error {
	result, err := s.db.ExecContext(ctx, queryDeferDelivery, nextRetryAt, outcome, intentId, eventType)
	if err != nil {
		return fmt.Errorf("failed to defer delivery: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check defer result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s/%s not pending", store.ErrDeliveryNotFound, intentId, eventType)
	}
	return nil
}

func scanDelivery(row rowScanner) (*models.WebhookDelivery, error) {
	var delivery models.WebhookDelivery
	var payload string
	err := row.Scan(&delivery.IntentId, &delivery.EventType, &delivery.PaymentId, &delivery.MerchantId, &payload,
		&delivery.Attempts, &delivery.NextRetryAt, &delivery.LastOutcome, &delivery.Status,
		&delivery.CreatedAt, &delivery.UpdatedAt)
	if err != nil {
		return nil, err
	}
	delivery.Payload = []byte(payload)
	return &delivery, nil
}
