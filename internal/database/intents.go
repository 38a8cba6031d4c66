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
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BesrourMS/solana-usdc-api/internal/models"
	"github.com/BesrourMS/solana-usdc-api/internal/store"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CreateIntent inserts a new pending intent. payment_id is the merchant's
// idempotency handle; a second insert with the same payment_id fails with
// store.ErrDuplicateIntent.
func (s *Service) CreateIntent(ctx context.Context, params store.CreateIntentParams) (*models.Intent, error) {
	if params.PaymentId == "" {
		return nil, fmt.Errorf("payment_id cannot be empty")
	}
	if params.WalletAddress == "" {
		return nil, fmt.Errorf("wallet_address cannot be empty")
	}
	if params.ExpectedAmount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("expected_amount must be positive, got %s", params.ExpectedAmount.String())
	}

	metadata, err := encodeMetadata(params.Metadata)
	if err != nil {
		return nil, fmt.Errorf("unable to encode metadata: %w", err)
	}

	intent := &models.Intent{
		Id:             uuid.New().String(),
		MerchantId:     params.MerchantId,
		PaymentId:      params.PaymentId,
		WalletAddress:  params.WalletAddress,
		Memo:           params.Memo,
		ExpectedAmount: params.ExpectedAmount,
		Status:         models.IntentStatusPending,
		CreatedAt:      time.Now().UTC(),
		Metadata:       params.Metadata,
	}

	_, err = s.db.ExecContext(ctx, queryInsertIntent,
		intent.Id, intent.MerchantId, intent.PaymentId, intent.WalletAddress, intent.Memo,
		intent.ExpectedAmount.String(), intent.CreatedAt, metadata)
	if err != nil {
		if isUniqueConstraint(err) {
			return nil, fmt.Errorf("%w: payment_id %s", store.ErrDuplicateIntent, params.PaymentId)
		}
		return nil, fmt.Errorf("failed to insert intent: %w", err)
	}

	zap.L().Info("Payment intent created",
		zap.String("payment_id", intent.PaymentId),
		zap.String("merchant_id", intent.MerchantId),
		zap.String("wallet_address", intent.WalletAddress),
		zap.String("expected_amount", intent.ExpectedAmount.String()))

	return intent, nil
}

// GetIntent looks up an intent by the merchant's handle. payment_id is only
// unique within a merchant, so the scope is part of the key.
func (s *Service) GetIntent(ctx context.Context, merchantId, paymentId string) (*models.Intent, error) {
	row := s.db.QueryRowContext(ctx, queryGetIntent, merchantId, paymentId)
	intent, err := scanIntent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: payment_id %s", store.ErrIntentNotFound, paymentId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get intent: %w", err)
	}
	return intent, nil
}

func (s *Service) getIntentById(ctx context.Context, intentId string) (*models.Intent, error) {
	row := s.db.QueryRowContext(ctx, queryGetIntentById, intentId)
	intent, err := scanIntent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %s", store.ErrIntentNotFound, intentId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get intent: %w", err)
	}
	return intent, nil
}

// ListIntents returns a page of intents plus the total count for the filter.
func (s *Service) ListIntents(ctx context.Context, filter store.ListIntentsFilter) ([]models.Intent, int, error) {
	where := make([]string, 0, 2)
	args := make([]any, 0, 4)
	if filter.MerchantId != "" {
		where = append(where, "merchant_id = ?")
		args = append(args, filter.MerchantId)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM intents"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count intents: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}
	query := `
		SELECT id, merchant_id, payment_id, wallet_address, memo, expected_amount,
		       status, tx_signature, created_at, confirmed_at, metadata, watch_cursor, failure_reason
		FROM intents` + clause + `
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list intents: %w", err)
	}
	defer rows.Close()

	intents, err := collectIntents(rows)
	if err != nil {
		return nil, 0, err
	}
	return intents, total, nil
}

func (s *Service) ListPendingIntents(ctx context.Context) ([]models.Intent, error) {
	rows, err := s.db.QueryContext(ctx, queryListPendingIntents)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending intents: %w", err)
	}
	defer rows.Close()
	return collectIntents(rows)
}

func (s *Service) ListStalePendingIntents(ctx context.Context, olderThan time.Time) ([]models.Intent, error) {
	rows, err := s.db.QueryContext(ctx, queryListStalePendingIntents, olderThan)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale intents: %w", err)
	}
	defer rows.Close()
	return collectIntents(rows)
}

func (s *Service) UpdateWatchCursor(ctx context.Context, intentId, cursor string) error {
	result, err := s.db.ExecContext(ctx, queryUpdateWatchCursor, cursor, intentId)
	if err != nil {
		return fmt.Errorf("failed to update watch cursor: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check cursor update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: id %s", store.ErrIntentNotFound, intentId)
	}
	return nil
}

// ConfirmIntent binds the signature and flips status to confirmed in one
// database transaction. RowsAffected == 0 on the guarded update means another
// transition (a concurrent expiry, typically) already won.
func (s *Service) ConfirmIntent(ctx context.Context, params store.ConfirmIntentParams) (*models.Intent, error) {
	if params.IntentId == "" {
		return nil, fmt.Errorf("intent id cannot be empty")
	}
	if params.TxSignature == "" {
		return nil, fmt.Errorf("tx_signature cannot be empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Check the global signature index first for a clean error.
	var boundIntentId string
	err = tx.QueryRowContext(ctx, queryGetSignatureIntent, params.TxSignature).Scan(&boundIntentId)
	if err == nil {
		zap.L().Warn("Signature already bound to an intent, skipping",
			zap.String("tx_signature", params.TxSignature),
			zap.String("bound_intent_id", boundIntentId))
		return nil, fmt.Errorf("%w: %s", store.ErrDuplicateSignature, params.TxSignature)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to check signature index: %w", err)
	}

	if _, err := tx.ExecContext(ctx, queryInsertSignature, params.TxSignature, params.IntentId); err != nil {
		if isUniqueConstraint(err) {
			return nil, fmt.Errorf("%w: %s", store.ErrDuplicateSignature, params.TxSignature)
		}
		return nil, fmt.Errorf("failed to bind signature: %w", err)
	}

	confirmedAt := params.ConfirmedAt
	if confirmedAt.IsZero() {
		confirmedAt = time.Now().UTC()
	}

	result, err := tx.ExecContext(ctx, queryConfirmIntent, params.TxSignature, confirmedAt, params.IntentId)
	if err != nil {
		return nil, fmt.Errorf("failed to confirm intent: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check confirm result: %w", err)
	}
	if affected == 0 {
		// Rolling back also releases the signature binding: the transfer
		// never confirmed anything.
		return nil, fmt.Errorf("%w: id %s", store.ErrConcurrentTransition, params.IntentId)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit confirmation: %w", err)
	}

	zap.L().Info("Payment intent confirmed",
		zap.String("intent_id", params.IntentId),
		zap.String("tx_signature", params.TxSignature))

	return s.getIntentById(ctx, params.IntentId)
}

func (s *Service) ExpireIntent(ctx context.Context, intentId string) (*models.Intent, error) {
	return s.transitionPending(ctx, intentId, queryExpireIntent, intentId)
}

func (s *Service) FailIntent(ctx context.Context, intentId, reason string) (*models.Intent, error) {
	return s.transitionPending(ctx, intentId, queryFailIntent, reason, intentId)
}

func (s *Service) transitionPending(ctx context.Context, intentId, query string, args ...any) (*models.Intent, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to transition intent: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check transition result: %w", err)
	}
	if affected == 0 {
		// Either the intent does not exist or another transition won.
		if _, getErr := s.getIntentById(ctx, intentId); getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("%w: id %s", store.ErrConcurrentTransition, intentId)
	}
	return s.getIntentById(ctx, intentId)
}

// SignatureIntent looks up which intent a ledger signature is bound to.
func (s *Service) SignatureIntent(ctx context.Context, signature string) (string, error) {
	var intentId string
	err := s.db.QueryRowContext(ctx, queryGetSignatureIntent, signature).Scan(&intentId)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up signature: %w", err)
	}
	return intentId, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntent(row rowScanner) (*models.Intent, error) {
	var intent models.Intent
	var amountStr, metadataStr string
	var txSignature sql.NullString
	var confirmedAt sql.NullTime

	err := row.Scan(&intent.Id, &intent.MerchantId, &intent.PaymentId, &intent.WalletAddress,
		&intent.Memo, &amountStr, &intent.Status, &txSignature, &intent.CreatedAt,
		&confirmedAt, &metadataStr, &intent.WatchCursor, &intent.FailureReason)
	if err != nil {
		return nil, err
	}

	intent.ExpectedAmount, err = decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse expected_amount %q: %w", amountStr, err)
	}
	if txSignature.Valid {
		intent.TxSignature = txSignature.String
	}
	if confirmedAt.Valid {
		t := confirmedAt.Time
		intent.ConfirmedAt = &t
	}
	intent.Metadata, err = decodeMetadata(metadataStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return &intent, nil
}

func collectIntents(rows *sql.Rows) ([]models.Intent, error) {
	var intents []models.Intent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan intent: %w", err)
		}
		intents = append(intents, *intent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate intents: %w", err)
	}
	return intents, nil
}

func encodeMetadata(metadata map[string]any) (string, error) {
	if len(metadata) == 0 {
		return "", nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeMetadata(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var metadata map[string]any
	if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
		return nil, err
	}
	return metadata, nil
}

func isUniqueConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
