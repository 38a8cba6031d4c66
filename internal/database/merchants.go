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

// CreateMerchant registers a merchant. Id, ApiKey and WebhookSecret must be
// set by the caller (the addmerchant CLI generates them).
func (s *Service) CreateMerchant(ctx context.Context, merchant models.Merchant) (*models.Merchant, error) {
	if merchant.Id == "" {
		return nil, fmt.Errorf("merchant id cannot be empty")
	}
	if merchant.ApiKey == "" {
		return nil, fmt.Errorf("merchant api_key cannot be empty")
	}
	if merchant.WebhookSecret == "" {
		return nil, fmt.Errorf("merchant webhook_secret cannot be empty")
	}

	if merchant.CreatedAt.IsZero() {
		merchant.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, queryInsertMerchant,
		merchant.Id, merchant.Name, merchant.ApiKey, merchant.WebhookUrl,
		merchant.WebhookSecret, merchant.WalletAddress, merchant.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert merchant: %w", err)
	}

	zap.L().Info("Merchant registered",
		zap.String("merchant_id", merchant.Id),
		zap.String("name", merchant.Name),
		zap.String("webhook_url", merchant.WebhookUrl))

	return &merchant, nil
}

func (s *Service) GetMerchantById(ctx context.Context, merchantId string) (*models.Merchant, error) {
	return s.scanMerchant(s.db.QueryRowContext(ctx, queryGetMerchantById, merchantId))
}

func (s *Service) GetMerchantByApiKey(ctx context.Context, apiKey string) (*models.Merchant, error) {
	return s.scanMerchant(s.db.QueryRowContext(ctx, queryGetMerchantByApiKey, apiKey))
}

func (s *Service) scanMerchant(row *sql.Row) (*models.Merchant, error) {
	var merchant models.Merchant
	err := row.Scan(&merchant.Id, &merchant.Name, &merchant.ApiKey, &merchant.WebhookUrl,
		&merchant.WebhookSecret, &merchant.WalletAddress, &merchant.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrMerchantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan merchant: %w", err)
	}
	return &merchant, nil
}
