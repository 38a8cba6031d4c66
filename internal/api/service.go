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

package api

import (
	"context"
	"fmt"

	"github.com/BesrourMS/solana-usdc-api/internal/models"
	"github.com/BesrourMS/solana-usdc-api/internal/store"

	"github.com/shopspring/decimal"
)

// PaymentService is the surface consumed by the external HTTP layer. Routing,
// input validation of the wire format and API-key header handling stay with
// that layer; this service guarantees the intent invariants on the store.
type PaymentService struct {
	intentStore store.IntentStore
}

func NewPaymentService(intentStore store.IntentStore) *PaymentService {
	return &PaymentService{intentStore: intentStore}
}

// AuthenticateMerchant resolves an API key to a merchant.
func (s *PaymentService) AuthenticateMerchant(ctx context.Context, apiKey string) (*models.Merchant, error) {
	if apiKey == "" {
		return nil, store.ErrMerchantNotFound
	}
	return s.intentStore.GetMerchantByApiKey(ctx, apiKey)
}

// CreateIntentRequest mirrors the payment creation request body.
type CreateIntentRequest struct {
	PaymentId     string
	WalletAddress string
	Memo          string
	Amount        decimal.Decimal
	Metadata      map[string]any
}

// CreateIntent records a new pending intent for the merchant. The intent
// becomes visible to the watcher on its next tick.
func (s *PaymentService) CreateIntent(ctx context.Context, merchant *models.Merchant, req CreateIntentRequest) (*models.Intent, error) {
	walletAddress := req.WalletAddress
	if walletAddress == "" {
		// Shared hot-wallet mode: fall back to the merchant's receiving
		// wallet. A memo is then required to tell intents apart.
		walletAddress = merchant.WalletAddress
		if walletAddress == "" {
			return nil, fmt.Errorf("wallet_address required: merchant has no default wallet")
		}
		if req.Memo == "" {
			return nil, fmt.Errorf("memo required when using the merchant's shared wallet")
		}
	}

	return s.intentStore.CreateIntent(ctx, store.CreateIntentParams{
		MerchantId:     merchant.Id,
		PaymentId:      req.PaymentId,
		WalletAddress:  walletAddress,
		Memo:           req.Memo,
		ExpectedAmount: req.Amount,
		Metadata:       req.Metadata,
	})
}

// GetIntent returns the last committed state of the intent. payment_id is
// only unique per merchant, so the lookup is always merchant-scoped: a
// merchant can never see another merchant's intents.
func (s *PaymentService) GetIntent(ctx context.Context, merchant *models.Merchant, paymentId string) (*models.Intent, error) {
	if merchant == nil {
		return nil, fmt.Errorf("merchant required to resolve payment_id %s", paymentId)
	}
	return s.intentStore.GetIntent(ctx, merchant.Id, paymentId)
}

// ListIntents returns a page of the merchant's intents plus the total count.
func (s *PaymentService) ListIntents(ctx context.Context, merchant *models.Merchant, status models.IntentStatus, limit, offset int) ([]models.Intent, int, error) {
	filter := store.ListIntentsFilter{
		Status: status,
		Limit:  limit,
		Offset: offset,
	}
	if merchant != nil {
		filter.MerchantId = merchant.Id
	}
	return s.intentStore.ListIntents(ctx, filter)
}
