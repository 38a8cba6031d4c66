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
	"fmt"
	"os"
	"strings"

	"github.com/BesrourMS/solana-usdc-api/internal/common"
	"github.com/BesrourMS/solana-usdc-api/internal/config"
	"github.com/BesrourMS/solana-usdc-api/internal/models"

	solana "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func main() {
	name := flag.String("name", "", "Merchant display name (required)")
	webhookUrl := flag.String("webhook-url", "", "Endpoint that receives payment events")
	withWallet := flag.Bool("generate-wallet", false, "Generate a default receiving wallet for the merchant")
	flag.Parse()

	if *name == "" {
		fmt.Println("Usage: addmerchant -name <name> [-webhook-url <url>] [-generate-wallet]")
		os.Exit(1)
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx := context.Background()

	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	merchant := models.Merchant{
		Id:            "MERCH_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8],
		Name:          *name,
		ApiKey:        strings.ReplaceAll(uuid.New().String(), "-", ""),
		WebhookUrl:    *webhookUrl,
		WebhookSecret: strings.ReplaceAll(uuid.New().String(), "-", ""),
	}

	// The private key is printed once and never stored: custody stays with
	// the merchant.
	var walletKey solana.PrivateKey
	if *withWallet {
		wallet := solana.NewWallet()
		merchant.WalletAddress = wallet.PublicKey().String()
		walletKey = wallet.PrivateKey
	}

	created, err := dbService.CreateMerchant(ctx, merchant)
	if err != nil {
		zap.L().Fatal("Failed to create merchant", zap.Error(err))
	}

	fmt.Println("Merchant registered:")
	fmt.Printf("  merchant_id:    %s\n", created.Id)
	fmt.Printf("  name:           %s\n", created.Name)
	fmt.Printf("  api_key:        %s\n", created.ApiKey)
	fmt.Printf("  webhook_url:    %s\n", created.WebhookUrl)
	fmt.Printf("  webhook_secret: %s\n", created.WebhookSecret)
	if created.WalletAddress != "" {
		fmt.Printf("  wallet_address: %s\n", created.WalletAddress)
		fmt.Printf("  wallet_key:     %s  (store this securely; it is not persisted)\n", walletKey.String())
	}
}
