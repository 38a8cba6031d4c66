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

	"github.com/BesrourMS/solana-usdc-api/internal/api"
	"github.com/BesrourMS/solana-usdc-api/internal/common"
	"github.com/BesrourMS/solana-usdc-api/internal/config"
	"github.com/BesrourMS/solana-usdc-api/internal/models"

	solana "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Operator tool exercising the same service surface the HTTP layer consumes:
// create, get and list payment intents against the local store.
func main() {
	apiKey := flag.String("api-key", "", "Merchant API key (required)")
	create := flag.String("create", "", "Create an intent with this payment_id")
	amount := flag.String("amount", "", "Expected USDC amount for -create")
	address := flag.String("address", "", "Receiving wallet address for -create (omit with -generate-wallet)")
	memo := flag.String("memo", "", "Distinguishing memo for shared-wallet intents")
	generateWallet := flag.Bool("generate-wallet", false, "Generate a dedicated receiving wallet for the intent")
	get := flag.String("get", "", "Fetch the intent with this payment_id")
	list := flag.Bool("list", false, "List the merchant's intents")
	status := flag.String("status", "", "Status filter for -list")
	limit := flag.Int("limit", 10, "Page size for -list")
	offset := flag.Int("offset", 0, "Page offset for -list")
	flag.Parse()

	if *apiKey == "" {
		fmt.Println("Usage: intents -api-key <key> (-create <payment_id> -amount <usdc> [-address <addr> | -generate-wallet] | -get <payment_id> | -list)")
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

	paymentService := api.NewPaymentService(dbService)

	merchant, err := paymentService.AuthenticateMerchant(ctx, *apiKey)
	if err != nil {
		zap.L().Fatal("Invalid API key", zap.Error(err))
	}

	switch {
	case *create != "":
		expected, err := decimal.NewFromString(*amount)
		if err != nil {
			zap.L().Fatal("Invalid -amount", zap.String("value", *amount), zap.Error(err))
		}

		walletAddress := *address
		if *generateWallet {
			wallet := solana.NewWallet()
			walletAddress = wallet.PublicKey().String()
			fmt.Printf("Generated receiving wallet: %s\n", walletAddress)
			fmt.Printf("Private key (not persisted): %s\n", wallet.PrivateKey.String())
		}

		intent, err := paymentService.CreateIntent(ctx, merchant, api.CreateIntentRequest{
			PaymentId:     *create,
			WalletAddress: walletAddress,
			Memo:          *memo,
			Amount:        expected,
		})
		if err != nil {
			zap.L().Fatal("Failed to create intent", zap.Error(err))
		}
		printIntent(*intent)

	case *get != "":
		intent, err := paymentService.GetIntent(ctx, merchant, *get)
		if err != nil {
			zap.L().Fatal("Failed to get intent", zap.Error(err))
		}
		printIntent(*intent)

	case *list:
		intents, total, err := paymentService.ListIntents(ctx, merchant, models.IntentStatus(*status), *limit, *offset)
		if err != nil {
			zap.L().Fatal("Failed to list intents", zap.Error(err))
		}
		fmt.Printf("%d intents (showing %d, offset %d):\n", total, len(intents), *offset)
		for _, intent := range intents {
			printIntent(intent)
		}

	default:
		fmt.Println("Nothing to do: pass -create, -get or -list")
		os.Exit(1)
	}
}

func printIntent(intent models.Intent) {
	fmt.Printf("%s  %s  %s USDC  %s  %s\n",
		intent.PaymentId, intent.Status, intent.ExpectedAmount.String(),
		intent.WalletAddress, intent.CreatedAt.Format("2006-01-02 15:04:05"))
	if intent.TxSignature != "" {
		fmt.Printf("    tx: %s\n", intent.TxSignature)
	}
}
