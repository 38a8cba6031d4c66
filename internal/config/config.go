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

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BesrourMS/solana-usdc-api/internal/ledger"
	"github.com/BesrourMS/solana-usdc-api/internal/models"
)

func Load() (*models.Config, error) {
	pollingInterval, err := getEnvDuration("WATCHER_POLLING_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, err
	}

	sweepInterval, err := getEnvDuration("WATCHER_SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return nil, err
	}

	intentTtl, err := getEnvDuration("INTENT_TTL", time.Hour)
	if err != nil {
		return nil, err
	}

	rpcTimeout, err := getEnvDuration("SOLANA_RPC_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	webhookInterval, err := getEnvDuration("WEBHOOK_POLLING_INTERVAL", 5*time.Second)
	if err != nil {
		return nil, err
	}

	webhookTimeout, err := getEnvDuration("WEBHOOK_REQUEST_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	backoffBase, err := getEnvDuration("WEBHOOK_BACKOFF_BASE", 5*time.Second)
	if err != nil {
		return nil, err
	}

	backoffCap, err := getEnvDuration("WEBHOOK_BACKOFF_CAP", 10*time.Minute)
	if err != nil {
		return nil, err
	}

	connMaxLifetime, err := getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	connMaxIdleTime, err := getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Second)
	if err != nil {
		return nil, err
	}

	pingTimeout, err := getEnvDuration("DB_PING_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	finalityThreshold, err := getEnvUint64("FINALITY_THRESHOLD", 32)
	if err != nil {
		return nil, err
	}

	return &models.Config{
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "payments.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
		},
		Ledger: models.LedgerConfig{
			RpcUrl:            getEnvString("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com"),
			UsdcMint:          getEnvString("USDC_MINT", ledger.DefaultUsdcMint),
			RequestTimeout:    rpcTimeout,
			SignatureBatch:    getEnvInt("SOLANA_SIGNATURE_BATCH", 100),
			FinalityThreshold: finalityThreshold,
		},
		Watcher: models.WatcherConfig{
			PollingInterval: pollingInterval,
			SweepInterval:   sweepInterval,
			IntentTtl:       intentTtl,
			AmountTolerance: getEnvString("AMOUNT_TOLERANCE", "0"),
			MerchantsFile:   getEnvString("MERCHANTS_FILE", ""),
		},
		Webhook: models.WebhookConfig{
			PollingInterval: webhookInterval,
			RequestTimeout:  webhookTimeout,
			MaxAttempts:     getEnvInt("WEBHOOK_MAX_ATTEMPTS", 8),
			BackoffBase:     backoffBase,
			BackoffCap:      backoffCap,
		},
	}, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvUint64(key string, defaultValue uint64) (uint64, error) {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid value for %s: %q (%w)", key, value, err)
		}
		return parsed, nil
	}
	return defaultValue, nil
}
