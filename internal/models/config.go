package models

import "time"

// Config represents the application configuration
type Config struct {
	Database DatabaseConfig
	Ledger   LedgerConfig
	Watcher  WatcherConfig
	Webhook  WebhookConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// LedgerConfig holds Solana RPC settings
type LedgerConfig struct {
	RpcUrl            string
	UsdcMint          string
	RequestTimeout    time.Duration
	SignatureBatch    int
	FinalityThreshold uint64
}

// WatcherConfig holds reconciliation loop settings
type WatcherConfig struct {
	PollingInterval time.Duration
	SweepInterval   time.Duration
	IntentTtl       time.Duration
	AmountTolerance string
	MerchantsFile   string
}

// WebhookConfig holds webhook delivery settings
type WebhookConfig struct {
	PollingInterval time.Duration
	RequestTimeout  time.Duration
	MaxAttempts     int
	BackoffBase     time.Duration
	BackoffCap      time.Duration
}
