package common

import (
	"context"
	"log"
	"strings"

	"github.com/BesrourMS/solana-usdc-api/internal/database"
	"github.com/BesrourMS/solana-usdc-api/internal/ledger"
	"github.com/BesrourMS/solana-usdc-api/internal/models"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Try to load .env file - if it doesn't exist, that's okay
	// Environment variables can be set via other means (shell export, docker, etc.)
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
	}
}

type Services struct {
	DbService    *database.Service
	LedgerClient *ledger.SolanaClient
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	ledgerClient, err := ledger.NewSolanaClient(cfg.Ledger)
	if err != nil {
		dbService.Close()
		return nil, err
	}

	// Optional merchants.yaml seed for local/dev bootstrap.
	if cfg.Watcher.MerchantsFile != "" {
		if err := SeedMerchants(ctx, dbService, cfg.Watcher.MerchantsFile); err != nil {
			zap.L().Warn("Failed to seed merchants from file",
				zap.String("file", cfg.Watcher.MerchantsFile),
				zap.Error(err))
		}
	}

	return &Services{
		DbService:    dbService,
		LedgerClient: ledgerClient,
	}, nil
}

// InitializeDatabaseOnly initializes just the database service without the
// Solana RPC client. Useful for CLI tools that never touch the ledger.
func InitializeDatabaseOnly(ctx context.Context, cfg *models.Config) (*database.Service, error) {
	return database.NewService(ctx, cfg.Database)
}

func (cs *Services) Close() {
	if cs.DbService != nil {
		cs.DbService.Close()
	}
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
