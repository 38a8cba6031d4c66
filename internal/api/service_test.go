package api

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/BesrourMS/solana-usdc-api/internal/database"
	"github.com/BesrourMS/solana-usdc-api/internal/models"
	"github.com/BesrourMS/solana-usdc-api/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

func setupApiTest(t *testing.T) (*PaymentService, *models.Merchant, func()) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	dbService, err := database.NewServiceFromDb(db)
	if err != nil {
		t.Fatalf("Failed to create test schema: %v", err)
	}

	merchant, err := dbService.CreateMerchant(context.Background(), models.Merchant{
		Id:            "MERCH_test01",
		Name:          "Test Merchant",
		ApiKey:        "test-api-key",
		WebhookSecret: "test-secret",
		WalletAddress: "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin",
	})
	if err != nil {
		t.Fatalf("Failed to create merchant: %v", err)
	}

	return NewPaymentService(dbService), merchant, func() { db.Close() }
}

func TestAuthenticateMerchant(t *testing.T) {
	service, merchant, cleanup := setupApiTest(t)
	defer cleanup()

	ctx := context.Background()

	got, err := service.AuthenticateMerchant(ctx, "test-api-key")
	if err != nil {
		t.Fatalf("AuthenticateMerchant failed: %v", err)
	}
	if got.Id != merchant.Id {
		t.Errorf("Expected merchant %s, got %s", merchant.Id, got.Id)
	}

	if _, err := service.AuthenticateMerchant(ctx, "wrong-key"); !errors.Is(err, store.ErrMerchantNotFound) {
		t.Errorf("Expected ErrMerchantNotFound for wrong key, got: %v", err)
	}
	if _, err := service.AuthenticateMerchant(ctx, ""); !errors.Is(err, store.ErrMerchantNotFound) {
		t.Errorf("Expected ErrMerchantNotFound for empty key, got: %v", err)
	}
}

func TestCreateIntent_DedicatedWallet(t *testing.T) {
	service, merchant, cleanup := setupApiTest(t)
	defer cleanup()

	intent, err := service.CreateIntent(context.Background(), merchant, CreateIntentRequest{
		PaymentId:     "order-1",
		WalletAddress: "FvN3CXoAy1B5YzXHCZYyM2Tm2kPVcioABkZbzqsHnJ2d",
		Amount:        decimal.RequireFromString("10.50"),
		Metadata:      map[string]any{"order": "1234"},
	})
	if err != nil {
		t.Fatalf("CreateIntent failed: %v", err)
	}
	if intent.WalletAddress != "FvN3CXoAy1B5YzXHCZYyM2Tm2kPVcioABkZbzqsHnJ2d" {
		t.Errorf("Expected dedicated wallet used, got %s", intent.WalletAddress)
	}
	if intent.Status != models.IntentStatusPending {
		t.Errorf("Expected status pending, got %s", intent.Status)
	}
}

func TestCreateIntent_SharedWalletRequiresMemo(t *testing.T) {
	service, merchant, cleanup := setupApiTest(t)
	defer cleanup()

	ctx := context.Background()

	_, err := service.CreateIntent(ctx, merchant, CreateIntentRequest{
		PaymentId: "order-1",
		Amount:    decimal.RequireFromString("10.50"),
	})
	if err == nil {
		t.Fatal("Expected error for shared wallet without memo")
	}

	intent, err := service.CreateIntent(ctx, merchant, CreateIntentRequest{
		PaymentId: "order-1",
		Memo:      "PAY-order-1",
		Amount:    decimal.RequireFromString("10.50"),
	})
	if err != nil {
		t.Fatalf("CreateIntent failed: %v", err)
	}
	if intent.WalletAddress != merchant.WalletAddress {
		t.Errorf("Expected merchant shared wallet, got %s", intent.WalletAddress)
	}
	if intent.Memo != "PAY-order-1" {
		t.Errorf("Expected memo stored, got %q", intent.Memo)
	}
}

func TestGetIntent_MerchantScoping(t *testing.T) {
	service, merchant, cleanup := setupApiTest(t)
	defer cleanup()

	ctx := context.Background()

	if _, err := service.CreateIntent(ctx, merchant, CreateIntentRequest{
		PaymentId:     "order-1",
		WalletAddress: "FvN3CXoAy1B5YzXHCZYyM2Tm2kPVcioABkZbzqsHnJ2d",
		Amount:        decimal.RequireFromString("10.50"),
	}); err != nil {
		t.Fatalf("CreateIntent failed: %v", err)
	}

	got, err := service.GetIntent(ctx, merchant, "order-1")
	if err != nil {
		t.Fatalf("GetIntent failed: %v", err)
	}
	if got.PaymentId != "order-1" {
		t.Errorf("Expected payment_id order-1, got %s", got.PaymentId)
	}

	other := &models.Merchant{Id: "MERCH_other"}
	if _, err := service.GetIntent(ctx, other, "order-1"); !errors.Is(err, store.ErrIntentNotFound) {
		t.Errorf("Expected ErrIntentNotFound for foreign merchant, got: %v", err)
	}
}
