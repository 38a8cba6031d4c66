package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BesrourMS/solana-usdc-api/internal/models"
	"github.com/BesrourMS/solana-usdc-api/internal/store"
)

func enqueueTestDelivery(t *testing.T, service *Service, intentId, paymentId, eventType string) {
	inserted, err := service.EnqueueDelivery(context.Background(), store.EnqueueDeliveryParams{
		IntentId:   intentId,
		PaymentId:  paymentId,
		EventType:  eventType,
		MerchantId: "MERCH_test01",
		Payload:    []byte(`{"event":"` + eventType + `"}`),
		NotBefore:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("EnqueueDelivery failed: %v", err)
	}
	if !inserted {
		t.Fatalf("Expected delivery %s/%s to be inserted", intentId, eventType)
	}
}

func TestEnqueueDelivery_Idempotent(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	enqueueTestDelivery(t, service, "intent-1", "order-1", models.EventPaymentConfirmed)

	inserted, err := service.EnqueueDelivery(ctx, store.EnqueueDeliveryParams{
		IntentId:   "intent-1",
		PaymentId:  "order-1",
		EventType:  models.EventPaymentConfirmed,
		MerchantId: "MERCH_test01",
		Payload:    []byte(`{"event":"replayed"}`),
		NotBefore:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("EnqueueDelivery failed: %v", err)
	}
	if inserted {
		t.Error("Expected duplicate enqueue to be a no-op")
	}

	// The frozen payload from the first enqueue must survive the replay.
	delivery, err := service.GetDelivery(ctx, "intent-1", models.EventPaymentConfirmed)
	if err != nil {
		t.Fatalf("GetDelivery failed: %v", err)
	}
	if string(delivery.Payload) != `{"event":"payment.confirmed"}` {
		t.Errorf("Payload overwritten by duplicate enqueue: %s", delivery.Payload)
	}
	if delivery.PaymentId != "order-1" {
		t.Errorf("Expected payment_id carried on the record, got %s", delivery.PaymentId)
	}

	// Different event type for the same intent is a distinct delivery.
	enqueueTestDelivery(t, service, "intent-1", "order-1", models.EventPaymentExpired)
}

func TestDueDeliveries_RespectsNextRetryAt(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().UTC()

	enqueueTestDelivery(t, service, "intent-1", "order-1", models.EventPaymentConfirmed)

	if _, err := service.EnqueueDelivery(ctx, store.EnqueueDeliveryParams{
		IntentId:   "intent-2",
		PaymentId:  "order-2",
		EventType:  models.EventPaymentConfirmed,
		MerchantId: "MERCH_test01",
		Payload:    []byte(`{}`),
		NotBefore:  now.Add(time.Hour),
	}); err != nil {
		t.Fatalf("EnqueueDelivery failed: %v", err)
	}

	due, err := service.DueDeliveries(ctx, now.Add(time.Second), 10)
	if err != nil {
		t.Fatalf("DueDeliveries failed: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("Expected 1 due delivery, got %d", len(due))
	}
	if due[0].IntentId != "intent-1" {
		t.Errorf("Expected intent-1 due, got %s", due[0].IntentId)
	}

	later, err := service.DueDeliveries(ctx, now.Add(2*time.Hour), 10)
	if err != nil {
		t.Fatalf("DueDeliveries failed: %v", err)
	}
	if len(later) != 2 {
		t.Errorf("Expected both deliveries due after backoff window, got %d", len(later))
	}
}

func TestMarkDelivered_TerminalStateSticks(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	enqueueTestDelivery(t, service, "intent-1", "order-1", models.EventPaymentConfirmed)

	if err := service.MarkDelivered(ctx, "intent-1", models.EventPaymentConfirmed, "200 OK"); err != nil {
		t.Fatalf("MarkDelivered failed: %v", err)
	}

	delivery, err := service.GetDelivery(ctx, "intent-1", models.EventPaymentConfirmed)
	if err != nil {
		t.Fatalf("GetDelivery failed: %v", err)
	}
	if delivery.Status != models.DeliveryStatusDelivered {
		t.Errorf("Expected status delivered, got %s", delivery.Status)
	}
	if delivery.LastOutcome != "200 OK" {
		t.Errorf("Expected outcome recorded, got %q", delivery.LastOutcome)
	}

	// Terminal records never come back as due.
	due, err := service.DueDeliveries(ctx, time.Now().UTC().Add(24*time.Hour), 10)
	if err != nil {
		t.Fatalf("DueDeliveries failed: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("Expected no due deliveries after success, got %d", len(due))
	}

	// A stale attempt recorded after delivery must not revive the record.
	err = service.MarkDeliveryAttempt(ctx, store.DeliveryAttemptParams{
		IntentId:    "intent-1",
		EventType:   models.EventPaymentConfirmed,
		Outcome:     "timeout",
		NextRetryAt: time.Now().UTC(),
	})
	if !errors.Is(err, store.ErrDeliveryNotFound) {
		t.Errorf("Expected ErrDeliveryNotFound for a terminal record, got: %v", err)
	}
	delivery, err = service.GetDelivery(ctx, "intent-1", models.EventPaymentConfirmed)
	if err != nil {
		t.Fatalf("GetDelivery failed: %v", err)
	}
	if delivery.Status != models.DeliveryStatusDelivered || delivery.Attempts != 0 {
		t.Errorf("Terminal record mutated: status=%s attempts=%d", delivery.Status, delivery.Attempts)
	}
}

func TestMarkDeliveryAttempt_CountsAndDeadLetters(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	enqueueTestDelivery(t, service, "intent-1", "order-1", models.EventPaymentConfirmed)

	retryAt := time.Now().UTC().Add(5 * time.Second)
	if err := service.MarkDeliveryAttempt(ctx, store.DeliveryAttemptParams{
		IntentId:    "intent-1",
		EventType:   models.EventPaymentConfirmed,
		Outcome:     "503 Service Unavailable",
		NextRetryAt: retryAt,
	}); err != nil {
		t.Fatalf("MarkDeliveryAttempt failed: %v", err)
	}

	delivery, err := service.GetDelivery(ctx, "intent-1", models.EventPaymentConfirmed)
	if err != nil {
		t.Fatalf("GetDelivery failed: %v", err)
	}
	if delivery.Attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", delivery.Attempts)
	}
	if delivery.Status != models.DeliveryStatusPending {
		t.Errorf("Expected status pending after retryable failure, got %s", delivery.Status)
	}
	if delivery.NextRetryAt.Before(retryAt.Add(-time.Second)) {
		t.Errorf("Expected next_retry_at pushed out, got %s", delivery.NextRetryAt)
	}

	if err := service.MarkDeliveryAttempt(ctx, store.DeliveryAttemptParams{
		IntentId:   "intent-1",
		EventType:  models.EventPaymentConfirmed,
		Outcome:    "503 Service Unavailable",
		DeadLetter: true,
	}); err != nil {
		t.Fatalf("MarkDeliveryAttempt failed: %v", err)
	}

	delivery, err = service.GetDelivery(ctx, "intent-1", models.EventPaymentConfirmed)
	if err != nil {
		t.Fatalf("GetDelivery failed: %v", err)
	}
	if delivery.Status != models.DeliveryStatusDeadLettered {
		t.Errorf("Expected status dead_lettered, got %s", delivery.Status)
	}
	if delivery.Attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", delivery.Attempts)
	}
}

func TestDeferDelivery_DoesNotConsumeAttempt(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	enqueueTestDelivery(t, service, "intent-1", "order-1", models.EventPaymentConfirmed)

	retryAt := time.Now().UTC().Add(10 * time.Second)
	if err := service.DeferDelivery(ctx, "intent-1", models.EventPaymentConfirmed, "merchant lookup failed", retryAt); err != nil {
		t.Fatalf("DeferDelivery failed: %v", err)
	}

	delivery, err := service.GetDelivery(ctx, "intent-1", models.EventPaymentConfirmed)
	if err != nil {
		t.Fatalf("GetDelivery failed: %v", err)
	}
	if delivery.Attempts != 0 {
		t.Errorf("Expected attempts untouched by defer, got %d", delivery.Attempts)
	}
	if delivery.Status != models.DeliveryStatusPending {
		t.Errorf("Expected status pending after defer, got %s", delivery.Status)
	}
	if delivery.NextRetryAt.Before(retryAt.Add(-time.Second)) {
		t.Errorf("Expected next_retry_at pushed out, got %s", delivery.NextRetryAt)
	}
	if delivery.LastOutcome != "merchant lookup failed" {
		t.Errorf("Expected outcome recorded, got %q", delivery.LastOutcome)
	}

	// Terminal records cannot be deferred back to life.
	if err := service.MarkDelivered(ctx, "intent-1", models.EventPaymentConfirmed, "200 OK"); err != nil {
		t.Fatalf("MarkDelivered failed: %v", err)
	}
	err = service.DeferDelivery(ctx, "intent-1", models.EventPaymentConfirmed, "late defer", retryAt)
	if !errors.Is(err, store.ErrDeliveryNotFound) {
		t.Errorf("Expected ErrDeliveryNotFound for a terminal record, got: %v", err)
	}
}

func TestGetDelivery_NotFound(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	_, err := service.GetDelivery(context.Background(), "missing", models.EventPaymentConfirmed)
	if !errors.Is(err, store.ErrDeliveryNotFound) {
		t.Errorf("Expected ErrDeliveryNotFound, got: %v", err)
	}
}

func TestMerchantLookup(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	merchant := createTestMerchant(t, service)

	byId, err := service.GetMerchantById(ctx, merchant.Id)
	if err != nil {
		t.Fatalf("GetMerchantById failed: %v", err)
	}
	if byId.Name != "Test Merchant" {
		t.Errorf("Expected merchant name round-trip, got %q", byId.Name)
	}

	byKey, err := service.GetMerchantByApiKey(ctx, "test-api-key")
	if err != nil {
		t.Fatalf("GetMerchantByApiKey failed: %v", err)
	}
	if byKey.Id != merchant.Id {
		t.Errorf("Expected merchant id %s, got %s", merchant.Id, byKey.Id)
	}

	if _, err := service.GetMerchantByApiKey(ctx, "wrong-key"); !errors.Is(err, store.ErrMerchantNotFound) {
		t.Errorf("Expected ErrMerchantNotFound, got: %v", err)
	}
}
