package models

import (
	"time"
)

// Webhook event types sent to merchants.
const (
	EventPaymentConfirmed = "payment.confirmed"
	EventPaymentExpired   = "payment.expired"
)

// DeliveryStatus is the lifecycle state of a webhook delivery record.
type DeliveryStatus string

const (
	DeliveryStatusPending      DeliveryStatus = "pending"
	DeliveryStatusDelivered    DeliveryStatus = "delivered"
	DeliveryStatusDeadLettered DeliveryStatus = "dead_lettered"
)

// Terminal reports whether the delivery will never be attempted again.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryStatusDelivered || s == DeliveryStatusDeadLettered
}

// WebhookDelivery makes delivery idempotent and resumable across restarts.
// Identity is (intent_id, event_type); the serialized payload is frozen at
// enqueue time so retries always send the same bytes.
type WebhookDelivery struct {
	IntentId    string
	EventType   string
	PaymentId   string
	MerchantId  string
	Payload     []byte
	Attempts    int
	NextRetryAt time.Time
	LastOutcome string
	Status      DeliveryStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// WebhookPayment is the payment object embedded in the webhook payload.
// Field set and names are the wire contract with merchants; do not change.
type WebhookPayment struct {
	Id            string         `json:"id"`
	PaymentId     string         `json:"payment_id"`
	WalletAddress string         `json:"wallet_address"`
	Amount        string         `json:"amount"`
	Status        string         `json:"status"`
	TxSignature   *string        `json:"tx_signature"`
	CreatedAt     time.Time      `json:"created_at"`
	ConfirmedAt   *time.Time     `json:"confirmed_at"`
	Metadata      map[string]any `json:"metadata"`
}

// WebhookPayload is the top-level JSON object POSTed to the merchant.
type WebhookPayload struct {
	Event   string         `json:"event"`
	Payment WebhookPayment `json:"payment"`
}

// NewWebhookPayload builds the wire payload for an intent transition event.
func NewWebhookPayload(event string, intent *Intent) WebhookPayload {
	payment := WebhookPayment{
		Id:            intent.Id,
		PaymentId:     intent.PaymentId,
		WalletAddress: intent.WalletAddress,
		Amount:        intent.ExpectedAmount.String(),
		Status:        string(intent.Status),
		CreatedAt:     intent.CreatedAt,
		ConfirmedAt:   intent.ConfirmedAt,
		Metadata:      intent.Metadata,
	}
	if intent.TxSignature != "" {
		sig := intent.TxSignature
		payment.TxSignature = &sig
	}
	return WebhookPayload{Event: event, Payment: payment}
}
