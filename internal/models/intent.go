package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// IntentStatus is the lifecycle state of a payment intent.
type IntentStatus string

const (
	IntentStatusPending   IntentStatus = "pending"
	IntentStatusConfirmed IntentStatus = "confirmed"
	IntentStatusExpired   IntentStatus = "expired"
	IntentStatusFailed    IntentStatus = "failed"
)

// Terminal reports whether no further transitions are legal from s.
func (s IntentStatus) Terminal() bool {
	return s == IntentStatusConfirmed || s == IntentStatusExpired || s == IntentStatusFailed
}

// Intent is a merchant's request for a specific USDC amount to be observed
// at a specific Solana address. Status is mutated only through the CAS
// transitions in the store; TxSignature and ConfirmedAt are write-once.
type Intent struct {
	Id             string          `json:"id"`
	MerchantId     string          `json:"merchant_id"`
	PaymentId      string          `json:"payment_id"`
	WalletAddress  string          `json:"wallet_address"`
	Memo           string          `json:"memo,omitempty"`
	ExpectedAmount decimal.Decimal `json:"amount"`
	Status         IntentStatus    `json:"status"`
	TxSignature    string          `json:"tx_signature,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	ConfirmedAt    *time.Time      `json:"confirmed_at,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	WatchCursor    string          `json:"-"`
	FailureReason  string          `json:"failure_reason,omitempty"`
}

// Merchant is a registered webhook recipient. ApiKey authenticates the
// external API layer; WebhookSecret signs outbound deliveries.
type Merchant struct {
	Id            string    `json:"merchant_id"`
	Name          string    `json:"name"`
	ApiKey        string    `json:"api_key"`
	WebhookUrl    string    `json:"webhook_url"`
	WebhookSecret string    `json:"-"`
	WalletAddress string    `json:"wallet_address,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
