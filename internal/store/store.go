package store

import (
	"context"
	"errors"
	"time"

	"github.com/BesrourMS/solana-usdc-api/internal/models"

	"github.com/shopspring/decimal"
)

// Sentinel errors shared across all backend implementations.
var (
	// ErrIntentNotFound means no intent exists for the given payment_id.
	ErrIntentNotFound = errors.New("payment intent not found")

	// ErrDuplicateIntent means an intent with the same payment_id already
	// exists for the merchant.
	ErrDuplicateIntent = errors.New("duplicate payment intent")

	// ErrDuplicateSignature means the ledger signature is already bound to
	// another intent. Informational for the caller, never a second match.
	ErrDuplicateSignature = errors.New("signature already bound to an intent")

	// ErrConcurrentTransition means another transition won the CAS on the
	// intent's status. This is the expected race outcome, not a failure.
	ErrConcurrentTransition = errors.New("intent status changed concurrently")

	// ErrMerchantNotFound means no merchant matched the given id or API key.
	ErrMerchantNotFound = errors.New("merchant not found")

	// ErrDeliveryNotFound means no delivery record exists for the given key.
	ErrDeliveryNotFound = errors.New("webhook delivery not found")
)

// CreateIntentParams contains the parameters for creating a payment intent.
type CreateIntentParams struct {
	MerchantId     string
	PaymentId      string
	WalletAddress  string
	Memo           string
	ExpectedAmount decimal.Decimal
	Metadata       map[string]any
}

// ConfirmIntentParams commits the pending -> confirmed transition. The
// signature binding and the status update happen in one atomic step.
// IntentId is the internal surrogate id; payment_id is only unique per
// merchant and never keys a transition.
type ConfirmIntentParams struct {
	IntentId    string
	TxSignature string
	ConfirmedAt time.Time
}

// ListIntentsFilter narrows ListIntents results. Zero values mean "any".
type ListIntentsFilter struct {
	MerchantId string
	Status     models.IntentStatus
	Limit      int
	Offset     int
}

// EnqueueDeliveryParams contains the parameters for queueing a webhook event.
// Deliveries are keyed by (intent_id, event_type); PaymentId rides along for
// logging and merchant-facing context.
type EnqueueDeliveryParams struct {
	IntentId   string
	PaymentId  string
	EventType  string
	MerchantId string
	Payload    []byte
	NotBefore  time.Time
}

// DeliveryAttemptParams records the outcome of one failed delivery attempt.
type DeliveryAttemptParams struct {
	IntentId    string
	EventType   string
	Outcome     string
	NextRetryAt time.Time
	DeadLetter  bool
}

// IntentStore defines the contract that every backend must satisfy. The
// reconciliation core guarantees the intent invariants on whatever store it
// is given; this repo ships a SQLite implementation.
type IntentStore interface {
	// --- Intents ---
	// payment_id is unique per merchant, so lookups by payment_id carry
	// the merchant scope; transitions and cursors key on the internal id.
	CreateIntent(ctx context.Context, params CreateIntentParams) (*models.Intent, error)
	GetIntent(ctx context.Context, merchantId, paymentId string) (*models.Intent, error)
	ListIntents(ctx context.Context, filter ListIntentsFilter) ([]models.Intent, int, error)
	ListPendingIntents(ctx context.Context) ([]models.Intent, error)
	ListStalePendingIntents(ctx context.Context, olderThan time.Time) ([]models.Intent, error)
	UpdateWatchCursor(ctx context.Context, intentId, cursor string) error

	// --- Transitions (CAS on status = pending) ---
	ConfirmIntent(ctx context.Context, params ConfirmIntentParams) (*models.Intent, error)
	ExpireIntent(ctx context.Context, intentId string) (*models.Intent, error)
	FailIntent(ctx context.Context, intentId, reason string) (*models.Intent, error)

	// --- Signature index ---
	SignatureIntent(ctx context.Context, signature string) (string, error)

	// --- Merchants ---
	CreateMerchant(ctx context.Context, merchant models.Merchant) (*models.Merchant, error)
	GetMerchantById(ctx context.Context, merchantId string) (*models.Merchant, error)
	GetMerchantByApiKey(ctx context.Context, apiKey string) (*models.Merchant, error)

	// --- Webhook deliveries ---
	EnqueueDelivery(ctx context.Context, params EnqueueDeliveryParams) (bool, error)
	DueDeliveries(ctx context.Context, now time.Time, limit int) ([]models.WebhookDelivery, error)
	MarkDelivered(ctx context.Context, intentId, eventType, outcome string) error
	MarkDeliveryAttempt(ctx context.Context, params DeliveryAttemptParams) error
	DeferDelivery(ctx context.Context, intentId, eventType, outcome string, nextRetryAt time.Time) error
	GetDelivery(ctx context.Context, intentId, eventType string) (*models.WebhookDelivery, error)

	// --- Lifecycle ---
	Close()
}
