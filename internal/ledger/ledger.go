package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Transfer is one observed token transfer to a watched address. It is the
// matcher's only view of the ledger; adapter-specific response shapes never
// leave this package.
type Transfer struct {
	Signature     string
	Recipient     string
	Sender        string
	Amount        decimal.Decimal
	Mint          string
	Slot          uint64
	Confirmations uint64
	Memo          string
	BlockTime     time.Time
}

// Client abstracts "fetch transfers to address X observed after cursor C".
// Implementations must return transfers in ledger order (oldest first) and a
// cursor that resumes after the newest returned transfer. The cursor is
// opaque to callers.
type Client interface {
	ListTransfersSince(ctx context.Context, address, cursor string) ([]Transfer, string, error)
}

// TransientError marks a ledger failure worth retrying: RPC timeouts, rate
// limits, connection resets. The intent stays pending and the next poll
// retries.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient ledger error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a malformed or unexpected ledger response. It is
// surfaced for operators but never fails a payment that might still succeed.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent ledger error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried on the next poll.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}
