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

package matcher

import (
	"github.com/BesrourMS/solana-usdc-api/internal/ledger"
	"github.com/BesrourMS/solana-usdc-api/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Outcome is the matcher's verdict for one (intent, transfer) pair.
type Outcome int

const (
	// NoMatch: the transfer does not satisfy the intent and never will.
	NoMatch Outcome = iota
	// Held: the transfer would match but has not reached the finality
	// threshold yet; re-evaluate on the next poll.
	Held
	// Matched: the transfer satisfies the intent.
	Matched
)

func (o Outcome) String() string {
	switch o {
	case Matched:
		return "matched"
	case Held:
		return "held"
	default:
		return "no_match"
	}
}

// Config tunes the match predicate.
type Config struct {
	// ExpectedMint is the token mint a transfer must carry (the USDC mint).
	ExpectedMint string
	// AmountTolerance is the maximum allowed |transfer - expected| delta.
	// Zero means exact match at the token's minimum denomination.
	AmountTolerance decimal.Decimal
	// FinalityThreshold is the minimum confirmation depth before a transfer
	// counts as irreversible.
	FinalityThreshold uint64
}

// Matcher decides whether an observed transfer satisfies an open intent.
// It is pure decision logic: committing the match is the state machine's job.
type Matcher struct {
	cfg Config
}

func New(cfg Config) *Matcher {
	return &Matcher{cfg: cfg}
}

// Evaluate applies the match predicate. The caller feeds transfers in ledger
// order, so the first Matched transfer is the lowest-slot winner.
func (m *Matcher) Evaluate(intent *models.Intent, transfer ledger.Transfer) Outcome {
	if intent.Status != models.IntentStatusPending {
		return NoMatch
	}
	if transfer.Recipient != intent.WalletAddress {
		return NoMatch
	}
	if transfer.Mint != m.cfg.ExpectedMint {
		zap.L().Debug("Transfer carries unexpected mint",
			zap.String("payment_id", intent.PaymentId),
			zap.String("signature", transfer.Signature),
			zap.String("mint", transfer.Mint))
		return NoMatch
	}

	// Shared hot-wallet mode: an intent with a memo only matches transfers
	// carrying exactly that memo. A substring check would let "PAY-1" claim
	// a transfer tagged "PAY-11".
	if intent.Memo != "" && transfer.Memo != intent.Memo {
		return NoMatch
	}

	delta := transfer.Amount.Sub(intent.ExpectedAmount).Abs()
	if delta.GreaterThan(m.cfg.AmountTolerance) {
		zap.L().Debug("Transfer amount outside tolerance",
			zap.String("payment_id", intent.PaymentId),
			zap.String("signature", transfer.Signature),
			zap.String("expected", intent.ExpectedAmount.String()),
			zap.String("observed", transfer.Amount.String()),
			zap.String("tolerance", m.cfg.AmountTolerance.String()))
		return NoMatch
	}

	// Finality is eventual, not instantaneous: a shallow transfer is held,
	// not rejected.
	if transfer.Confirmations < m.cfg.FinalityThreshold {
		zap.L().Debug("Transfer below finality threshold, holding",
			zap.String("payment_id", intent.PaymentId),
			zap.String("signature", transfer.Signature),
			zap.Uint64("confirmations", transfer.Confirmations),
			zap.Uint64("threshold", m.cfg.FinalityThreshold))
		return Held
	}

	return Matched
}
