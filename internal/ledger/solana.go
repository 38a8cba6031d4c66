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

package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BesrourMS/solana-usdc-api/internal/models"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultUsdcMint is the USDC token mint on Solana mainnet-beta.
const DefaultUsdcMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

// UsdcDecimals is the USDC minimum denomination (1e-6).
const UsdcDecimals = 6

// Compile-time check: *SolanaClient must satisfy Client.
var _ Client = (*SolanaClient)(nil)

// SolanaClient observes SPL token transfers through the Solana JSON-RPC API.
// Transfers to a wallet land on its associated token account, so signatures
// are listed for the ATA derived from (owner, mint), then each transaction's
// token balance deltas are inspected for the owner.
type SolanaClient struct {
	rpcClient      *rpc.Client
	mint           solana.PublicKey
	signatureBatch int
	requestTimeout time.Duration
}

func NewSolanaClient(cfg models.LedgerConfig) (*SolanaClient, error) {
	if cfg.RpcUrl == "" {
		return nil, fmt.Errorf("solana rpc url cannot be empty")
	}

	mintAddress := cfg.UsdcMint
	if mintAddress == "" {
		mintAddress = DefaultUsdcMint
	}
	mint, err := solana.PublicKeyFromBase58(mintAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid usdc mint %q: %w", mintAddress, err)
	}

	batch := cfg.SignatureBatch
	if batch <= 0 {
		batch = 100
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	zap.L().Info("Solana ledger client initialized",
		zap.String("rpc_url", cfg.RpcUrl),
		zap.String("usdc_mint", mint.String()))

	return &SolanaClient{
		rpcClient:      rpc.New(cfg.RpcUrl),
		mint:           mint,
		signatureBatch: batch,
		requestTimeout: timeout,
	}, nil
}

// ListTransfersSince returns USDC transfers credited to address after the
// cursor, oldest first, plus the cursor to resume from. Failed transactions
// and transfers of other mints are filtered out here.
func (c *SolanaClient) ListTransfersSince(ctx context.Context, address, cursor string) ([]Transfer, string, error) {
	owner, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, cursor, &PermanentError{Err: fmt.Errorf("invalid wallet address %q: %w", address, err)}
	}

	tokenAccount, _, err := solana.FindAssociatedTokenAddress(owner, c.mint)
	if err != nil {
		return nil, cursor, &PermanentError{Err: fmt.Errorf("unable to derive token account: %w", err)}
	}

	limit := c.signatureBatch
	opts := &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: rpc.CommitmentConfirmed,
	}
	if cursor != "" {
		until, err := solana.SignatureFromBase58(cursor)
		if err != nil {
			return nil, cursor, &PermanentError{Err: fmt.Errorf("invalid cursor %q: %w", cursor, err)}
		}
		opts.Until = until
	}

	callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	signatures, err := c.rpcClient.GetSignaturesForAddressWithOpts(callCtx, tokenAccount, opts)
	if err != nil {
		return nil, cursor, classifyRpcError(fmt.Errorf("get signatures for %s: %w", tokenAccount, err))
	}
	if len(signatures) == 0 {
		return nil, cursor, nil
	}

	currentSlot, err := c.rpcClient.GetSlot(callCtx, rpc.CommitmentConfirmed)
	if err != nil {
		return nil, cursor, classifyRpcError(fmt.Errorf("get slot: %w", err))
	}

	// Signatures arrive newest first; process in ledger order.
	transfers := make([]Transfer, 0, len(signatures))
	for i := len(signatures) - 1; i >= 0; i-- {
		sig := signatures[i]
		if sig.Err != nil {
			zap.L().Debug("Skipping failed transaction",
				zap.String("signature", sig.Signature.String()))
			continue
		}

		transfer, err := c.fetchTransfer(callCtx, owner, sig, currentSlot)
		if err != nil {
			return nil, cursor, err
		}
		if transfer == nil {
			continue
		}
		transfers = append(transfers, *transfer)
	}

	newCursor := signatures[0].Signature.String()
	return transfers, newCursor, nil
}

func (c *SolanaClient) fetchTransfer(ctx context.Context, owner solana.PublicKey, sig *rpc.TransactionSignature, currentSlot uint64) (*Transfer, error) {
	version := uint64(0)
	result, err := c.rpcClient.GetTransaction(ctx, sig.Signature, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &version,
	})
	if err != nil {
		return nil, classifyRpcError(fmt.Errorf("get transaction %s: %w", sig.Signature, err))
	}
	if result == nil || result.Meta == nil {
		return nil, &PermanentError{Err: fmt.Errorf("transaction %s has no metadata", sig.Signature)}
	}

	amount := tokenDeltaForOwner(result.Meta, owner, c.mint)
	if amount.LessThanOrEqual(decimal.Zero) {
		// Not a credit to the watched wallet (outgoing transfer, account
		// creation, or a different mint entirely).
		return nil, nil
	}

	confirmations := uint64(0)
	if currentSlot >= result.Slot {
		confirmations = currentSlot - result.Slot + 1
	}

	transfer := &Transfer{
		Signature:     sig.Signature.String(),
		Recipient:     owner.String(),
		Sender:        debitedOwner(result.Meta, owner, c.mint),
		Amount:        amount,
		Mint:          c.mint.String(),
		Slot:          result.Slot,
		Confirmations: confirmations,
	}
	if sig.Memo != nil {
		transfer.Memo = cleanMemo(*sig.Memo)
	}
	if result.BlockTime != nil {
		transfer.BlockTime = result.BlockTime.Time()
	}
	return transfer, nil
}

// tokenDeltaForOwner sums the mint's balance change across all of the
// owner's token accounts touched by the transaction.
func tokenDeltaForOwner(meta *rpc.TransactionMeta, owner solana.PublicKey, mint solana.PublicKey) decimal.Decimal {
	return sumBalances(meta.PostTokenBalances, owner, mint).
		Sub(sumBalances(meta.PreTokenBalances, owner, mint))
}

// debitedOwner returns the owner whose balance for the mint decreased, if
// any. Used only for logging context.
func debitedOwner(meta *rpc.TransactionMeta, recipient solana.PublicKey, mint solana.PublicKey) string {
	owners := make(map[string]bool)
	for _, balance := range meta.PreTokenBalances {
		if balance.Owner != nil && balance.Mint.Equals(mint) {
			owners[balance.Owner.String()] = true
		}
	}
	for candidate := range owners {
		if candidate == recipient.String() {
			continue
		}
		pk, err := solana.PublicKeyFromBase58(candidate)
		if err != nil {
			continue
		}
		delta := sumBalances(meta.PostTokenBalances, pk, mint).
			Sub(sumBalances(meta.PreTokenBalances, pk, mint))
		if delta.IsNegative() {
			return candidate
		}
	}
	return ""
}

func sumBalances(balances []rpc.TokenBalance, owner solana.PublicKey, mint solana.PublicKey) decimal.Decimal {
	total := decimal.Zero
	for _, balance := range balances {
		if balance.Owner == nil || !balance.Owner.Equals(owner) || !balance.Mint.Equals(mint) {
			continue
		}
		if balance.UiTokenAmount == nil {
			continue
		}
		raw, err := decimal.NewFromString(balance.UiTokenAmount.Amount)
		if err != nil {
			zap.L().Warn("Unparseable token amount in transaction metadata",
				zap.String("amount", balance.UiTokenAmount.Amount))
			continue
		}
		total = total.Add(raw.Shift(-int32(balance.UiTokenAmount.Decimals)))
	}
	return total
}

// cleanMemo strips the "[len] " length prefix the RPC node prepends to memo
// program contents.
func cleanMemo(memo string) string {
	if idx := strings.Index(memo, "] "); idx >= 0 && strings.HasPrefix(memo, "[") {
		return memo[idx+2:]
	}
	return memo
}

// classifyRpcError sorts RPC failures into transient (retry next poll) and
// permanent (operator attention). Anything ambiguous is treated as transient:
// ledger errors never fail a payment that might still succeed.
func classifyRpcError(err error) error {
	var httpErr *jsonrpc.HTTPError
	if errors.As(err, &httpErr) {
		// Rate limits and gateway errors clear on their own.
		return &TransientError{Err: err}
	}

	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		// -32005: node is behind; worth retrying against the same endpoint.
		if rpcErr.Code == -32005 {
			return &TransientError{Err: err}
		}
		return &PermanentError{Err: err}
	}

	return &TransientError{Err: err}
}
