package ledger

import (
	"errors"
	"fmt"
	"testing"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/shopspring/decimal"
)

var (
	testOwner  = solana.MustPublicKeyFromBase58("9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin")
	testSender = solana.MustPublicKeyFromBase58("FvN3CXoAy1B5YzXHCZYyM2Tm2kPVcioABkZbzqsHnJ2d")
	testMint   = solana.MustPublicKeyFromBase58(DefaultUsdcMint)
	otherMint  = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
)

func tokenBalance(owner solana.PublicKey, mint solana.PublicKey, amount string) rpc.TokenBalance {
	return rpc.TokenBalance{
		Owner: &owner,
		Mint:  mint,
		UiTokenAmount: &rpc.UiTokenAmount{
			Amount:   amount,
			Decimals: UsdcDecimals,
		},
	}
}

func TestTokenDeltaForOwner(t *testing.T) {
	// 10.50 USDC credited to the owner, debited from the sender.
	meta := &rpc.TransactionMeta{
		PreTokenBalances: []rpc.TokenBalance{
			tokenBalance(testOwner, testMint, "1000000"),
			tokenBalance(testSender, testMint, "50000000"),
		},
		PostTokenBalances: []rpc.TokenBalance{
			tokenBalance(testOwner, testMint, "11500000"),
			tokenBalance(testSender, testMint, "39500000"),
		},
	}

	delta := tokenDeltaForOwner(meta, testOwner, testMint)
	if !delta.Equal(decimal.RequireFromString("10.5")) {
		t.Errorf("Expected delta 10.5, got %s", delta.String())
	}

	if sender := debitedOwner(meta, testOwner, testMint); sender != testSender.String() {
		t.Errorf("Expected debited owner %s, got %q", testSender, sender)
	}
}

func TestTokenDeltaForOwner_IgnoresOtherMints(t *testing.T) {
	meta := &rpc.TransactionMeta{
		PreTokenBalances: []rpc.TokenBalance{
			tokenBalance(testOwner, otherMint, "0"),
		},
		PostTokenBalances: []rpc.TokenBalance{
			tokenBalance(testOwner, otherMint, "25000000"),
		},
	}

	delta := tokenDeltaForOwner(meta, testOwner, testMint)
	if !delta.IsZero() {
		t.Errorf("Expected zero delta for unrelated mint, got %s", delta.String())
	}
}

func TestTokenDeltaForOwner_OutgoingTransfer(t *testing.T) {
	meta := &rpc.TransactionMeta{
		PreTokenBalances: []rpc.TokenBalance{
			tokenBalance(testOwner, testMint, "20000000"),
		},
		PostTokenBalances: []rpc.TokenBalance{
			tokenBalance(testOwner, testMint, "5000000"),
		},
	}

	delta := tokenDeltaForOwner(meta, testOwner, testMint)
	if !delta.IsNegative() {
		t.Errorf("Expected negative delta for outgoing transfer, got %s", delta.String())
	}
}

func TestTokenDeltaForOwner_SumsMultipleAccounts(t *testing.T) {
	// Two token accounts for the same (owner, mint) both credited.
	meta := &rpc.TransactionMeta{
		PreTokenBalances: []rpc.TokenBalance{
			tokenBalance(testOwner, testMint, "1000000"),
			tokenBalance(testOwner, testMint, "2000000"),
		},
		PostTokenBalances: []rpc.TokenBalance{
			tokenBalance(testOwner, testMint, "2000000"),
			tokenBalance(testOwner, testMint, "4000000"),
		},
	}

	delta := tokenDeltaForOwner(meta, testOwner, testMint)
	if !delta.Equal(decimal.RequireFromString("3")) {
		t.Errorf("Expected delta 3, got %s", delta.String())
	}
}

func TestCleanMemo(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"[11] PAY-order-1", "PAY-order-1"},
		{"PAY-order-1", "PAY-order-1"},
		{"[0] ", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := cleanMemo(tt.raw); got != tt.want {
			t.Errorf("cleanMemo(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestClassifyRpcError(t *testing.T) {
	if !IsTransient(classifyRpcError(&jsonrpc.HTTPError{Code: 429})) {
		t.Error("Expected HTTP-level error to be transient")
	}

	behind := fmt.Errorf("wrapped: %w", &jsonrpc.RPCError{Code: -32005, Message: "node is behind"})
	if !IsTransient(classifyRpcError(behind)) {
		t.Error("Expected node-behind error to be transient")
	}

	invalid := fmt.Errorf("wrapped: %w", &jsonrpc.RPCError{Code: -32602, Message: "invalid params"})
	if IsTransient(classifyRpcError(invalid)) {
		t.Error("Expected invalid-params error to be permanent")
	}

	plain := errors.New("connection reset by peer")
	if !IsTransient(classifyRpcError(plain)) {
		t.Error("Expected unclassified error to default to transient")
	}
}

func TestErrorUnwrapping(t *testing.T) {
	cause := errors.New("rpc timeout")
	wrapped := &TransientError{Err: cause}

	if !errors.Is(wrapped, cause) {
		t.Error("Expected TransientError to unwrap to its cause")
	}
	if !IsTransient(fmt.Errorf("poll failed: %w", wrapped)) {
		t.Error("Expected IsTransient to see through wrapping")
	}
	if IsTransient(&PermanentError{Err: cause}) {
		t.Error("Expected PermanentError to not be transient")
	}
}
