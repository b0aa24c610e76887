package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/coopledger/funding_layer/internal/app/domain/token"
	"github.com/coopledger/funding_layer/internal/app/services/registry"
	"github.com/coopledger/funding_layer/internal/app/storage/memory"
)

func newTestLedger(t *testing.T, wallets ...string) *Service {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	reg := registry.New(store, registry.Config{}, nil)
	if _, err := reg.Ensure(ctx, "coop"); err != nil {
		t.Fatalf("ensure registry: %v", err)
	}
	for _, w := range wallets {
		if err := reg.RegisterWallet(ctx, "coop", w); err != nil {
			t.Fatalf("register wallet %s: %v", w, err)
		}
	}

	svc := New(store, reg, nil, Config{}, nil)
	if _, err := svc.Ensure(ctx, "coop"); err != nil {
		t.Fatalf("ensure ledger: %v", err)
	}
	return svc
}

func TestMintAndBalance(t *testing.T) {
	ctx := context.Background()
	svc := newTestLedger(t, "alice")

	amount := token.FromDecimal(100)
	if err := svc.Mint(ctx, "coop", "alice", amount); err != nil {
		t.Fatalf("mint: %v", err)
	}

	balance, err := svc.BalanceOf(ctx, "alice")
	if err != nil {
		t.Fatalf("balance of: %v", err)
	}
	if balance.Cmp(amount) != 0 {
		t.Fatalf("expected balance %s, got %s", amount, balance)
	}

	supply, err := svc.TotalSupply(ctx)
	if err != nil {
		t.Fatalf("total supply: %v", err)
	}
	if supply.Cmp(amount) != 0 {
		t.Fatalf("expected supply %s, got %s", amount, supply)
	}
}

func TestMintOnlyOwner(t *testing.T) {
	ctx := context.Background()
	svc := newTestLedger(t, "alice")

	err := svc.Mint(ctx, "alice", "alice", token.FromDecimal(10))
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestMintToUnregisteredWallet(t *testing.T) {
	ctx := context.Background()
	svc := newTestLedger(t)

	err := svc.Mint(ctx, "coop", "stranger", token.FromDecimal(10))
	if !errors.Is(err, ErrWalletNotActive) {
		t.Fatalf("expected ErrWalletNotActive, got %v", err)
	}
}

func TestBurn(t *testing.T) {
	ctx := context.Background()
	svc := newTestLedger(t, "alice")

	if err := svc.Mint(ctx, "coop", "alice", token.FromDecimal(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := svc.Burn(ctx, "coop", "alice", token.FromDecimal(30)); err != nil {
		t.Fatalf("burn: %v", err)
	}

	balance, err := svc.BalanceOf(ctx, "alice")
	if err != nil {
		t.Fatalf("balance of: %v", err)
	}
	if want := token.FromDecimal(70); balance.Cmp(want) != 0 {
		t.Fatalf("expected balance %s, got %s", want, balance)
	}
}

func TestBurnMoreThanBalance(t *testing.T) {
	ctx := context.Background()
	svc := newTestLedger(t, "alice")

	if err := svc.Mint(ctx, "coop", "alice", token.FromDecimal(10)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	err := svc.Burn(ctx, "coop", "alice", token.FromDecimal(11))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestTransfer(t *testing.T) {
	ctx := context.Background()
	svc := newTestLedger(t, "alice", "bob")

	if err := svc.Mint(ctx, "coop", "alice", token.FromDecimal(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := svc.Transfer(ctx, "alice", "bob", token.FromDecimal(40)); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	aliceBalance, err := svc.BalanceOf(ctx, "alice")
	if err != nil {
		t.Fatalf("balance of alice: %v", err)
	}
	bobBalance, err := svc.BalanceOf(ctx, "bob")
	if err != nil {
		t.Fatalf("balance of bob: %v", err)
	}
	if want := token.FromDecimal(60); aliceBalance.Cmp(want) != 0 {
		t.Fatalf("expected alice balance %s, got %s", want, aliceBalance)
	}
	if want := token.FromDecimal(40); bobBalance.Cmp(want) != 0 {
		t.Fatalf("expected bob balance %s, got %s", want, bobBalance)
	}
}

func TestTransferToUnregisteredWallet(t *testing.T) {
	ctx := context.Background()
	svc := newTestLedger(t, "alice")

	if err := svc.Mint(ctx, "coop", "alice", token.FromDecimal(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	err := svc.Transfer(ctx, "alice", "stranger", token.FromDecimal(10))
	if !errors.Is(err, ErrWalletNotActive) {
		t.Fatalf("expected ErrWalletNotActive, got %v", err)
	}
}

func TestTransferInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	svc := newTestLedger(t, "alice", "bob")

	err := svc.Transfer(ctx, "alice", "bob", token.FromDecimal(1))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestTransferFrom(t *testing.T) {
	ctx := context.Background()
	svc := newTestLedger(t, "alice", "bob", "carol")

	if err := svc.Mint(ctx, "coop", "alice", token.FromDecimal(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := svc.Approve(ctx, "alice", "bob", token.FromDecimal(50)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := svc.TransferFrom(ctx, "bob", "alice", "carol", token.FromDecimal(30)); err != nil {
		t.Fatalf("transfer from: %v", err)
	}

	carolBalance, err := svc.BalanceOf(ctx, "carol")
	if err != nil {
		t.Fatalf("balance of carol: %v", err)
	}
	if want := token.FromDecimal(30); carolBalance.Cmp(want) != 0 {
		t.Fatalf("expected carol balance %s, got %s", want, carolBalance)
	}

	// Allowance is consumed by the amount moved, not reset.
	allowance, err := svc.AllowanceOf(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("allowance of: %v", err)
	}
	if want := token.FromDecimal(20); allowance.Cmp(want) != 0 {
		t.Fatalf("expected allowance %s, got %s", want, allowance)
	}
}

func TestTransferFromExceedsAllowance(t *testing.T) {
	ctx := context.Background()
	svc := newTestLedger(t, "alice", "bob", "carol")

	if err := svc.Mint(ctx, "coop", "alice", token.FromDecimal(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := svc.Approve(ctx, "alice", "bob", token.FromDecimal(10)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	err := svc.TransferFrom(ctx, "bob", "alice", "carol", token.FromDecimal(11))
	if !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}
}

func TestApproveIsAbsolute(t *testing.T) {
	ctx := context.Background()
	svc := newTestLedger(t, "alice", "bob")

	if err := svc.Approve(ctx, "alice", "bob", token.FromDecimal(50)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := svc.Approve(ctx, "alice", "bob", token.FromDecimal(20)); err != nil {
		t.Fatalf("re-approve: %v", err)
	}

	allowance, err := svc.AllowanceOf(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("allowance of: %v", err)
	}
	if want := token.FromDecimal(20); allowance.Cmp(want) != 0 {
		t.Fatalf("expected allowance %s, got %s", want, allowance)
	}

	// Approving zero revokes.
	if err := svc.Approve(ctx, "alice", "bob", big.NewInt(0)); err != nil {
		t.Fatalf("approve zero: %v", err)
	}
	allowance, err = svc.AllowanceOf(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("allowance of: %v", err)
	}
	if allowance.Sign() != 0 {
		t.Fatalf("expected allowance revoked, got %s", allowance)
	}
}

func TestNegativeAmountRejected(t *testing.T) {
	ctx := context.Background()
	svc := newTestLedger(t, "alice", "bob")

	err := svc.Mint(ctx, "coop", "alice", big.NewInt(-1))
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	err = svc.Transfer(ctx, "alice", "bob", nil)
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for nil, got %v", err)
	}
}

func TestClaimOwnership(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	reg := registry.New(store, registry.Config{}, nil)
	if _, err := reg.Ensure(ctx, "coop"); err != nil {
		t.Fatalf("ensure registry: %v", err)
	}
	if err := reg.RegisterWallet(ctx, "coop", "alice"); err != nil {
		t.Fatalf("register wallet: %v", err)
	}

	svc := New(store, reg, nil, Config{OwnershipClaimable: true}, nil)
	if _, err := svc.Ensure(ctx, "coop"); err != nil {
		t.Fatalf("ensure ledger: %v", err)
	}

	if err := svc.ClaimOwnership(ctx, "successor"); err != nil {
		t.Fatalf("claim ownership: %v", err)
	}
	if err := svc.Mint(ctx, "successor", "alice", token.FromDecimal(5)); err != nil {
		t.Fatalf("mint as new owner: %v", err)
	}
	if err := svc.Mint(ctx, "coop", "alice", token.FromDecimal(5)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for old owner, got %v", err)
	}
	if err := svc.ClaimOwnership(ctx, "third"); !errors.Is(err, ErrOwnershipAlreadyClaimed) {
		t.Fatalf("expected ErrOwnershipAlreadyClaimed, got %v", err)
	}
}
