// Package ledger implements the fungible token ledger: deposits minted by the
// ledger owner, holder approvals and the two transfer endpoints. Every state
// transition is validated against the wallet registry before it commits.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/coopledger/funding_layer/internal/app/domain/token"
	"github.com/coopledger/funding_layer/internal/app/storage"
	"github.com/coopledger/funding_layer/pkg/logger"
)

var (
	// ErrUnauthorized is returned when the caller is not the ledger owner.
	ErrUnauthorized = errors.New("only ledger owner can make this action")
	// ErrOwnershipAlreadyClaimed is returned when ownership was claimed before.
	ErrOwnershipAlreadyClaimed = errors.New("ledger ownership already claimed")
	// ErrClaimDisabled is returned when the deployment forbids ownership claims.
	ErrClaimDisabled = errors.New("ledger ownership claim disabled")
	// ErrWalletNotActive is returned when a party is not a registered wallet.
	ErrWalletNotActive = errors.New("wallet not registered in cooperative")
	// ErrInsufficientBalance is returned when a debit exceeds the balance.
	ErrInsufficientBalance = errors.New("insufficient token balance")
	// ErrInsufficientAllowance is returned when a delegated transfer exceeds
	// the approved amount.
	ErrInsufficientAllowance = errors.New("insufficient token allowance")
	// ErrInvalidAmount is returned for nil or negative amounts.
	ErrInvalidAmount = errors.New("amount must be a non-negative integer")
)

// WalletChecker is the slice of the registry service the ledger needs.
type WalletChecker interface {
	IsWalletActive(ctx context.Context, address string) (bool, error)
}

// Config controls ledger policy knobs.
type Config struct {
	// OwnershipClaimable permits a one time ClaimOwnership call.
	OwnershipClaimable bool
}

// Service is the single writer for the token ledger.
type Service struct {
	mu       sync.Mutex
	store    storage.LedgerStore
	registry WalletChecker
	cache    *BalanceCache
	cfg      Config
	log      *logger.Logger
}

// New creates a ledger service. cache may be nil to disable balance caching.
func New(store storage.LedgerStore, registry WalletChecker, cache *BalanceCache, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	return &Service{store: store, registry: registry, cache: cache, cfg: cfg, log: log}
}

// Ensure initializes the ledger with the given owner if it does not exist
// yet. It is idempotent and returns the current snapshot.
func (s *Service) Ensure(ctx context.Context, owner string) (token.Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	led, err := s.store.GetLedger(ctx)
	if err == nil {
		return led, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return token.Ledger{}, fmt.Errorf("load ledger: %w", err)
	}

	led = token.NewLedger(owner)
	if err := s.store.SaveLedger(ctx, led); err != nil {
		return token.Ledger{}, fmt.Errorf("save ledger: %w", err)
	}
	s.log.Infof("token ledger initialized, owner=%s", owner)
	return led, nil
}

// Mint credits freshly issued tokens to a registered wallet. Only the ledger
// owner may mint.
func (s *Service) Mint(ctx context.Context, caller, to string, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	led, err := s.store.GetLedger(ctx)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	if caller != led.Owner {
		return ErrUnauthorized
	}
	if err := s.requireActive(ctx, to); err != nil {
		return err
	}

	led.Balances[to] = new(big.Int).Add(led.BalanceOf(to), amount)
	if err := s.store.SaveLedger(ctx, led); err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	s.invalidate(ctx, to)
	s.log.Debugf("minted %s to %s", amount, to)
	return nil
}

// Burn destroys tokens held by a wallet, typically after a fiat withdrawal
// settles. Only the ledger owner may burn.
func (s *Service) Burn(ctx context.Context, caller, from string, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	led, err := s.store.GetLedger(ctx)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	if caller != led.Owner {
		return ErrUnauthorized
	}
	balance := led.BalanceOf(from)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}

	led.Balances[from] = balance.Sub(balance, amount)
	if err := s.store.SaveLedger(ctx, led); err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	s.invalidate(ctx, from)
	s.log.Debugf("burned %s from %s", amount, from)
	return nil
}

// Approve sets the absolute amount spender may move out of the caller's
// balance. Approving zero revokes a prior approval.
func (s *Service) Approve(ctx context.Context, caller, spender string, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	led, err := s.store.GetLedger(ctx)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}

	spenders, ok := led.Allowances[caller]
	if !ok {
		spenders = make(map[string]*big.Int)
		led.Allowances[caller] = spenders
	}
	spenders[spender] = new(big.Int).Set(amount)

	if err := s.store.SaveLedger(ctx, led); err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	return nil
}

// Transfer moves tokens from the caller to another registered wallet. Both
// ends of the transfer must be active wallets.
func (s *Service) Transfer(ctx context.Context, caller, to string, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	led, err := s.store.GetLedger(ctx)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	if err := s.requireActive(ctx, caller); err != nil {
		return err
	}
	if err := s.requireActive(ctx, to); err != nil {
		return err
	}
	if err := move(&led, caller, to, amount); err != nil {
		return err
	}

	if err := s.store.SaveLedger(ctx, led); err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	s.invalidate(ctx, caller, to)
	return nil
}

// TransferFrom moves tokens out of owner's balance on the strength of a prior
// approval to the caller. The allowance is reduced by the amount moved.
func (s *Service) TransferFrom(ctx context.Context, caller, owner, to string, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	led, err := s.store.GetLedger(ctx)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	if err := s.requireActive(ctx, owner); err != nil {
		return err
	}
	if err := s.requireActive(ctx, to); err != nil {
		return err
	}

	allowance := led.AllowanceOf(owner, caller)
	if allowance.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	if err := move(&led, owner, to, amount); err != nil {
		return err
	}
	led.Allowances[owner][caller] = allowance.Sub(allowance, amount)

	if err := s.store.SaveLedger(ctx, led); err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	s.invalidate(ctx, owner, to)
	return nil
}

// BalanceOf returns the token balance of an address, consulting the cache
// before the store. Unknown addresses hold zero.
func (s *Service) BalanceOf(ctx context.Context, address string) (*big.Int, error) {
	if b, ok := s.cache.Get(ctx, address); ok {
		return b, nil
	}

	led, err := s.store.GetLedger(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	b := led.BalanceOf(address)
	s.cache.Set(ctx, address, b)
	return b, nil
}

// AllowanceOf returns how much spender may still move out of owner's balance.
func (s *Service) AllowanceOf(ctx context.Context, owner, spender string) (*big.Int, error) {
	led, err := s.store.GetLedger(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	return led.AllowanceOf(owner, spender), nil
}

// TotalSupply returns the sum of all balances.
func (s *Service) TotalSupply(ctx context.Context) (*big.Int, error) {
	led, err := s.store.GetLedger(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	return led.TotalSupply(), nil
}

// Owner returns the current ledger owner address.
func (s *Service) Owner(ctx context.Context) (string, error) {
	led, err := s.store.GetLedger(ctx)
	if err != nil {
		return "", fmt.Errorf("load ledger: %w", err)
	}
	return led.Owner, nil
}

// ClaimOwnership transfers the minting authority to newOwner, at most once
// over the lifetime of the ledger.
func (s *Service) ClaimOwnership(ctx context.Context, newOwner string) error {
	if !s.cfg.OwnershipClaimable {
		return ErrClaimDisabled
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	led, err := s.store.GetLedger(ctx)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	if led.OwnershipClaimed {
		return ErrOwnershipAlreadyClaimed
	}

	led.Owner = newOwner
	led.OwnershipClaimed = true
	if err := s.store.SaveLedger(ctx, led); err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	s.log.Infof("ledger ownership claimed by %s", newOwner)
	return nil
}

func (s *Service) requireActive(ctx context.Context, address string) error {
	active, err := s.registry.IsWalletActive(ctx, address)
	if err != nil {
		return fmt.Errorf("check wallet %q: %w", address, err)
	}
	if !active {
		return fmt.Errorf("wallet %q: %w", address, ErrWalletNotActive)
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, addresses ...string) {
	if err := s.cache.Invalidate(ctx, addresses...); err != nil {
		s.log.Debugf("balance cache invalidation failed: %v", err)
	}
}

// move debits from and credits to inside the snapshot.
func move(led *token.Ledger, from, to string, amount *big.Int) error {
	balance := led.BalanceOf(from)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	led.Balances[from] = balance.Sub(balance, amount)
	led.Balances[to] = new(big.Int).Add(led.BalanceOf(to), amount)
	return nil
}

func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return nil
}
