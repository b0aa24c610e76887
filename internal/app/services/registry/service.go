// Package registry maintains the cooperative wallet registry: the insertion
// only set of addresses allowed to hold tokens and participate in funding.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/coopledger/funding_layer/internal/app/domain/wallet"
	"github.com/coopledger/funding_layer/internal/app/storage"
	"github.com/coopledger/funding_layer/pkg/logger"
)

var (
	// ErrUnauthorized is returned when the caller is not the registry owner.
	ErrUnauthorized = errors.New("only registry owner can make this action")
	// ErrOwnershipAlreadyClaimed is returned when ownership was claimed before.
	ErrOwnershipAlreadyClaimed = errors.New("registry ownership already claimed")
	// ErrClaimDisabled is returned when the deployment forbids ownership claims.
	ErrClaimDisabled = errors.New("registry ownership claim disabled")
	// ErrEmptyAddress is returned when a wallet address is blank.
	ErrEmptyAddress = errors.New("wallet address must not be empty")
)

// DefaultBatchSize bounds how many wallets a single batch registration accepts.
const DefaultBatchSize = 50

// Config controls registry policy knobs.
type Config struct {
	// OwnershipClaimable permits a one time ClaimOwnership call.
	OwnershipClaimable bool
	// BatchSize caps RegisterWallets input length. Zero means DefaultBatchSize.
	BatchSize int
}

// Service is the single writer for the wallet registry.
type Service struct {
	mu    sync.Mutex
	store storage.RegistryStore
	cfg   Config
	log   *logger.Logger
}

// New creates a registry service backed by the given store.
func New(store storage.RegistryStore, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("registry")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Service{store: store, cfg: cfg, log: log}
}

// Ensure initializes the registry with the given owner if it does not exist
// yet. It is idempotent and returns the current snapshot.
func (s *Service) Ensure(ctx context.Context, owner string) (wallet.Registry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.store.GetRegistry(ctx)
	if err == nil {
		return reg, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return wallet.Registry{}, fmt.Errorf("load registry: %w", err)
	}

	reg = wallet.NewRegistry(owner)
	if err := s.store.SaveRegistry(ctx, reg); err != nil {
		return wallet.Registry{}, fmt.Errorf("save registry: %w", err)
	}
	s.log.Infof("wallet registry initialized, owner=%s", owner)
	return reg, nil
}

// RegisterWallet activates a single wallet address. Only the registry owner
// may register wallets. Registering an already active wallet is a no-op.
func (s *Service) RegisterWallet(ctx context.Context, caller, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.register(ctx, caller, address)
}

// RegisterWallets activates a batch of wallet addresses in order. It returns
// the number of wallets applied; on error the prefix before the failing entry
// stays registered.
func (s *Service) RegisterWallets(ctx context.Context, caller string, addresses []string) (int, error) {
	if len(addresses) > s.cfg.BatchSize {
		return 0, fmt.Errorf("batch of %d exceeds limit of %d", len(addresses), s.cfg.BatchSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, addr := range addresses {
		if err := s.register(ctx, caller, addr); err != nil {
			return i, fmt.Errorf("register wallet %q: %w", addr, err)
		}
	}
	return len(addresses), nil
}

func (s *Service) register(ctx context.Context, caller, address string) error {
	if address == "" {
		return ErrEmptyAddress
	}

	reg, err := s.store.GetRegistry(ctx)
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}
	if caller != reg.Owner {
		return ErrUnauthorized
	}
	if reg.Active[address] {
		return nil
	}

	reg.Active[address] = true
	if err := s.store.SaveRegistry(ctx, reg); err != nil {
		return fmt.Errorf("save registry: %w", err)
	}
	s.log.Debugf("wallet registered: %s", address)
	return nil
}

// IsWalletActive reports whether the address belongs to the active set.
// Unknown addresses are simply inactive, never an error.
func (s *Service) IsWalletActive(ctx context.Context, address string) (bool, error) {
	reg, err := s.store.GetRegistry(ctx)
	if err != nil {
		return false, fmt.Errorf("load registry: %w", err)
	}
	return reg.IsActive(address), nil
}

// Owner returns the current registry owner address.
func (s *Service) Owner(ctx context.Context) (string, error) {
	reg, err := s.store.GetRegistry(ctx)
	if err != nil {
		return "", fmt.Errorf("load registry: %w", err)
	}
	return reg.Owner, nil
}

// Get returns a snapshot of the registry.
func (s *Service) Get(ctx context.Context) (wallet.Registry, error) {
	return s.store.GetRegistry(ctx)
}

// ClaimOwnership transfers registry ownership to newOwner. The transfer is
// possible at most once over the lifetime of the registry and only when the
// deployment allows it. The call itself is not gated on the current owner;
// the surrounding deployment decides who may reach it.
func (s *Service) ClaimOwnership(ctx context.Context, newOwner string) error {
	if !s.cfg.OwnershipClaimable {
		return ErrClaimDisabled
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.store.GetRegistry(ctx)
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}
	if reg.OwnershipClaimed {
		return ErrOwnershipAlreadyClaimed
	}

	reg.Owner = newOwner
	reg.OwnershipClaimed = true
	if err := s.store.SaveRegistry(ctx, reg); err != nil {
		return fmt.Errorf("save registry: %w", err)
	}
	s.log.Infof("registry ownership claimed by %s", newOwner)
	return nil
}
