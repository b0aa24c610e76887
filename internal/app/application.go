package app

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/coopledger/funding_layer/internal/app/identity"
	ledgersvc "github.com/coopledger/funding_layer/internal/app/services/ledger"
	"github.com/coopledger/funding_layer/internal/app/services/offers"
	"github.com/coopledger/funding_layer/internal/app/services/organizations"
	"github.com/coopledger/funding_layer/internal/app/services/projects"
	registrysvc "github.com/coopledger/funding_layer/internal/app/services/registry"
	"github.com/coopledger/funding_layer/internal/app/storage"
	"github.com/coopledger/funding_layer/internal/app/storage/memory"
	"github.com/coopledger/funding_layer/internal/app/system"
	"github.com/coopledger/funding_layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Registry      storage.RegistryStore
	Ledger        storage.LedgerStore
	Organizations storage.OrganizationStore
	Projects      storage.ProjectStore
	Offers        storage.OfferStore
}

// Config carries the accounting engine's policy knobs.
type Config struct {
	// PlatformOwner bootstraps registry and ledger ownership on first start.
	PlatformOwner string
	// OwnershipClaimable permits the one time ownership handover.
	OwnershipClaimable bool
	// BatchSize bounds wallet registration, investment seeding and payout
	// batches. Zero uses the per-service defaults.
	BatchSize int
	// PayoutSchedule is the cron spec driving unfinished payouts. Empty
	// disables the background runner.
	PayoutSchedule string
	// RedisAddr enables the balance read cache when set.
	RedisAddr     string
	BalanceTTL    time.Duration
	RedisPassword string
}

// Application ties the funding services together and manages their
// lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger
	redis   *redis.Client

	Registry      *registrysvc.Service
	Ledger        *ledgersvc.Service
	Organizations *organizations.Service
	Projects      *projects.Service
	Offers        *offers.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, cfg Config, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if cfg.PlatformOwner == "" {
		return nil, fmt.Errorf("platform owner address is required")
	}

	mem := memory.New()
	if stores.Registry == nil {
		stores.Registry = mem
	}
	if stores.Ledger == nil {
		stores.Ledger = mem
	}
	if stores.Organizations == nil {
		stores.Organizations = mem
	}
	if stores.Projects == nil {
		stores.Projects = mem
	}
	if stores.Offers == nil {
		stores.Offers = mem
	}

	var redisClient *redis.Client
	var cache *ledgersvc.BalanceCache
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		cache = ledgersvc.NewBalanceCache(redisClient, cfg.BalanceTTL)
		log.Infof("balance cache enabled: redis=%s", cfg.RedisAddr)
	}

	addrs := identity.UUIDSource{}
	clock := identity.SystemClock{}

	registryService := registrysvc.New(stores.Registry, registrysvc.Config{
		OwnershipClaimable: cfg.OwnershipClaimable,
		BatchSize:          cfg.BatchSize,
	}, log.Named("registry"))
	ledgerService := ledgersvc.New(stores.Ledger, registryService, cache, ledgersvc.Config{
		OwnershipClaimable: cfg.OwnershipClaimable,
	}, log.Named("ledger"))
	orgService := organizations.New(stores.Organizations, registryService, addrs, log.Named("organizations"))
	projectService := projects.New(stores.Projects, orgService, registryService, ledgerService,
		addrs, clock, projects.Config{BatchSize: cfg.BatchSize}, log.Named("projects"))
	offerService := offers.New(stores.Offers, projectService, ledgerService, addrs, log.Named("offers"))

	manager := system.NewManager()
	if err := manager.Register(bootstrap{
		owner:    cfg.PlatformOwner,
		registry: registryService,
		ledger:   ledgerService,
	}); err != nil {
		return nil, fmt.Errorf("register bootstrap: %w", err)
	}
	if cfg.PayoutSchedule != "" {
		runner := projects.NewPayoutRunner(projectService, cfg.PayoutSchedule, log.Named("payout-runner"))
		if err := manager.Register(runner); err != nil {
			return nil, fmt.Errorf("register payout runner: %w", err)
		}
	}

	return &Application{
		manager:       manager,
		log:           log,
		redis:         redisClient,
		Registry:      registryService,
		Ledger:        ledgerService,
		Organizations: orgService,
		Projects:      projectService,
		Offers:        offerService,
	}, nil
}

// bootstrap initialises the registry and ledger singletons on first start.
type bootstrap struct {
	owner    string
	registry *registrysvc.Service
	ledger   *ledgersvc.Service
}

func (b bootstrap) Name() string { return "bootstrap" }

func (b bootstrap) Start(ctx context.Context) error {
	if _, err := b.registry.Ensure(ctx, b.owner); err != nil {
		return fmt.Errorf("ensure registry: %w", err)
	}
	if _, err := b.ledger.Ensure(ctx, b.owner); err != nil {
		return fmt.Errorf("ensure ledger: %w", err)
	}
	return nil
}

func (b bootstrap) Stop(context.Context) error { return nil }

// Attach registers an additional lifecycle-managed service. Call before
// Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services and closes external connections.
func (a *Application) Stop(ctx context.Context) error {
	err := a.manager.Stop(ctx)
	if a.redis != nil {
		if cerr := a.redis.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
