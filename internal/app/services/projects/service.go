// Package projects implements the crowdfunding project state machine: cap
// constrained investment collection, cancellation refunds, admin withdrawal
// and the resumable pro-rata revenue payout.
//
// A project's funds live as a token ledger balance under the project's own
// address, so a project must be activated as a cooperative wallet before it
// can collect investments.
package projects

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/coopledger/funding_layer/internal/app/domain/organization"
	"github.com/coopledger/funding_layer/internal/app/domain/project"
	"github.com/coopledger/funding_layer/internal/app/identity"
	"github.com/coopledger/funding_layer/internal/app/storage"
	"github.com/coopledger/funding_layer/pkg/logger"
)

var (
	// ErrUnauthorized is returned when the caller may not perform the
	// administrative operation.
	ErrUnauthorized = errors.New("only project admin can make this action")
	// ErrOrganizationNotVerified is returned when creating a project under an
	// organization whose wallet was never activated.
	ErrOrganizationNotVerified = errors.New("organization is not verified")
	// ErrInvalidConstraints is returned for inconsistent funding bounds.
	ErrInvalidConstraints = errors.New("funding constraints must satisfy 0 < min <= max <= cap")
	// ErrZeroInvestment is returned for an investment of zero.
	ErrZeroInvestment = errors.New("investment amount must be positive")
	// ErrFundingExpired is returned when the funding window has closed.
	ErrFundingExpired = errors.New("project funding window has expired")
	// ErrAlreadyFunded is returned when investing into a fully funded project.
	ErrAlreadyFunded = errors.New("project already completely funded")
	// ErrCapExceeded is returned when an investment would overshoot the cap.
	ErrCapExceeded = errors.New("investment would exceed project cap")
	// ErrPerUserMaxExceeded is returned when a cumulative stake would exceed
	// the per-user maximum.
	ErrPerUserMaxExceeded = errors.New("investment exceeds per-user maximum")
	// ErrPerUserMinNotMet is returned when a cumulative stake would stay
	// below the per-user minimum.
	ErrPerUserMinNotMet = errors.New("investment below per-user minimum")
	// ErrDustRemainder is returned when an investment would leave a gap
	// smaller than the per-user minimum, making the project unfundable.
	ErrDustRemainder = errors.New("investment would leave unfundable remainder")
	// ErrNoSuchInvestment is returned when cancelling without a stake.
	ErrNoSuchInvestment = errors.New("no investment to cancel")
	// ErrCancelNotAllowed is returned when cancelling a stake in a fully
	// funded project whose cancel flag is off.
	ErrCancelNotAllowed = errors.New("cancellation not allowed for funded project")
	// ErrNotFunded is returned for operations that require full funding.
	ErrNotFunded = errors.New("project is not completely funded")
	// ErrPayoutAlreadyStarted is returned by a repeated payout start.
	ErrPayoutAlreadyStarted = errors.New("revenue payout already started")
	// ErrPayoutNotStarted is returned when stepping a payout never started.
	ErrPayoutNotStarted = errors.New("revenue payout not started")
	// ErrPayoutDone is returned when stepping a completed payout.
	ErrPayoutDone = errors.New("revenue payout already completed")
	// ErrPayoutInProgress is returned for operations blocked while a payout
	// has started but not finished.
	ErrPayoutInProgress = errors.New("revenue payout in progress")
	// ErrInsufficientProjectBalance is returned when the project wallet does
	// not hold the raised total plus the declared revenue.
	ErrInsufficientProjectBalance = errors.New("project balance below raised total plus revenue")
	// ErrInvalidAmount is returned for nil, zero or negative amounts.
	ErrInvalidAmount = errors.New("amount must be a positive integer")
	// ErrOfferNotActive is returned when a share transfer references an
	// offer the project never activated.
	ErrOfferNotActive = errors.New("sell offer not activated for this project")
	// ErrInsufficientShares is returned when the recorded stake is smaller
	// than the requested share transfer.
	ErrInsufficientShares = errors.New("insufficient recorded shares")
)

// DefaultBatchSize bounds bulk investment seeding and payout batches.
const DefaultBatchSize = 50

// TokenLedger is the slice of the ledger service projects need to move funds.
type TokenLedger interface {
	Transfer(ctx context.Context, caller, to string, amount *big.Int) error
	TransferFrom(ctx context.Context, caller, owner, to string, amount *big.Int) error
	BalanceOf(ctx context.Context, address string) (*big.Int, error)
}

// OrganizationDirectory is the slice of the organizations service used when
// creating projects.
type OrganizationDirectory interface {
	Get(ctx context.Context, orgAddress string) (organization.Organization, error)
	IsVerified(ctx context.Context, orgAddress string) (bool, error)
}

// RegistryView exposes the registry facts projects validate against.
type RegistryView interface {
	IsWalletActive(ctx context.Context, address string) (bool, error)
	Owner(ctx context.Context) (string, error)
}

// InvestmentRecord is one investor's recorded stake. Cancelled investors keep
// a record with a zero amount.
type InvestmentRecord struct {
	Investor string
	Amount   *big.Int
}

// Config controls project policy knobs.
type Config struct {
	// BatchSize caps AddInvestments input and one PayoutRevenueShares step.
	// Zero means DefaultBatchSize.
	BatchSize int
}

// Service is the single writer for projects.
type Service struct {
	mu       sync.Mutex
	store    storage.ProjectStore
	orgs     OrganizationDirectory
	registry RegistryView
	ledger   TokenLedger
	addrs    identity.AddressSource
	clock    identity.Clock
	cfg      Config
	log      *logger.Logger
}

// New creates a projects service.
func New(store storage.ProjectStore, orgs OrganizationDirectory, registry RegistryView, ledger TokenLedger, addrs identity.AddressSource, clock identity.Clock, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("projects")
	}
	if addrs == nil {
		addrs = identity.UUIDSource{}
	}
	if clock == nil {
		clock = identity.SystemClock{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Service{
		store:    store,
		orgs:     orgs,
		registry: registry,
		ledger:   ledger,
		addrs:    addrs,
		clock:    clock,
		cfg:      cfg,
		log:      log,
	}
}

// Create provisions a project under a verified organization. The caller must
// be the organization admin and becomes the project admin.
func (s *Service) Create(ctx context.Context, caller, orgAddress string, minPerUser, maxPerUser, cap *big.Int, endsAt time.Time) (project.Project, error) {
	if minPerUser == nil || maxPerUser == nil || cap == nil ||
		minPerUser.Sign() <= 0 ||
		minPerUser.Cmp(maxPerUser) > 0 ||
		maxPerUser.Cmp(cap) > 0 {
		return project.Project{}, ErrInvalidConstraints
	}

	org, err := s.orgs.Get(ctx, orgAddress)
	if err != nil {
		return project.Project{}, fmt.Errorf("load organization %q: %w", orgAddress, err)
	}
	if caller != org.Admin {
		return project.Project{}, ErrUnauthorized
	}
	verified, err := s.orgs.IsVerified(ctx, orgAddress)
	if err != nil {
		return project.Project{}, fmt.Errorf("check organization %q: %w", orgAddress, err)
	}
	if !verified {
		return project.Project{}, ErrOrganizationNotVerified
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	proj := project.New(s.addrs.GenerateAddress(), orgAddress, caller, minPerUser, maxPerUser, cap, endsAt)
	if err := s.store.CreateProject(ctx, proj); err != nil {
		return project.Project{}, fmt.Errorf("create project: %w", err)
	}
	s.log.Infof("project created: address=%s org=%s cap=%s", proj.Address, orgAddress, cap)
	return proj, nil
}

// Invest records an investment and pulls the tokens from the investor into
// the project wallet. The investor must have approved at least amount to the
// project address beforehand.
func (s *Service) Invest(ctx context.Context, investor, projAddress string, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	proj, err := s.store.GetProject(ctx, projAddress)
	if err != nil {
		return fmt.Errorf("load project %q: %w", projAddress, err)
	}
	if err := s.validateInvestment(proj, investor, amount); err != nil {
		return err
	}

	// Pull funds first: if the ledger rejects, the project stays untouched.
	if err := s.ledger.TransferFrom(ctx, proj.Address, investor, proj.Address, amount); err != nil {
		return fmt.Errorf("collect investment: %w", err)
	}

	s.recordStake(&proj, investor, amount)
	proj.TotalRaised.Add(proj.TotalRaised, amount)
	if err := s.store.UpdateProject(ctx, proj); err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	s.log.Debugf("investment: project=%s investor=%s amount=%s", projAddress, investor, amount)
	return nil
}

func (s *Service) validateInvestment(proj project.Project, investor string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroInvestment
	}
	if proj.HasFundingExpired(s.clock.Now()) {
		return ErrFundingExpired
	}
	if proj.IsCompletelyFunded() {
		return ErrAlreadyFunded
	}

	newTotal := new(big.Int).Add(proj.TotalRaised, amount)
	if newTotal.Cmp(proj.InvestmentCap) > 0 {
		return ErrCapExceeded
	}
	newStake := new(big.Int).Add(proj.InvestmentOf(investor), amount)
	if newStake.Cmp(proj.MaxPerUser) > 0 {
		return ErrPerUserMaxExceeded
	}
	if newStake.Cmp(proj.MinPerUser) < 0 {
		return ErrPerUserMinNotMet
	}

	gap := new(big.Int).Sub(proj.InvestmentCap, newTotal)
	if gap.Sign() != 0 && gap.Cmp(proj.MinPerUser) < 0 {
		return ErrDustRemainder
	}
	return nil
}

// recordStake adds amount to the investor's stake, appending first-time
// investors to the deterministic payout order.
func (s *Service) recordStake(proj *project.Project, investor string, amount *big.Int) {
	if _, seen := proj.Investments[investor]; !seen {
		proj.InvestorOrder = append(proj.InvestorOrder, investor)
	}
	proj.Investments[investor] = new(big.Int).Add(proj.InvestmentOf(investor), amount)
}

// AddInvestments bulk-seeds investor records, migrating a pre-existing
// investor set without moving tokens. Callable by the project admin or the
// registry owner. Per-user bounds are not re-validated; the aggregate cap
// still holds. Entries apply in order and a failing entry aborts the
// remainder while keeping the applied prefix.
func (s *Service) AddInvestments(ctx context.Context, caller, projAddress string, entries []InvestmentRecord) (int, error) {
	if len(entries) > s.cfg.BatchSize {
		return 0, fmt.Errorf("batch of %d exceeds limit of %d", len(entries), s.cfg.BatchSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	proj, err := s.store.GetProject(ctx, projAddress)
	if err != nil {
		return 0, fmt.Errorf("load project %q: %w", projAddress, err)
	}
	if err := s.requireAdminOrRegistryOwner(ctx, proj, caller); err != nil {
		return 0, err
	}

	for i, e := range entries {
		if e.Amount == nil || e.Amount.Sign() <= 0 {
			return i, fmt.Errorf("seed investor %q: %w", e.Investor, ErrZeroInvestment)
		}
		newTotal := new(big.Int).Add(proj.TotalRaised, e.Amount)
		if newTotal.Cmp(proj.InvestmentCap) > 0 {
			return i, fmt.Errorf("seed investor %q: %w", e.Investor, ErrCapExceeded)
		}

		s.recordStake(&proj, e.Investor, e.Amount)
		proj.TotalRaised = newTotal
		if err := s.store.UpdateProject(ctx, proj); err != nil {
			return i, fmt.Errorf("update project: %w", err)
		}
	}
	return len(entries), nil
}

func (s *Service) requireAdminOrRegistryOwner(ctx context.Context, proj project.Project, caller string) error {
	if caller == proj.Admin {
		return nil
	}
	owner, err := s.registry.Owner(ctx)
	if err != nil {
		return fmt.Errorf("load registry owner: %w", err)
	}
	if caller != owner {
		return ErrUnauthorized
	}
	return nil
}

// CancelInvestment refunds the caller's full stake from the project wallet
// and zeroes the record. Cancellation is refused once the project is fully
// funded, unless the admin has set the cancel flag.
func (s *Service) CancelInvestment(ctx context.Context, investor, projAddress string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	proj, err := s.store.GetProject(ctx, projAddress)
	if err != nil {
		return fmt.Errorf("load project %q: %w", projAddress, err)
	}

	stake := proj.InvestmentOf(investor)
	if stake.Sign() == 0 {
		return ErrNoSuchInvestment
	}
	if proj.IsCompletelyFunded() && !proj.CancelAllowed {
		return ErrCancelNotAllowed
	}

	if err := s.ledger.Transfer(ctx, proj.Address, investor, stake); err != nil {
		return fmt.Errorf("refund investment: %w", err)
	}

	// The record survives as a zero entry so payout order stays stable.
	proj.Investments[investor] = new(big.Int)
	proj.TotalRaised.Sub(proj.TotalRaised, stake)
	if err := s.store.UpdateProject(ctx, proj); err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	s.log.Debugf("investment cancelled: project=%s investor=%s amount=%s", projAddress, investor, stake)
	return nil
}

// SetCancelInvestmentFlag controls whether investors may cancel out of a
// fully funded project. Admin only.
func (s *Service) SetCancelInvestmentFlag(ctx context.Context, caller, projAddress string, allowed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	proj, err := s.store.GetProject(ctx, projAddress)
	if err != nil {
		return fmt.Errorf("load project %q: %w", projAddress, err)
	}
	if caller != proj.Admin {
		return ErrUnauthorized
	}

	proj.CancelAllowed = allowed
	if err := s.store.UpdateProject(ctx, proj); err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return nil
}

// Withdraw moves collected funds from the project wallet to the admin. Only
// possible once the project is fully funded and before any payout starts.
func (s *Service) Withdraw(ctx context.Context, caller, projAddress string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	proj, err := s.store.GetProject(ctx, projAddress)
	if err != nil {
		return fmt.Errorf("load project %q: %w", projAddress, err)
	}
	if caller != proj.Admin {
		return ErrUnauthorized
	}
	if !proj.IsCompletelyFunded() {
		return ErrNotFunded
	}
	if proj.Payout != nil {
		return ErrPayoutInProgress
	}

	if err := s.ledger.Transfer(ctx, proj.Address, proj.Admin, amount); err != nil {
		return fmt.Errorf("withdraw funds: %w", err)
	}
	s.log.Infof("withdrawal: project=%s amount=%s", projAddress, amount)
	return nil
}

// StartRevenueSharesPayout begins a pro-rata revenue distribution. The
// declared revenue must already sit in the project wallet on top of the
// raised total.
func (s *Service) StartRevenueSharesPayout(ctx context.Context, caller, projAddress string, revenue *big.Int) error {
	if revenue == nil || revenue.Sign() <= 0 {
		return ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	proj, err := s.store.GetProject(ctx, projAddress)
	if err != nil {
		return fmt.Errorf("load project %q: %w", projAddress, err)
	}
	if caller != proj.Admin {
		return ErrUnauthorized
	}
	if !proj.IsCompletelyFunded() {
		return ErrNotFunded
	}
	if proj.Payout != nil {
		return ErrPayoutAlreadyStarted
	}

	balance, err := s.ledger.BalanceOf(ctx, proj.Address)
	if err != nil {
		return fmt.Errorf("load project balance: %w", err)
	}
	required := new(big.Int).Add(proj.TotalRaised, revenue)
	if balance.Cmp(required) < 0 {
		return ErrInsufficientProjectBalance
	}

	proj.Payout = &project.PayoutState{Revenue: new(big.Int).Set(revenue)}
	if err := s.store.UpdateProject(ctx, proj); err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	s.log.Infof("revenue payout started: project=%s revenue=%s", projAddress, revenue)
	return nil
}

// PayoutRevenueShares processes one batch of investors from the persisted
// cursor, paying floor(stake * revenue / cap) to each. It returns true while
// more batches remain and false once every investor has been processed.
// The cursor is persisted after each paid investor, so a failed or
// interrupted batch resumes without double-paying.
func (s *Service) PayoutRevenueShares(ctx context.Context, caller, projAddress string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	proj, err := s.store.GetProject(ctx, projAddress)
	if err != nil {
		return false, fmt.Errorf("load project %q: %w", projAddress, err)
	}
	if caller != proj.Admin {
		return false, ErrUnauthorized
	}
	if proj.Payout == nil {
		return false, ErrPayoutNotStarted
	}
	if proj.Payout.Done {
		return false, ErrPayoutDone
	}

	end := proj.Payout.Cursor + s.cfg.BatchSize
	if end > len(proj.InvestorOrder) {
		end = len(proj.InvestorOrder)
	}

	for i := proj.Payout.Cursor; i < end; i++ {
		investor := proj.InvestorOrder[i]
		share := payoutShare(proj.InvestmentOf(investor), proj.Payout.Revenue, proj.InvestmentCap)
		if share.Sign() > 0 {
			if err := s.ledger.Transfer(ctx, proj.Address, investor, share); err != nil {
				return true, fmt.Errorf("pay investor %q: %w", investor, err)
			}
		}

		proj.Payout.Cursor = i + 1
		if proj.Payout.Cursor == len(proj.InvestorOrder) {
			proj.Payout.Done = true
		}
		if err := s.store.UpdateProject(ctx, proj); err != nil {
			return !proj.Payout.Done, fmt.Errorf("update project: %w", err)
		}
	}

	if proj.Payout.Done {
		s.log.Infof("revenue payout completed: project=%s", projAddress)
		return false, nil
	}
	return true, nil
}

// payoutShare is the floor-rounded pro-rata share of revenue for one stake
// relative to the investment cap.
func payoutShare(stake, revenue, cap *big.Int) *big.Int {
	if stake.Sign() == 0 {
		return new(big.Int)
	}
	share := new(big.Int).Mul(stake, revenue)
	return share.Quo(share, cap)
}

// ActivateSellOffer allow-lists a sell offer address for share transfers out
// of the caller's recorded stake. The caller must currently hold shares.
func (s *Service) ActivateSellOffer(ctx context.Context, caller, projAddress, offerAddress string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	proj, err := s.store.GetProject(ctx, projAddress)
	if err != nil {
		return fmt.Errorf("load project %q: %w", projAddress, err)
	}
	if proj.InvestmentOf(caller).Sign() == 0 {
		return ErrNoSuchInvestment
	}

	proj.ActiveOffers[offerAddress] = true
	if err := s.store.UpdateProject(ctx, proj); err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return nil
}

// TransferShares moves recorded stake between wallets on behalf of an
// activated sell offer. The offer is consumed by the transfer.
func (s *Service) TransferShares(ctx context.Context, offerAddress, projAddress, from, to string, shares *big.Int) error {
	if shares == nil || shares.Sign() <= 0 {
		return ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	proj, err := s.store.GetProject(ctx, projAddress)
	if err != nil {
		return fmt.Errorf("load project %q: %w", projAddress, err)
	}
	if !proj.ActiveOffers[offerAddress] {
		return ErrOfferNotActive
	}
	if proj.Payout != nil && !proj.Payout.Done {
		return ErrPayoutInProgress
	}

	stake := proj.InvestmentOf(from)
	if stake.Cmp(shares) < 0 {
		return ErrInsufficientShares
	}
	active, err := s.registry.IsWalletActive(ctx, to)
	if err != nil {
		return fmt.Errorf("check wallet %q: %w", to, err)
	}
	if !active {
		return fmt.Errorf("wallet %q not registered in cooperative", to)
	}

	proj.Investments[from] = stake.Sub(stake, shares)
	s.recordStake(&proj, to, shares)
	delete(proj.ActiveOffers, offerAddress)

	if err := s.store.UpdateProject(ctx, proj); err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	s.log.Debugf("shares transferred: project=%s from=%s to=%s shares=%s", projAddress, from, to, shares)
	return nil
}

// Get returns a snapshot of the project.
func (s *Service) Get(ctx context.Context, projAddress string) (project.Project, error) {
	return s.store.GetProject(ctx, projAddress)
}

// List returns projects, optionally filtered to one organization.
func (s *Service) List(ctx context.Context, orgAddress string) ([]project.Project, error) {
	return s.store.ListProjects(ctx, orgAddress)
}

// Investments returns the investor records in deterministic payout order,
// including zeroed records of cancelled investors.
func (s *Service) Investments(ctx context.Context, projAddress string) ([]InvestmentRecord, error) {
	proj, err := s.store.GetProject(ctx, projAddress)
	if err != nil {
		return nil, fmt.Errorf("load project %q: %w", projAddress, err)
	}
	records := make([]InvestmentRecord, 0, len(proj.InvestorOrder))
	for _, investor := range proj.InvestorOrder {
		records = append(records, InvestmentRecord{Investor: investor, Amount: proj.InvestmentOf(investor)})
	}
	return records, nil
}
