// Package offers implements the secondary market for recorded project
// stakes. A seller lists shares at an ask price; a buyer funds the purchase
// through a token allowance to the offer address, either settling at the ask
// or leaving a counter-offer for the seller to accept.
package offers

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/coopledger/funding_layer/internal/app/domain/project"
	"github.com/coopledger/funding_layer/internal/app/domain/selloffer"
	"github.com/coopledger/funding_layer/internal/app/identity"
	"github.com/coopledger/funding_layer/internal/app/storage"
	"github.com/coopledger/funding_layer/pkg/logger"
)

var (
	// ErrUnauthorized is returned when the caller is not the offer's seller.
	ErrUnauthorized = errors.New("only offer seller can make this action")
	// ErrInsufficientShares is returned when the seller's recorded stake is
	// smaller than the listed shares.
	ErrInsufficientShares = errors.New("seller does not hold the offered shares")
	// ErrOfferNotOpen is returned for operations on a settled or cancelled
	// offer.
	ErrOfferNotOpen = errors.New("offer is not open")
	// ErrNothingOffered is returned when the buyer approved nothing to the
	// offer.
	ErrNothingOffered = errors.New("buyer has not approved any payment to the offer")
	// ErrNoCounterOffer is returned when accepting a counter-offer that does
	// not exist.
	ErrNoCounterOffer = errors.New("no pending counter-offer")
	// ErrOfferNotActivated is returned when settling before the seller has
	// activated the offer on the project.
	ErrOfferNotActivated = errors.New("offer not activated on project")
	// ErrPayoutInProgress is returned when settling while the project is
	// distributing revenue.
	ErrPayoutInProgress = errors.New("project revenue payout in progress")
	// ErrInvalidAmount is returned for nil, zero or negative shares or price.
	ErrInvalidAmount = errors.New("shares and price must be positive integers")
)

// TokenLedger is the slice of the ledger service offers use for payment.
type TokenLedger interface {
	AllowanceOf(ctx context.Context, owner, spender string) (*big.Int, error)
	TransferFrom(ctx context.Context, caller, owner, to string, amount *big.Int) error
}

// ProjectShares is the slice of the projects service offers use to inspect
// stakes and move them at settlement.
type ProjectShares interface {
	Get(ctx context.Context, projAddress string) (project.Project, error)
	TransferShares(ctx context.Context, offerAddress, projAddress, from, to string, shares *big.Int) error
}

// Service is the single writer for sell offers.
type Service struct {
	mu       sync.Mutex
	store    storage.OfferStore
	projects ProjectShares
	ledger   TokenLedger
	addrs    identity.AddressSource
	log      *logger.Logger
}

// New creates a sell-offer service.
func New(store storage.OfferStore, projects ProjectShares, ledger TokenLedger, addrs identity.AddressSource, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("offers")
	}
	if addrs == nil {
		addrs = identity.UUIDSource{}
	}
	return &Service{store: store, projects: projects, ledger: ledger, addrs: addrs, log: log}
}

// Create lists shares of the seller's recorded stake at an ask price. The
// offer receives a fresh address; the seller must separately activate it on
// the project before it can settle.
func (s *Service) Create(ctx context.Context, seller, projAddress string, shares, price *big.Int) (selloffer.Offer, error) {
	if shares == nil || price == nil || shares.Sign() <= 0 || price.Sign() <= 0 {
		return selloffer.Offer{}, ErrInvalidAmount
	}

	proj, err := s.projects.Get(ctx, projAddress)
	if err != nil {
		return selloffer.Offer{}, fmt.Errorf("load project %q: %w", projAddress, err)
	}
	if proj.InvestmentOf(seller).Cmp(shares) < 0 {
		return selloffer.Offer{}, ErrInsufficientShares
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	offer := selloffer.New(s.addrs.GenerateAddress(), projAddress, seller, shares, price)
	if err := s.store.CreateOffer(ctx, offer); err != nil {
		return selloffer.Offer{}, fmt.Errorf("create offer: %w", err)
	}
	s.log.Infof("sell offer created: address=%s project=%s shares=%s price=%s",
		offer.Address, projAddress, shares, price)
	return offer, nil
}

// TryToSettle attempts a purchase funded by the buyer's token allowance to
// the offer address. An allowance covering the ask settles immediately at
// the ask price; a smaller allowance is recorded as a counter-offer and
// leaves the offer open. Only the ask price is ever pulled from the buyer.
func (s *Service) TryToSettle(ctx context.Context, buyer, offerAddress string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offer, err := s.store.GetOffer(ctx, offerAddress)
	if err != nil {
		return false, fmt.Errorf("load offer %q: %w", offerAddress, err)
	}
	if offer.State != selloffer.StateOpen {
		return false, ErrOfferNotOpen
	}

	offered, err := s.ledger.AllowanceOf(ctx, buyer, offer.Address)
	if err != nil {
		return false, fmt.Errorf("load buyer allowance: %w", err)
	}
	if offered.Sign() <= 0 {
		return false, ErrNothingOffered
	}

	if offered.Cmp(offer.Price) < 0 {
		offer.CounterOffer = &selloffer.CounterOffer{Buyer: buyer, Price: offered}
		if err := s.store.UpdateOffer(ctx, offer); err != nil {
			return false, fmt.Errorf("update offer: %w", err)
		}
		s.log.Debugf("counter-offer recorded: offer=%s buyer=%s price=%s", offerAddress, buyer, offered)
		return false, nil
	}

	if err := s.settle(ctx, &offer, buyer, offer.Price); err != nil {
		return false, err
	}
	return true, nil
}

// AcceptCounterOffer settles the offer at the pending counter-offer's lower
// price. Seller only.
func (s *Service) AcceptCounterOffer(ctx context.Context, caller, offerAddress string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	offer, err := s.store.GetOffer(ctx, offerAddress)
	if err != nil {
		return fmt.Errorf("load offer %q: %w", offerAddress, err)
	}
	if caller != offer.Seller {
		return ErrUnauthorized
	}
	if offer.State != selloffer.StateOpen {
		return ErrOfferNotOpen
	}
	if offer.CounterOffer == nil {
		return ErrNoCounterOffer
	}

	return s.settle(ctx, &offer, offer.CounterOffer.Buyer, offer.CounterOffer.Price)
}

// settle moves the shares inside the project and the payment from buyer to
// seller, then marks the offer settled. Any allowance the buyer approved
// beyond the settlement price stays with the buyer.
func (s *Service) settle(ctx context.Context, offer *selloffer.Offer, buyer string, price *big.Int) error {
	// Everything the share transfer will check is verified here first, so
	// the buyer's payment never moves unless the shares will follow: the
	// offer must be activated, no payout may be running, and the seller's
	// remaining stake must still cover the listed shares. A seller who
	// cancelled their investment after activating the offer is caught here.
	proj, err := s.projects.Get(ctx, offer.ProjectAddress)
	if err != nil {
		return fmt.Errorf("load project %q: %w", offer.ProjectAddress, err)
	}
	if !proj.ActiveOffers[offer.Address] {
		return fmt.Errorf("offer %q: %w", offer.Address, ErrOfferNotActivated)
	}
	if proj.Payout != nil && !proj.Payout.Done {
		return ErrPayoutInProgress
	}
	if proj.InvestmentOf(offer.Seller).Cmp(offer.Shares) < 0 {
		return ErrInsufficientShares
	}

	if err := s.ledger.TransferFrom(ctx, offer.Address, buyer, offer.Seller, price); err != nil {
		return fmt.Errorf("collect payment: %w", err)
	}
	if err := s.projects.TransferShares(ctx, offer.Address, offer.ProjectAddress, offer.Seller, buyer, offer.Shares); err != nil {
		return fmt.Errorf("transfer shares: %w", err)
	}

	offer.State = selloffer.StateSettled
	offer.CounterOffer = nil
	if err := s.store.UpdateOffer(ctx, *offer); err != nil {
		return fmt.Errorf("update offer: %w", err)
	}
	s.log.Infof("sell offer settled: offer=%s buyer=%s price=%s", offer.Address, buyer, price)
	return nil
}

// CancelOffer withdraws an open offer. Seller only.
func (s *Service) CancelOffer(ctx context.Context, caller, offerAddress string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	offer, err := s.store.GetOffer(ctx, offerAddress)
	if err != nil {
		return fmt.Errorf("load offer %q: %w", offerAddress, err)
	}
	if caller != offer.Seller {
		return ErrUnauthorized
	}
	if offer.State != selloffer.StateOpen {
		return ErrOfferNotOpen
	}

	offer.State = selloffer.StateCancelled
	offer.CounterOffer = nil
	if err := s.store.UpdateOffer(ctx, offer); err != nil {
		return fmt.Errorf("update offer: %w", err)
	}
	return nil
}

// Get returns a snapshot of the offer.
func (s *Service) Get(ctx context.Context, offerAddress string) (selloffer.Offer, error) {
	return s.store.GetOffer(ctx, offerAddress)
}

// List returns offers, optionally filtered to one project.
func (s *Service) List(ctx context.Context, projAddress string) ([]selloffer.Offer, error) {
	return s.store.ListOffers(ctx, projAddress)
}
