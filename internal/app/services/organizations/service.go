// Package organizations manages cooperative organizations and their
// two-phase membership protocol: an admin invites a wallet, the wallet
// confirms.
package organizations

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/coopledger/funding_layer/internal/app/domain/organization"
	"github.com/coopledger/funding_layer/internal/app/identity"
	"github.com/coopledger/funding_layer/internal/app/storage"
	"github.com/coopledger/funding_layer/pkg/logger"
)

var (
	// ErrUnauthorized is returned when the caller is not the organization admin.
	ErrUnauthorized = errors.New("only organization admin can make this action")
	// ErrCallerNotRegistered is returned when a non-wallet tries to create an
	// organization.
	ErrCallerNotRegistered = errors.New("caller is not a registered cooperative wallet")
	// ErrOrganizationNotActive is returned for membership operations on an
	// organization whose own wallet was never activated.
	ErrOrganizationNotActive = errors.New("organization is not an active cooperative wallet")
	// ErrMemberNotEligible is returned when the invited address is not a
	// registered wallet.
	ErrMemberNotEligible = errors.New("invited member is not a registered cooperative wallet")
	// ErrAlreadyInvited is returned when the member already holds an invite.
	ErrAlreadyInvited = errors.New("member already invited")
	// ErrAlreadyMember is returned when the member already confirmed.
	ErrAlreadyMember = errors.New("member already confirmed")
	// ErrNoSuchInvite is returned when confirming without a pending invite.
	ErrNoSuchInvite = errors.New("no pending membership invite")
)

// WalletChecker is the slice of the registry service this package needs.
type WalletChecker interface {
	IsWalletActive(ctx context.Context, address string) (bool, error)
}

// Service is the single writer for organizations.
type Service struct {
	mu       sync.Mutex
	store    storage.OrganizationStore
	registry WalletChecker
	addrs    identity.AddressSource
	log      *logger.Logger
}

// New creates an organizations service.
func New(store storage.OrganizationStore, registry WalletChecker, addrs identity.AddressSource, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("organizations")
	}
	if addrs == nil {
		addrs = identity.UUIDSource{}
	}
	return &Service{store: store, registry: registry, addrs: addrs, log: log}
}

// Create provisions a new organization administered by the caller. The
// caller must be a registered wallet. The organization receives a fresh
// address; it becomes a verified organization once the registry owner
// activates that address as a wallet.
func (s *Service) Create(ctx context.Context, admin string) (organization.Organization, error) {
	active, err := s.registry.IsWalletActive(ctx, admin)
	if err != nil {
		return organization.Organization{}, fmt.Errorf("check wallet %q: %w", admin, err)
	}
	if !active {
		return organization.Organization{}, ErrCallerNotRegistered
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	org := organization.New(s.addrs.GenerateAddress(), admin)
	if err := s.store.CreateOrganization(ctx, org); err != nil {
		return organization.Organization{}, fmt.Errorf("create organization: %w", err)
	}
	s.log.Infof("organization created: address=%s admin=%s", org.Address, admin)
	return org, nil
}

// IsVerified reports whether the organization's own address has been
// activated as a cooperative wallet.
func (s *Service) IsVerified(ctx context.Context, orgAddress string) (bool, error) {
	if _, err := s.store.GetOrganization(ctx, orgAddress); err != nil {
		return false, fmt.Errorf("load organization %q: %w", orgAddress, err)
	}
	return s.registry.IsWalletActive(ctx, orgAddress)
}

// AddMember invites a registered wallet into the organization. Only the
// admin may invite, and only addresses with no prior membership state.
func (s *Service) AddMember(ctx context.Context, caller, orgAddress, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	org, err := s.store.GetOrganization(ctx, orgAddress)
	if err != nil {
		return fmt.Errorf("load organization %q: %w", orgAddress, err)
	}
	if caller != org.Admin {
		return ErrUnauthorized
	}
	if err := s.requireVerified(ctx, orgAddress); err != nil {
		return err
	}

	active, err := s.registry.IsWalletActive(ctx, member)
	if err != nil {
		return fmt.Errorf("check wallet %q: %w", member, err)
	}
	if !active {
		return ErrMemberNotEligible
	}

	switch org.Members[member] {
	case organization.MembershipInvited:
		return ErrAlreadyInvited
	case organization.MembershipAccepted:
		return ErrAlreadyMember
	}

	org.Members[member] = organization.MembershipInvited
	if err := s.store.UpdateOrganization(ctx, org); err != nil {
		return fmt.Errorf("update organization: %w", err)
	}
	s.log.Debugf("member invited: org=%s member=%s", orgAddress, member)
	return nil
}

// ConfirmMembership moves the caller from invited to accepted.
func (s *Service) ConfirmMembership(ctx context.Context, caller, orgAddress string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	org, err := s.store.GetOrganization(ctx, orgAddress)
	if err != nil {
		return fmt.Errorf("load organization %q: %w", orgAddress, err)
	}
	if err := s.requireVerified(ctx, orgAddress); err != nil {
		return err
	}

	// The caller must still be an active wallet at confirmation time, not
	// only when the invite was issued.
	active, err := s.registry.IsWalletActive(ctx, caller)
	if err != nil {
		return fmt.Errorf("check wallet %q: %w", caller, err)
	}
	if !active {
		return ErrMemberNotEligible
	}

	switch org.Members[caller] {
	case organization.MembershipAccepted:
		return ErrAlreadyMember
	case organization.MembershipNone:
		return ErrNoSuchInvite
	}

	org.Members[caller] = organization.MembershipAccepted
	if err := s.store.UpdateOrganization(ctx, org); err != nil {
		return fmt.Errorf("update organization: %w", err)
	}
	s.log.Debugf("membership confirmed: org=%s member=%s", orgAddress, caller)
	return nil
}

// IsMember reports whether the address has accepted membership. Invited but
// unconfirmed addresses are not members.
func (s *Service) IsMember(ctx context.Context, orgAddress, address string) (bool, error) {
	org, err := s.store.GetOrganization(ctx, orgAddress)
	if err != nil {
		return false, fmt.Errorf("load organization %q: %w", orgAddress, err)
	}
	return org.IsMember(address), nil
}

// Get returns a snapshot of the organization.
func (s *Service) Get(ctx context.Context, orgAddress string) (organization.Organization, error) {
	return s.store.GetOrganization(ctx, orgAddress)
}

// List returns all organizations.
func (s *Service) List(ctx context.Context) ([]organization.Organization, error) {
	return s.store.ListOrganizations(ctx)
}

func (s *Service) requireVerified(ctx context.Context, orgAddress string) error {
	active, err := s.registry.IsWalletActive(ctx, orgAddress)
	if err != nil {
		return fmt.Errorf("check wallet %q: %w", orgAddress, err)
	}
	if !active {
		return ErrOrganizationNotActive
	}
	return nil
}
