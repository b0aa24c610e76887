// Package memory provides a thread-safe in-memory persistence layer
// implementing the storage interfaces. It is intended for tests and
// prototyping and deliberately keeps the implementation simple.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coopledger/funding_layer/internal/app/domain/organization"
	"github.com/coopledger/funding_layer/internal/app/domain/project"
	"github.com/coopledger/funding_layer/internal/app/domain/selloffer"
	"github.com/coopledger/funding_layer/internal/app/domain/token"
	"github.com/coopledger/funding_layer/internal/app/domain/wallet"
	"github.com/coopledger/funding_layer/internal/app/storage"
)

// Store is an in-memory implementation of every storage interface.
type Store struct {
	mu            sync.RWMutex
	registry      *wallet.Registry
	ledger        *token.Ledger
	organizations map[string]organization.Organization
	projects      map[string]project.Project
	offers        map[string]selloffer.Offer
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		organizations: make(map[string]organization.Organization),
		projects:      make(map[string]project.Project),
		offers:        make(map[string]selloffer.Offer),
	}
}

// RegistryStore implementation ------------------------------------------------

func (s *Store) SaveRegistry(_ context.Context, reg wallet.Registry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg.UpdatedAt = time.Now().UTC()
	stored := reg.Clone()
	s.registry = &stored
	return nil
}

func (s *Store) GetRegistry(_ context.Context) (wallet.Registry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.registry == nil {
		return wallet.Registry{}, fmt.Errorf("wallet registry: %w", storage.ErrNotFound)
	}
	return s.registry.Clone(), nil
}

// LedgerStore implementation --------------------------------------------------

func (s *Store) SaveLedger(_ context.Context, led token.Ledger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	led.UpdatedAt = time.Now().UTC()
	stored := led.Clone()
	s.ledger = &stored
	return nil
}

func (s *Store) GetLedger(_ context.Context) (token.Ledger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.ledger == nil {
		return token.Ledger{}, fmt.Errorf("token ledger: %w", storage.ErrNotFound)
	}
	return s.ledger.Clone(), nil
}

// OrganizationStore implementation --------------------------------------------

func (s *Store) CreateOrganization(_ context.Context, org organization.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.organizations[org.Address]; exists {
		return fmt.Errorf("organization %s already exists", org.Address)
	}

	now := time.Now().UTC()
	org.CreatedAt = now
	org.UpdatedAt = now
	s.organizations[org.Address] = org.Clone()
	return nil
}

func (s *Store) UpdateOrganization(_ context.Context, org organization.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.organizations[org.Address]
	if !ok {
		return fmt.Errorf("organization %s: %w", org.Address, storage.ErrNotFound)
	}

	org.CreatedAt = original.CreatedAt
	org.UpdatedAt = time.Now().UTC()
	s.organizations[org.Address] = org.Clone()
	return nil
}

func (s *Store) GetOrganization(_ context.Context, address string) (organization.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	org, ok := s.organizations[address]
	if !ok {
		return organization.Organization{}, fmt.Errorf("organization %s: %w", address, storage.ErrNotFound)
	}
	return org.Clone(), nil
}

func (s *Store) ListOrganizations(_ context.Context) ([]organization.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]organization.Organization, 0, len(s.organizations))
	for _, org := range s.organizations {
		result = append(result, org.Clone())
	}
	return result, nil
}

// ProjectStore implementation -------------------------------------------------

func (s *Store) CreateProject(_ context.Context, proj project.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.projects[proj.Address]; exists {
		return fmt.Errorf("project %s already exists", proj.Address)
	}

	now := time.Now().UTC()
	proj.CreatedAt = now
	proj.UpdatedAt = now
	s.projects[proj.Address] = proj.Clone()
	return nil
}

func (s *Store) UpdateProject(_ context.Context, proj project.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.projects[proj.Address]
	if !ok {
		return fmt.Errorf("project %s: %w", proj.Address, storage.ErrNotFound)
	}

	proj.CreatedAt = original.CreatedAt
	proj.UpdatedAt = time.Now().UTC()
	s.projects[proj.Address] = proj.Clone()
	return nil
}

func (s *Store) GetProject(_ context.Context, address string) (project.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	proj, ok := s.projects[address]
	if !ok {
		return project.Project{}, fmt.Errorf("project %s: %w", address, storage.ErrNotFound)
	}
	return proj.Clone(), nil
}

func (s *Store) ListProjects(_ context.Context, orgAddress string) ([]project.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]project.Project, 0)
	for _, proj := range s.projects {
		if orgAddress == "" || proj.OrgAddress == orgAddress {
			result = append(result, proj.Clone())
		}
	}
	return result, nil
}

// OfferStore implementation ---------------------------------------------------

func (s *Store) CreateOffer(_ context.Context, offer selloffer.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.offers[offer.Address]; exists {
		return fmt.Errorf("sell offer %s already exists", offer.Address)
	}

	now := time.Now().UTC()
	offer.CreatedAt = now
	offer.UpdatedAt = now
	s.offers[offer.Address] = offer.Clone()
	return nil
}

func (s *Store) UpdateOffer(_ context.Context, offer selloffer.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.offers[offer.Address]
	if !ok {
		return fmt.Errorf("sell offer %s: %w", offer.Address, storage.ErrNotFound)
	}

	offer.CreatedAt = original.CreatedAt
	offer.UpdatedAt = time.Now().UTC()
	s.offers[offer.Address] = offer.Clone()
	return nil
}

func (s *Store) GetOffer(_ context.Context, address string) (selloffer.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	offer, ok := s.offers[address]
	if !ok {
		return selloffer.Offer{}, fmt.Errorf("sell offer %s: %w", address, storage.ErrNotFound)
	}
	return offer.Clone(), nil
}

func (s *Store) ListOffers(_ context.Context, projectAddress string) ([]selloffer.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]selloffer.Offer, 0)
	for _, offer := range s.offers {
		if projectAddress == "" || offer.ProjectAddress == projectAddress {
			result = append(result, offer.Clone())
		}
	}
	return result, nil
}
