package storage

import (
	"context"
	"errors"

	"github.com/coopledger/funding_layer/internal/app/domain/organization"
	"github.com/coopledger/funding_layer/internal/app/domain/project"
	"github.com/coopledger/funding_layer/internal/app/domain/selloffer"
	"github.com/coopledger/funding_layer/internal/app/domain/token"
	"github.com/coopledger/funding_layer/internal/app/domain/wallet"
)

// ErrNotFound is wrapped by stores when an entity snapshot does not exist.
var ErrNotFound = errors.New("not found")

// RegistryStore persists the single wallet registry snapshot. Operations are
// whole-entity: services read a snapshot, validate, and write it back inside
// one atomic operation.
type RegistryStore interface {
	SaveRegistry(ctx context.Context, reg wallet.Registry) error
	GetRegistry(ctx context.Context) (wallet.Registry, error)
}

// LedgerStore persists the single token ledger snapshot.
type LedgerStore interface {
	SaveLedger(ctx context.Context, led token.Ledger) error
	GetLedger(ctx context.Context) (token.Ledger, error)
}

// OrganizationStore persists organization snapshots keyed by address.
type OrganizationStore interface {
	CreateOrganization(ctx context.Context, org organization.Organization) error
	UpdateOrganization(ctx context.Context, org organization.Organization) error
	GetOrganization(ctx context.Context, address string) (organization.Organization, error)
	ListOrganizations(ctx context.Context) ([]organization.Organization, error)
}

// ProjectStore persists project snapshots keyed by address.
type ProjectStore interface {
	CreateProject(ctx context.Context, proj project.Project) error
	UpdateProject(ctx context.Context, proj project.Project) error
	GetProject(ctx context.Context, address string) (project.Project, error)
	ListProjects(ctx context.Context, orgAddress string) ([]project.Project, error)
}

// OfferStore persists sell offer snapshots keyed by address.
type OfferStore interface {
	CreateOffer(ctx context.Context, offer selloffer.Offer) error
	UpdateOffer(ctx context.Context, offer selloffer.Offer) error
	GetOffer(ctx context.Context, address string) (selloffer.Offer, error)
	ListOffers(ctx context.Context, projectAddress string) ([]selloffer.Offer, error)
}
