package organizations

import (
	"context"
	"errors"
	"testing"

	"github.com/coopledger/funding_layer/internal/app/services/registry"
	"github.com/coopledger/funding_layer/internal/app/storage/memory"
	"github.com/coopledger/funding_layer/pkg/testutil"
)

type fixture struct {
	registry *registry.Service
	orgs     *Service
}

func newFixture(t *testing.T, wallets ...string) *fixture {
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

	return &fixture{
		registry: reg,
		orgs:     New(store, reg, &testutil.SeqAddressSource{Prefix: "org"}, nil),
	}
}

// createVerified creates an organization and activates its address as a
// cooperative wallet.
func (f *fixture) createVerified(t *testing.T, admin string) string {
	t.Helper()
	ctx := context.Background()
	org, err := f.orgs.Create(ctx, admin)
	if err != nil {
		t.Fatalf("create organization: %v", err)
	}
	if err := f.registry.RegisterWallet(ctx, "coop", org.Address); err != nil {
		t.Fatalf("register organization wallet: %v", err)
	}
	return org.Address
}

func TestCreateRequiresRegisteredWallet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.orgs.Create(ctx, "stranger")
	if !errors.Is(err, ErrCallerNotRegistered) {
		t.Fatalf("expected ErrCallerNotRegistered, got %v", err)
	}
}

func TestCreateAndVerify(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "bob")

	org, err := f.orgs.Create(ctx, "bob")
	if err != nil {
		t.Fatalf("create organization: %v", err)
	}

	verified, err := f.orgs.IsVerified(ctx, org.Address)
	if err != nil {
		t.Fatalf("is verified: %v", err)
	}
	if verified {
		t.Fatalf("expected organization unverified before wallet activation")
	}

	if err := f.registry.RegisterWallet(ctx, "coop", org.Address); err != nil {
		t.Fatalf("register organization wallet: %v", err)
	}
	verified, err = f.orgs.IsVerified(ctx, org.Address)
	if err != nil {
		t.Fatalf("is verified: %v", err)
	}
	if !verified {
		t.Fatalf("expected organization verified after wallet activation")
	}
}

func TestMembershipInviteConfirm(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "bob", "alice")
	orgAddr := f.createVerified(t, "bob")

	if err := f.orgs.AddMember(ctx, "bob", orgAddr, "alice"); err != nil {
		t.Fatalf("add member: %v", err)
	}

	// Invited is not yet a member.
	member, err := f.orgs.IsMember(ctx, orgAddr, "alice")
	if err != nil {
		t.Fatalf("is member: %v", err)
	}
	if member {
		t.Fatalf("expected alice not to be a member before confirming")
	}

	if err := f.orgs.ConfirmMembership(ctx, "alice", orgAddr); err != nil {
		t.Fatalf("confirm membership: %v", err)
	}
	member, err = f.orgs.IsMember(ctx, orgAddr, "alice")
	if err != nil {
		t.Fatalf("is member: %v", err)
	}
	if !member {
		t.Fatalf("expected alice to be a member after confirming")
	}
}

func TestAddMemberOnlyAdmin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "bob", "alice", "mallory")
	orgAddr := f.createVerified(t, "bob")

	err := f.orgs.AddMember(ctx, "mallory", orgAddr, "alice")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestAddMemberRequiresVerifiedOrganization(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "bob", "alice")

	org, err := f.orgs.Create(ctx, "bob")
	if err != nil {
		t.Fatalf("create organization: %v", err)
	}
	err = f.orgs.AddMember(ctx, "bob", org.Address, "alice")
	if !errors.Is(err, ErrOrganizationNotActive) {
		t.Fatalf("expected ErrOrganizationNotActive, got %v", err)
	}
}

func TestAddMemberRequiresRegisteredMember(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "bob")
	orgAddr := f.createVerified(t, "bob")

	err := f.orgs.AddMember(ctx, "bob", orgAddr, "stranger")
	if !errors.Is(err, ErrMemberNotEligible) {
		t.Fatalf("expected ErrMemberNotEligible, got %v", err)
	}
}

func TestAddMemberTwice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "bob", "alice")
	orgAddr := f.createVerified(t, "bob")

	if err := f.orgs.AddMember(ctx, "bob", orgAddr, "alice"); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if err := f.orgs.AddMember(ctx, "bob", orgAddr, "alice"); !errors.Is(err, ErrAlreadyInvited) {
		t.Fatalf("expected ErrAlreadyInvited, got %v", err)
	}

	if err := f.orgs.ConfirmMembership(ctx, "alice", orgAddr); err != nil {
		t.Fatalf("confirm membership: %v", err)
	}
	if err := f.orgs.AddMember(ctx, "bob", orgAddr, "alice"); !errors.Is(err, ErrAlreadyMember) {
		t.Fatalf("expected ErrAlreadyMember, got %v", err)
	}
}

func TestConfirmWithoutInvite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "bob", "alice")
	orgAddr := f.createVerified(t, "bob")

	err := f.orgs.ConfirmMembership(ctx, "alice", orgAddr)
	if !errors.Is(err, ErrNoSuchInvite) {
		t.Fatalf("expected ErrNoSuchInvite, got %v", err)
	}
}

func TestConfirmTwice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "bob", "alice")
	orgAddr := f.createVerified(t, "bob")

	if err := f.orgs.AddMember(ctx, "bob", orgAddr, "alice"); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if err := f.orgs.ConfirmMembership(ctx, "alice", orgAddr); err != nil {
		t.Fatalf("confirm membership: %v", err)
	}
	if err := f.orgs.ConfirmMembership(ctx, "alice", orgAddr); !errors.Is(err, ErrAlreadyMember) {
		t.Fatalf("expected ErrAlreadyMember, got %v", err)
	}
}

// revocableRegistry wraps the real registry so a wallet can be dropped from
// the active set between invite and confirmation.
type revocableRegistry struct {
	inner   *registry.Service
	revoked map[string]bool
}

func (r *revocableRegistry) IsWalletActive(ctx context.Context, address string) (bool, error) {
	if r.revoked[address] {
		return false, nil
	}
	return r.inner.IsWalletActive(ctx, address)
}

func TestConfirmRequiresActiveCaller(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	reg := registry.New(store, registry.Config{}, nil)
	if _, err := reg.Ensure(ctx, "coop"); err != nil {
		t.Fatalf("ensure registry: %v", err)
	}
	for _, w := range []string{"bob", "alice"} {
		if err := reg.RegisterWallet(ctx, "coop", w); err != nil {
			t.Fatalf("register wallet %s: %v", w, err)
		}
	}
	checker := &revocableRegistry{inner: reg, revoked: make(map[string]bool)}
	orgs := New(store, checker, &testutil.SeqAddressSource{Prefix: "org"}, nil)

	org, err := orgs.Create(ctx, "bob")
	if err != nil {
		t.Fatalf("create organization: %v", err)
	}
	if err := reg.RegisterWallet(ctx, "coop", org.Address); err != nil {
		t.Fatalf("register organization wallet: %v", err)
	}
	if err := orgs.AddMember(ctx, "bob", org.Address, "alice"); err != nil {
		t.Fatalf("add member: %v", err)
	}

	checker.revoked["alice"] = true
	if err := orgs.ConfirmMembership(ctx, "alice", org.Address); !errors.Is(err, ErrMemberNotEligible) {
		t.Fatalf("expected ErrMemberNotEligible, got %v", err)
	}

	member, err := orgs.IsMember(ctx, org.Address, "alice")
	if err != nil {
		t.Fatalf("is member: %v", err)
	}
	if member {
		t.Fatalf("revoked wallet must not become a member")
	}
}
